package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	terminal := map[WorkflowStatus]bool{
		StatusFailed:     true,
		StatusCancelled:  true,
		StatusCompleted:  true,
		StatusTerminated: true,
	}
	for _, s := range WorkflowStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), string(s))
	}
	assert.False(t, WorkflowStatus("PAUSED").Valid())
}

func TestParseWorkflowStatus(t *testing.T) {
	s, err := ParseWorkflowStatus(" timed_out ")
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, s)

	_, err = ParseWorkflowStatus("nope")
	assert.Error(t, err)
}

func TestEntryField_DisplayValue(t *testing.T) {
	f := EntryField{ID: "amount", Contents: StringPtr("12.00")}
	assert.Equal(t, "12.00", f.DisplayValue())

	f.EditableConfig.HumanContents = StringPtr("13.50")
	assert.Equal(t, "13.50", f.DisplayValue())

	assert.Equal(t, "", EntryField{ID: "empty"}.DisplayValue())
	assert.Equal(t, "empty", EntryField{ID: "empty"}.Label())
}

func TestTotalCount_DecodesStringAndNumber(t *testing.T) {
	var resp ListTasksResponse
	require.NoError(t, json.Unmarshal([]byte(`{"tasks":[],"totalEntries":"123456789012345678901234567890"}`), &resp))
	require.NotNil(t, resp.TotalEntries)
	assert.Equal(t, "123456789012345678901234567890", resp.TotalEntries.String())

	resp = ListTasksResponse{}
	require.NoError(t, json.Unmarshal([]byte(`{"tasks":[],"totalEntries":42}`), &resp))
	assert.Equal(t, "42", resp.TotalEntries.String())

	resp = ListTasksResponse{}
	require.NoError(t, json.Unmarshal([]byte(`{"tasks":[],"totalEntries":null}`), &resp))
	assert.Nil(t, resp.TotalEntries)

	assert.Error(t, json.Unmarshal([]byte(`{"tasks":[],"totalEntries":"-1"}`), &resp))
}

func TestTotalCount_EncodesAsString(t *testing.T) {
	b, err := json.Marshal(ListTasksResponse{Tasks: []Task{}, TotalEntries: NewTotalCount(7)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tasks":[],"totalEntries":"7"}`, string(b))
}

func TestTask_CloneIsDeep(t *testing.T) {
	orig := Task{
		ID: "T1",
		EntryFields: []EntryField{{
			ID:             "f1",
			Contents:       StringPtr("a"),
			EditableConfig: EditableConfig{HumanContents: StringPtr("b")},
		}},
	}
	cp := orig.Clone()
	*cp.EntryFields[0].EditableConfig.HumanContents = "changed"
	cp.EntryFields[0].ID = "other"

	assert.Equal(t, "b", *orig.EntryFields[0].EditableConfig.HumanContents)
	assert.Equal(t, "f1", orig.EntryFields[0].ID)
}
