package dashboard

import (
	"strings"
	"time"

	"github.com/gofixpoint/fixpoint/internal/collections"
	"github.com/gofixpoint/fixpoint/internal/model"
)

type Column struct {
	ID          string
	DisplayName string
	Sortable    bool
	Hideable    bool
	// Faceted columns filter on exact values instead of substrings.
	Faceted bool
	Value   func(model.Task) string
	less    func(a, b model.Task) bool
}

const (
	ColumnID            = "id"
	ColumnWorkflowID    = "workflowId"
	ColumnWorkflowRunID = "workflowRunId"
	ColumnNodeID        = "nodeId"
	ColumnStatus        = "status"
	ColumnCreatedAt     = "createdAt"
	ColumnUpdatedAt     = "updatedAt"
)

func timeLess(get func(model.Task) string) func(a, b model.Task) bool {
	return func(a, b model.Task) bool {
		ta, errA := time.Parse(time.RFC3339Nano, get(a))
		tb, errB := time.Parse(time.RFC3339Nano, get(b))
		if errA != nil || errB != nil {
			return get(a) < get(b)
		}
		return ta.Before(tb)
	}
}

// TaskColumns is the column set of the task grid, in display order.
func TaskColumns() []Column {
	createdAt := func(t model.Task) string { return t.CreatedAt }
	updatedAt := func(t model.Task) string { return t.UpdatedAt }
	return []Column{
		{ID: ColumnCreatedAt, DisplayName: "Timestamp", Sortable: true, Hideable: true, Value: createdAt, less: timeLess(createdAt)},
		{ID: ColumnID, DisplayName: "Task", Sortable: true, Value: func(t model.Task) string { return string(t.ID) }},
		{ID: ColumnWorkflowID, DisplayName: "Workflow", Sortable: true, Hideable: true, Value: func(t model.Task) string { return t.WorkflowID }},
		{ID: ColumnWorkflowRunID, DisplayName: "Run", Sortable: true, Hideable: true, Value: func(t model.Task) string { return t.WorkflowRunID }},
		{ID: ColumnNodeID, DisplayName: "Node", Sortable: true, Hideable: true, Value: func(t model.Task) string {
			if t.NodeID == nil {
				return ""
			}
			return *t.NodeID
		}},
		{ID: ColumnStatus, DisplayName: "Status", Sortable: true, Hideable: true, Faceted: true, Value: func(t model.Task) string { return string(t.Status) }},
		{ID: ColumnUpdatedAt, DisplayName: "Updated", Sortable: true, Hideable: true, Value: updatedAt, less: timeLess(updatedAt)},
	}
}

func (c Column) Less(a, b model.Task) bool {
	if c.less != nil {
		return c.less(a, b)
	}
	return c.Value(a) < c.Value(b)
}

func (c Column) Matches(t model.Task, values []string) bool {
	if len(values) == 0 {
		return true
	}
	cell := c.Value(t)
	for _, v := range values {
		if c.Faceted {
			if strings.EqualFold(cell, v) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(cell), strings.ToLower(v)) {
			return true
		}
	}
	return false
}

func columnIndex(cols []Column) *collections.RequiredMap[string, Column] {
	m := collections.NewRequiredMap[string, Column]()
	for _, c := range cols {
		m.Set(c.ID, c)
	}
	return m
}
