package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_FiltersAndCaps(t *testing.T) {
	r := NewMemoryRepository(3)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for i := 0; i < 4; i++ {
		require.NoError(t, r.RecordEvent(EventTaskUpdated, Metadata{"task_id": "t"}))
	}
	require.NoError(t, r.RecordEvent(EventSessionEnded, nil))

	all, err := r.GetEvents(time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3, all[0].ID)
	assert.Equal(t, 5, all[2].ID)

	ended, err := r.GetEvents(time.Time{}, []EventType{EventSessionEnded})
	require.NoError(t, err)
	assert.Len(t, ended, 1)

	recent, err := r.GetEvents(base.Add(4*time.Minute), nil)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	require.NoError(t, r.Clear())
	all, err = r.GetEvents(time.Time{}, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCalculateStats(t *testing.T) {
	since := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	events := []Event{
		{Type: EventTaskUpdated, Metadata: Metadata{"task_id": "a", "status": "COMPLETED", "workflow_id": "invoice"}},
		{Type: EventTaskUpdated, Metadata: Metadata{"task_id": "a", "status": "FAILED", "workflow_id": "invoice"}},
		{Type: EventTaskUpdated, Metadata: Metadata{"task_id": "b", "status": "COMPLETED", "workflow_id": "triage"}},
		{Type: EventSessionEnded},
	}

	stats := CalculateStats(events, since, since.Add(2*time.Hour))
	assert.Equal(t, 3, stats.EventCounts[EventTaskUpdated])
	assert.Equal(t, 2, stats.UpdatesByState["COMPLETED"])
	assert.Equal(t, 2, stats.Workflows["invoice"])
	assert.Equal(t, 2, stats.TasksTouched)
	assert.Equal(t, 1, stats.SessionsEnded)
	assert.InDelta(t, 1.5, stats.UpdatesPerHour, 1e-9)
	assert.Equal(t, "2026-10-01T09:00:00Z", stats.Since)
}
