package telemetry

import "time"

type Stats struct {
	Since          string            `json:"since"`
	EventCounts    map[EventType]int `json:"event_counts"`
	UpdatesByState map[string]int    `json:"updates_by_status"`
	Workflows      map[string]int    `json:"updates_by_workflow"`
	TasksTouched   int               `json:"tasks_touched"`
	SessionsEnded  int               `json:"sessions_ended"`
	UpdatesPerHour float64           `json:"updates_per_hour"`
}

// CalculateStats summarizes events recorded between since and now.
func CalculateStats(events []Event, since, now time.Time) Stats {
	stats := Stats{
		Since:          since.UTC().Format(time.RFC3339),
		EventCounts:    make(map[EventType]int),
		UpdatesByState: make(map[string]int),
		Workflows:      make(map[string]int),
	}

	touched := map[string]bool{}
	for _, event := range events {
		stats.EventCounts[event.Type]++
		switch event.Type {
		case EventTaskUpdated:
			if st := event.Metadata["status"]; st != "" {
				stats.UpdatesByState[st]++
			}
			if wf := event.Metadata["workflow_id"]; wf != "" {
				stats.Workflows[wf]++
			}
			if id := event.Metadata["task_id"]; id != "" {
				touched[id] = true
			}
		case EventSessionEnded:
			stats.SessionsEnded++
		}
	}
	stats.TasksTouched = len(touched)

	if hours := now.Sub(since).Hours(); hours > 0 {
		stats.UpdatesPerHour = float64(stats.EventCounts[EventTaskUpdated]) / hours
	}
	return stats
}
