package domain

import "time"

// Stats holds cumulative statistics across ingest runs in this process.
type Stats struct {
	Runs            int64      `json:"runs"`
	TasksSucceeded  int64      `json:"tasks_succeeded"`
	TasksFailed     int64      `json:"tasks_failed"`
	LastRunID       string     `json:"last_run_id,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRunDuration float64    `json:"last_run_duration_ms"`
}
