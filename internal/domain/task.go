package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState tracks a FetchTask through its lifecycle.
// Pending is initial; Succeeded, FailedPermanent and FailedExhausted are
// terminal.
type TaskState string

const (
	TaskPending         TaskState = "pending"
	TaskInFlight        TaskState = "in_flight"
	TaskRetryScheduled  TaskState = "retry_scheduled"
	TaskSucceeded       TaskState = "succeeded"
	TaskFailedPermanent TaskState = "failed_permanent"
	TaskFailedExhausted TaskState = "failed_exhausted"
)

// Terminal reports whether the state ends the task's lifecycle.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailedPermanent, TaskFailedExhausted:
		return true
	}
	return false
}

// FetchTask is one transient unit of work: fetch and ingest a single
// (coin, date) observation. Tasks are never persisted.
type FetchTask struct {
	CoinID   string
	Date     time.Time
	State    TaskState
	Attempts int
}

// NewFetchTask creates a pending task for a coin and UTC calendar day.
func NewFetchTask(coinID string, date time.Time) FetchTask {
	return FetchTask{
		CoinID: coinID,
		Date:   DayOf(date),
		State:  TaskPending,
	}
}

// Key identifies the task's (coin, date) pair, used for deduplication.
func (t FetchTask) Key() string {
	return t.CoinID + "@" + t.Date.Format("2006-01-02")
}

// TaskFailure records one task that reached a failed terminal state.
type TaskFailure struct {
	CoinID   string    `json:"coin_id"`
	Date     time.Time `json:"date"`
	State    TaskState `json:"state"`
	Attempts int       `json:"attempts"`
	Err      error     `json:"-"`
}

func (f TaskFailure) Error() string {
	return fmt.Sprintf("%s %s: %v (%s after %d attempts)",
		f.CoinID, f.Date.Format("2006-01-02"), f.Err, f.State, f.Attempts)
}

func (f TaskFailure) Unwrap() error {
	return f.Err
}

// RunSummary is the result of one orchestrator invocation. It is returned
// only once every dispatched task has reached a terminal state; Failed is
// ordered by task generation order so callers can re-run just that subset.
type RunSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Succeeded  int           `json:"succeeded"`
	Failed     []TaskFailure `json:"failed,omitempty"`
}

// Total returns the number of tasks that reached a terminal state.
func (s *RunSummary) Total() int {
	return s.Succeeded + len(s.Failed)
}
