package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// StatsService implements the ports.RunStats interface, accumulating
// counters across ingest runs in this process.
type StatsService struct {
	logger *slog.Logger

	mu              sync.RWMutex
	runs            int64
	tasksSucceeded  int64
	tasksFailed     int64
	lastRunID       string
	lastRunAt       *time.Time
	lastRunDuration time.Duration
}

// NewStatsService creates a new stats service
func NewStatsService(logger *slog.Logger) *StatsService {
	return &StatsService{
		logger: logger.With("component", "stats_service"),
	}
}

// RecordRun records a completed run summary
func (s *StatsService) RecordRun(summary *domain.RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	s.tasksSucceeded += int64(summary.Succeeded)
	s.tasksFailed += int64(len(summary.Failed))
	s.lastRunID = summary.RunID.String()
	finished := summary.FinishedAt
	s.lastRunAt = &finished
	s.lastRunDuration = summary.FinishedAt.Sub(summary.StartedAt)
}

// Snapshot returns current statistics
func (s *StatsService) Snapshot() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.Stats{
		Runs:            s.runs,
		TasksSucceeded:  s.tasksSucceeded,
		TasksFailed:     s.tasksFailed,
		LastRunID:       s.lastRunID,
		LastRunAt:       s.lastRunAt,
		LastRunDuration: float64(s.lastRunDuration.Milliseconds()),
	}
}

// LastRunAt returns the finish time of the most recent run
func (s *StatsService) LastRunAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunAt
}

// Ensure StatsService implements ports.RunStats
var _ ports.RunStats = (*StatsService)(nil)
