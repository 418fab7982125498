package model

import (
	"time"

	"github.com/google/uuid"
)

// FailedTable records why a table did not complete successfully.
type FailedTable struct {
	Name   string
	Kind   string
	Detail string
}

// TableTiming is the additive per-table instrumentation surfaced in the
// end-of-run summary (extract/transform/load wall-clock, not a new phase).
type TableTiming struct {
	Extract   time.Duration
	Transform time.Duration
	Load      time.Duration
}

// DryRunIssue is one diagnostic recorded for a table during dry-run analysis.
type DryRunIssue struct {
	Table                     string
	DataTransformationNeeded  int
	AnalysisError             string
	SchemaChange              bool
	DefaultColumnNeverPopulated []string
	OrphanedForeignKeys       []string
}

// RunStats is the single piece of state the Executor owns and mutates over
// the lifetime of a run; every other component only reads it.
type RunStats struct {
	RunID     uuid.UUID
	StartedAt time.Time
	EndedAt   time.Time

	TotalTables      int
	SuccessfulTables int
	FailedTables     []FailedTable

	RowsPlanned  int64
	RowsInserted int64

	EnumTransformations int64
	DefaultSubstitutions int64
	NullSubstitutions    int64
	CoercionFailures     int64

	TableTimings map[string]TableTiming
	DryRunIssues []DryRunIssue

	CycleWarnings [][]string
}

// NewRunStats returns a freshly initialized RunStats ready for a run.
func NewRunStats() *RunStats {
	return &RunStats{
		RunID:        uuid.New(),
		StartedAt:    time.Now(),
		TableTimings: make(map[string]TableTiming),
	}
}

// RecordFailure appends a failed-table entry.
func (s *RunStats) RecordFailure(table, kind, detail string) {
	s.FailedTables = append(s.FailedTables, FailedTable{Name: table, Kind: kind, Detail: detail})
}

// RecordTiming merges timing for a table (Executor calls this once per
// table, after its Sync iteration, with all three durations).
func (s *RunStats) RecordTiming(table string, add TableTiming) {
	t := s.TableTimings[table]
	t.Extract += add.Extract
	t.Transform += add.Transform
	t.Load += add.Load
	s.TableTimings[table] = t
}

// Duration returns the run's wall-clock duration so far.
func (s *RunStats) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}
