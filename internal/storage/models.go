package storage

import (
	"time"

	"github.com/edupipe/edupipe/internal/content"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Pipeline stages used as retry-queue and failure-tally keys.
const (
	StageIndex   = "index"
	StageExtract = "extract"
	StageAnalyze = "analyze"
	StageUpsert  = "upsert"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string     `json:"id"`
	Step       string     `json:"step"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at,omitzero"`
	Summary    RunSummary `json:"summary"`
}

// RunSummary tallies a run's outcomes per category.
type RunSummary struct {
	Indexed    int            `json:"indexed,omitempty"`
	Extracted  int            `json:"extracted,omitempty"`
	LowContent int            `json:"low_content,omitempty"`
	Analyzed   int            `json:"analyzed,omitempty"`
	Upserted   int            `json:"upserted,omitempty"`
	Skipped    int            `json:"skipped,omitempty"`
	Failed     map[string]int `json:"failed,omitempty"`
}

// AddFailure bumps the failure count for a stage.
func (s *RunSummary) AddFailure(stage string) {
	if s.Failed == nil {
		s.Failed = make(map[string]int)
	}
	s.Failed[stage]++
}

// FailureCount returns the total failures across stages.
func (s *RunSummary) FailureCount() int {
	total := 0
	for _, n := range s.Failed {
		total += n
	}
	return total
}

// RetryItem is one queued record awaiting a stage retry.
type RetryItem struct {
	Stage     string    `json:"stage"`
	RecordID  string    `json:"record_id"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// ScoredRecord pairs a content record with its similarity score.
type ScoredRecord struct {
	Record *content.Record `json:"record"`
	Score  float32         `json:"score"`
}

// Stats summarizes the local content store.
type Stats struct {
	Total      int `json:"total"`
	LowContent int `json:"low_content"`
	Analyzed   int `json:"analyzed"`
	Upserted   int `json:"upserted"`
	Embedded   int `json:"embedded"`
	Skipped    int `json:"skipped"`
}
