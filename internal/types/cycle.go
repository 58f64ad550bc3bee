package types

import "time"

// Outcome is the terminal classification of one capture cycle.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomePartialFailure Outcome = "partial_failure"
	OutcomeFailed         Outcome = "failed"
)

// CycleResult is emitted exactly once per cycle and never mutated afterwards.
type CycleResult struct {
	RunID           string       `json:"run_id"`
	CycleIndex      int          `json:"cycle_index"`
	OutputPath      string       `json:"output_path"`
	ItemsRequested  int          `json:"items_requested"`
	PacketsCaptured int64        `json:"packets_captured"`
	Outcome         Outcome      `json:"outcome"`
	Error           string       `json:"error,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	StoppedAt       time.Time    `json:"stopped_at,omitempty"`
	StopSeconds     float64      `json:"stop_seconds"`
	ItemsWatched    int          `json:"items_watched"`
	ItemsSkipped    int          `json:"items_skipped"`
	ItemsFailed     int          `json:"items_failed"`
	Items           []ItemRecord `json:"items,omitempty"`
}

// ItemRecord is the per-item label: the plan that was executed and what the driver observed.
type ItemRecord struct {
	Plan            WatchPlan `json:"plan"`
	ObservedSeconds float64   `json:"observed_seconds"`
	Error           string    `json:"error,omitempty"`
}

// Failed reports whether the stimulus call for this item failed.
func (r ItemRecord) Failed() bool { return r.Error != "" }
