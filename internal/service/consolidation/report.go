// Package consolidation implements the engine that reconciles the short-term
// episodic store into the long-term semantic store: grouping unconsolidated
// entries by content similarity, extracting stable facts, gating any
// cross-domain promotion through the access controller, and promoting each
// group atomically.
package consolidation

import (
	"time"
)

// Trigger identifies what fired a consolidation run.
type Trigger string

const (
	// TriggerTimeBased fires when the configured interval has elapsed since
	// the last run.
	TriggerTimeBased Trigger = "time"
	// TriggerVolumeBased fires when the unconsolidated backlog exceeds the
	// volume threshold.
	TriggerVolumeBased Trigger = "volume"
	// TriggerImportanceBased fires when any unconsolidated entry reaches the
	// importance floor.
	TriggerImportanceBased Trigger = "importance"
	// TriggerManual marks runs requested through the operational API.
	TriggerManual Trigger = "manual"
)

// ValidTrigger reports whether t is a recognized trigger.
func ValidTrigger(t Trigger) bool {
	switch t {
	case TriggerTimeBased, TriggerVolumeBased, TriggerImportanceBased, TriggerManual:
		return true
	}
	return false
}

// Report summarizes a consolidation run. Per-group failures are recorded
// here, never propagated: a failed group does not abort its siblings.
type Report struct {
	Trigger         Trigger       `json:"trigger"`
	StartedAt       time.Time     `json:"startedAt"`
	Duration        time.Duration `json:"duration"`
	EntriesExamined int           `json:"entriesExamined"`
	Groups          int           `json:"groups"`
	// Promoted counts facts written to the semantic store.
	Promoted int `json:"promoted"`
	// Consolidated counts source entries marked consolidated.
	Consolidated int `json:"consolidated"`
	// Deferred counts candidates held for manual cross-domain approval.
	Deferred int `json:"deferred"`
	// Rejected counts candidates denied by the access controller.
	Rejected int `json:"rejected"`
	// Failed counts candidates that could not be promoted after retries.
	Failed int `json:"failed"`
}
