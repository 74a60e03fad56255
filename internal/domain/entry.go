// Package domain defines the core types of the two-layer memory model:
// short-term episodic entries, long-term consolidated facts, and the
// access-pattern records that gate information flow between domains.
package domain

import (
	"time"

	appErrors "mnemo-backend/internal/errors"
)

// EntryKind classifies a memory entry.
type EntryKind string

const (
	KindEpisodic   EntryKind = "episodic"
	KindSemantic   EntryKind = "semantic"
	KindProcedural EntryKind = "procedural"
)

// ValidKind reports whether k is a recognized entry kind.
func ValidKind(k EntryKind) bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural:
		return true
	}
	return false
}

// MemoryEntry is the unit stored in the episodic store. Entries are
// append-only: content and importance never mutate in place. Re-scoring
// importance creates a new entry whose Supersedes field references the old
// one. Consolidated flips false to true exactly once and never reverses.
type MemoryEntry struct {
	ID           string    `json:"id" dynamodbav:"EntryID"`
	Content      string    `json:"content" dynamodbav:"Content"`
	Kind         EntryKind `json:"kind" dynamodbav:"Kind"`
	Domain       string    `json:"domain" dynamodbav:"Domain"`
	Importance   float64   `json:"importance" dynamodbav:"Importance"`
	CreatedAt    time.Time `json:"createdAt" dynamodbav:"CreatedAt"`
	Consolidated bool      `json:"consolidated" dynamodbav:"Consolidated"`
	// Supersedes holds the id of the entry this one re-scores, if any.
	Supersedes string `json:"supersedes,omitempty" dynamodbav:"Supersedes,omitempty"`
}

// Validate checks the structural invariants of an entry.
func (e MemoryEntry) Validate() error {
	if e.ID == "" {
		return appErrors.NewValidation("entry id cannot be empty")
	}
	if e.Content == "" {
		return appErrors.NewValidation("entry content cannot be empty")
	}
	if !ValidKind(e.Kind) {
		return appErrors.NewValidationf("unrecognized entry kind %q", e.Kind)
	}
	if e.Domain == "" {
		return appErrors.NewValidation("entry domain cannot be empty")
	}
	if e.Importance < 0.0 || e.Importance > 1.0 {
		return appErrors.NewValidationf("importance %.4f outside [0.0, 1.0]", e.Importance)
	}
	return nil
}

// RetentionPolicy controls when purgeable entries are dropped from the
// episodic store. Consolidated entries are purged after ConsolidatedTTL;
// entries at or above ImportanceFloor are kept for ImportantTTL regardless
// of consolidation state.
type RetentionPolicy struct {
	ConsolidatedTTL time.Duration
	ImportantTTL    time.Duration
	ImportanceFloor float64
}

// DefaultRetentionPolicy returns the retention defaults: consolidated
// entries live 7 days, high-importance entries 30 days.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		ConsolidatedTTL: 7 * 24 * time.Hour,
		ImportantTTL:    30 * 24 * time.Hour,
		ImportanceFloor: 0.8,
	}
}

// Expired reports whether the entry may be purged at the given instant.
func (p RetentionPolicy) Expired(e MemoryEntry, now time.Time) bool {
	age := now.Sub(e.CreatedAt)
	if e.Importance >= p.ImportanceFloor {
		return age > p.ImportantTTL
	}
	if e.Consolidated {
		return age > p.ConsolidatedTTL
	}
	return false
}
