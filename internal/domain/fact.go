package domain

import (
	"time"

	appErrors "mnemo-backend/internal/errors"
)

// FactKind classifies a consolidated fact.
type FactKind string

const (
	FactConcept      FactKind = "concept"
	FactRelationship FactKind = "relationship"
)

// ConsolidatedFact is the unit stored in the semantic store. Facts are
// permanent: corrections supersede a fact by bumping Version, they never
// delete it. Provenance is copied into the fact at promotion time so it stays
// resolvable after the episodic store purges the source entries.
type ConsolidatedFact struct {
	ID             string    `json:"id" dynamodbav:"FactID"`
	Domain         string    `json:"domain" dynamodbav:"Domain"`
	Kind           FactKind  `json:"kind" dynamodbav:"Kind"`
	SourceEntryIDs []string  `json:"sourceEntryIds" dynamodbav:"SourceEntryIDs"`
	Payload        string    `json:"payload" dynamodbav:"Payload"`
	CreatedAt      time.Time `json:"createdAt" dynamodbav:"CreatedAt"`
	Version        int       `json:"version" dynamodbav:"Version"`
	// Keywords carries the context key the fact was grouped under, used for
	// lookup and relationship discovery.
	Keywords []string `json:"keywords,omitempty" dynamodbav:"Keywords,omitempty"`
}

// Validate checks the structural invariants of a fact. Every fact must carry
// provenance: at least one source entry id.
func (f ConsolidatedFact) Validate() error {
	if f.ID == "" {
		return appErrors.NewValidation("fact id cannot be empty")
	}
	if f.Domain == "" {
		return appErrors.NewValidation("fact domain cannot be empty")
	}
	if f.Kind != FactConcept && f.Kind != FactRelationship {
		return appErrors.NewValidationf("unrecognized fact kind %q", f.Kind)
	}
	if len(f.SourceEntryIDs) == 0 {
		return appErrors.NewValidation("fact must reference at least one source entry")
	}
	return nil
}

// Relationship is a directed edge between two facts in the semantic store.
type Relationship struct {
	SourceID  string    `json:"sourceId" dynamodbav:"SourceID"`
	TargetID  string    `json:"targetId" dynamodbav:"TargetID"`
	Type      string    `json:"type" dynamodbav:"Type"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"CreatedAt"`
}
