package api

import "time"

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StoreMemoryRequest creates a new memory entry.
type StoreMemoryRequest struct {
	Content    string  `json:"content" validate:"required"`
	Kind       string  `json:"kind" validate:"required,oneof=episodic semantic procedural"`
	Domain     string  `json:"domain" validate:"required"`
	Importance float64 `json:"importance" validate:"min=0,max=1"`
}

// StoreMemoryResponse returns the id of a stored entry.
type StoreMemoryResponse struct {
	EntryID string `json:"entryId"`
}

// RescoreMemoryRequest records a new importance for an entry.
type RescoreMemoryRequest struct {
	Importance float64 `json:"importance" validate:"min=0,max=1"`
}

// MemoryEntryResponse is one entry in a search result.
type MemoryEntryResponse struct {
	EntryID      string    `json:"entryId"`
	Content      string    `json:"content"`
	Kind         string    `json:"kind"`
	Domain       string    `json:"domain"`
	Importance   float64   `json:"importance"`
	CreatedAt    time.Time `json:"createdAt"`
	Consolidated bool      `json:"consolidated"`
	Supersedes   string    `json:"supersedes,omitempty"`
}

// SearchMemoriesResponse is the body of a search result.
type SearchMemoriesResponse struct {
	Entries []MemoryEntryResponse `json:"entries"`
	Count   int                   `json:"count"`
}

// FactResponse is one consolidated fact.
type FactResponse struct {
	FactID         string    `json:"factId"`
	Domain         string    `json:"domain"`
	Kind           string    `json:"kind"`
	SourceEntryIDs []string  `json:"sourceEntryIds"`
	Payload        string    `json:"payload"`
	CreatedAt      time.Time `json:"createdAt"`
	Version        int       `json:"version"`
	Keywords       []string  `json:"keywords,omitempty"`
}

// QueryFactsResponse is the body of a fact query result.
type QueryFactsResponse struct {
	Facts []FactResponse `json:"facts"`
	Count int            `json:"count"`
}

// ConsolidationRequest optionally attributes a consolidation run to a
// trigger. An empty body runs as manual.
type ConsolidationRequest struct {
	Trigger string `json:"trigger,omitempty" validate:"omitempty,oneof=time volume importance manual"`
}

// ConsolidationResponse summarizes a consolidation run.
type ConsolidationResponse struct {
	Trigger         string        `json:"trigger"`
	EntriesExamined int           `json:"entriesExamined"`
	Groups          int           `json:"groups"`
	Promoted        int           `json:"promoted"`
	Consolidated    int           `json:"consolidated"`
	Deferred        int           `json:"deferred"`
	Rejected        int           `json:"rejected"`
	Failed          int           `json:"failed"`
	Duration        time.Duration `json:"durationNs"`
}

// ValidateAccessRequest proposes a cross-domain crossing.
type ValidateAccessRequest struct {
	SourceDomain string `json:"sourceDomain" validate:"required"`
	TargetDomain string `json:"targetDomain" validate:"required"`
}

// ValidateAccessResponse carries the decision.
type ValidateAccessResponse struct {
	Decision string `json:"decision"`
}

// AccessHistoryResponse is one ledger row.
type AccessHistoryResponse struct {
	SourceDomain string    `json:"sourceDomain"`
	TargetDomain string    `json:"targetDomain"`
	AccessType   string    `json:"accessType"`
	Frequency    int       `json:"frequency"`
	SuccessRate  float64   `json:"successRate"`
	LastAccess   time.Time `json:"lastAccess"`
	Archived     bool      `json:"archived"`
}

// ResolveRequestRequest applies a manual decision to a pending request.
type ResolveRequestRequest struct {
	Approve bool `json:"approve"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status          string `json:"status"`
	EpisodicCircuit string `json:"episodicCircuit"`
	SemanticCircuit string `json:"semanticCircuit"`
	Backlog         int    `json:"backlog"`
}
