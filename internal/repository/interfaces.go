// Package repository defines the persistence contracts of the memory
// subsystem. The episodic and semantic stores are independent backends; the
// only cross-reference between them is the provenance copied into facts at
// promotion time.
package repository

import (
	"context"
	"time"

	"mnemo-backend/internal/domain"
)

// EntryQuery selects episodic entries by domain and keyword overlap.
type EntryQuery struct {
	Domain   string
	Keywords []string
	Limit    int
}

// FactFilter selects consolidated facts.
type FactFilter struct {
	Kind     domain.FactKind
	Keywords []string
	Limit    int
}

// EpisodicRepository is the append-only short-term store. Put never mutates an
// existing entry; MarkConsolidated is idempotent and one-way.
type EpisodicRepository interface {
	Put(ctx context.Context, entry domain.MemoryEntry) error
	FindByID(ctx context.Context, id string) (*domain.MemoryEntry, error)
	Search(ctx context.Context, query EntryQuery) ([]domain.MemoryEntry, error)
	GetUnconsolidated(ctx context.Context, domainLabel string) ([]domain.MemoryEntry, error)
	CountUnconsolidated(ctx context.Context, domainLabel string) (int, error)
	MarkConsolidated(ctx context.Context, ids []string) error
	PurgeExpired(ctx context.Context, policy domain.RetentionPolicy, now time.Time) (int, error)
}

// SemanticRepository is the long-term structured store. UpsertFact on an
// existing logical fact bumps its version and preserves the superseded
// version; AddRelationship with bidirectional=true creates both directed
// edges or neither.
type SemanticRepository interface {
	UpsertFact(ctx context.Context, fact domain.ConsolidatedFact) (domain.ConsolidatedFact, error)
	// RemoveFact exists solely so a failed group promotion can compensate for
	// facts it already wrote during the same run. Promoted facts are otherwise
	// permanent.
	RemoveFact(ctx context.Context, id string) error
	FindFactByID(ctx context.Context, id string) (*domain.ConsolidatedFact, error)
	History(ctx context.Context, factID string) ([]domain.ConsolidatedFact, error)
	AddRelationship(ctx context.Context, sourceID, targetID, relType string, bidirectional bool) error
	Relationships(ctx context.Context, factID string) ([]domain.Relationship, error)
	Query(ctx context.Context, domainLabel string, filter FactFilter) ([]domain.ConsolidatedFact, error)
}

// LedgerRepository stores one access-pattern row per (source, target) pair.
// Rows are upserted, never deleted; Archive flips the archived flag.
type LedgerRepository interface {
	Get(ctx context.Context, sourceDomain, targetDomain string) (*domain.AccessPattern, error)
	Record(ctx context.Context, pattern domain.AccessPattern) error
	Archive(ctx context.Context, sourceDomain, targetDomain string) error
	List(ctx context.Context) ([]domain.AccessPattern, error)
}

// RequestRepository stores cross-domain requests awaiting or holding a
// resolution.
type RequestRepository interface {
	FindByPair(ctx context.Context, sourceDomain, targetDomain string) (*domain.CrossDomainRequest, error)
	Save(ctx context.Context, request domain.CrossDomainRequest) error
	Resolve(ctx context.Context, id string, status domain.RequestStatus, resolvedAt time.Time) error
}
