package memory

import (
	"context"
	"sync"
	"time"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/domain/services"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/repository"
)

// SemanticStore is an in-memory implementation of
// repository.SemanticRepository: a small fact graph with versioned facts and
// directed relationship edges.
type SemanticStore struct {
	*faultInjector

	mu      sync.RWMutex
	facts   map[string]domain.ConsolidatedFact   // current version per fact id
	history map[string][]domain.ConsolidatedFact // superseded versions, oldest first
	edges   map[string][]domain.Relationship     // outgoing edges per fact id
	order   []string
}

// NewSemanticStore creates an empty semantic store.
func NewSemanticStore() *SemanticStore {
	return &SemanticStore{
		faultInjector: newFaultInjector(),
		facts:         make(map[string]domain.ConsolidatedFact),
		history:       make(map[string][]domain.ConsolidatedFact),
		edges:         make(map[string][]domain.Relationship),
	}
}

// UpsertFact writes a fact. A new id starts at version 1; an existing id is
// superseded: the prior version moves to history with its provenance intact
// and the incoming fact gets the next version number.
func (s *SemanticStore) UpsertFact(ctx context.Context, fact domain.ConsolidatedFact) (domain.ConsolidatedFact, error) {
	if err := s.fire("UpsertFact"); err != nil {
		return domain.ConsolidatedFact{}, err
	}
	if err := fact.Validate(); err != nil {
		return domain.ConsolidatedFact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, exists := s.facts[fact.ID]
	if exists {
		s.history[fact.ID] = append(s.history[fact.ID], prior)
		fact.Version = prior.Version + 1
		fact.CreatedAt = prior.CreatedAt
	} else {
		fact.Version = 1
		if fact.CreatedAt.IsZero() {
			fact.CreatedAt = time.Now()
		}
		s.order = append(s.order, fact.ID)
	}

	s.facts[fact.ID] = fact
	return fact, nil
}

// RemoveFact deletes a fact and its edges. Used only as compensation when a
// group promotion fails partway through.
func (s *SemanticStore) RemoveFact(ctx context.Context, id string) error {
	if err := s.fire("RemoveFact"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.facts, id)
	delete(s.history, id)
	delete(s.edges, id)
	for src, rels := range s.edges {
		kept := rels[:0]
		for _, rel := range rels {
			if rel.TargetID != id {
				kept = append(kept, rel)
			}
		}
		s.edges[src] = kept
	}
	for i, fid := range s.order {
		if fid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// FindFactByID returns the current version of a fact, or nil when absent.
func (s *SemanticStore) FindFactByID(ctx context.Context, id string) (*domain.ConsolidatedFact, error) {
	if err := s.fire("FindFactByID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fact, ok := s.facts[id]
	if !ok {
		return nil, nil
	}
	copied := fact
	return &copied, nil
}

// History returns all versions of a fact, oldest first, current last.
func (s *SemanticStore) History(ctx context.Context, factID string) ([]domain.ConsolidatedFact, error) {
	if err := s.fire("History"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.facts[factID]
	if !ok {
		return nil, appErrors.NewNotFound("fact not found: " + factID)
	}

	versions := make([]domain.ConsolidatedFact, 0, len(s.history[factID])+1)
	versions = append(versions, s.history[factID]...)
	versions = append(versions, current)
	return versions, nil
}

// AddRelationship creates a directed edge, or with bidirectional=true two
// directed edges as one atomic operation: if the reverse edge cannot be
// created the forward edge is rolled back and no graph state changes.
func (s *SemanticStore) AddRelationship(ctx context.Context, sourceID, targetID, relType string, bidirectional bool) error {
	if err := s.fire("AddRelationship"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facts[sourceID]; !ok {
		return appErrors.NewNotFound("relationship source not found: " + sourceID)
	}
	if _, ok := s.facts[targetID]; !ok {
		return appErrors.NewNotFound("relationship target not found: " + targetID)
	}

	now := time.Now()
	forward := domain.Relationship{SourceID: sourceID, TargetID: targetID, Type: relType, CreatedAt: now}
	s.edges[sourceID] = append(s.edges[sourceID], forward)

	if bidirectional {
		if err := s.fire("AddRelationshipReverse"); err != nil {
			// Roll back the forward edge so a partial pair never survives.
			s.edges[sourceID] = s.edges[sourceID][:len(s.edges[sourceID])-1]
			return err
		}
		reverse := domain.Relationship{SourceID: targetID, TargetID: sourceID, Type: relType, CreatedAt: now}
		s.edges[targetID] = append(s.edges[targetID], reverse)
	}
	return nil
}

// Relationships returns the outgoing edges of a fact.
func (s *SemanticStore) Relationships(ctx context.Context, factID string) ([]domain.Relationship, error) {
	if err := s.fire("Relationships"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rels := make([]domain.Relationship, len(s.edges[factID]))
	copy(rels, s.edges[factID])
	return rels, nil
}

// Query returns current fact versions in a domain, optionally filtered by
// kind and keyword overlap, in insertion order.
func (s *SemanticStore) Query(ctx context.Context, domainLabel string, filter repository.FactFilter) ([]domain.ConsolidatedFact, error) {
	if err := s.fire("Query"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filterSet := services.KeywordSet(filter.Keywords)

	var results []domain.ConsolidatedFact
	for _, id := range s.order {
		fact, ok := s.facts[id]
		if !ok {
			continue
		}
		if domainLabel != "" && fact.Domain != domainLabel {
			continue
		}
		if filter.Kind != "" && fact.Kind != filter.Kind {
			continue
		}
		if len(filterSet) > 0 && !overlaps(filterSet, fact.Keywords) {
			continue
		}
		results = append(results, fact)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// EdgeCount returns the total number of directed edges in the store.
func (s *SemanticStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, rels := range s.edges {
		total += len(rels)
	}
	return total
}

func overlaps(set map[string]bool, keywords []string) bool {
	for _, kw := range keywords {
		if set[kw] {
			return true
		}
	}
	return false
}
