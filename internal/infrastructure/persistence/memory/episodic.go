package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/domain/services"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/repository"
)

// EpisodicStore is an in-memory, append-only implementation of
// repository.EpisodicRepository. Entries are copied on the way in and out so
// callers can never mutate stored state.
type EpisodicStore struct {
	*faultInjector

	mu       sync.RWMutex
	entries  map[string]domain.MemoryEntry
	keywords map[string]map[string]bool // entry id -> keyword set
	order    []string                   // insertion order, for deterministic scans

	similarity *services.SimilarityCalculator
}

// NewEpisodicStore creates an empty episodic store.
func NewEpisodicStore() *EpisodicStore {
	return &EpisodicStore{
		faultInjector: newFaultInjector(),
		entries:       make(map[string]domain.MemoryEntry),
		keywords:      make(map[string]map[string]bool),
		similarity:    services.NewSimilarityCalculator(nil),
	}
}

// Put appends a new entry. Writing an id that already exists is a conflict:
// the store is append-only and never mutates content in place.
func (s *EpisodicStore) Put(ctx context.Context, entry domain.MemoryEntry) error {
	if err := s.fire("Put"); err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return appErrors.NewConflict("entry already exists: " + entry.ID)
	}

	s.entries[entry.ID] = entry
	s.keywords[entry.ID] = services.KeywordSet(services.ExtractKeywords(entry.Content))
	s.order = append(s.order, entry.ID)
	return nil
}

// FindByID returns the entry with the given id, or nil when absent.
func (s *EpisodicStore) FindByID(ctx context.Context, id string) (*domain.MemoryEntry, error) {
	if err := s.fire("FindByID"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	copied := entry
	return &copied, nil
}

// Search returns entries in the query's domain ranked by keyword-set
// similarity against the query keywords. With no keywords it returns the
// domain's entries in insertion order.
func (s *EpisodicStore) Search(ctx context.Context, query repository.EntryQuery) ([]domain.MemoryEntry, error) {
	if err := s.fire("Search"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	querySet := services.KeywordSet(query.Keywords)

	type scored struct {
		entry domain.MemoryEntry
		score float64
	}
	var matches []scored

	for _, id := range s.order {
		entry := s.entries[id]
		if query.Domain != "" && entry.Domain != query.Domain {
			continue
		}
		if len(querySet) == 0 {
			matches = append(matches, scored{entry: entry})
			continue
		}
		score := s.similarity.CompareSets(querySet, s.keywords[id])
		if score > 0 {
			matches = append(matches, scored{entry: entry, score: score})
		}
	}

	if len(querySet) > 0 {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].score > matches[j].score
		})
	}

	results := make([]domain.MemoryEntry, 0, len(matches))
	for _, m := range matches {
		if query.Limit > 0 && len(results) >= query.Limit {
			break
		}
		results = append(results, m.entry)
	}
	return results, nil
}

// GetUnconsolidated returns all unconsolidated entries, optionally scoped to
// a domain, in insertion order.
func (s *EpisodicStore) GetUnconsolidated(ctx context.Context, domainLabel string) ([]domain.MemoryEntry, error) {
	if err := s.fire("GetUnconsolidated"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.MemoryEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.Consolidated {
			continue
		}
		if domainLabel != "" && entry.Domain != domainLabel {
			continue
		}
		results = append(results, entry)
	}
	return results, nil
}

// CountUnconsolidated counts unconsolidated entries in a domain ("" = all).
func (s *EpisodicStore) CountUnconsolidated(ctx context.Context, domainLabel string) (int, error) {
	if err := s.fire("CountUnconsolidated"); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if entry.Consolidated {
			continue
		}
		if domainLabel != "" && entry.Domain != domainLabel {
			continue
		}
		count++
	}
	return count, nil
}

// MarkConsolidated flips the consolidated flag on the given ids. Marking an
// already-consolidated id is a no-op; unknown ids are a not-found error and
// leave the rest of the batch untouched.
func (s *EpisodicStore) MarkConsolidated(ctx context.Context, ids []string) error {
	if err := s.fire("MarkConsolidated"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.entries[id]; !ok {
			return appErrors.NewNotFound("entry not found: " + id)
		}
	}
	for _, id := range ids {
		entry := s.entries[id]
		if entry.Consolidated {
			continue
		}
		entry.Consolidated = true
		s.entries[id] = entry
	}
	return nil
}

// PurgeExpired removes entries the retention policy declares expired and
// returns how many were dropped.
func (s *EpisodicStore) PurgeExpired(ctx context.Context, policy domain.RetentionPolicy, now time.Time) (int, error) {
	if err := s.fire("PurgeExpired"); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	remaining := s.order[:0]
	for _, id := range s.order {
		entry := s.entries[id]
		if policy.Expired(entry, now) {
			delete(s.entries, id)
			delete(s.keywords, id)
			purged++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
	return purged, nil
}

// Len returns the number of stored entries.
func (s *EpisodicStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
