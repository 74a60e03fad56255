package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
)

func pairKey(source, target string) string {
	return source + "\x00" + target
}

// AccessLedger is an in-memory implementation of
// repository.LedgerRepository.
type AccessLedger struct {
	*faultInjector

	mu       sync.RWMutex
	patterns map[string]domain.AccessPattern
}

// NewAccessLedger creates an empty ledger.
func NewAccessLedger() *AccessLedger {
	return &AccessLedger{
		faultInjector: newFaultInjector(),
		patterns:      make(map[string]domain.AccessPattern),
	}
}

// Get returns the row for a pair, or nil when the pair has never been seen.
// Archived rows are still returned; the controller decides what archival
// means for scoring.
func (l *AccessLedger) Get(ctx context.Context, sourceDomain, targetDomain string) (*domain.AccessPattern, error) {
	if err := l.fire("Get"); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	pattern, ok := l.patterns[pairKey(sourceDomain, targetDomain)]
	if !ok {
		return nil, nil
	}
	copied := pattern
	return &copied, nil
}

// Record upserts the row for the pattern's pair.
func (l *AccessLedger) Record(ctx context.Context, pattern domain.AccessPattern) error {
	if err := l.fire("Record"); err != nil {
		return err
	}
	if pattern.SourceDomain == "" || pattern.TargetDomain == "" {
		return appErrors.NewValidation("access pattern requires source and target domains")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.patterns[pairKey(pattern.SourceDomain, pattern.TargetDomain)] = pattern
	return nil
}

// Archive marks a pair's row archived. Rows are never deleted.
func (l *AccessLedger) Archive(ctx context.Context, sourceDomain, targetDomain string) error {
	if err := l.fire("Archive"); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := pairKey(sourceDomain, targetDomain)
	pattern, ok := l.patterns[key]
	if !ok {
		return appErrors.NewNotFound("no access pattern for pair")
	}
	pattern.Archived = true
	l.patterns[key] = pattern
	return nil
}

// List returns all rows ordered by (source, target) for stable iteration.
func (l *AccessLedger) List(ctx context.Context) ([]domain.AccessPattern, error) {
	if err := l.fire("List"); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	results := make([]domain.AccessPattern, 0, len(l.patterns))
	for _, pattern := range l.patterns {
		results = append(results, pattern)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].SourceDomain != results[j].SourceDomain {
			return results[i].SourceDomain < results[j].SourceDomain
		}
		return results[i].TargetDomain < results[j].TargetDomain
	})
	return results, nil
}

// RequestStore is an in-memory implementation of
// repository.RequestRepository.
type RequestStore struct {
	*faultInjector

	mu       sync.RWMutex
	requests map[string]domain.CrossDomainRequest // by request id
}

// NewRequestStore creates an empty request store.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		faultInjector: newFaultInjector(),
		requests:      make(map[string]domain.CrossDomainRequest),
	}
}

// FindByPair returns the most recent unresolved or approved request for a
// pair. Rejected requests are never returned: a rejection leaves no retry
// state behind.
func (r *RequestStore) FindByPair(ctx context.Context, sourceDomain, targetDomain string) (*domain.CrossDomainRequest, error) {
	if err := r.fire("FindByPair"); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.CrossDomainRequest
	for id := range r.requests {
		req := r.requests[id]
		if req.SourceDomain != sourceDomain || req.TargetDomain != targetDomain {
			continue
		}
		if req.Status == domain.RequestRejected {
			continue
		}
		if best == nil || req.CreatedAt.After(best.CreatedAt) {
			copied := req
			best = &copied
		}
	}
	return best, nil
}

// Save upserts a request by id.
func (r *RequestStore) Save(ctx context.Context, request domain.CrossDomainRequest) error {
	if err := r.fire("Save"); err != nil {
		return err
	}
	if request.ID == "" {
		return appErrors.NewValidation("request id cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.requests[request.ID] = request
	return nil
}

// Resolve transitions a pending request to approved or rejected. Resolution
// is final: resolving an already-resolved request is a conflict.
func (r *RequestStore) Resolve(ctx context.Context, id string, status domain.RequestStatus, resolvedAt time.Time) error {
	if err := r.fire("Resolve"); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return appErrors.NewNotFound("request not found: " + id)
	}
	if req.Status != domain.RequestPending {
		return appErrors.NewConflict("request already resolved: " + id)
	}
	req.Status = status
	req.ResolvedAt = &resolvedAt
	r.requests[id] = req
	return nil
}
