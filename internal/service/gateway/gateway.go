// Package gateway is the single entry point other subsystems use to reach the
// memory stores. It validates input, bounds re-entrant call depth, shields the
// backends with retries and circuit breakers, and serves repeated reads from a
// bounded cache.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/infrastructure/cache"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"
	"mnemo-backend/internal/service/consolidation"
	"mnemo-backend/pkg/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Config tunes the gateway.
type Config struct {
	// Domains lists the registered domain labels. Operations naming any other
	// label fail validation.
	Domains []string
	// Retry governs backend calls that fail with transient errors.
	Retry repository.RetryConfig
	// Breaker governs the per-backend circuit breakers.
	Breaker BreakerConfig
	// SearchCacheTTL bounds how stale a cached search result may be.
	SearchCacheTTL time.Duration
	// SearchLimit caps results per search when the caller does not.
	SearchLimit int
}

// DefaultConfig returns the gateway defaults for the given domain registry.
func DefaultConfig(domains []string) Config {
	return Config{
		Domains:        domains,
		Retry:          repository.DefaultRetryConfig(),
		Breaker:        DefaultBreakerConfig(),
		SearchCacheTTL: 30 * time.Second,
		SearchLimit:    20,
	}
}

// StoreRequest carries the caller-supplied fields of a new memory entry.
type StoreRequest struct {
	Content    string           `json:"content"`
	Kind       domain.EntryKind `json:"kind"`
	Domain     string           `json:"domain"`
	Importance float64          `json:"importance"`
}

// Health describes the gateway's view of its backends.
type Health struct {
	EpisodicCircuit string `json:"episodicCircuit"`
	SemanticCircuit string `json:"semanticCircuit"`
	Backlog         int    `json:"backlog"`
}

// Gateway mediates all access to the episodic and semantic stores.
type Gateway struct {
	episodic   repository.EpisodicRepository
	semantic   repository.SemanticRepository
	engine     *consolidation.Engine
	controller *access.Controller
	cache      *cache.MemoryCache
	metrics    *observability.Collector
	logger     *zap.Logger
	config     Config

	episodicCB *backendBreaker
	semanticCB *backendBreaker
}

// New creates a memory gateway.
func New(
	episodic repository.EpisodicRepository,
	semantic repository.SemanticRepository,
	engine *consolidation.Engine,
	controller *access.Controller,
	readCache *cache.MemoryCache,
	metrics *observability.Collector,
	config Config,
	logger *zap.Logger,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		episodic:   episodic,
		semantic:   semantic,
		engine:     engine,
		controller: controller,
		cache:      readCache,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		episodicCB: newBackendBreaker("episodic", config.Breaker, metrics, logger),
		semanticCB: newBackendBreaker("semantic", config.Breaker, metrics, logger),
	}
}

// Store validates and writes a new memory entry, returning its id. The write
// retries transient faults; a persistent backend failure surfaces as-is so
// the caller knows nothing was stored.
func (g *Gateway) Store(ctx context.Context, req StoreRequest) (string, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return "", err
	}
	done := g.observe("store")

	entry := domain.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    req.Content,
		Kind:       req.Kind,
		Domain:     req.Domain,
		Importance: req.Importance,
		CreatedAt:  time.Now(),
	}
	if err := entry.Validate(); err != nil {
		return "", done(err)
	}
	if err := g.checkDomain(req.Domain); err != nil {
		return "", done(err)
	}

	err = g.callEpisodic(ctx, func() error {
		return g.episodic.Put(ctx, entry)
	})
	if err != nil {
		return "", done(appErrors.Wrap(err, "failed to store memory entry"))
	}

	g.invalidateSearches(ctx, entry.Domain)
	if g.metrics != nil {
		g.metrics.EntriesStored.WithLabelValues(entry.Domain).Inc()
	}
	return entry.ID, done(nil)
}

// Rescore records a new importance for an existing entry by writing a
// superseding entry. The original is never mutated.
func (g *Gateway) Rescore(ctx context.Context, entryID string, importance float64) (string, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return "", err
	}
	done := g.observe("rescore")

	if importance < 0.0 || importance > 1.0 {
		return "", done(appErrors.NewValidationf("importance %.4f outside [0.0, 1.0]", importance))
	}

	var original *domain.MemoryEntry
	err = g.callEpisodic(ctx, func() error {
		var findErr error
		original, findErr = g.episodic.FindByID(ctx, entryID)
		return findErr
	})
	if err != nil {
		return "", done(err)
	}
	if original == nil {
		return "", done(appErrors.NewNotFound(fmt.Sprintf("entry %s not found", entryID)))
	}

	successor := domain.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    original.Content,
		Kind:       original.Kind,
		Domain:     original.Domain,
		Importance: importance,
		CreatedAt:  time.Now(),
		Supersedes: original.ID,
	}

	err = g.callEpisodic(ctx, func() error {
		return g.episodic.Put(ctx, successor)
	})
	if err != nil {
		return "", done(appErrors.Wrap(err, "failed to store re-scored entry"))
	}

	g.invalidateSearches(ctx, successor.Domain)
	return successor.ID, done(nil)
}

// Search returns episodic entries from one domain ranked by relevance to the
// query. Search never triggers consolidation, whatever the backlog looks
// like. Results are served from the read cache when fresh.
func (g *Gateway) Search(ctx context.Context, domainLabel, query string, limit int) ([]domain.MemoryEntry, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	done := g.observe("search")

	if err := g.checkDomain(domainLabel); err != nil {
		return nil, done(err)
	}
	if limit <= 0 {
		limit = g.config.SearchLimit
	}

	key := searchCacheKey(domainLabel, query, limit)
	if g.cache != nil {
		if raw, ok := g.cache.Get(ctx, key); ok {
			var entries []domain.MemoryEntry
			if err := json.Unmarshal(raw, &entries); err == nil {
				if g.metrics != nil {
					g.metrics.CacheHits.Inc()
				}
				return entries, done(nil)
			}
		}
		if g.metrics != nil {
			g.metrics.CacheMisses.Inc()
		}
	}

	tracer := otel.Tracer("gateway")
	ctx, span := tracer.Start(ctx, "gateway.search")
	span.SetAttributes(attribute.String("domain", domainLabel))
	defer span.End()

	var entries []domain.MemoryEntry
	err = g.callEpisodic(ctx, func() error {
		var searchErr error
		entries, searchErr = g.episodic.Search(ctx, repository.EntryQuery{
			Domain:   domainLabel,
			Keywords: strings.Fields(strings.ToLower(query)),
			Limit:    limit,
		})
		return searchErr
	})
	if err != nil {
		return nil, done(appErrors.Wrap(err, "search failed"))
	}

	if g.cache != nil {
		if raw, err := json.Marshal(entries); err == nil {
			g.cache.Set(ctx, key, raw, g.config.SearchCacheTTL)
		}
	}
	return entries, done(nil)
}

// QueryFacts returns consolidated facts from the semantic store.
func (g *Gateway) QueryFacts(ctx context.Context, domainLabel string, filter repository.FactFilter) ([]domain.ConsolidatedFact, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	done := g.observe("query_facts")

	if err := g.checkDomain(domainLabel); err != nil {
		return nil, done(err)
	}

	var facts []domain.ConsolidatedFact
	err = g.callSemantic(ctx, func() error {
		var queryErr error
		facts, queryErr = g.semantic.Query(ctx, domainLabel, filter)
		return queryErr
	})
	if err != nil {
		return nil, done(appErrors.Wrap(err, "fact query failed"))
	}
	return facts, done(nil)
}

// FactHistory returns all versions of a fact, newest first.
func (g *Gateway) FactHistory(ctx context.Context, factID string) ([]domain.ConsolidatedFact, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	done := g.observe("fact_history")

	var versions []domain.ConsolidatedFact
	err = g.callSemantic(ctx, func() error {
		var histErr error
		versions, histErr = g.semantic.History(ctx, factID)
		return histErr
	})
	if err != nil {
		return nil, done(err)
	}
	return versions, done(nil)
}

// RequestConsolidation runs a consolidation pass and returns its report.
// An empty trigger defaults to manual; callers that fire on behalf of an
// automatic trigger pass it through so the run is attributed correctly.
// The depth-bounded context flows into the engine so a consolidation
// side-effect that re-enters the gateway counts against the bound.
func (g *Gateway) RequestConsolidation(ctx context.Context, trigger consolidation.Trigger) (consolidation.Report, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return consolidation.Report{}, err
	}
	done := g.observe("consolidate")

	if trigger == "" {
		trigger = consolidation.TriggerManual
	}
	report, err := g.engine.Consolidate(ctx, trigger)
	if err != nil {
		return report, done(err)
	}

	// Promotion changes which entries are unconsolidated; cached searches for
	// every domain may now be stale.
	for _, label := range g.config.Domains {
		g.invalidateSearches(ctx, label)
	}
	return report, done(nil)
}

// ValidateCrossDomain authorizes a proposed crossing between two registered
// domains.
func (g *Gateway) ValidateCrossDomain(ctx context.Context, sourceDomain, targetDomain string) (domain.Decision, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return "", err
	}
	done := g.observe("validate_access")

	if err := g.checkDomain(sourceDomain); err != nil {
		return "", done(err)
	}
	if err := g.checkDomain(targetDomain); err != nil {
		return "", done(err)
	}

	decision, err := g.controller.Validate(ctx, sourceDomain, targetDomain)
	if err != nil {
		return "", done(err)
	}
	if g.metrics != nil {
		g.metrics.AccessDecisions.WithLabelValues(string(decision)).Inc()
	}
	return decision, done(nil)
}

// GetAccessHistory returns the ledger row for a domain pair.
func (g *Gateway) GetAccessHistory(ctx context.Context, sourceDomain, targetDomain string) (*domain.AccessPattern, error) {
	ctx, err := enter(ctx)
	if err != nil {
		return nil, err
	}
	done := g.observe("access_history")

	pattern, err := g.controller.History(ctx, sourceDomain, targetDomain)
	return pattern, done(err)
}

// ResolveAccessRequest applies a manual decision to a pending cross-domain
// request.
func (g *Gateway) ResolveAccessRequest(ctx context.Context, requestID string, approve bool) error {
	ctx, err := enter(ctx)
	if err != nil {
		return err
	}
	done := g.observe("resolve_request")
	return done(g.controller.ResolveRequest(ctx, requestID, approve))
}

// CheckHealth reports circuit states and the unconsolidated backlog.
func (g *Gateway) CheckHealth(ctx context.Context) Health {
	backlog, err := g.episodic.CountUnconsolidated(ctx, "")
	if err != nil {
		backlog = -1
	}
	return Health{
		EpisodicCircuit: g.episodicCB.state(),
		SemanticCircuit: g.semanticCB.state(),
		Backlog:         backlog,
	}
}

// callEpisodic runs fn against the episodic store through the retry layer and
// circuit breaker. The breaker sits inside the retry loop so a retried
// attempt is a fresh breaker decision; an open circuit yields an unavailable
// error that stops the loop immediately.
func (g *Gateway) callEpisodic(ctx context.Context, fn func() error) error {
	return g.call(ctx, g.episodicCB, fn)
}

func (g *Gateway) callSemantic(ctx context.Context, fn func() error) error {
	return g.call(ctx, g.semanticCB, fn)
}

func (g *Gateway) call(ctx context.Context, breaker *backendBreaker, fn func() error) error {
	attempt := 0
	return repository.RetryWithBackoff(ctx, g.config.Retry, func() error {
		attempt++
		if attempt > 1 && g.metrics != nil {
			g.metrics.GatewayRetries.Inc()
		}
		return breaker.execute(fn)
	})
}

// observe starts timing an operation and returns a closure that records its
// outcome. Usage: done := g.observe("store"); ... return done(err).
func (g *Gateway) observe(operation string) func(error) error {
	started := time.Now()
	return func(err error) error {
		if g.metrics == nil {
			return err
		}
		status := "ok"
		if err != nil {
			status = string(appErrors.TypeOf(err))
		}
		g.metrics.GatewayRequests.WithLabelValues(operation, status).Inc()
		g.metrics.GatewayDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		return err
	}
}

// checkDomain rejects labels outside the configured registry.
func (g *Gateway) checkDomain(label string) error {
	for _, d := range g.config.Domains {
		if d == label {
			return nil
		}
	}
	return appErrors.NewValidationf("unregistered domain %q", label)
}

// invalidateSearches drops cached search results for a domain after a write.
func (g *Gateway) invalidateSearches(ctx context.Context, domainLabel string) {
	if g.cache == nil {
		return
	}
	g.cache.InvalidatePrefix(ctx, "search:"+domainLabel+":")
}

func searchCacheKey(domainLabel, query string, limit int) string {
	return "search:" + domainLabel + ":" + query + ":" + strconv.Itoa(limit)
}
