package gateway

import (
	"context"
	"testing"
	"time"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/infrastructure/cache"
	memoryStore "mnemo-backend/internal/infrastructure/persistence/memory"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"
	"mnemo-backend/internal/service/consolidation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gatewayFixture struct {
	gateway  *Gateway
	episodic *memoryStore.EpisodicStore
	semantic *memoryStore.SemanticStore
}

func newGatewayFixture(t *testing.T, mutate func(*Config)) *gatewayFixture {
	t.Helper()

	episodic := memoryStore.NewEpisodicStore()
	semantic := memoryStore.NewSemanticStore()
	ledger := memoryStore.NewAccessLedger()
	requests := memoryStore.NewRequestStore()
	controller := access.NewController(ledger, requests, nil, access.DefaultConfig(), nil)

	engineConfig := consolidation.DefaultConfig([]string{"personal", "professional"})
	engineConfig.Interval = time.Hour
	engine := consolidation.NewEngine(episodic, semantic, controller, nil, nil, engineConfig, nil)

	config := DefaultConfig([]string{"personal", "professional"})
	config.Retry = repository.RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0,
	}
	if mutate != nil {
		mutate(&config)
	}

	gw := New(episodic, semantic, engine, controller, nil, nil, config, nil)
	return &gatewayFixture{gateway: gw, episodic: episodic, semantic: semantic}
}

func newTestCache(t *testing.T) *cache.MemoryCache {
	t.Helper()
	return cache.NewMemoryCache(100, 1<<20, nil)
}

func TestStoreValidation(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  StoreRequest
	}{
		{"empty content", StoreRequest{Kind: domain.KindEpisodic, Domain: "personal", Importance: 0.5}},
		{"unknown kind", StoreRequest{Content: "x y z", Kind: "working", Domain: "personal", Importance: 0.5}},
		{"unregistered domain", StoreRequest{Content: "x y z", Kind: domain.KindEpisodic, Domain: "finance", Importance: 0.5}},
		{"importance above one", StoreRequest{Content: "x y z", Kind: domain.KindEpisodic, Domain: "personal", Importance: 1.5}},
		{"importance below zero", StoreRequest{Content: "x y z", Kind: domain.KindEpisodic, Domain: "personal", Importance: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.gateway.Store(ctx, tt.req)
			assert.True(t, appErrors.IsValidation(err))
		})
	}

	assert.Zero(t, f.episodic.Len(), "rejected requests write nothing")
}

func TestStoreRetriesTransientFailures(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	f.episodic.FailTimes("Put", 2, appErrors.NewService("throttled", nil))

	id, err := f.gateway.Store(ctx, StoreRequest{
		Content:    "meeting notes for tuesday",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.episodic.Len(), "two transient failures then success stores exactly one entry")
}

func TestStoreGivesUpAfterMaxAttempts(t *testing.T) {
	f := newGatewayFixture(t, func(c *Config) {
		// Keep the breaker out of the way so the retry budget is what fails.
		c.Breaker.FailureThreshold = 100
	})
	ctx := context.Background()

	f.episodic.SetError("Put", appErrors.NewService("still throttled", nil))

	_, err := f.gateway.Store(ctx, StoreRequest{
		Content:    "meeting notes for tuesday",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsService(err), "the final error keeps its classification")
	assert.Zero(t, f.episodic.Len())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	f := newGatewayFixture(t, func(c *Config) {
		c.Breaker.FailureThreshold = 2
	})
	ctx := context.Background()

	f.episodic.SetError("Put", appErrors.NewService("backend down", nil))

	_, err := f.gateway.Store(ctx, StoreRequest{
		Content:    "first attempt content",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsUnavailable(err),
		"once the circuit opens mid-retry the caller sees unavailable, not the raw fault")

	// Subsequent calls are rejected without touching the backend.
	f.episodic.ClearFaults()
	_, err = f.gateway.Store(ctx, StoreRequest{
		Content:    "second attempt content",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	assert.True(t, appErrors.IsUnavailable(err))
	assert.Zero(t, f.episodic.Len())
}

func TestRecursionBound(t *testing.T) {
	f := newGatewayFixture(t, nil)

	ctx := context.Background()
	var err error
	ctx, err = enter(ctx)
	require.NoError(t, err)
	ctx, err = enter(ctx)
	require.NoError(t, err)

	// A third level of gateway re-entry fails before any write happens.
	_, err = f.gateway.Store(ctx, StoreRequest{
		Content:    "recursive side effect",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	assert.True(t, appErrors.IsRecursion(err))
	assert.Zero(t, f.episodic.Len(), "the bound trips before any partial write")

	_, err = f.gateway.RequestConsolidation(ctx, consolidation.TriggerManual)
	assert.True(t, appErrors.IsRecursion(err))
}

func TestRescoreSupersedes(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	original, err := f.gateway.Store(ctx, StoreRequest{
		Content:    "architecture decision record",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.3,
	})
	require.NoError(t, err)

	successor, err := f.gateway.Rescore(ctx, original, 0.9)
	require.NoError(t, err)
	require.NotEqual(t, original, successor)

	stored, err := f.episodic.FindByID(ctx, successor)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, original, stored.Supersedes)
	assert.InDelta(t, 0.9, stored.Importance, 1e-9)

	kept, err := f.episodic.FindByID(ctx, original)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.InDelta(t, 0.3, kept.Importance, 1e-9, "the original entry never mutates")

	t.Run("unknown entry", func(t *testing.T) {
		_, err := f.gateway.Rescore(ctx, "no-such-entry", 0.5)
		assert.True(t, appErrors.IsNotFound(err))
	})

	t.Run("invalid importance", func(t *testing.T) {
		_, err := f.gateway.Rescore(ctx, original, 1.2)
		assert.True(t, appErrors.IsValidation(err))
	})
}

func TestSearchNeverTriggersConsolidation(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.gateway.Store(ctx, StoreRequest{
			Content:    "sprint planning backlog grooming",
			Kind:       domain.KindEpisodic,
			Domain:     "personal",
			Importance: 0.9,
		})
		require.NoError(t, err)
	}

	for i := 0; i < 10; i++ {
		_, err := f.gateway.Search(ctx, "personal", "sprint planning", 0)
		require.NoError(t, err)
	}

	count, err := f.episodic.CountUnconsolidated(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 5, count, "reads leave the backlog alone however large it grows")
}

func TestSearchServedFromCache(t *testing.T) {
	episodic := memoryStore.NewEpisodicStore()
	semantic := memoryStore.NewSemanticStore()
	ledger := memoryStore.NewAccessLedger()
	requests := memoryStore.NewRequestStore()
	controller := access.NewController(ledger, requests, nil, access.DefaultConfig(), nil)
	engine := consolidation.NewEngine(episodic, semantic, controller, nil, nil,
		consolidation.DefaultConfig([]string{"personal"}), nil)

	readCache := newTestCache(t)
	gw := New(episodic, semantic, engine, controller, readCache, nil, DefaultConfig([]string{"personal"}), nil)
	ctx := context.Background()

	_, err := gw.Store(ctx, StoreRequest{
		Content:    "redis cache eviction tuning",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.NoError(t, err)

	first, err := gw.Search(ctx, "personal", "redis cache", 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// With the backend failing, only the cache can answer.
	episodic.SetError("Search", appErrors.NewService("backend down", nil))
	second, err := gw.Search(ctx, "personal", "redis cache", 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// A write invalidates the domain's cached results.
	episodic.ClearFaults()
	_, err = gw.Store(ctx, StoreRequest{
		Content:    "redis cache cluster failover",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.NoError(t, err)

	third, err := gw.Search(ctx, "personal", "redis cache", 0)
	require.NoError(t, err)
	assert.Len(t, third, 2)
}

func TestValidateCrossDomainRegistryCheck(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	_, err := f.gateway.ValidateCrossDomain(ctx, "personal", "finance")
	assert.True(t, appErrors.IsValidation(err))

	decision, err := f.gateway.ValidateCrossDomain(ctx, "personal", "professional")
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionPendingManual, decision)
}

func TestRequestConsolidationThroughGateway(t *testing.T) {
	f := newGatewayFixture(t, nil)
	ctx := context.Background()

	_, err := f.gateway.Store(ctx, StoreRequest{
		Content:    "terraform state drift detection",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.4,
	})
	require.NoError(t, err)

	report, err := f.gateway.RequestConsolidation(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, consolidation.TriggerManual, report.Trigger, "an empty trigger runs as manual")
	assert.Equal(t, 1, report.Promoted)

	facts, err := f.gateway.QueryFacts(ctx, "personal", repository.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, facts, 1)

	t.Run("explicit trigger is attributed", func(t *testing.T) {
		report, err := f.gateway.RequestConsolidation(ctx, consolidation.TriggerVolumeBased)
		require.NoError(t, err)
		assert.Equal(t, consolidation.TriggerVolumeBased, report.Trigger)
	})

	t.Run("unknown trigger is rejected", func(t *testing.T) {
		_, err := f.gateway.RequestConsolidation(ctx, consolidation.Trigger("cosmic"))
		assert.True(t, appErrors.IsValidation(err))
	})
}

func TestCheckHealthReportsCircuits(t *testing.T) {
	f := newGatewayFixture(t, nil)

	health := f.gateway.CheckHealth(context.Background())
	assert.Equal(t, "closed", health.EpisodicCircuit)
	assert.Equal(t, "closed", health.SemanticCircuit)
	assert.Zero(t, health.Backlog)
}
