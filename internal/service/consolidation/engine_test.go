package consolidation

import (
	"context"
	"testing"
	"time"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
	memoryStore "mnemo-backend/internal/infrastructure/persistence/memory"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine   *Engine
	episodic *memoryStore.EpisodicStore
	semantic *memoryStore.SemanticStore
	ledger   *memoryStore.AccessLedger
	requests *memoryStore.RequestStore
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()

	episodic := memoryStore.NewEpisodicStore()
	semantic := memoryStore.NewSemanticStore()
	ledger := memoryStore.NewAccessLedger()
	requests := memoryStore.NewRequestStore()
	controller := access.NewController(ledger, requests, nil, access.DefaultConfig(), nil)

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

	return &engineFixture{
		engine:   NewEngine(episodic, semantic, controller, nil, nil, config, nil),
		episodic: episodic,
		semantic: semantic,
		ledger:   ledger,
		requests: requests,
	}
}

func (f *engineFixture) putEntry(t *testing.T, content, domainLabel string, importance float64) domain.MemoryEntry {
	t.Helper()
	entry := domain.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    content,
		Kind:       domain.KindEpisodic,
		Domain:     domainLabel,
		Importance: importance,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, f.episodic.Put(context.Background(), entry))
	return entry
}

func TestConsolidateGroupsSimilarEntries(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.putEntry(t, "kubernetes cluster deployment failed", "personal", 0.5)
	f.putEntry(t, "kubernetes deployment rollout cluster", "personal", 0.5)
	f.putEntry(t, "cluster kubernetes deployment notes", "personal", 0.5)

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 3, report.EntriesExamined)
	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 3, report.Consolidated)
	assert.Zero(t, report.Failed)

	facts, err := f.semantic.Query(ctx, "personal", repository.FactFilter{})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, domain.FactConcept, facts[0].Kind)
	assert.Len(t, facts[0].SourceEntryIDs, 3, "every fact carries full provenance")

	count, err := f.episodic.CountUnconsolidated(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConsolidateTwiceProducesNoDuplicates(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.putEntry(t, "quarterly budget planning spreadsheet", "personal", 0.5)
	f.putEntry(t, "budget planning quarterly review", "personal", 0.5)

	first, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, first.Promoted)

	second, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, second.EntriesExamined)
	assert.Zero(t, second.Promoted)

	facts, err := f.semantic.Query(ctx, "personal", repository.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestConsolidateRetriesTransientFailures(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.putEntry(t, "database migration schema change", "personal", 0.5)

	f.semantic.FailTimes("UpsertFact", 2, appErrors.NewService("throttled", nil))

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted, "two transient failures then success promotes exactly once")
	assert.Zero(t, report.Failed)

	facts, err := f.semantic.Query(ctx, "personal", repository.FactFilter{})
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}

func TestConsolidateRollsBackFactWhenMarkFails(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.putEntry(t, "incident retrospective action items", "personal", 0.5)

	f.episodic.SetError("MarkConsolidated", appErrors.NewService("table offline", nil))

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Promoted)

	// The fact written before the mark failure must be compensated away so
	// the group retries whole on the next run.
	facts, err := f.semantic.Query(ctx, "personal", repository.FactFilter{})
	require.NoError(t, err)
	assert.Empty(t, facts)

	f.episodic.ClearFaults()
	count, err := f.episodic.CountUnconsolidated(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "sources stay unconsolidated after a failed promotion")
}

func TestConsolidateDefersCrossDomainGroups(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	// Content referencing another registered domain promotes into that
	// domain, which needs authorization. A pair with no history lands in the
	// manual review band.
	f.putEntry(t, "professional conference travel booking", "personal", 0.5)

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deferred)
	assert.Zero(t, report.Promoted)

	request, err := f.requests.FindByPair(ctx, "personal", "professional")
	require.NoError(t, err)
	require.NotNil(t, request)
	assert.Equal(t, domain.RequestPending, request.Status)

	count, err := f.episodic.CountUnconsolidated(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "deferred entries wait for the next run")
}

func TestConsolidatePromotesApprovedCrossDomainGroups(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	// A strong approval history lets the crossing through automatically.
	require.NoError(t, f.ledger.Record(ctx, domain.AccessPattern{
		SourceDomain: "personal",
		TargetDomain: "professional",
		Frequency:    50,
		SuccessRate:  1.0,
		LastAccess:   time.Now(),
	}))

	f.putEntry(t, "professional conference travel booking", "personal", 0.5)

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Promoted)

	facts, err := f.semantic.Query(ctx, "professional", repository.FactFilter{})
	require.NoError(t, err)
	require.Len(t, facts, 1, "the fact lands in the referenced domain")
}

func TestRelationshipEdgeFailureLeavesNoPartialState(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	// Two groups that overlap on one keyword but are not similar enough to
	// merge. Both promote; linking them requires a bidirectional edge pair.
	f.putEntry(t, "alpha beta gamma delta", "personal", 0.5)
	f.putEntry(t, "alpha epsilon zeta eta", "personal", 0.5)

	f.semantic.SetError("AddRelationshipReverse", appErrors.NewService("edge write failed", nil))

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Groups)
	assert.Equal(t, 2, report.Promoted, "concept facts survive a relationship failure")
	assert.Equal(t, 1, report.Failed)

	assert.Zero(t, f.semantic.EdgeCount(), "a failed edge pair leaves zero edges, never one")

	facts, err := f.semantic.Query(ctx, "personal", repository.FactFilter{Kind: domain.FactRelationship})
	require.NoError(t, err)
	assert.Empty(t, facts, "the relationship fact is rolled back with its edges")
}

func TestRelationshipLinksOverlappingGroups(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.putEntry(t, "alpha beta gamma delta", "personal", 0.5)
	f.putEntry(t, "alpha epsilon zeta eta", "personal", 0.5)

	report, err := f.engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Promoted, "two concepts plus one relationship")

	assert.Equal(t, 2, f.semantic.EdgeCount(), "bidirectional link writes both directed edges")
}

func TestShouldRunTriggers(t *testing.T) {
	ctx := context.Background()

	t.Run("volume", func(t *testing.T) {
		f := newEngineFixture(t, func(c *Config) {
			c.Interval = time.Hour
			c.VolumeThreshold = 2
		})
		f.putEntry(t, "first note about something", "personal", 0.1)

		_, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.False(t, fire)

		f.putEntry(t, "second note about something else", "personal", 0.1)

		trigger, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.True(t, fire)
		assert.Equal(t, TriggerVolumeBased, trigger)
	})

	t.Run("importance", func(t *testing.T) {
		f := newEngineFixture(t, func(c *Config) {
			c.Interval = time.Hour
			c.VolumeThreshold = 100
		})
		f.putEntry(t, "routine low importance note", "personal", 0.1)

		_, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.False(t, fire)

		f.putEntry(t, "critical production outage root cause", "personal", 0.9)

		trigger, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.True(t, fire)
		assert.Equal(t, TriggerImportanceBased, trigger)
	})

	t.Run("time", func(t *testing.T) {
		f := newEngineFixture(t, func(c *Config) {
			c.Interval = time.Nanosecond
		})
		time.Sleep(time.Millisecond)

		trigger, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.True(t, fire)
		assert.Equal(t, TriggerTimeBased, trigger)
	})
}

// deadlineSemantic refuses writes once the context is done, the way a real
// network-backed store would.
type deadlineSemantic struct {
	*memoryStore.SemanticStore
}

func (s *deadlineSemantic) RemoveFact(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return appErrors.NewService("remove aborted", err)
	}
	return s.SemanticStore.RemoveFact(ctx, id)
}

// cancelOnMarkEpisodic cancels the run context during MarkConsolidated and
// fails, simulating a deadline firing between fact write and source mark.
type cancelOnMarkEpisodic struct {
	*memoryStore.EpisodicStore
	cancel context.CancelFunc
}

func (s *cancelOnMarkEpisodic) MarkConsolidated(ctx context.Context, ids []string) error {
	s.cancel()
	return appErrors.NewService("mark aborted", context.Canceled)
}

func TestCancellationDuringMarkStillRollsBackFact(t *testing.T) {
	episodic := memoryStore.NewEpisodicStore()
	semantic := &deadlineSemantic{SemanticStore: memoryStore.NewSemanticStore()}
	ledger := memoryStore.NewAccessLedger()
	requests := memoryStore.NewRequestStore()
	controller := access.NewController(ledger, requests, nil, access.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	config := DefaultConfig([]string{"personal"})
	config.Retry = repository.RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0,
	}
	engine := NewEngine(
		&cancelOnMarkEpisodic{EpisodicStore: episodic, cancel: cancel},
		semantic,
		controller,
		nil, nil, config, nil,
	)

	require.NoError(t, episodic.Put(context.Background(), domain.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    "alpha beta gamma",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.5,
		CreatedAt:  time.Now(),
	}))

	report, err := engine.Consolidate(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Promoted)

	// The rollback must go through even though the run context is dead;
	// otherwise the fact survives with its sources still unconsolidated.
	facts, err := semantic.Query(context.Background(), "personal", repository.FactFilter{})
	require.NoError(t, err)
	assert.Empty(t, facts, "no fact without its sources marked")

	count, err := episodic.CountUnconsolidated(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestApplyTunablesTakesEffect(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) {
		c.Interval = time.Hour
		c.VolumeThreshold = 100
	})
	ctx := context.Background()

	f.putEntry(t, "first note about planning", "personal", 0.1)
	f.putEntry(t, "second note about planning", "personal", 0.1)
	f.putEntry(t, "third note about planning", "personal", 0.1)

	_, fire, err := f.engine.ShouldRun(ctx)
	require.NoError(t, err)
	require.False(t, fire)

	f.engine.ApplyTunables(0, 3, 0, 0)

	trigger, fire, err := f.engine.ShouldRun(ctx)
	require.NoError(t, err)
	assert.True(t, fire, "the lowered threshold applies without a restart")
	assert.Equal(t, TriggerVolumeBased, trigger)

	t.Run("zero values leave settings untouched", func(t *testing.T) {
		f.engine.ApplyTunables(0, 0, 0, 0)

		trigger, fire, err := f.engine.ShouldRun(ctx)
		require.NoError(t, err)
		assert.True(t, fire)
		assert.Equal(t, TriggerVolumeBased, trigger)
	})
}

func TestConsolidateRejectsUnknownTrigger(t *testing.T) {
	f := newEngineFixture(t, nil)

	_, err := f.engine.Consolidate(context.Background(), Trigger("cosmic"))
	assert.True(t, appErrors.IsValidation(err))
}

func TestWorkerDrainsBacklogOnVolumeTrigger(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) {
		c.Interval = time.Hour
		c.VolumeThreshold = 10
	})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		f.putEntry(t, "recurring standup notes meeting agenda", "personal", 0.1)
	}

	worker := NewWorker(f.engine, domain.DefaultRetentionPolicy(), 10*time.Millisecond, time.Hour, nil)
	worker.Start(ctx)
	defer worker.Stop()

	require.Eventually(t, func() bool {
		count, err := f.episodic.CountUnconsolidated(ctx, "")
		return err == nil && count == 0
	}, 2*time.Second, 10*time.Millisecond, "the worker consolidates once the backlog passes the threshold")
}

func TestPurgeExpiredAppliesRetentionPolicy(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	policy := domain.DefaultRetentionPolicy()
	now := time.Now()

	stale := domain.MemoryEntry{
		ID:           uuid.New().String(),
		Content:      "old consolidated note",
		Kind:         domain.KindEpisodic,
		Domain:       "personal",
		Importance:   0.3,
		CreatedAt:    now.Add(-8 * 24 * time.Hour),
		Consolidated: true,
	}
	important := domain.MemoryEntry{
		ID:           uuid.New().String(),
		Content:      "important decision record",
		Kind:         domain.KindEpisodic,
		Domain:       "personal",
		Importance:   0.9,
		CreatedAt:    now.Add(-10 * 24 * time.Hour),
		Consolidated: true,
	}
	fresh := domain.MemoryEntry{
		ID:         uuid.New().String(),
		Content:    "note from this morning",
		Kind:       domain.KindEpisodic,
		Domain:     "personal",
		Importance: 0.3,
		CreatedAt:  now.Add(-time.Hour),
	}
	for _, e := range []domain.MemoryEntry{stale, important, fresh} {
		require.NoError(t, f.episodic.Put(ctx, e))
	}

	purged, err := f.engine.PurgeExpired(ctx, policy)
	require.NoError(t, err)
	assert.Equal(t, 1, purged, "only the stale consolidated entry goes; importance extends retention")
	assert.Equal(t, 2, f.episodic.Len())
}
