package consolidation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/domain/services"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/infrastructure/messaging"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"
	"mnemo-backend/pkg/observability"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// factNamespace seeds deterministic fact ids so a group consolidating under
// the same (domain, kind, contextKey) across runs supersedes the same
// logical fact instead of creating a new one.
var factNamespace = uuid.MustParse("9f2c1b7e-5a44-4d08-92b1-3e8f6f6c2d11")

// Config tunes the consolidation engine.
type Config struct {
	// Interval is the time-based trigger period.
	Interval time.Duration
	// VolumeThreshold is the unconsolidated backlog size that fires a run.
	VolumeThreshold int
	// ImportanceFloor is the entry importance that fires an immediate run.
	ImportanceFloor float64
	// GroupingThreshold is the minimum keyword similarity for an entry to
	// join an existing group.
	GroupingThreshold float64
	// Domains lists the registered domain labels, used to detect content
	// that references a foreign domain.
	Domains []string
	// Retry governs semantic-store writes during promotion.
	Retry repository.RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig(domains []string) Config {
	return Config{
		Interval:          15 * time.Minute,
		VolumeThreshold:   50,
		ImportanceFloor:   0.8,
		GroupingThreshold: 0.25,
		Domains:           domains,
		Retry:             repository.DefaultRetryConfig(),
	}
}

// Engine reconciles episodic entries into semantic facts. Runs are
// serialized by a global mutex so "mark consolidated" and "promote to
// semantic" behave as one logical transaction per group.
type Engine struct {
	episodic   repository.EpisodicRepository
	semantic   repository.SemanticRepository
	controller *access.Controller
	publisher  messaging.Publisher
	metrics    *observability.Collector
	logger     *zap.Logger
	similarity *services.SimilarityCalculator
	config     Config

	runMu   sync.Mutex
	stateMu sync.Mutex
	lastRun time.Time
}

// NewEngine creates a consolidation engine.
func NewEngine(
	episodic repository.EpisodicRepository,
	semantic repository.SemanticRepository,
	controller *access.Controller,
	publisher messaging.Publisher,
	metrics *observability.Collector,
	config Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Engine{
		episodic:   episodic,
		semantic:   semantic,
		controller: controller,
		publisher:  publisher,
		metrics:    metrics,
		logger:     logger,
		similarity: services.NewSimilarityCalculator(nil),
		config:     config,
		lastRun:    time.Now(),
	}
}

// ApplyTunables re-applies the hot-reloadable settings to a running engine.
// Zero values leave the current setting untouched; Domains and Retry are
// fixed at construction.
func (e *Engine) ApplyTunables(interval time.Duration, volumeThreshold int, importanceFloor, groupingThreshold float64) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if interval > 0 {
		e.config.Interval = interval
	}
	if volumeThreshold > 0 {
		e.config.VolumeThreshold = volumeThreshold
	}
	if importanceFloor > 0 {
		e.config.ImportanceFloor = importanceFloor
	}
	if groupingThreshold > 0 {
		e.config.GroupingThreshold = groupingThreshold
	}

	e.logger.Info("consolidation tunables applied",
		zap.Duration("interval", e.config.Interval),
		zap.Int("volumeThreshold", e.config.VolumeThreshold),
		zap.Float64("importanceFloor", e.config.ImportanceFloor),
		zap.Float64("groupingThreshold", e.config.GroupingThreshold),
	)
}

// tunables snapshots the hot-reloadable settings.
func (e *Engine) tunables() Config {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.config
}

// ShouldRun evaluates the automatic triggers in order: interval elapsed,
// backlog volume, entry importance. Returns the first trigger that fires.
func (e *Engine) ShouldRun(ctx context.Context) (Trigger, bool, error) {
	e.stateMu.Lock()
	last := e.lastRun
	e.stateMu.Unlock()
	cfg := e.tunables()

	if time.Since(last) >= cfg.Interval {
		return TriggerTimeBased, true, nil
	}

	count, err := e.episodic.CountUnconsolidated(ctx, "")
	if err != nil {
		return "", false, appErrors.Wrap(err, "failed to count unconsolidated entries")
	}
	if count >= cfg.VolumeThreshold {
		return TriggerVolumeBased, true, nil
	}

	entries, err := e.episodic.GetUnconsolidated(ctx, "")
	if err != nil {
		return "", false, appErrors.Wrap(err, "failed to scan unconsolidated entries")
	}
	for _, entry := range entries {
		if entry.Importance >= cfg.ImportanceFloor {
			return TriggerImportanceBased, true, nil
		}
	}

	return "", false, nil
}

// Consolidate runs the full pipeline. A failed group is recorded in the
// report and never aborts sibling groups; cancellation between groups leaves
// already-promoted groups committed and the rest untouched.
func (e *Engine) Consolidate(ctx context.Context, trigger Trigger) (Report, error) {
	if !ValidTrigger(trigger) {
		return Report{}, appErrors.NewValidationf("unrecognized trigger %q", trigger)
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	tracer := otel.Tracer("consolidation")
	ctx, span := tracer.Start(ctx, "consolidation.run")
	span.SetAttributes(attribute.String("trigger", string(trigger)))
	defer span.End()

	started := time.Now()
	report := Report{Trigger: trigger, StartedAt: started}

	entries, err := e.episodic.GetUnconsolidated(ctx, "")
	if err != nil {
		return report, appErrors.Wrap(err, "failed to fetch unconsolidated entries")
	}
	report.EntriesExamined = len(entries)

	groups := e.groupEntries(entries)
	report.Groups = len(groups)

	promoted := make(map[string]*domain.ConsolidatedFact, len(groups)) // context key -> promoted fact
	for _, g := range groups {
		select {
		case <-ctx.Done():
			report.Duration = time.Since(started)
			return report, ctx.Err()
		default:
		}
		e.promoteGroup(ctx, g, promoted, &report)
	}

	e.linkGroups(ctx, groups, promoted, &report)

	e.stateMu.Lock()
	e.lastRun = time.Now()
	e.stateMu.Unlock()

	report.Duration = time.Since(started)

	if e.metrics != nil {
		e.metrics.ConsolidationRuns.WithLabelValues(string(trigger)).Inc()
		e.metrics.ConsolidationGroups.Observe(float64(report.Groups))
		e.metrics.FactsPromoted.Add(float64(report.Promoted))
	}

	e.logger.Info("consolidation run finished",
		zap.String("trigger", string(trigger)),
		zap.Int("examined", report.EntriesExamined),
		zap.Int("groups", report.Groups),
		zap.Int("promoted", report.Promoted),
		zap.Int("deferred", report.Deferred),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration),
	)

	if err := e.publisher.Publish(ctx, messaging.Event{
		DetailType: "ConsolidationCompleted",
		Detail:     report,
	}); err != nil {
		e.logger.Warn("failed to publish consolidation event", zap.Error(err))
	}

	return report, nil
}

// PurgeExpired applies the retention policy to the episodic store.
func (e *Engine) PurgeExpired(ctx context.Context, policy domain.RetentionPolicy) (int, error) {
	purged, err := e.episodic.PurgeExpired(ctx, policy, time.Now())
	if err != nil {
		return 0, appErrors.Wrap(err, "failed to purge expired entries")
	}
	if e.metrics != nil && purged > 0 {
		e.metrics.EntriesPurged.Add(float64(purged))
	}
	return purged, nil
}

// conceptPayload is the JSON payload of a concept fact: a durable summary of
// the group plus provenance content, copied here so it survives episodic
// purging.
type conceptPayload struct {
	ContextKey string   `json:"contextKey"`
	EntryCount int      `json:"entryCount"`
	Contents   []string `json:"contents"`
}

// promoteGroup extracts and writes one group's concept fact, then marks the
// sources consolidated. The two steps commit together or not at all: a mark
// failure removes the fact just written so the group retries cleanly on the
// next trigger.
func (e *Engine) promoteGroup(ctx context.Context, g *group, promoted map[string]*domain.ConsolidatedFact, report *Report) {
	targetDomain := g.Domain
	if ref := e.referencedDomain(g); ref != "" {
		targetDomain = ref
	}

	if targetDomain != g.Domain {
		decision, err := e.controller.Validate(ctx, g.Domain, targetDomain)
		if err != nil {
			e.logger.Error("cross-domain validation failed",
				zap.String("source", g.Domain),
				zap.String("target", targetDomain),
				zap.Error(err),
			)
			report.Failed++
			return
		}
		switch decision {
		case domain.DecisionPendingManual:
			report.Deferred++
			return
		case domain.DecisionRejected:
			report.Rejected++
			return
		}
	}

	fact, err := e.buildConceptFact(g, targetDomain)
	if err != nil {
		report.Failed++
		return
	}

	writeErr := repository.RetryWithBackoff(ctx, e.config.Retry, func() error {
		_, err := e.semantic.UpsertFact(ctx, fact)
		return err
	})
	if writeErr != nil {
		e.logger.Error("fact promotion failed",
			zap.String("contextKey", g.ContextKey),
			zap.Error(writeErr),
		)
		report.Failed++
		e.recordCrossDomainOutcome(ctx, g.Domain, targetDomain, false)
		return
	}

	markErr := repository.RetryWithBackoff(ctx, e.config.Retry, func() error {
		return e.episodic.MarkConsolidated(ctx, g.entryIDs())
	})
	if markErr != nil {
		// Roll back the fact so the group is retried whole next run. The
		// rollback runs detached from the run context: a cancellation that
		// killed the mark must not also veto the compensation, or the group
		// is left half promoted.
		if rmErr := e.semantic.RemoveFact(context.WithoutCancel(ctx), fact.ID); rmErr != nil {
			e.logger.Error("rollback of promoted fact failed",
				zap.String("factId", fact.ID),
				zap.Error(rmErr),
			)
		}
		e.logger.Error("marking sources consolidated failed",
			zap.String("contextKey", g.ContextKey),
			zap.Error(markErr),
		)
		report.Failed++
		e.recordCrossDomainOutcome(ctx, g.Domain, targetDomain, false)
		return
	}

	report.Promoted++
	report.Consolidated += len(g.Entries)
	promoted[g.ContextKey] = &fact
	e.recordCrossDomainOutcome(ctx, g.Domain, targetDomain, true)
}

// buildConceptFact assembles the concept fact for a group, copying source
// content into the payload so provenance stays resolvable after purge.
func (e *Engine) buildConceptFact(g *group, targetDomain string) (domain.ConsolidatedFact, error) {
	contents := make([]string, len(g.Entries))
	for i, entry := range g.Entries {
		contents[i] = entry.Content
	}
	payload, err := json.Marshal(conceptPayload{
		ContextKey: g.ContextKey,
		EntryCount: len(g.Entries),
		Contents:   contents,
	})
	if err != nil {
		return domain.ConsolidatedFact{}, appErrors.NewInternal("failed to encode fact payload", err)
	}

	keywords := make([]string, 0, len(g.Keywords))
	for kw := range g.Keywords {
		keywords = append(keywords, kw)
	}

	return domain.ConsolidatedFact{
		ID:             uuid.NewSHA1(factNamespace, []byte(targetDomain+"|concept|"+g.ContextKey)).String(),
		Domain:         targetDomain,
		Kind:           domain.FactConcept,
		SourceEntryIDs: g.entryIDs(),
		Payload:        string(payload),
		CreatedAt:      time.Now(),
		Keywords:       keywords,
	}, nil
}

// linkGroups creates relationship facts between groups promoted in this run
// whose keyword sets overlap. Relationships across a domain boundary pass
// through the access controller like any other crossing. A relationship
// failure never unwinds the concept facts it links.
func (e *Engine) linkGroups(ctx context.Context, groups []*group, promoted map[string]*domain.ConsolidatedFact, report *Report) {
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			a, b := groups[i], groups[j]
			factA, okA := promoted[a.ContextKey]
			factB, okB := promoted[b.ContextKey]
			if !okA || !okB {
				continue
			}
			if e.similarity.CompareSets(a.Keywords, b.Keywords) == 0 {
				continue
			}

			if a.Domain != b.Domain {
				decision, err := e.controller.Validate(ctx, a.Domain, b.Domain)
				if err != nil {
					report.Failed++
					continue
				}
				switch decision {
				case domain.DecisionPendingManual:
					report.Deferred++
					continue
				case domain.DecisionRejected:
					report.Rejected++
					continue
				}
			}

			if err := e.writeRelationship(ctx, factA, factB); err != nil {
				e.logger.Error("relationship promotion failed",
					zap.String("source", factA.ID),
					zap.String("target", factB.ID),
					zap.Error(err),
				)
				report.Failed++
				if a.Domain != b.Domain {
					e.recordCrossDomainOutcome(ctx, a.Domain, b.Domain, false)
				}
				continue
			}
			report.Promoted++
			if a.Domain != b.Domain {
				e.recordCrossDomainOutcome(ctx, a.Domain, b.Domain, true)
			}
		}
	}
}

// writeRelationship writes a relationship fact and its graph edges as one
// unit: an edge failure removes the fact.
func (e *Engine) writeRelationship(ctx context.Context, factA, factB *domain.ConsolidatedFact) error {
	sources := append(append([]string{}, factA.SourceEntryIDs...), factB.SourceEntryIDs...)
	rel := domain.ConsolidatedFact{
		ID:             uuid.NewSHA1(factNamespace, []byte(factA.ID+"|related|"+factB.ID)).String(),
		Domain:         factA.Domain,
		Kind:           domain.FactRelationship,
		SourceEntryIDs: sources,
		Payload:        `{"type":"related"}`,
		CreatedAt:      time.Now(),
	}

	err := repository.RetryWithBackoff(ctx, e.config.Retry, func() error {
		_, err := e.semantic.UpsertFact(ctx, rel)
		return err
	})
	if err != nil {
		return err
	}

	err = repository.RetryWithBackoff(ctx, e.config.Retry, func() error {
		return e.semantic.AddRelationship(ctx, factA.ID, factB.ID, "related", true)
	})
	if err != nil {
		// Detached from the run context, same as the concept rollback.
		if rmErr := e.semantic.RemoveFact(context.WithoutCancel(ctx), rel.ID); rmErr != nil {
			e.logger.Error("rollback of relationship fact failed",
				zap.String("factId", rel.ID),
				zap.Error(rmErr),
			)
		}
		return err
	}
	return nil
}

// recordCrossDomainOutcome reports how an approved crossing went. Same-domain
// promotions are a no-op.
func (e *Engine) recordCrossDomainOutcome(ctx context.Context, source, target string, success bool) {
	if source == target {
		return
	}
	if err := e.controller.RecordOutcome(ctx, source, target, success); err != nil {
		e.logger.Warn("failed to record access outcome",
			zap.String("source", source),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}
