// Package access implements the domain-boundary layer: the access-pattern
// ledger bookkeeping and the controller that authorizes or denies proposed
// cross-domain reads and writes based on confidence scored from historical
// outcomes.
package access

import (
	"context"
	"math"
	"sync"
	"time"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/infrastructure/messaging"
	"mnemo-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config tunes the authorization decision rule.
type Config struct {
	// ApproveThreshold is the confidence at or above which a crossing is
	// approved automatically.
	ApproveThreshold float64
	// ReviewThreshold is the confidence at or above which (but below
	// ApproveThreshold) a crossing is queued for manual review.
	ReviewThreshold float64
	// FrequencySaturation controls how many observations it takes for the
	// historical success rate to dominate the neutral prior.
	FrequencySaturation float64
	// DecayHalfLife is the age at which a pair's history counts half.
	DecayHalfLife time.Duration
	// OutcomeWeight is the EWMA weight applied to each observed outcome when
	// updating a pair's success rate.
	OutcomeWeight float64
}

// DefaultConfig returns the decision-rule defaults: approve at 0.8, manual
// review from 0.5, reject below.
func DefaultConfig() Config {
	return Config{
		ApproveThreshold:    0.8,
		ReviewThreshold:     0.5,
		FrequencySaturation: 5,
		DecayHalfLife:       7 * 24 * time.Hour,
		OutcomeWeight:       0.2,
	}
}

// neutralConfidence is the score assigned to a pair with no usable history.
// It lands in the manual-review band, so a novel boundary is never
// auto-approved or auto-rejected on first contact.
const neutralConfidence = 0.5

// Controller authorizes cross-domain operations. Decisions on the same
// (source, target) pair are serialized so two concurrent requests can never
// both compute stale confidence or double-create a review request.
type Controller struct {
	ledger    repository.LedgerRepository
	requests  repository.RequestRepository
	publisher messaging.Publisher
	logger    *zap.Logger
	config    Config
	now       func() time.Time

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

// NewController creates a domain access controller.
func NewController(
	ledger repository.LedgerRepository,
	requests repository.RequestRepository,
	publisher messaging.Publisher,
	config Config,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = messaging.NopPublisher{}
	}
	return &Controller{
		ledger:    ledger,
		requests:  requests,
		publisher: publisher,
		logger:    logger,
		config:    config,
		now:       time.Now,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the controller's clock. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Classify maps a confidence score to a decision using the configured
// thresholds: score >= approve threshold is approved, scores in the review
// band go to manual review, anything lower is rejected.
func (c Config) Classify(score float64) domain.Decision {
	switch {
	case score >= c.ApproveThreshold:
		return domain.DecisionApproved
	case score >= c.ReviewThreshold:
		return domain.DecisionPendingManual
	default:
		return domain.DecisionRejected
	}
}

// Validate authorizes a proposed crossing from sourceDomain into
// targetDomain. Same-domain requests are approved trivially without touching
// the ledger; cross-domain decisions always bump the pair's frequency and
// last-access time, while the success rate changes only when RecordOutcome
// reports how the authorized operation actually went.
func (c *Controller) Validate(ctx context.Context, sourceDomain, targetDomain string) (domain.Decision, error) {
	if sourceDomain == "" || targetDomain == "" {
		return "", appErrors.NewValidation("source and target domains cannot be empty")
	}
	if sourceDomain == targetDomain {
		return domain.DecisionApproved, nil
	}

	unlock := c.lockPair(sourceDomain, targetDomain)
	defer unlock()

	now := c.now()

	// A standing approval short-circuits scoring.
	existing, err := c.requests.FindByPair(ctx, sourceDomain, targetDomain)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to look up cross-domain request")
	}
	if existing != nil && existing.Status == domain.RequestApproved {
		if err := c.touchLedger(ctx, sourceDomain, targetDomain, now); err != nil {
			return "", err
		}
		return domain.DecisionApproved, nil
	}

	pattern, err := c.ledger.Get(ctx, sourceDomain, targetDomain)
	if err != nil {
		return "", appErrors.Wrap(err, "failed to read access ledger")
	}

	score := c.confidence(pattern, now)
	decision := c.config.Classify(score)

	switch decision {
	case domain.DecisionPendingManual:
		if err := c.upsertReviewRequest(ctx, existing, sourceDomain, targetDomain, score, now); err != nil {
			return "", err
		}
	case domain.DecisionRejected:
		// No request row: a rejection leaves no retry state to track.
		c.logger.Info("cross-domain access rejected",
			zap.String("source", sourceDomain),
			zap.String("target", targetDomain),
			zap.Float64("confidence", score),
		)
	}

	if err := c.touchLedger(ctx, sourceDomain, targetDomain, now); err != nil {
		return "", err
	}

	return decision, nil
}

// RecordOutcome folds the observed result of a previously approved crossing
// into the pair's success rate. Success pulls the rate up, failure pulls it
// down; the frequency counter is untouched because the decision itself was
// already counted.
func (c *Controller) RecordOutcome(ctx context.Context, sourceDomain, targetDomain string, success bool) error {
	if sourceDomain == targetDomain {
		return nil
	}

	unlock := c.lockPair(sourceDomain, targetDomain)
	defer unlock()

	pattern, err := c.ledger.Get(ctx, sourceDomain, targetDomain)
	if err != nil {
		return appErrors.Wrap(err, "failed to read access ledger")
	}
	if pattern == nil {
		return appErrors.NewNotFound("no access pattern for pair")
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	pattern.SuccessRate += c.config.OutcomeWeight * (outcome - pattern.SuccessRate)

	if err := c.ledger.Record(ctx, *pattern); err != nil {
		return appErrors.Wrap(err, "failed to update access ledger")
	}
	return nil
}

// ResolveRequest applies a human approval event to a pending request.
func (c *Controller) ResolveRequest(ctx context.Context, requestID string, approve bool) error {
	status := domain.RequestRejected
	if approve {
		status = domain.RequestApproved
	}
	if err := c.requests.Resolve(ctx, requestID, status, c.now()); err != nil {
		return appErrors.Wrap(err, "failed to resolve cross-domain request")
	}
	c.logger.Info("cross-domain request resolved",
		zap.String("requestId", requestID),
		zap.String("status", string(status)),
	)
	return nil
}

// History returns the ledger row for a pair, for the audit endpoint.
func (c *Controller) History(ctx context.Context, sourceDomain, targetDomain string) (*domain.AccessPattern, error) {
	pattern, err := c.ledger.Get(ctx, sourceDomain, targetDomain)
	if err != nil {
		return nil, appErrors.Wrap(err, "failed to read access ledger")
	}
	if pattern == nil {
		return nil, appErrors.NewNotFound("no access history for pair")
	}
	return pattern, nil
}

// ArchivePair archives a pair's ledger row.
func (c *Controller) ArchivePair(ctx context.Context, sourceDomain, targetDomain string) error {
	return c.ledger.Archive(ctx, sourceDomain, targetDomain)
}

// confidence derives the authorization confidence for a pair. With no usable
// history the score is the neutral prior. Otherwise the success rate is
// weighted by how many observations back it and decayed by how stale the
// last observation is, so an old or thin track record drifts back toward
// neutral rather than staying authoritative forever.
func (c *Controller) confidence(pattern *domain.AccessPattern, now time.Time) float64 {
	if pattern == nil || pattern.Archived || pattern.Frequency == 0 {
		return neutralConfidence
	}

	freq := float64(pattern.Frequency)
	weight := freq / (freq + c.config.FrequencySaturation)

	age := now.Sub(pattern.LastAccess)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-age.Hours() / c.config.DecayHalfLife.Hours())

	return neutralConfidence + (pattern.SuccessRate-neutralConfidence)*weight*recency
}

// touchLedger bumps frequency and last access for a pair, creating the row
// on first contact with a neutral success rate.
func (c *Controller) touchLedger(ctx context.Context, sourceDomain, targetDomain string, now time.Time) error {
	pattern, err := c.ledger.Get(ctx, sourceDomain, targetDomain)
	if err != nil {
		return appErrors.Wrap(err, "failed to read access ledger")
	}
	if pattern == nil {
		pattern = &domain.AccessPattern{
			SourceDomain: sourceDomain,
			TargetDomain: targetDomain,
			AccessType:   domain.AccessWrite,
			SuccessRate:  neutralConfidence,
		}
	}
	pattern.Frequency++
	pattern.LastAccess = now

	if err := c.ledger.Record(ctx, *pattern); err != nil {
		return appErrors.Wrap(err, "failed to update access ledger")
	}
	return nil
}

// upsertReviewRequest creates a pending request for the pair or refreshes
// the confidence on the one already waiting.
func (c *Controller) upsertReviewRequest(ctx context.Context, existing *domain.CrossDomainRequest, sourceDomain, targetDomain string, score float64, now time.Time) error {
	if existing != nil && existing.Status == domain.RequestPending {
		existing.ConfidenceScore = score
		if err := c.requests.Save(ctx, *existing); err != nil {
			return appErrors.Wrap(err, "failed to update cross-domain request")
		}
		return nil
	}

	request := domain.CrossDomainRequest{
		ID:              uuid.New().String(),
		SourceDomain:    sourceDomain,
		TargetDomain:    targetDomain,
		Reason:          "confidence below automatic approval threshold",
		Status:          domain.RequestPending,
		ConfidenceScore: score,
		CreatedAt:       now,
	}
	if err := c.requests.Save(ctx, request); err != nil {
		return appErrors.Wrap(err, "failed to create cross-domain request")
	}

	if err := c.publisher.Publish(ctx, messaging.Event{
		DetailType: "CrossDomainRequestCreated",
		Detail:     request,
	}); err != nil {
		c.logger.Warn("failed to publish cross-domain request event", zap.Error(err))
	}
	return nil
}

// lockPair serializes decisions on a (source, target) pair.
func (c *Controller) lockPair(sourceDomain, targetDomain string) func() {
	key := sourceDomain + "\x00" + targetDomain

	c.mu.Lock()
	lock, ok := c.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.pairLocks[key] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
