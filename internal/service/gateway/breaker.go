package gateway

import (
	"errors"
	"time"

	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/pkg/observability"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig tunes the per-backend circuit breakers.
type BreakerConfig struct {
	// MaxRequests is how many probes pass through a half-open circuit.
	MaxRequests uint32
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold uint32
	// Timeout is how long an open circuit waits before going half-open.
	Timeout time.Duration
}

// DefaultBreakerConfig returns the breaker defaults: open after 5 consecutive
// service faults, probe again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
	}
}

// backendBreaker wraps one backend's circuit. Only service-classified faults
// count as failures; a validation or not-found result is a healthy backend
// giving a correct answer and must not trip the circuit.
type backendBreaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker
	metrics *observability.Collector
}

func newBackendBreaker(name string, config BreakerConfig, metrics *observability.Collector, logger *zap.Logger) *backendBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.MaxRequests,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !appErrors.IsService(err)
		},
		OnStateChange: func(cbName string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("backend", cbName),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &backendBreaker{
		name:    name,
		cb:      gobreaker.NewCircuitBreaker(settings),
		metrics: metrics,
	}
}

// execute runs fn through the circuit, translating breaker rejections into
// unavailable errors that the retry layer will not retry.
func (b *backendBreaker) execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if b.metrics != nil {
			b.metrics.CircuitRejects.WithLabelValues(b.name).Inc()
		}
		return appErrors.NewUnavailable(b.name + " backend circuit open")
	}
	return err
}

// state returns the circuit's current state name, for health reporting.
func (b *backendBreaker) state() string {
	return b.cb.State().String()
}
