// Package messaging defines the event publishing port for memory lifecycle
// events. The subsystem emits events so the excluded outer layers (UI, task
// board) can react to consolidation runs and pending cross-domain requests
// without polling.
package messaging

import (
	"context"
)

// Event is a lifecycle event emitted by the memory subsystem.
type Event struct {
	// DetailType identifies the event shape, e.g. "ConsolidationCompleted".
	DetailType string
	// Detail is the JSON-serializable payload.
	Detail any
}

// Publisher delivers events to interested consumers. Publishing is
// best-effort: a failed publish is logged, never propagated into the memory
// operation that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher discards all events. Used in tests and local mode.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(ctx context.Context, event Event) error {
	return nil
}
