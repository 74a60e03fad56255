package gateway

import (
	"context"

	appErrors "mnemo-backend/internal/errors"
)

type depthKey struct{}

// MaxDepth bounds how deep gateway calls may re-enter the gateway. A
// consolidation side-effect that writes through the gateway is depth 2; one
// level beyond that fails fast instead of looping.
const MaxDepth = 2

// Depth returns the gateway call depth recorded in ctx.
func Depth(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// enter increments the call depth, failing once the bound is exceeded. Every
// public gateway operation calls this before touching any backend, so the
// bound trips before any partial write can occur.
func enter(ctx context.Context) (context.Context, error) {
	depth := Depth(ctx) + 1
	if depth > MaxDepth {
		return ctx, appErrors.NewRecursion("gateway call depth exceeded")
	}
	return context.WithValue(ctx, depthKey{}, depth), nil
}
