//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"mnemo-backend/internal/config"

	"github.com/google/wire"
	"go.uber.org/zap"
)

// InitializeContainer is the Wire injector for the full application graph.
// The checked-in NewContainer constructor is the generated equivalent; this
// declaration exists so the graph can be regenerated with `wire ./internal/di`.
func InitializeContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	wire.Build(NewContainer)
	return nil, nil
}
