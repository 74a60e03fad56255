// Package di assembles the memory subsystem: configuration, stores, access
// controller, consolidation engine, gateway and HTTP router.
package di

import (
	"context"
	"fmt"
	"net/http"

	"mnemo-backend/internal/config"
	"mnemo-backend/internal/infrastructure/cache"
	"mnemo-backend/internal/infrastructure/messaging"
	eventbridgePublisher "mnemo-backend/internal/infrastructure/messaging/eventbridge"
	memoryStore "mnemo-backend/internal/infrastructure/persistence/memory"
	"mnemo-backend/internal/interfaces/http/rest"
	"mnemo-backend/internal/repository"
	"mnemo-backend/internal/service/access"
	"mnemo-backend/internal/service/consolidation"
	"mnemo-backend/internal/service/gateway"
	"mnemo-backend/pkg/observability"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
)

// Container holds the assembled application.
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Collector
	Tracing    *observability.TracerProvider
	Gateway    *gateway.Gateway
	Engine     *consolidation.Engine
	Worker     *consolidation.Worker
	Controller *access.Controller
	Handler    http.Handler

	episodic repository.EpisodicRepository
	semantic repository.SemanticRepository
}

// NewContainer builds the full dependency graph from configuration.
func NewContainer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	metrics := observability.NewCollector(cfg.Observability.MetricsNamespace)

	var tracing *observability.TracerProvider
	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracing("mnemo-memory", string(cfg.Environment), cfg.Observability.TracingEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		tracing = tp
	}

	stores, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	controller := access.NewController(
		stores.ledger,
		stores.requests,
		publisher,
		access.Config{
			ApproveThreshold:    cfg.Access.ApproveThreshold,
			ReviewThreshold:     cfg.Access.ReviewThreshold,
			FrequencySaturation: cfg.Access.FrequencySaturation,
			DecayHalfLife:       cfg.Access.DecayHalfLife,
			OutcomeWeight:       cfg.Access.OutcomeWeight,
		},
		logger,
	)

	engineConfig := consolidation.DefaultConfig(cfg.Memory.Domains)
	engineConfig.Interval = cfg.Memory.ConsolidateInterval
	engineConfig.VolumeThreshold = cfg.Memory.VolumeThreshold
	engineConfig.ImportanceFloor = cfg.Memory.ImportanceFloor
	engineConfig.GroupingThreshold = cfg.Memory.GroupingThreshold

	engine := consolidation.NewEngine(
		stores.episodic,
		stores.semantic,
		controller,
		publisher,
		metrics,
		engineConfig,
		logger,
	)

	policy := domainRetentionPolicy(cfg)
	worker := consolidation.NewWorker(engine, policy, cfg.Memory.WorkerTick, cfg.Memory.RetentionSweepTick, logger)

	readCache := cache.NewMemoryCache(cfg.Memory.CacheMaxItems, cfg.Memory.CacheMaxBytes, logger)

	gatewayConfig := gateway.DefaultConfig(cfg.Memory.Domains)
	gatewayConfig.SearchCacheTTL = cfg.Memory.SearchCacheTTL

	gw := gateway.New(
		stores.episodic,
		stores.semantic,
		engine,
		controller,
		readCache,
		metrics,
		gatewayConfig,
		logger,
	)

	router := rest.NewRouter(gw, metrics, logger)

	return &Container{
		Config:     cfg,
		Logger:     logger,
		Metrics:    metrics,
		Tracing:    tracing,
		Gateway:    gw,
		Engine:     engine,
		Worker:     worker,
		Controller: controller,
		Handler:    router.Setup(),
		episodic:   stores.episodic,
		semantic:   stores.semantic,
	}, nil
}

// ApplyTunables pushes a reloaded configuration's hot-applicable settings
// into the running engine. Structural settings (stores, domains, listeners)
// still require a restart.
func (c *Container) ApplyTunables(cfg *config.Config) {
	c.Engine.ApplyTunables(
		cfg.Memory.ConsolidateInterval,
		cfg.Memory.VolumeThreshold,
		cfg.Memory.ImportanceFloor,
		cfg.Memory.GroupingThreshold,
	)
}

// Shutdown releases container resources.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Worker.Stop()
	if c.Tracing != nil {
		return c.Tracing.Shutdown(ctx)
	}
	return nil
}

type storeSet struct {
	episodic repository.EpisodicRepository
	semantic repository.SemanticRepository
	ledger   repository.LedgerRepository
	requests repository.RequestRepository
}

// buildStores selects the persistence backend. In-memory stores back local
// development and tests; DynamoDB backs everything else.
func buildStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*storeSet, error) {
	if cfg.Database.InMemory {
		return &storeSet{
			episodic: memoryStore.NewEpisodicStore(),
			semantic: memoryStore.NewSemanticStore(),
			ledger:   memoryStore.NewAccessLedger(),
			requests: memoryStore.NewRequestStore(),
		}, nil
	}

	client, err := newDynamoDBClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &storeSet{
		episodic: newEpisodicRepository(client, cfg, logger),
		semantic: newSemanticRepository(client, cfg, logger),
		ledger:   newLedgerRepository(client, cfg, logger),
		requests: newRequestRepository(client, cfg, logger),
	}, nil
}

// buildPublisher selects the event publisher. Without a configured bus the
// subsystem runs silent with a no-op publisher.
func buildPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (messaging.Publisher, error) {
	if !cfg.Events.Enabled || cfg.Events.BusName == "" {
		return messaging.NopPublisher{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Database.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := eventbridge.NewFromConfig(awsCfg)
	return eventbridgePublisher.NewPublisher(client, cfg.Events.BusName, logger), nil
}
