package di

import (
	"context"
	"fmt"

	"mnemo-backend/internal/config"
	"mnemo-backend/internal/domain"
	dynamoStore "mnemo-backend/internal/infrastructure/persistence/dynamodb"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"
)

func newDynamoDBClient(ctx context.Context, cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Database.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if cfg.Database.EndpointOverride != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.Database.EndpointOverride)
		})
	}
	return dynamodb.NewFromConfig(awsCfg, opts...), nil
}

func newEpisodicRepository(client *dynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamoStore.EpisodicRepository {
	return dynamoStore.NewEpisodicRepository(client, cfg.Database.EpisodicTable, cfg.Database.DomainIndex, logger)
}

func newSemanticRepository(client *dynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamoStore.SemanticRepository {
	return dynamoStore.NewSemanticRepository(client, cfg.Database.SemanticTable, cfg.Database.DomainIndex, logger)
}

func newLedgerRepository(client *dynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamoStore.AccessLedgerRepository {
	return dynamoStore.NewAccessLedgerRepository(client, cfg.Database.LedgerTable, logger)
}

func newRequestRepository(client *dynamodb.Client, cfg *config.Config, logger *zap.Logger) *dynamoStore.RequestRepository {
	return dynamoStore.NewRequestRepository(client, cfg.Database.LedgerTable, cfg.Database.PairIndex, logger)
}

func domainRetentionPolicy(cfg *config.Config) domain.RetentionPolicy {
	policy := domain.DefaultRetentionPolicy()
	if cfg.Memory.ConsolidatedTTL > 0 {
		policy.ConsolidatedTTL = cfg.Memory.ConsolidatedTTL
	}
	if cfg.Memory.ImportantTTL > 0 {
		policy.ImportantTTL = cfg.Memory.ImportantTTL
	}
	if cfg.Memory.ImportanceFloor > 0 {
		policy.ImportanceFloor = cfg.Memory.ImportanceFloor
	}
	return policy
}
