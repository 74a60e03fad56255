package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"mnemo-backend/internal/domain"
	"mnemo-backend/internal/domain/services"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Key layout for episodic entries:
//   PK = "ENTRY#{id}"   SK = "META"
//   DomainIndex GSI: Domain (hash), CreatedAt (range)
const (
	entryPKPrefix = "ENTRY#"
	entryMetaSK   = "META"
)

// EpisodicRepository implements repository.EpisodicRepository on DynamoDB.
type EpisodicRepository struct {
	client     *dynamodb.Client
	tableName  string
	indexName  string
	similarity *services.SimilarityCalculator
	logger     *zap.Logger
}

// NewEpisodicRepository creates an episodic repository. indexName is the
// domain GSI used for per-domain queries.
func NewEpisodicRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) *EpisodicRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpisodicRepository{
		client:     client,
		tableName:  tableName,
		indexName:  indexName,
		similarity: services.NewSimilarityCalculator(nil),
		logger:     logger,
	}
}

var _ repository.EpisodicRepository = (*EpisodicRepository)(nil)

// Put writes a new entry. The condition expression rejects an id that already
// exists, preserving append-only semantics.
func (r *EpisodicRepository) Put(ctx context.Context, entry domain.MemoryEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(entry)
	if err != nil {
		return appErrors.NewInternal("failed to marshal entry", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: entryPKPrefix + entry.ID}
	item["SK"] = &types.AttributeValueMemberS{Value: entryMetaSK}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return classify(err, fmt.Sprintf("failed to put entry %s", entry.ID))
	}
	return nil
}

// FindByID retrieves one entry.
func (r *EpisodicRepository) FindByID(ctx context.Context, id string) (*domain.MemoryEntry, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: entryPKPrefix + id},
			"SK": &types.AttributeValueMemberS{Value: entryMetaSK},
		},
	})
	if err != nil {
		return nil, classify(err, fmt.Sprintf("failed to get entry %s", id))
	}
	if result.Item == nil {
		return nil, appErrors.NewNotFound(fmt.Sprintf("entry %s not found", id))
	}

	var entry domain.MemoryEntry
	if err := attributevalue.UnmarshalMap(result.Item, &entry); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal entry", err)
	}
	return &entry, nil
}

// Search queries a domain's entries and ranks them by keyword similarity in
// memory. DynamoDB has no relevance scoring, so the domain GSI narrows the
// candidate set and ranking happens client-side.
func (r *EpisodicRepository) Search(ctx context.Context, query repository.EntryQuery) ([]domain.MemoryEntry, error) {
	entries, err := r.queryDomain(ctx, query.Domain)
	if err != nil {
		return nil, err
	}

	if len(query.Keywords) == 0 {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		})
		return capEntries(entries, query.Limit), nil
	}

	queryKeywords := services.KeywordSet(query.Keywords)
	type scored struct {
		entry domain.MemoryEntry
		score float64
	}
	ranked := make([]scored, 0, len(entries))
	for _, e := range entries {
		entryKeywords := services.KeywordSet(services.ExtractKeywords(e.Content))
		score := r.similarity.CompareSets(queryKeywords, entryKeywords)
		if score > 0 {
			ranked = append(ranked, scored{entry: e, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]domain.MemoryEntry, len(ranked))
	for i, s := range ranked {
		out[i] = s.entry
	}
	return capEntries(out, query.Limit), nil
}

// GetUnconsolidated returns entries awaiting consolidation. An empty domain
// label spans all domains and falls back to a filtered scan.
func (r *EpisodicRepository) GetUnconsolidated(ctx context.Context, domainLabel string) ([]domain.MemoryEntry, error) {
	if domainLabel != "" {
		entries, err := r.queryDomain(ctx, domainLabel)
		if err != nil {
			return nil, err
		}
		pending := entries[:0]
		for _, e := range entries {
			if !e.Consolidated {
				pending = append(pending, e)
			}
		}
		return pending, nil
	}

	filter := expression.Name("Consolidated").Equal(expression.Value(false)).
		And(expression.Name("PK").BeginsWith(entryPKPrefix))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build scan expression", err)
	}

	var entries []domain.MemoryEntry
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, classify(err, "failed to scan unconsolidated entries")
		}
		page, err := unmarshalEntries(result.Items)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return entries, nil
}

// CountUnconsolidated counts the backlog.
func (r *EpisodicRepository) CountUnconsolidated(ctx context.Context, domainLabel string) (int, error) {
	entries, err := r.GetUnconsolidated(ctx, domainLabel)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// MarkConsolidated flips the consolidated flag on every id in one
// transaction. An unknown id cancels the whole batch, leaving the known ones
// untouched; re-marking an already consolidated entry is a no-op.
func (r *EpisodicRepository) MarkConsolidated(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: entryPKPrefix + id},
					"SK": &types.AttributeValueMemberS{Value: entryMetaSK},
				},
				UpdateExpression:    aws.String("SET Consolidated = :t"),
				ConditionExpression: aws.String("attribute_exists(PK)"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":t": &types.AttributeValueMemberBOOL{Value: true},
				},
			},
		})
	}

	_, err := r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) && hasConditionFailure(canceled) {
			return appErrors.NewNotFound("one or more entries not found")
		}
		return classify(err, "failed to mark entries consolidated")
	}
	return nil
}

// PurgeExpired deletes entries the retention policy marks as expired.
func (r *EpisodicRepository) PurgeExpired(ctx context.Context, policy domain.RetentionPolicy, now time.Time) (int, error) {
	entries, err := r.scanAll(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, e := range entries {
		if !policy.Expired(e, now) {
			continue
		}
		_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: entryPKPrefix + e.ID},
				"SK": &types.AttributeValueMemberS{Value: entryMetaSK},
			},
		})
		if err != nil {
			return purged, classify(err, fmt.Sprintf("failed to purge entry %s", e.ID))
		}
		purged++
	}
	return purged, nil
}

// queryDomain fetches all entries for one domain via the domain GSI.
func (r *EpisodicRepository) queryDomain(ctx context.Context, domainLabel string) ([]domain.MemoryEntry, error) {
	keyEx := expression.Key("Domain").Equal(expression.Value(domainLabel))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	var entries []domain.MemoryEntry
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			IndexName:                 aws.String(r.indexName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, classify(err, fmt.Sprintf("failed to query domain %s", domainLabel))
		}
		page, err := unmarshalEntries(result.Items)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return entries, nil
}

func (r *EpisodicRepository) scanAll(ctx context.Context) ([]domain.MemoryEntry, error) {
	filter := expression.Name("PK").BeginsWith(entryPKPrefix)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build scan expression", err)
	}

	var entries []domain.MemoryEntry
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                 aws.String(r.tableName),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, classify(err, "failed to scan entries")
		}
		page, err := unmarshalEntries(result.Items)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return entries, nil
}

func unmarshalEntries(items []map[string]types.AttributeValue) ([]domain.MemoryEntry, error) {
	entries := make([]domain.MemoryEntry, 0, len(items))
	for _, item := range items {
		var entry domain.MemoryEntry
		if err := attributevalue.UnmarshalMap(item, &entry); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func capEntries(entries []domain.MemoryEntry, limit int) []domain.MemoryEntry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

// hasConditionFailure unpacks the SDK's transaction cancellation reasons,
// which arrive as a typed error with per-item causes.
func hasConditionFailure(canceled *types.TransactionCanceledException) bool {
	for _, reason := range canceled.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}
