package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"mnemo-backend/internal/domain"
	appErrors "mnemo-backend/internal/errors"
	"mnemo-backend/internal/repository"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

// Key layout for facts and edges:
//   fact version  PK = "FACT#{id}"   SK = "V#{version, zero-padded}"
//   edge          PK = "FACT#{id}"   SK = "EDGE#{targetId}"
//   DomainIndex GSI: Domain (hash), CreatedAt (range)
//
// Versions sort lexicographically under one partition, so the latest version
// is the first item of a descending query and History is the full partition.
const (
	factPKPrefix = "FACT#"
	versionSK    = "V#%08d"
	edgeSKPrefix = "EDGE#"
)

// SemanticRepository implements repository.SemanticRepository on DynamoDB.
type SemanticRepository struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewSemanticRepository creates a semantic repository.
func NewSemanticRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) *SemanticRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticRepository{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

var _ repository.SemanticRepository = (*SemanticRepository)(nil)

// UpsertFact writes a fact as a new version. A first write lands as version
// 1; a write against an existing logical fact lands as the next version with
// the original creation time preserved, so every prior version remains
// readable through History.
func (r *SemanticRepository) UpsertFact(ctx context.Context, fact domain.ConsolidatedFact) (domain.ConsolidatedFact, error) {
	if err := fact.Validate(); err != nil {
		return domain.ConsolidatedFact{}, err
	}

	current, err := r.latestVersion(ctx, fact.ID)
	if err != nil && !appErrors.IsNotFound(err) {
		return domain.ConsolidatedFact{}, err
	}

	if current == nil {
		fact.Version = 1
	} else {
		fact.Version = current.Version + 1
		fact.CreatedAt = current.CreatedAt
	}

	item, err := attributevalue.MarshalMap(fact)
	if err != nil {
		return domain.ConsolidatedFact{}, appErrors.NewInternal("failed to marshal fact", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: factPKPrefix + fact.ID}
	item["SK"] = &types.AttributeValueMemberS{Value: fmt.Sprintf(versionSK, fact.Version)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		// A conflict here means a concurrent writer claimed this version slot.
		return domain.ConsolidatedFact{}, classify(err, fmt.Sprintf("failed to write fact %s v%d", fact.ID, fact.Version))
	}
	return fact, nil
}

// RemoveFact deletes every version of a fact and all edges touching it. This
// is the compensation path for a failed promotion, nothing else.
func (r *SemanticRepository) RemoveFact(ctx context.Context, id string) error {
	items, err := r.queryPartition(ctx, factPKPrefix+id)
	if err != nil {
		return err
	}

	for _, item := range items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: factPKPrefix + id},
				"SK": &types.AttributeValueMemberS{Value: sk.Value},
			},
		})
		if err != nil {
			return classify(err, fmt.Sprintf("failed to remove fact %s", id))
		}
	}
	return nil
}

// FindFactByID returns the latest version of a fact.
func (r *SemanticRepository) FindFactByID(ctx context.Context, id string) (*domain.ConsolidatedFact, error) {
	return r.latestVersion(ctx, id)
}

// History returns all versions of a fact, newest first.
func (r *SemanticRepository) History(ctx context.Context, factID string) ([]domain.ConsolidatedFact, error) {
	items, err := r.queryPartition(ctx, factPKPrefix+factID)
	if err != nil {
		return nil, err
	}

	var versions []domain.ConsolidatedFact
	for _, item := range items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok || len(sk.Value) < 2 || sk.Value[:2] != "V#" {
			continue
		}
		var fact domain.ConsolidatedFact
		if err := attributevalue.UnmarshalMap(item, &fact); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal fact", err)
		}
		versions = append(versions, fact)
	}
	if len(versions) == 0 {
		return nil, appErrors.NewNotFound(fmt.Sprintf("fact %s not found", factID))
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version > versions[j].Version
	})
	return versions, nil
}

// AddRelationship creates a directed edge, or both directions in one
// transaction when bidirectional. Both endpoints must exist; the transaction
// guarantees two edges or none.
func (r *SemanticRepository) AddRelationship(ctx context.Context, sourceID, targetID, relType string, bidirectional bool) error {
	for _, id := range []string{sourceID, targetID} {
		if _, err := r.latestVersion(ctx, id); err != nil {
			return appErrors.Wrap(err, "relationship endpoint missing")
		}
	}

	forward, err := r.edgeItem(sourceID, targetID, relType)
	if err != nil {
		return err
	}

	if !bidirectional {
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(r.tableName),
			Item:      forward,
		})
		return classify(err, "failed to write edge")
	}

	reverse, err := r.edgeItem(targetID, sourceID, relType)
	if err != nil {
		return err
	}
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: forward}},
			{Put: &types.Put{TableName: aws.String(r.tableName), Item: reverse}},
		},
	})
	return classify(err, "failed to write bidirectional edge")
}

// Relationships returns all edges leaving a fact.
func (r *SemanticRepository) Relationships(ctx context.Context, factID string) ([]domain.Relationship, error) {
	items, err := r.queryPartition(ctx, factPKPrefix+factID)
	if err != nil {
		return nil, err
	}

	var edges []domain.Relationship
	for _, item := range items {
		sk, ok := item["SK"].(*types.AttributeValueMemberS)
		if !ok || len(sk.Value) < len(edgeSKPrefix) || sk.Value[:len(edgeSKPrefix)] != edgeSKPrefix {
			continue
		}
		var edge domain.Relationship
		if err := attributevalue.UnmarshalMap(item, &edge); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal edge", err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// Query returns the latest versions of a domain's facts, filtered by kind and
// keyword overlap.
func (r *SemanticRepository) Query(ctx context.Context, domainLabel string, filter repository.FactFilter) ([]domain.ConsolidatedFact, error) {
	keyEx := expression.Key("Domain").Equal(expression.Value(domainLabel))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	var items []map[string]types.AttributeValue
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
			return nil, classify(err, fmt.Sprintf("failed to query facts in %s", domainLabel))
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	// Keep only the highest version per fact id.
	latest := make(map[string]domain.ConsolidatedFact)
	for _, item := range items {
		var fact domain.ConsolidatedFact
		if err := attributevalue.UnmarshalMap(item, &fact); err != nil {
			r.logger.Warn("failed to unmarshal fact", zap.Error(err))
			continue
		}
		if fact.ID == "" {
			continue
		}
		if prev, ok := latest[fact.ID]; !ok || fact.Version > prev.Version {
			latest[fact.ID] = fact
		}
	}

	var facts []domain.ConsolidatedFact
	for _, fact := range latest {
		if filter.Kind != "" && fact.Kind != filter.Kind {
			continue
		}
		if len(filter.Keywords) > 0 && !keywordOverlap(fact.Keywords, filter.Keywords) {
			continue
		}
		facts = append(facts, fact)
	}
	sort.Slice(facts, func(i, j int) bool {
		return facts[i].ID < facts[j].ID
	})
	if filter.Limit > 0 && len(facts) > filter.Limit {
		facts = facts[:filter.Limit]
	}
	return facts, nil
}

func (r *SemanticRepository) latestVersion(ctx context.Context, id string) (*domain.ConsolidatedFact, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(factPKPrefix + id)).
		And(expression.Key("SK").BeginsWith("V#"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, classify(err, fmt.Sprintf("failed to query fact %s", id))
	}
	if len(result.Items) == 0 {
		return nil, appErrors.NewNotFound(fmt.Sprintf("fact %s not found", id))
	}

	var fact domain.ConsolidatedFact
	if err := attributevalue.UnmarshalMap(result.Items[0], &fact); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal fact", err)
	}
	return &fact, nil
}

func (r *SemanticRepository) queryPartition(ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(pk))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(r.tableName),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, classify(err, "failed to query partition")
		}
		items = append(items, result.Items...)
		if result.LastEvaluatedKey == nil {
			break
		}
		startKey = result.LastEvaluatedKey
	}
	return items, nil
}

func (r *SemanticRepository) edgeItem(sourceID, targetID, relType string) (map[string]types.AttributeValue, error) {
	edge := domain.Relationship{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     relType,
	}
	item, err := attributevalue.MarshalMap(edge)
	if err != nil {
		return nil, appErrors.NewInternal("failed to marshal edge", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: factPKPrefix + sourceID}
	item["SK"] = &types.AttributeValueMemberS{Value: edgeSKPrefix + targetID}
	return item, nil
}

func keywordOverlap(factKeywords, wanted []string) bool {
	set := make(map[string]bool, len(factKeywords))
	for _, kw := range factKeywords {
		set[kw] = true
	}
	for _, kw := range wanted {
		if set[kw] {
			return true
		}
	}
	return false
}
