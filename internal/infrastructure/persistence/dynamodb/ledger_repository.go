package dynamodb

import (
	"context"
	"fmt"
	"sort"
	"time"

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

// Key layout for the access ledger and cross-domain requests:
//   ledger row  PK = "LEDGER"          SK = "{source}#{target}"
//   request     PK = "REQUEST#{id}"    SK = "META", PairKey = "{source}#{target}"
//   PairIndex GSI: PairKey (hash), CreatedAt (range)
//
// The ledger lives in one partition: it holds at most one row per registered
// domain pair, a set small enough that partition heat is not a concern.
const (
	ledgerPK        = "LEDGER"
	requestPKPrefix = "REQUEST#"
)

// AccessLedgerRepository implements repository.LedgerRepository on DynamoDB.
type AccessLedgerRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewAccessLedgerRepository creates a ledger repository.
func NewAccessLedgerRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) *AccessLedgerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessLedgerRepository{client: client, tableName: tableName, logger: logger}
}

var _ repository.LedgerRepository = (*AccessLedgerRepository)(nil)

// Get returns the ledger row for a pair, archived or not, or nil when the
// pair has never been seen.
func (r *AccessLedgerRepository) Get(ctx context.Context, sourceDomain, targetDomain string) (*domain.AccessPattern, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ledgerPK},
			"SK": &types.AttributeValueMemberS{Value: pairKey(sourceDomain, targetDomain)},
		},
	})
	if err != nil {
		return nil, classify(err, "failed to get ledger row")
	}
	if result.Item == nil {
		return nil, nil
	}

	var pattern domain.AccessPattern
	if err := attributevalue.UnmarshalMap(result.Item, &pattern); err != nil {
		return nil, appErrors.NewInternal("failed to unmarshal ledger row", err)
	}
	return &pattern, nil
}

// Record upserts a pair's ledger row.
func (r *AccessLedgerRepository) Record(ctx context.Context, pattern domain.AccessPattern) error {
	item, err := attributevalue.MarshalMap(pattern)
	if err != nil {
		return appErrors.NewInternal("failed to marshal ledger row", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: ledgerPK}
	item["SK"] = &types.AttributeValueMemberS{Value: pairKey(pattern.SourceDomain, pattern.TargetDomain)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return classify(err, "failed to record ledger row")
}

// Archive flips a pair's archived flag. The row stays readable for audits.
func (r *AccessLedgerRepository) Archive(ctx context.Context, sourceDomain, targetDomain string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ledgerPK},
			"SK": &types.AttributeValueMemberS{Value: pairKey(sourceDomain, targetDomain)},
		},
		UpdateExpression:    aws.String("SET Archived = :t"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		if appErrors.IsConflict(classify(err, "")) {
			return appErrors.NewNotFound("no ledger row for pair")
		}
		return classify(err, "failed to archive ledger row")
	}
	return nil
}

// List returns all ledger rows sorted by pair.
func (r *AccessLedgerRepository) List(ctx context.Context) ([]domain.AccessPattern, error) {
	keyEx := expression.Key("PK").Equal(expression.Value(ledgerPK))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, classify(err, "failed to list ledger rows")
	}

	patterns := make([]domain.AccessPattern, 0, len(result.Items))
	for _, item := range result.Items {
		var pattern domain.AccessPattern
		if err := attributevalue.UnmarshalMap(item, &pattern); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal ledger row", err)
		}
		patterns = append(patterns, pattern)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].SourceDomain != patterns[j].SourceDomain {
			return patterns[i].SourceDomain < patterns[j].SourceDomain
		}
		return patterns[i].TargetDomain < patterns[j].TargetDomain
	})
	return patterns, nil
}

// RequestRepository implements repository.RequestRepository on DynamoDB.
type RequestRepository struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewRequestRepository creates a request repository. indexName is the pair
// GSI used to find the request covering a domain pair.
func NewRequestRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) *RequestRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestRepository{client: client, tableName: tableName, indexName: indexName, logger: logger}
}

var _ repository.RequestRepository = (*RequestRepository)(nil)

// FindByPair returns the most recent non-rejected request for a pair, or nil.
// Rejected requests are dead ends and never influence a later decision.
func (r *RequestRepository) FindByPair(ctx context.Context, sourceDomain, targetDomain string) (*domain.CrossDomainRequest, error) {
	keyEx := expression.Key("PairKey").Equal(expression.Value(pairKey(sourceDomain, targetDomain)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, appErrors.NewInternal("failed to build query expression", err)
	}

	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
	})
	if err != nil {
		return nil, classify(err, "failed to query requests for pair")
	}

	for _, item := range result.Items {
		var request domain.CrossDomainRequest
		if err := attributevalue.UnmarshalMap(item, &request); err != nil {
			return nil, appErrors.NewInternal("failed to unmarshal request", err)
		}
		if request.Status != domain.RequestRejected {
			return &request, nil
		}
	}
	return nil, nil
}

// Save upserts a request.
func (r *RequestRepository) Save(ctx context.Context, request domain.CrossDomainRequest) error {
	item, err := attributevalue.MarshalMap(request)
	if err != nil {
		return appErrors.NewInternal("failed to marshal request", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: requestPKPrefix + request.ID}
	item["SK"] = &types.AttributeValueMemberS{Value: "META"}
	item["PairKey"] = &types.AttributeValueMemberS{Value: pairKey(request.SourceDomain, request.TargetDomain)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return classify(err, "failed to save request")
}

// Resolve finalizes a pending request. A resolution is permanent: resolving
// an already-resolved request is a conflict, resolving an unknown id is not
// found. The condition expression enforces both atomically.
func (r *RequestRepository) Resolve(ctx context.Context, id string, status domain.RequestStatus, resolvedAt time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: requestPKPrefix + id},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:    aws.String("SET #status = :status, ResolvedAt = :resolvedAt"),
		ConditionExpression: aws.String("attribute_exists(PK) AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "Status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(status)},
			":pending":    &types.AttributeValueMemberS{Value: string(domain.RequestPending)},
			":resolvedAt": &types.AttributeValueMemberS{Value: resolvedAt.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		classified := classify(err, fmt.Sprintf("failed to resolve request %s", id))
		if appErrors.IsConflict(classified) {
			// The condition cannot distinguish missing from already resolved;
			// look the item up to report the right error.
			exists, lookupErr := r.exists(ctx, id)
			if lookupErr == nil && !exists {
				return appErrors.NewNotFound(fmt.Sprintf("request %s not found", id))
			}
			return appErrors.NewConflict(fmt.Sprintf("request %s already resolved", id))
		}
		return classified
	}
	return nil
}

func (r *RequestRepository) exists(ctx context.Context, id string) (bool, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: requestPKPrefix + id},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	})
	if err != nil {
		return false, classify(err, "failed to get request")
	}
	return result.Item != nil, nil
}

func pairKey(sourceDomain, targetDomain string) string {
	return sourceDomain + "#" + targetDomain
}
