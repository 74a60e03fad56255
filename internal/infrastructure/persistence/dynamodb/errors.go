// Package dynamodb provides DynamoDB implementations of the repository
// interfaces using a single-table design: entries, facts, edges, ledger rows
// and requests share one table partitioned by entity-prefixed keys.
package dynamodb

import (
	"errors"

	appErrors "mnemo-backend/internal/errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// classify maps a raw SDK error into the shared taxonomy. Throttling and
// server-side faults are transient and marked retryable; a conditional check
// failure means a competing writer won and surfaces as a conflict.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return appErrors.NewConflict(message)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException",
			"ThrottlingException",
			"RequestLimitExceeded",
			"InternalServerError",
			"ServiceUnavailable",
			"TransactionInProgressException":
			return appErrors.NewService(message, err)
		}
	}

	return appErrors.NewInternal(message, err)
}
