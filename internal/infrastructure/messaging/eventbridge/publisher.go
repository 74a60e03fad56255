// Package eventbridge publishes memory lifecycle events to AWS EventBridge.
package eventbridge

import (
	"context"
	"encoding/json"
	"time"

	"mnemo-backend/internal/infrastructure/messaging"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

const eventSource = "mnemo.memory"

// Publisher implements messaging.Publisher using AWS EventBridge.
type Publisher struct {
	client       *eventbridge.Client
	eventBusName string
	logger       *zap.Logger
}

// NewPublisher creates an EventBridge-backed publisher.
func NewPublisher(client *eventbridge.Client, eventBusName string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:       client,
		eventBusName: eventBusName,
		logger:       logger,
	}
}

// Publish sends a single event. Marshal failures and delivery failures are
// returned to the caller, which treats publishing as best-effort.
func (p *Publisher) Publish(ctx context.Context, event messaging.Event) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		p.logger.Error("failed to marshal event detail",
			zap.Error(err),
			zap.String("detailType", event.DetailType),
		)
		return err
	}

	input := &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.eventBusName),
				Source:       aws.String(eventSource),
				DetailType:   aws.String(event.DetailType),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(time.Now()),
			},
		},
	}

	result, err := p.client.PutEvents(ctx, input)
	if err != nil {
		return err
	}

	if result.FailedEntryCount > 0 {
		for _, entry := range result.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("event delivery rejected",
					zap.String("detailType", event.DetailType),
					zap.String("errorCode", aws.ToString(entry.ErrorCode)),
					zap.String("errorMessage", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
	}

	return nil
}
