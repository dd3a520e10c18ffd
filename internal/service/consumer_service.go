package service

import (
	"context"
	"encoding/json"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// ProgressDelivery pushes raw progress messages to session watchers.
type ProgressDelivery interface {
	Send(sessionID uuid.UUID, data []byte)
}

// EventPublisher puts lifecycle events on the external bus.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService relays progress from the in-process bus to websocket
// watchers and publishes lifecycle events to NATS.
type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	delivery   ProgressDelivery
	events     EventPublisher
	logger     logger.ILogger
}

// NewConsumerService wires the relay. delivery and events may be nil.
func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	delivery ProgressDelivery,
	events EventPublisher,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		delivery:   delivery,
		events:     events,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var progress dto.ProgressMessage
	if err := json.Unmarshal(msg.Payload, &progress); err != nil {
		cs.logger.Error("Consumer", "Failed to unmarshal progress message", map[string]interface{}{
			"error": err,
		})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if cs.delivery != nil {
		cs.delivery.Send(progress.SessionId, msg.Payload)
	}

	if cs.events != nil {
		if event, ok := lifecycleEvent(progress); ok {
			if err := cs.events.Publish(ctx, event); err != nil {
				cs.logger.Warn("Consumer", "Failed to publish lifecycle event", map[string]interface{}{
					"session_id": progress.SessionId.String(),
					"event":      event.EventType(),
					"error":      err.Error(),
				})
			}
		}
	}

	msg.Ack()
}

// lifecycleEvent maps progress to the external event, if any. Round
// progress stays in-process.
func lifecycleEvent(p dto.ProgressMessage) (events.Event, bool) {
	data := map[string]interface{}{
		"session_id":     p.SessionId.String(),
		"total_tokens":   p.TotalTokens,
		"evidence_count": p.EvidenceCount,
	}
	if details, ok := p.Data.(map[string]interface{}); ok {
		for k, v := range details {
			data[k] = v
		}
	}

	switch p.Type {
	case ProgressStarted:
		return events.New(events.QueryStarted, data), true
	case ProgressFinished:
		data["rounds"] = p.Round
		if _, failed := data["error"]; failed {
			return events.New(events.QueryFailed, data), true
		}
		return events.New(events.QueryCompleted, data), true
	default:
		return nil, false
	}
}
