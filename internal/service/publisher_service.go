package service

import (
	"context"
	"encoding/json"
	"time"

	"deepsearch-be/internal/dto"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/rag/executor"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

const (
	ProgressStarted  = "started"
	ProgressRound    = "round"
	ProgressFinished = "finished"
)

// IPublisherService puts session progress on the in-process event bus.
type IPublisherService interface {
	executor.Observer
	Publish(msg dto.ProgressMessage) error
}

type publisherService struct {
	topicName string
	publisher message.Publisher
	logger    logger.ILogger
}

func NewPublisherService(topicName string, publisher message.Publisher, log logger.ILogger) IPublisherService {
	return &publisherService{
		topicName: topicName,
		publisher: publisher,
		logger:    log,
	}
}

func (ps *publisherService) Publish(msg dto.ProgressMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m := message.NewMessage(watermill.NewUUID(), payload)
	m.Metadata.Set("type", msg.Type)
	m.Metadata.Set("session_id", msg.SessionId.String())
	return ps.publisher.Publish(ps.topicName, m)
}

func (ps *publisherService) publish(msg dto.ProgressMessage) {
	msg.At = time.Now()
	if err := ps.Publish(msg); err != nil {
		ps.logger.Warn("Publisher", "Failed to publish progress", map[string]interface{}{
			"session_id": msg.SessionId.String(),
			"type":       msg.Type,
			"error":      err.Error(),
		})
	}
}

func (ps *publisherService) SessionStarted(_ context.Context, id uuid.UUID, question string, collections []string) {
	ps.publish(dto.ProgressMessage{
		Type:      ProgressStarted,
		SessionId: id,
		Data: map[string]interface{}{
			"question":    question,
			"collections": collections,
		},
	})
}

func (ps *publisherService) RoundCompleted(_ context.Context, ev executor.RoundEvent) {
	ps.publish(dto.ProgressMessage{
		Type:          ProgressRound,
		SessionId:     ev.SessionID,
		Round:         ev.Record.Round,
		TotalTokens:   ev.TotalTokens,
		EvidenceCount: ev.EvidenceCount,
		Data:          ev.Record,
	})
}

func (ps *publisherService) SessionFinished(_ context.Context, res *executor.Result, err error) {
	if res == nil {
		return
	}

	data := map[string]interface{}{
		"termination_reason": res.TerminationReason,
		"answer":             res.Answer,
	}
	if err != nil {
		data["error"] = err.Error()
	}

	msg := dto.ProgressMessage{
		Type:        ProgressFinished,
		SessionId:   res.SessionID,
		TotalTokens: res.TokensConsumed,
		Data:        data,
	}
	if res.State != nil {
		msg.Round = len(res.State.Rounds)
		msg.EvidenceCount = res.State.Evidence.Len()
	}
	ps.publish(msg)
}
