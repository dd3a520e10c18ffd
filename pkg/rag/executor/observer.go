package executor

import (
	"context"

	"deepsearch-be/pkg/rag/session"

	"github.com/google/uuid"
)

// RoundEvent is emitted after each committed round.
type RoundEvent struct {
	SessionID     uuid.UUID
	Question      string
	Record        session.RoundRecord
	TotalTokens   int
	EvidenceCount int
}

// Observer receives progress notifications from a running session.
// Calls are made synchronously from the loop, so implementations must be quick.
type Observer interface {
	SessionStarted(ctx context.Context, id uuid.UUID, question string, collections []string)
	RoundCompleted(ctx context.Context, ev RoundEvent)
	SessionFinished(ctx context.Context, res *Result, err error)
}

type NopObserver struct{}

func (NopObserver) SessionStarted(context.Context, uuid.UUID, string, []string) {}
func (NopObserver) RoundCompleted(context.Context, RoundEvent)                  {}
func (NopObserver) SessionFinished(context.Context, *Result, error)             {}

// MultiObserver fans notifications out in order.
type MultiObserver []Observer

func (m MultiObserver) SessionStarted(ctx context.Context, id uuid.UUID, question string, collections []string) {
	for _, o := range m {
		o.SessionStarted(ctx, id, question, collections)
	}
}

func (m MultiObserver) RoundCompleted(ctx context.Context, ev RoundEvent) {
	for _, o := range m {
		o.RoundCompleted(ctx, ev)
	}
}

func (m MultiObserver) SessionFinished(ctx context.Context, res *Result, err error) {
	for _, o := range m {
		o.SessionFinished(ctx, res, err)
	}
}
