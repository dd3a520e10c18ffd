package store

import (
	"context"
	"errors"
	"testing"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	s := NewSession(id, "alice", "what is x?", executor.DefaultParams(), cancel)
	assert.Equal(t, StatusRunning, s.Status())

	s.AddRound(executor.RoundEvent{SessionID: id, Record: session.RoundRecord{Round: 1, NewChunks: 2}, TotalTokens: 40, EvidenceCount: 2})
	v := s.Snapshot()
	require.Len(t, v.Rounds, 1)
	assert.Equal(t, 40, v.TokensConsumed)
	assert.Nil(t, v.FinishedAt)

	assert.True(t, s.Cancel())
	assert.Error(t, ctx.Err())

	state := session.NewState(session.Question{ID: id, Text: "what is x?"})
	s.Finish(&executor.Result{SessionID: id, Answer: "partial", TerminationReason: session.TerminationCancelled, TokensConsumed: 55, State: state}, nil)

	v = s.Snapshot()
	assert.Equal(t, StatusCancelled, v.Status)
	assert.Equal(t, "partial", v.Answer)
	assert.Equal(t, 55, v.TokensConsumed)
	assert.NotNil(t, v.FinishedAt)
	assert.False(t, s.Cancel(), "finished sessions cannot be cancelled")

	// first outcome wins
	s.Finish(nil, errors.New("late"))
	assert.Equal(t, StatusCancelled, s.Status())
}

func TestSessionFinishWithError(t *testing.T) {
	s := NewSession(uuid.New(), "", "q", executor.DefaultParams(), nil)
	s.Finish(&executor.Result{TerminationReason: session.TerminationEvaluatorStop}, errors.New("answer synthesis failed: boom"))

	v := s.Snapshot()
	assert.Equal(t, StatusFailed, v.Status)
	assert.Equal(t, "answer synthesis failed: boom", v.Error)
	assert.Equal(t, session.TerminationEvaluatorStop, v.TerminationReason)
}
