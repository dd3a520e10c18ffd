package metrics

import (
	"context"
	"errors"
	"testing"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderTracksSessionLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	ctx := context.Background()

	q := session.NewQuestion("what?")
	state := session.NewState(q)

	r.SessionStarted(ctx, q.ID, q.Text, []string{"kb"})
	assert.Equal(t, float64(1), testutil.ToFloat64(r.sessionsActive))

	r.RoundCompleted(ctx, executor.RoundEvent{
		SessionID: q.ID,
		Record: session.RoundRecord{
			Round:              1,
			NewChunks:          3,
			FailedPairs:        2,
			PlannerParseFailed: true,
			Verdict:            &session.Verdict{ParseFailed: true},
		},
	})
	assert.Equal(t, float64(2), testutil.ToFloat64(r.failedPairs))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.parseFailures.WithLabelValues("planner")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.parseFailures.WithLabelValues("evaluator")))

	r.SessionFinished(ctx, &executor.Result{
		SessionID:         q.ID,
		TerminationReason: session.TerminationEvaluatorStop,
		TokensConsumed:    900,
		State:             state,
	}, nil)

	assert.Equal(t, float64(0), testutil.ToFloat64(r.sessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.sessionsTotal.WithLabelValues("evaluator_stop", "answered")))
	assert.Empty(t, r.started)

	count, err := testutil.GatherAndCount(reg, "deepsearch_session_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecorderLabelsSynthesisFailures(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	q := session.NewQuestion("q")

	r.SessionStarted(context.Background(), q.ID, q.Text, nil)
	r.SessionFinished(context.Background(), &executor.Result{
		SessionID:         q.ID,
		TerminationReason: session.TerminationNoProgress,
	}, errors.New("boom"))

	assert.Equal(t, float64(1), testutil.ToFloat64(r.sessionsTotal.WithLabelValues("no_progress", "synthesis_failed")))
}
