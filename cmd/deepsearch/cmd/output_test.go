package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"deepsearch-be/pkg/events"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/vectorstore"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, &executor.Result{
		Answer: "Refunds take 14 days [source: policy.md#3].",
		EvidenceUsed: []session.EvidenceChunk{{
			ChunkID:    "c1",
			Collection: "policies",
			Score:      0.8123,
			Locator:    session.Locator{Reference: "policy.md", Offset: 3},
		}},
		TokensConsumed:    120,
		TerminationReason: session.TerminationRoundBudget,
		State:             &session.State{Rounds: []session.RoundRecord{{Round: 1}, {Round: 2}}},
	})

	out := buf.String()
	assert.Contains(t, out, "Refunds take 14 days")
	assert.Contains(t, out, "[1] policy.md#3 (policies, score 0.812)")
	assert.Contains(t, out, "2 round(s), 120 tokens, stopped: round_budget_exhausted")
}

func TestPrintCollections(t *testing.T) {
	var buf bytes.Buffer
	printCollections(&buf, nil)
	assert.Equal(t, "No collections found\n", buf.String())

	buf.Reset()
	printCollections(&buf, []vectorstore.CollectionInfo{
		{Name: "hr", Description: "people policies", Default: true},
		{Name: "eng"},
	})
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `hr\s+yes\s+people policies`, out)
	assert.Contains(t, out, "eng")
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	e := events.BaseEvent{
		Type:       events.QueryCompleted,
		Data:       map[string]interface{}{"session_id": "abc", "rounds": 2},
		OccurredAt: time.Date(2026, 1, 2, 10, 11, 12, 0, time.UTC),
	}
	printEvent(&buf, e)
	assert.Equal(t, "10:11:12 QUERY_COMPLETED rounds=2 session_id=abc\n", buf.String())
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)
	ctx := context.Background()

	p.SessionStarted(ctx, uuid.Nil, "why?", []string{"a", "b"})
	p.RoundCompleted(ctx, executor.RoundEvent{
		Record: session.RoundRecord{
			Round:       1,
			SubQueries:  []session.SubQuery{{Text: "sub one", Round: 1}},
			NewChunks:   3,
			Tokens:      40,
			TotalPairs:  2,
			FailedPairs: 1,
			Verdict:     &session.Verdict{Sufficient: false, GapDescription: "dates missing", ParseFailed: true},
		},
		TotalTokens:   45,
		EvidenceCount: 3,
	})
	p.SessionFinished(ctx, &executor.Result{TerminationReason: session.TerminationEvaluatorStop}, nil)

	out := buf.String()
	assert.Contains(t, out, "why?")
	assert.Contains(t, out, "collections: a, b")
	assert.Contains(t, out, "round 1: +3 new, 0 refreshed, 40 tokens (total 45), 3 chunks")
	assert.Contains(t, out, "sub one")
	assert.Contains(t, out, "1 of 2 searches failed")
	assert.Contains(t, out, "fallback used")
	assert.Contains(t, out, "gap: dates missing")
	assert.Contains(t, out, "done (evaluator_stop)")
}
