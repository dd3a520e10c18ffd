package reflection

import (
	"context"
	"errors"
	"testing"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/ragtest"
	"deepsearch-be/pkg/rag/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(fake *ragtest.LLM, maxEvidence int) *Evaluator {
	return NewEvaluator(fake, prompt.NewComposer(0), 50*time.Millisecond, maxEvidence, logger.NewNopLogger())
}

func TestEvaluateVerdicts(t *testing.T) {
	tests := []struct {
		name        string
		reply       ragtest.Reply
		wantStop    bool
		wantTokens  int
		wantVerdict session.Verdict
	}{
		{
			name:        "sufficient",
			reply:       ragtest.Reply{Content: `{"sufficient": true, "gap_description": "", "suggested_sub_queries": []}`, Tokens: 20},
			wantStop:    true,
			wantTokens:  20,
			wantVerdict: session.Verdict{Sufficient: true},
		},
		{
			name:       "continue with suggestions bounded by fan-out",
			reply:      ragtest.Reply{Content: "<think>hm</think>```json\n{\"sufficient\": false, \"gap_description\": \" dates \", \"suggested_sub_queries\": [\"a\", \"A\", \"b\", \"c\"]}\n```", Tokens: 30},
			wantStop:   false,
			wantTokens: 30,
			wantVerdict: session.Verdict{
				GapDescription: "dates",
				Suggested:      []string{"a", "b"},
			},
		},
		{
			name:        "unparseable",
			reply:       ragtest.Reply{Content: "Looks good to me!", Tokens: 5},
			wantStop:    true,
			wantTokens:  5,
			wantVerdict: session.Verdict{ParseFailed: true},
		},
		{
			name:        "missing sufficient field",
			reply:       ragtest.Reply{Content: `{"gap_description": "x"}`, Tokens: 6},
			wantStop:    true,
			wantTokens:  6,
			wantVerdict: session.Verdict{ParseFailed: true},
		},
		{
			name:        "call failed",
			reply:       ragtest.Reply{Err: errors.New("503")},
			wantStop:    true,
			wantVerdict: session.Verdict{CallFailed: true},
		},
		{
			name:        "call timed out",
			reply:       ragtest.Reply{Hang: true},
			wantStop:    true,
			wantVerdict: session.Verdict{CallFailed: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := ragtest.NewLLM().Script(ragtest.StageReflect, tt.reply)
			d := newEvaluator(fake, 0).Evaluate(context.Background(), Input{Question: "q", FanOut: 2})

			assert.Equal(t, tt.wantStop, d.Stop)
			assert.Equal(t, tt.wantTokens, d.Tokens)
			assert.Equal(t, tt.wantVerdict, d.Verdict)
		})
	}
}

func TestEvaluateTruncatesEvidence(t *testing.T) {
	fake := ragtest.NewLLM().Script(ragtest.StageReflect, ragtest.Reply{Content: `{"sufficient": true}`})
	evidence := []session.EvidenceChunk{
		{ChunkID: "top", Collection: "c", Text: "kept chunk"},
		{ChunkID: "low", Collection: "c", Text: "dropped chunk"},
	}

	newEvaluator(fake, 1).Evaluate(context.Background(), Input{Question: "q", Evidence: evidence, FanOut: 1})

	calls := fake.CallsFor(ragtest.StageReflect)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "kept chunk")
	assert.NotContains(t, calls[0].Prompt, "dropped chunk")
}

func TestStagnationPolicy(t *testing.T) {
	def := DefaultStagnationPolicy()
	assert.True(t, def.Stagnant(0, 0.5))
	assert.False(t, def.Stagnant(1, 0))

	withGain := StagnationPolicy{MinNewChunks: 1, MinScoreGain: 0.1}
	assert.False(t, withGain.Stagnant(0, 0.2))
	assert.True(t, withGain.Stagnant(0, 0.05))

	strict := StagnationPolicy{MinNewChunks: 3}
	assert.True(t, strict.Stagnant(2, 0))
}
