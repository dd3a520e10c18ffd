package response

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

func evidence() []session.EvidenceChunk {
	return []session.EvidenceChunk{
		{ChunkID: "1", Collection: "kb", Text: "alpha", Score: 0.9, Locator: session.Locator{Reference: "a.md"}},
		{ChunkID: "2", Collection: "kb", Text: "beta", Score: 0.8, Locator: session.Locator{Reference: "b.md", Offset: 1}},
		{ChunkID: "3", Collection: "kb", Text: "gamma", Score: 0.1, Locator: session.Locator{Reference: "c.md"}},
	}
}

func newGenerator(fake *ragtest.LLM, maxChunks int) *Generator {
	return NewGenerator(fake, prompt.NewComposer(0), 50*time.Millisecond, maxChunks, logger.NewNopLogger())
}

func TestGenerateNoEvidenceSkipsModel(t *testing.T) {
	fake := ragtest.NewLLM()
	ans, err := newGenerator(fake, 0).Generate(context.Background(), "q", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, NoEvidenceAnswer, ans.Text)
	assert.Empty(t, ans.EvidenceUsed)
	assert.Zero(t, ans.Tokens)
	assert.Empty(t, fake.Calls())
}

func TestGenerateTracksCitations(t *testing.T) {
	fake := ragtest.NewLLM().Script(ragtest.StageSynthesize, ragtest.Reply{
		Content: "<think>drafting</think>Alpha holds [source: a.md#0]. Beta too [source: b.md#1, a.md#0]. Nope [source: z.md#9].",
		Tokens:  40,
	})

	ans, err := newGenerator(fake, 2).Generate(context.Background(), "q", []string{"q"}, evidence())
	require.NoError(t, err)

	assert.Equal(t, 40, ans.Tokens)
	assert.NotContains(t, ans.Text, "drafting")
	require.Len(t, ans.EvidenceUsed, 2)
	assert.Equal(t, "1", ans.EvidenceUsed[0].ChunkID)
	assert.Equal(t, "2", ans.EvidenceUsed[1].ChunkID)

	p := fake.CallsFor(ragtest.StageSynthesize)[0].Prompt
	assert.NotContains(t, p, "gamma", "chunks beyond the limit are not prompted")
}

func TestGenerateWithoutCitationsUsesAllPrompted(t *testing.T) {
	fake := ragtest.NewLLM().Script(ragtest.StageSynthesize, ragtest.Reply{Content: "An uncited answer.", Tokens: 10})

	ans, err := newGenerator(fake, 2).Generate(context.Background(), "q", nil, evidence())
	require.NoError(t, err)
	assert.Len(t, ans.EvidenceUsed, 2)
}

func TestGenerateFailureIsDistinguishable(t *testing.T) {
	for name, reply := range map[string]ragtest.Reply{
		"error":   {Err: errors.New("model offline")},
		"timeout": {Hang: true},
	} {
		t.Run(name, func(t *testing.T) {
			fake := ragtest.NewLLM().Script(ragtest.StageSynthesize, reply)
			ans, err := newGenerator(fake, 0).Generate(context.Background(), "q", nil, evidence())

			assert.Nil(t, ans)
			assert.True(t, errors.Is(err, ErrSynthesisFailed))
		})
	}
}
