package cache

import (
	"context"
	"testing"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAcrossFormatting(t *testing.T) {
	p := executor.DefaultParams()

	a := Key("What is  X?", []string{"b", "a"}, p)
	b := Key("what is x?", []string{"a", "b"}, p)
	assert.Equal(t, a, b)
	assert.Contains(t, a, keyPrefix)

	p.MaxRounds++
	assert.NotEqual(t, a, Key("what is x?", []string{"a", "b"}, p))
	assert.NotEqual(t, a, Key("what is x?", []string{"a"}, executor.DefaultParams()))
}

func TestCacheable(t *testing.T) {
	assert.False(t, Cacheable(nil))
	assert.False(t, Cacheable(&executor.Result{TerminationReason: session.TerminationEvaluatorStop}))
	assert.False(t, Cacheable(&executor.Result{Answer: "a", TerminationReason: session.TerminationCancelled}))
	assert.True(t, Cacheable(&executor.Result{Answer: "a", TerminationReason: session.TerminationRoundBudget}))
}

func TestDisabledCacheIsNoop(t *testing.T) {
	c := NewAnswerCache(nil, 0)

	got, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, c.Put(context.Background(), "k", &executor.Result{Answer: "a"}))
}
