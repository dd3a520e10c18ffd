package session

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(coll, id string, score float64) EvidenceChunk {
	return EvidenceChunk{ChunkID: id, Collection: coll, Text: id + " text", Score: score, Locator: Locator{Reference: id + ".md"}}
}

func TestEvidenceSetMergeDeduplicates(t *testing.T) {
	s := NewEvidenceSet()

	res, gain := s.Merge(chunk("a", "1", 0.5))
	assert.Equal(t, MergeAdded, res)
	assert.InDelta(t, 0.5, gain, 1e-9)

	res, gain = s.Merge(chunk("a", "1", 0.4))
	assert.Equal(t, MergeUnchanged, res)
	assert.Zero(t, gain)

	res, gain = s.Merge(chunk("a", "1", 0.8))
	assert.Equal(t, MergeRefreshed, res)
	assert.InDelta(t, 0.3, gain, 1e-9)

	// same chunk id in another collection is a different chunk
	res, _ = s.Merge(chunk("b", "1", 0.1))
	assert.Equal(t, MergeAdded, res)

	assert.Equal(t, 2, s.Len())
	got, ok := s.Get(ChunkKey{Collection: "a", ChunkID: "1"})
	require.True(t, ok)
	assert.InDelta(t, 0.8, got.Score, 1e-9)
}

func TestEvidenceSetRankedTieBreaksByInsertion(t *testing.T) {
	s := NewEvidenceSet()
	s.Merge(chunk("c", "first", 0.7))
	s.Merge(chunk("c", "second", 0.9))
	s.Merge(chunk("c", "third", 0.7))

	ranked := s.Ranked()
	require.Len(t, ranked, 3)
	assert.Equal(t, "second", ranked[0].ChunkID)
	assert.Equal(t, "first", ranked[1].ChunkID)
	assert.Equal(t, "third", ranked[2].ChunkID)

	assert.Len(t, s.Top(2), 2)
	assert.Len(t, s.Top(0), 3)
}

func TestEvidenceSetCloneIsIndependent(t *testing.T) {
	s := NewEvidenceSet()
	s.Merge(chunk("c", "1", 0.5))

	c := s.Clone()
	c.Merge(chunk("c", "2", 0.5))
	c.Merge(chunk("c", "1", 0.9))

	assert.Equal(t, 1, s.Len())
	orig, _ := s.Get(ChunkKey{Collection: "c", ChunkID: "1"})
	assert.InDelta(t, 0.5, orig.Score, 1e-9)
	assert.Equal(t, 2, c.Len())
}

func TestEvidenceSetConcurrentMerge(t *testing.T) {
	s := NewEvidenceSet()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Merge(chunk("c", "shared", float64(i)/100))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	got, _ := s.Get(ChunkKey{Collection: "c", ChunkID: "shared"})
	assert.InDelta(t, 0.49, got.Score, 1e-9)
}

func TestEvidenceSetJSONRoundTrip(t *testing.T) {
	s := NewEvidenceSet()
	s.Merge(chunk("c", "1", 0.5))
	s.Merge(chunk("c", "2", 0.6))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	restored := NewEvidenceSet()
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, s.Chunks(), restored.Chunks())
}

func TestChunkContextTextPrefersWiderWindow(t *testing.T) {
	c := chunk("c", "1", 0.5)
	assert.Equal(t, "1 text", c.ContextText())

	c.Metadata = map[string]string{MetadataWiderText: "before 1 text after"}
	assert.Equal(t, "before 1 text after", c.ContextText())
}

func TestChunkCitation(t *testing.T) {
	c := chunk("c", "1", 0.5)
	c.Locator.Offset = 4
	assert.Equal(t, "1.md#4", c.Citation())

	c.Locator.Reference = ""
	assert.Equal(t, "c/1", c.Citation())
}

func TestStateCommitRejectsNonIncreasingRounds(t *testing.T) {
	st := NewState(NewQuestion("  why?  "))
	assert.Equal(t, "why?", st.Question.Text)

	require.NoError(t, st.Commit(RoundRecord{Round: 1, Tokens: 10, SubQueries: []SubQuery{{Text: "a", Round: 1}}}, nil))
	require.Error(t, st.Commit(RoundRecord{Round: 1}, nil))
	require.NoError(t, st.Commit(RoundRecord{Round: 2, Tokens: 5, PlannerParseFailed: true, SubQueries: []SubQuery{{Text: "b", Round: 2}}}, nil))

	assert.Equal(t, []string{"a", "b"}, st.IssuedQueries())
	assert.Equal(t, 15, st.RoundTokens())
	assert.Equal(t, 1, st.ParseFailures())

	st.AddTokens(-3)
	st.AddTokens(7)
	assert.Equal(t, 7, st.Tokens)
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "what is x", NormalizeQuery("  What   IS x "))
}
