package session

import (
	"encoding/json"
	"sort"
	"sync"
)

// MergeResult says what a single Merge did to the set.
type MergeResult int

const (
	MergeUnchanged MergeResult = iota
	MergeAdded
	MergeRefreshed
)

// EvidenceSet is an append-only, deduplicated collection of chunks.
// Chunks keep their insertion order, which is the tie-break when ranking.
// A re-retrieved chunk only ever has its score raised.
type EvidenceSet struct {
	mu     sync.Mutex
	index  map[ChunkKey]int
	chunks []EvidenceChunk
}

func NewEvidenceSet() *EvidenceSet {
	return &EvidenceSet{index: make(map[ChunkKey]int)}
}

// Merge adds c or refreshes the stored score. gain is how much the stored
// score increased (the full score for a new chunk).
func (s *EvidenceSet) Merge(c EvidenceChunk) (result MergeResult, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	if i, ok := s.index[key]; ok {
		if c.Score > s.chunks[i].Score {
			gain = c.Score - s.chunks[i].Score
			s.chunks[i].Score = c.Score
			return MergeRefreshed, gain
		}
		return MergeUnchanged, 0
	}

	s.index[key] = len(s.chunks)
	s.chunks = append(s.chunks, c)
	return MergeAdded, c.Score
}

func (s *EvidenceSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func (s *EvidenceSet) Get(key ChunkKey) (EvidenceChunk, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return EvidenceChunk{}, false
	}
	return s.chunks[i], true
}

// Chunks returns a snapshot in insertion order.
func (s *EvidenceSet) Chunks() []EvidenceChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EvidenceChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Ranked returns a snapshot ordered by score, highest first. Equal scores
// keep insertion order.
func (s *EvidenceSet) Ranked() []EvidenceChunk {
	out := s.Chunks()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Top returns at most n ranked chunks. n <= 0 means all of them.
func (s *EvidenceSet) Top(n int) []EvidenceChunk {
	ranked := s.Ranked()
	if n > 0 && len(ranked) > n {
		return ranked[:n]
	}
	return ranked
}

// Clone returns an independent copy. Metadata maps are shared and must be
// treated as read-only.
func (s *EvidenceSet) Clone() *EvidenceSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &EvidenceSet{
		index:  make(map[ChunkKey]int, len(s.index)),
		chunks: make([]EvidenceChunk, len(s.chunks)),
	}
	copy(c.chunks, s.chunks)
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}

func (s *EvidenceSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Chunks())
}

func (s *EvidenceSet) UnmarshalJSON(data []byte) error {
	var chunks []EvidenceChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = make(map[ChunkKey]int, len(chunks))
	s.chunks = s.chunks[:0]
	for _, c := range chunks {
		if _, dup := s.index[c.Key()]; dup {
			continue
		}
		s.index[c.Key()] = len(s.chunks)
		s.chunks = append(s.chunks, c)
	}
	return nil
}
