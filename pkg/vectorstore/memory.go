package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Record is a chunk as held by the in-memory store.
type Record struct {
	ID        string
	Text      string
	Reference string
	Offset    int
	Vector    []float32
	Metadata  map[string]string
}

type memCollection struct {
	info    CollectionInfo
	records []Record
}

// Memory is a brute-force cosine store for local runs and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	order       []string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

// CreateCollection registers a collection; re-creating one updates its description.
func (m *Memory) CreateCollection(info CollectionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[info.Name]; ok {
		c.info = info
		return
	}
	m.collections[info.Name] = &memCollection{info: info}
	m.order = append(m.order, info.Name)
}

// Upsert adds records to a collection, replacing any with the same ID.
func (m *Memory) Upsert(collection string, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, r := range records {
		replaced := false
		for i := range c.records {
			if c.records[i].ID == r.ID {
				c.records[i] = r
				replaced = true
				break
			}
		}
		if !replaced {
			c.records = append(c.records, r)
		}
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	hits := make([]Hit, 0, len(c.records))
	for _, r := range c.records {
		hits = append(hits, Hit{
			ChunkID:    r.ID,
			Collection: collection,
			Text:       r.Text,
			Score:      cosine(vector, r.Vector),
			Reference:  r.Reference,
			Offset:     r.Offset,
			Metadata:   r.Metadata,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *Memory) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CollectionInfo, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.collections[name].info)
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
