package ragtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deepsearch-be/pkg/embedding"
	"deepsearch-be/pkg/vectorstore"
)

// Embedder hands out one-dimensional vectors that encode the query text,
// so Index can recover which query a search was issued for.
type Embedder struct {
	mu    sync.Mutex
	ids   map[string]int
	texts []string
	calls []string

	// Errs fails embedding of specific texts.
	Errs map[string]error
	// Hang blocks embedding of specific texts until the context is done.
	Hang map[string]bool
}

var _ embedding.Provider = (*Embedder)(nil)

func NewEmbedder() *Embedder {
	return &Embedder{ids: make(map[string]int), Errs: make(map[string]error), Hang: make(map[string]bool)}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	hang := e.Hang[text]
	err := e.Errs[text]
	e.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.ids[text]
	if !ok {
		id = len(e.texts)
		e.ids[text] = id
		e.texts = append(e.texts, text)
	}
	return []float32{float32(id)}, nil
}

// TextOf maps a vector produced by Embed back to its text.
func (e *Embedder) TextOf(vec []float32) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(vec) != 1 {
		return ""
	}
	id := int(vec[0])
	if id < 0 || id >= len(e.texts) {
		return ""
	}
	return e.texts[id]
}

// Calls lists the embedded texts in call order.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// AnyQuery matches every query in Index.Hits.
const AnyQuery = "*"

// Index is a scripted vectorstore.Store: hits are looked up by collection and
// the text of the query that produced the vector.
type Index struct {
	mu       sync.Mutex
	embedder *Embedder
	hits     map[string]map[string][]vectorstore.Hit
	errs     map[string]error
	delays   map[string]time.Duration
	infos    []vectorstore.CollectionInfo
	searches int
}

var _ vectorstore.Store = (*Index)(nil)

func NewIndex(e *Embedder) *Index {
	return &Index{
		embedder: e,
		hits:     make(map[string]map[string][]vectorstore.Hit),
		errs:     make(map[string]error),
		delays:   make(map[string]time.Duration),
	}
}

// AddCollection registers a collection for ListCollections.
func (x *Index) AddCollection(info vectorstore.CollectionInfo) *Index {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.infos = append(x.infos, info)
	return x
}

// On scripts the hits returned for query in collection. Use AnyQuery to match all.
func (x *Index) On(collection, query string, hits ...vectorstore.Hit) *Index {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.hits[collection] == nil {
		x.hits[collection] = make(map[string][]vectorstore.Hit)
	}
	for i := range hits {
		hits[i].Collection = collection
	}
	x.hits[collection][query] = append(x.hits[collection][query], hits...)
	return x
}

// Fail makes every search of the collection return err.
func (x *Index) Fail(collection string, err error) *Index {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.errs[collection] = err
	return x
}

// Slow delays every search of the collection.
func (x *Index) Slow(collection string, d time.Duration) *Index {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.delays[collection] = d
	return x
}

func (x *Index) Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Hit, error) {
	query := x.embedder.TextOf(vector)

	x.mu.Lock()
	x.searches++
	err := x.errs[collection]
	delay := x.delays[collection]
	var hits []vectorstore.Hit
	byQuery, known := x.hits[collection]
	if known {
		hits = append(hits, byQuery[query]...)
		if query != AnyQuery {
			hits = append(hits, byQuery[AnyQuery]...)
		}
	}
	for _, info := range x.infos {
		if info.Name == collection {
			known = true
		}
	}
	x.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrCollectionNotFound, collection)
	}
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (x *Index) ListCollections(ctx context.Context) ([]vectorstore.CollectionInfo, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]vectorstore.CollectionInfo, len(x.infos))
	copy(out, x.infos)
	return out, nil
}

// Searches counts Search calls.
func (x *Index) Searches() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.searches
}

// Hit is a shorthand constructor for scripted hits.
func Hit(id string, score float64, text string) vectorstore.Hit {
	return vectorstore.Hit{ChunkID: id, Score: score, Text: text, Reference: id + ".md"}
}
