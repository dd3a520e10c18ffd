package search

import (
	"context"
	"fmt"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/embedding"
	"deepsearch-be/pkg/rag/rerank"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/vectorstore"

	"golang.org/x/sync/errgroup"
)

const module = "Retrieval"

// Orchestrator fans sub-queries out over collections and merges the hits
// into an evidence set.
type Orchestrator struct {
	embedder embedding.Provider
	store    vectorstore.Store
	config   Config
	reranker *rerank.Reranker
	logger   logger.ILogger
}

// Config encapsulates search parameters
type Config struct {
	TopK          int
	MinScore      float64 // when positive, hits below this score are dropped before merging
	Concurrency   int
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
}

// DefaultConfig returns default search configuration
func DefaultConfig() Config {
	return Config{
		TopK:          5,
		MinScore:      0,
		Concurrency:   8,
		EmbedTimeout:  15 * time.Second,
		SearchTimeout: 15 * time.Second,
	}
}

// Stats describes what one Execute call contributed.
type Stats struct {
	Pairs        int
	FailedPairs  int
	Hits         int
	Added        int
	Refreshed    int
	MaxScoreGain float64
	// Rerank outcome. Tokens is what the rerank calls reported.
	Rejected     int
	RerankFailed int
	Tokens       int
}

func NewOrchestrator(embedder embedding.Provider, store vectorstore.Store, config Config, logger logger.ILogger) *Orchestrator {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Orchestrator{embedder: embedder, store: store, config: config, logger: logger}
}

// WithReranker has every new hit judged by the model before it is merged.
func (o *Orchestrator) WithReranker(r *rerank.Reranker) *Orchestrator {
	o.reranker = r
	return o
}

type pairResult struct {
	hits []vectorstore.Hit
	err  error
}

// Execute retrieves evidence for every (sub-query, collection) pair and merges
// it into into. topK <= 0 uses the configured default. Failed pairs are
// logged and skipped; Execute itself never fails. With a reranker, hits not
// yet in into are judged against question and the sub-queries one call at a
// time.
func (o *Orchestrator) Execute(
	ctx context.Context,
	question string,
	queries []session.SubQuery,
	collections []string,
	topK int,
	into *session.EvidenceSet,
) Stats {
	if topK <= 0 {
		topK = o.config.TopK
	}
	stats := Stats{Pairs: len(queries) * len(collections)}
	if stats.Pairs == 0 {
		return stats
	}

	vectors := o.embedAll(ctx, queries)

	results := make([]pairResult, stats.Pairs)
	var g errgroup.Group
	g.SetLimit(o.config.Concurrency)

	for qi := range queries {
		for ci, collection := range collections {
			idx := qi*len(collections) + ci
			if vectors[qi].err != nil {
				results[idx].err = vectors[qi].err
				continue
			}
			vec := vectors[qi].vector
			g.Go(func() error {
				hits, err := o.search(ctx, collection, vec, topK)
				results[idx] = pairResult{hits: hits, err: err}
				return nil
			})
		}
	}
	_ = g.Wait()

	var judge *judging
	if o.reranker != nil {
		judge = &judging{queries: rerankQueries(question, queries), seen: make(map[session.ChunkKey]bool)}
	}

	// Merge in a fixed order so ranking ties are reproducible
	for qi, q := range queries {
		for ci, collection := range collections {
			res := results[qi*len(collections)+ci]
			if res.err != nil {
				stats.FailedPairs++
				o.logger.Warn(module, "Retrieval pair failed", map[string]interface{}{
					"sub_query":  q.Text,
					"collection": collection,
					"error":      res.err.Error(),
				})
				continue
			}
			for _, hit := range res.hits {
				if o.config.MinScore > 0 && hit.Score < o.config.MinScore {
					continue
				}
				if hit.Collection == "" {
					hit.Collection = collection
				}
				stats.Hits++
				if judge != nil && !o.accept(ctx, judge, into, hit, &stats) {
					continue
				}
				o.merge(into, hit, q.Round, &stats)
			}
		}
	}

	o.logger.Debug(module, "Retrieval finished", map[string]interface{}{
		"pairs":        stats.Pairs,
		"failed_pairs": stats.FailedPairs,
		"hits":         stats.Hits,
		"added":        stats.Added,
		"refreshed":    stats.Refreshed,
		"rejected":     stats.Rejected,
	})
	return stats
}

type judging struct {
	queries []string
	seen    map[session.ChunkKey]bool
}

func rerankQueries(question string, queries []session.SubQuery) []string {
	out := make([]string, 0, len(queries)+1)
	if question != "" {
		out = append(out, question)
	}
	for _, q := range queries {
		if q.Text != question {
			out = append(out, q.Text)
		}
	}
	return out
}

// accept reports whether hit may be merged. Chunks already in the evidence
// were accepted earlier and are not judged again; each new chunk is judged
// once per call. A failed rerank call keeps the chunk.
func (o *Orchestrator) accept(ctx context.Context, j *judging, into *session.EvidenceSet, hit vectorstore.Hit, stats *Stats) bool {
	key := session.ChunkKey{Collection: hit.Collection, ChunkID: hit.ChunkID}
	if _, ok := into.Get(key); ok {
		return true
	}
	if keep, ok := j.seen[key]; ok {
		return keep
	}
	if ctx.Err() != nil {
		return true
	}

	verdict, err := o.reranker.Judge(ctx, j.queries, hit)
	stats.Tokens += verdict.Tokens
	keep := verdict.Keep
	if err != nil {
		stats.RerankFailed++
		keep = true
		o.logger.Warn(module, "Rerank failed, keeping chunk", map[string]interface{}{
			"chunk_id":   hit.ChunkID,
			"collection": hit.Collection,
			"error":      err.Error(),
		})
	}
	if !keep {
		stats.Rejected++
	}
	j.seen[key] = keep
	return keep
}

func (o *Orchestrator) merge(into *session.EvidenceSet, hit vectorstore.Hit, round int, stats *Stats) {
	result, gain := into.Merge(session.EvidenceChunk{
		ChunkID:    hit.ChunkID,
		Collection: hit.Collection,
		Text:       hit.Text,
		Score:      hit.Score,
		Locator:    session.Locator{Reference: hit.Reference, Offset: hit.Offset},
		FirstRound: round,
		Metadata:   hit.Metadata,
	})
	switch result {
	case session.MergeAdded:
		stats.Added++
	case session.MergeRefreshed:
		stats.Refreshed++
		if gain > stats.MaxScoreGain {
			stats.MaxScoreGain = gain
		}
	}
}

type embedResult struct {
	vector []float32
	err    error
}

// embedAll embeds each sub-query once; the vector is reused for every collection.
func (o *Orchestrator) embedAll(ctx context.Context, queries []session.SubQuery) []embedResult {
	out := make([]embedResult, len(queries))
	var g errgroup.Group
	g.SetLimit(o.config.Concurrency)

	for i, q := range queries {
		g.Go(func() error {
			callCtx, cancel := withTimeout(ctx, o.config.EmbedTimeout)
			defer cancel()

			vec, err := o.embedder.Embed(callCtx, q.Text)
			if err != nil {
				err = fmt.Errorf("embedding generation failed: %w", err)
			}
			out[i] = embedResult{vector: vec, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorstore.Hit, error) {
	callCtx, cancel := withTimeout(ctx, o.config.SearchTimeout)
	defer cancel()

	hits, err := o.store.Search(callCtx, collection, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return hits, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
