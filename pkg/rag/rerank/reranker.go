package rerank

import (
	"context"
	"fmt"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/vectorstore"
)

const module = "Reranker"

// Judgement is the model's call on one hit.
type Judgement struct {
	Keep        bool
	Tokens      int
	ParseFailed bool
}

// Reranker asks the model whether each retrieved chunk is relevant before it
// joins the evidence.
type Reranker struct {
	llm      llm.Provider
	composer *prompt.Composer
	timeout  time.Duration
	logger   logger.ILogger
}

func NewReranker(provider llm.Provider, composer *prompt.Composer, timeout time.Duration, logger logger.ILogger) *Reranker {
	return &Reranker{llm: provider, composer: composer, timeout: timeout, logger: logger}
}

// Judge decides whether hit helps with any of queries. An unparseable answer
// rejects the hit. A failed call returns an error and the caller decides.
func (r *Reranker) Judge(ctx context.Context, queries []string, hit vectorstore.Hit) (Judgement, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	text := hit.Text
	if w := hit.Metadata[session.MetadataWiderText]; w != "" {
		text = w
	}

	resp, err := r.llm.Generate(callCtx, r.composer.Rerank(queries, text), llm.WithTemperature(0))
	if err != nil {
		return Judgement{}, fmt.Errorf("rerank call failed: %w", err)
	}

	out := prompt.ParseYesNo(resp.Content)
	if !out.OK() {
		r.logger.Warn(module, "Unreadable rerank answer, rejecting chunk", map[string]interface{}{
			"chunk_id": hit.ChunkID,
			"raw":      out.Raw,
		})
		return Judgement{Tokens: resp.TotalTokens, ParseFailed: true}, nil
	}
	return Judgement{Keep: out.Value, Tokens: resp.TotalTokens}, nil
}
