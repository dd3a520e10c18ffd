package bootstrap

import (
	"fmt"

	"deepsearch-be/internal/config"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/embedding"
	embeddingFactory "deepsearch-be/pkg/embedding/factory"
	"deepsearch-be/pkg/llm"
	llmFactory "deepsearch-be/pkg/llm/factory"
	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/planner"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/reflection"
	"deepsearch-be/pkg/rag/rerank"
	"deepsearch-be/pkg/rag/response"
	"deepsearch-be/pkg/rag/router"
	"deepsearch-be/pkg/rag/search"
	"deepsearch-be/pkg/vectorstore"

	"gorm.io/gorm"
)

// Gateways are the three external capabilities the search loop depends on.
type Gateways struct {
	LLM      llm.Provider
	Embedder embedding.Provider
	Store    vectorstore.Store
}

// NewGateways builds the configured providers. db is only used by pgvector.
func NewGateways(cfg *config.Config, db *gorm.DB) (*Gateways, error) {
	llmProvider, err := llmFactory.NewLLMProvider(llmFactory.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	embedder, err := embeddingFactory.NewEmbeddingProvider(embeddingFactory.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}

	store, err := vectorstore.New(vectorstore.Config{
		Provider:          cfg.VectorStore.Provider,
		Endpoint:          cfg.VectorStore.Endpoint,
		APIKey:            cfg.VectorStore.APIKey,
		DefaultCollection: cfg.VectorStore.DefaultCollection,
		Descriptions:      cfg.VectorStore.Descriptions,
	}, db)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	return &Gateways{LLM: llmProvider, Embedder: embedder, Store: store}, nil
}

// NewSearchController assembles the deep search loop from config. observer
// receives progress of every session and may be nil.
func NewSearchController(cfg *config.Config, gw *Gateways, observer executor.Observer, log logger.ILogger) *executor.Controller {
	s := cfg.Search
	composer := prompt.NewComposer(s.MaxChunkChars)

	retrieval := search.NewOrchestrator(gw.Embedder, gw.Store, search.Config{
		TopK:          s.TopK,
		MinScore:      s.MinScore,
		Concurrency:   s.Concurrency,
		EmbedTimeout:  s.Timeouts.Embed,
		SearchTimeout: s.Timeouts.Search,
	}, log)
	if s.Rerank {
		retrieval.WithReranker(rerank.NewReranker(gw.LLM, composer, s.Timeouts.Reflect, log))
	}

	return executor.NewController(executor.Dependencies{
		Planner:     planner.NewPlanner(gw.LLM, composer, s.Timeouts.Plan, log),
		Retrieval:   retrieval,
		Evaluator:   reflection.NewEvaluator(gw.LLM, composer, s.Timeouts.Reflect, s.ReflectionChunks, log),
		Synthesizer: response.NewGenerator(gw.LLM, composer, s.Timeouts.Synthesize, s.SynthesisChunks, log),
		Router:      router.NewRouter(gw.LLM, composer, s.Timeouts.Plan, log),
		Store:       gw.Store,
		Observer:    observer,
	}, executor.Config{
		Defaults: executor.Params{
			MaxRounds:   s.MaxRounds,
			TokenBudget: s.TokenBudget,
			TopK:        s.TopK,
			FanOut:      s.FanOut,
		},
		Stagnation: reflection.StagnationPolicy{
			MinNewChunks: s.MinNewChunks,
			MinScoreGain: s.MinScoreGain,
		},
		RouteCollections: s.RouteCollections,
		PlanningEvidence: 10,
	}, log)
}
