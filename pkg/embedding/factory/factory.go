package factory

import (
	"deepsearch-be/pkg/embedding"
	"deepsearch-be/pkg/embedding/jina"
	"fmt"
)

type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewEmbeddingProvider(cfg Config) (embedding.Provider, error) {
	kind, err := embedding.ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	switch kind {
	case embedding.KindOllama:
		return embedding.NewOllamaProvider(cfg.BaseURL, cfg.Model), nil
	case embedding.KindGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini embedding requires an api key")
		}
		p := embedding.NewGeminiProvider(cfg.APIKey, cfg.Model)
		if cfg.BaseURL != "" {
			p.BaseURL = cfg.BaseURL
		}
		return p, nil
	case embedding.KindJina:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("jina embedding requires an api key")
		}
		return jina.NewJinaProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case embedding.KindOpenAI:
		return embedding.NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
