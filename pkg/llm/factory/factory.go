package factory

import (
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/llm/huggingface"
	"deepsearch-be/pkg/llm/ollama"
	"deepsearch-be/pkg/llm/openai"
	"fmt"
)

// Config selects and parameterises one LLM backend.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

func NewLLMProvider(cfg Config) (llm.Provider, error) {
	kind, err := llm.ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}

	switch kind {
	case llm.KindOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, cfg.Model), nil
	case llm.KindHuggingFace:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("huggingface provider requires an api key")
		}
		return huggingface.NewHuggingFaceProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case llm.KindOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires an api key or a compatible base url")
		}
		return openai.NewProvider(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
