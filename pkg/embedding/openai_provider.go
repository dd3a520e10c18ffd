package embedding

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider embeds through the OpenAI embeddings endpoint or a compatible server.
type OpenAIProvider struct {
	client *goopenai.Client
	model  string
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = string(goopenai.SmallEmbedding3)
	}
	return &OpenAIProvider{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(p.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned from api")
	}

	raw := resp.Data[0].Embedding
	v := make([]float32, len(raw))
	for i := range raw {
		v[i] = float32(raw[i])
	}
	return Normalize(v), nil
}
