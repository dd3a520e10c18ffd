package openai

import (
	"context"
	"deepsearch-be/pkg/llm"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// Provider wraps the chat completion API of OpenAI and of any server that
// speaks the same protocol (vLLM, LM Studio, Azure deployments behind a proxy).
type Provider struct {
	client *goopenai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

func NewProvider(apiKey, baseURL, model string) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = goopenai.GPT4oMini
	}
	return &Provider{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (*llm.Response, error) {
	opts := llm.Apply(llm.Options{Model: p.model, Temperature: 0.7}, options...)

	messages := make([]goopenai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		role := m.Role
		if role == "model" {
			role = goopenai.ChatMessageRoleAssistant
		}
		messages = append(messages, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	req := goopenai.ChatCompletionRequest{
		Model:       opts.Model,
		Messages:    messages,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices from openai api")
	}

	return &llm.Response{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (p *Provider) Generate(ctx context.Context, prompt string, options ...llm.Option) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{{Role: goopenai.ChatMessageRoleUser, Content: prompt}}, options...)
}
