package llm

import (
	"context"
	"fmt"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Response is a completed generation plus the usage the backend reported for it.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
	JSONMode    bool   // Ask the backend for a JSON object when it supports it
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithJSONMode() Option {
	return func(o *Options) {
		o.JSONMode = true
	}
}

// Apply resolves options on top of the given defaults.
func Apply(defaults Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// Provider defines the contract for any LLM backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Chat sends a chat history to the model and returns the response
	Chat(ctx context.Context, history []Message, options ...Option) (*Response, error)

	// Generate sends a single prompt to the model (convenience method)
	Generate(ctx context.Context, prompt string, options ...Option) (*Response, error)
}

// Kind is the closed set of supported LLM backends.
type Kind string

const (
	KindOllama      Kind = "ollama"
	KindHuggingFace Kind = "huggingface"
	KindOpenAI      Kind = "openai"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindOllama, KindHuggingFace, KindOpenAI:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider: %q", s)
	}
}

// EstimateTokens approximates usage for backends that don't report it.
// Four characters per token is the usual rule of thumb for English text.
func EstimateTokens(texts ...string) int {
	total := 0
	for _, t := range texts {
		total += (len(t) + 3) / 4
	}
	return total
}
