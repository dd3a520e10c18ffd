package embedding

import (
	"context"
	"fmt"
	"math"
)

// Provider turns text into a fixed-dimension vector.
// Implementations must be safe for concurrent use.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Kind is the closed set of supported embedding backends.
type Kind string

const (
	KindOllama Kind = "ollama"
	KindGemini Kind = "gemini"
	KindJina   Kind = "jina"
	KindOpenAI Kind = "openai"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindOllama, KindGemini, KindJina, KindOpenAI:
		return k, nil
	default:
		return "", fmt.Errorf("unsupported embedding provider: %q", s)
	}
}

// Normalize scales a vector to unit length (magnitude = 1).
// Cosine distance in pgvector and the memory store assume normalized input.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	magnitude = math.Sqrt(magnitude)

	// Avoid division by zero
	if magnitude == 0 {
		return vec
	}

	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
