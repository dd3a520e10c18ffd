package response

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/session"
)

const module = "Synthesizer"

// ErrSynthesisFailed is returned when the final answer could not be generated.
var ErrSynthesisFailed = errors.New("answer synthesis failed")

var citationPattern = regexp.MustCompile(`\[source:\s*([^\]]+)\]`)

// Answer is the synthesizer's output.
type Answer struct {
	Text         string
	EvidenceUsed []session.EvidenceChunk
	Tokens       int
}

// Generator writes the final cited answer from accumulated evidence.
type Generator struct {
	llm       llm.Provider
	composer  *prompt.Composer
	timeout   time.Duration
	maxChunks int
	logger    logger.ILogger
}

// NewGenerator creates a synthesizer. maxChunks bounds the ranked evidence put
// into the prompt (0 means all).
func NewGenerator(provider llm.Provider, composer *prompt.Composer, timeout time.Duration, maxChunks int, logger logger.ILogger) *Generator {
	return &Generator{llm: provider, composer: composer, timeout: timeout, maxChunks: maxChunks, logger: logger}
}

// Generate answers question from evidence. ranked must be ordered best first.
func (g *Generator) Generate(ctx context.Context, question string, issued []string, ranked []session.EvidenceChunk) (*Answer, error) {
	if len(ranked) == 0 {
		g.logger.Info(module, "No evidence collected, returning explicit no-evidence answer", nil)
		return &Answer{Text: NoEvidenceAnswer}, nil
	}

	prompted := ranked
	if g.maxChunks > 0 && len(prompted) > g.maxChunks {
		prompted = prompted[:g.maxChunks]
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.llm.Generate(callCtx, g.composer.Synthesize(question, issued, prompted), llm.WithTemperature(0.3))
	if err != nil {
		g.logger.Error(module, "LLM generation failed", map[string]interface{}{
			"error": err,
		})
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	text := strings.TrimSpace(prompt.StripReasoning(resp.Content))
	used := citedChunks(text, prompted)

	g.logger.Info(module, "Answer generated", map[string]interface{}{
		"prompted_chunks": len(prompted),
		"cited_chunks":    len(used),
		"tokens":          resp.TotalTokens,
	})
	return &Answer{Text: text, EvidenceUsed: used, Tokens: resp.TotalTokens}, nil
}

// citedChunks returns the prompted chunks whose citation appears in the
// answer, in prompt order. An answer without any recognised citation is
// taken to draw on everything it was shown.
func citedChunks(answer string, prompted []session.EvidenceChunk) []session.EvidenceChunk {
	cited := make(map[string]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			cited[strings.TrimSpace(part)] = true
		}
	}

	var used []session.EvidenceChunk
	for _, c := range prompted {
		if cited[c.Citation()] {
			used = append(used, c)
		}
	}
	if len(used) == 0 {
		used = append(used, prompted...)
	}
	return used
}
