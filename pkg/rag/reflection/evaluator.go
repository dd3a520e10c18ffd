package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/session"
)

const module = "Reflection"

var errMissingSufficient = errors.New(`verdict has no "sufficient" field`)

// StagnationPolicy decides when a round made too little progress to be worth
// evaluating. A round is stagnant when it added fewer than MinNewChunks chunks
// and, if MinScoreGain is set, no existing chunk improved by at least that much.
type StagnationPolicy struct {
	MinNewChunks int
	MinScoreGain float64
}

func DefaultStagnationPolicy() StagnationPolicy {
	return StagnationPolicy{MinNewChunks: 1}
}

func (p StagnationPolicy) Stagnant(newChunks int, maxScoreGain float64) bool {
	if newChunks >= p.MinNewChunks {
		return false
	}
	if p.MinScoreGain > 0 && maxScoreGain >= p.MinScoreGain {
		return false
	}
	return true
}

// Input is what the evaluator judges.
type Input struct {
	Question string
	Issued   []string
	Evidence []session.EvidenceChunk // ranked
	FanOut   int
}

// Decision is the evaluator's output. Stop is true for a sufficient verdict
// and for every failure mode.
type Decision struct {
	Stop    bool
	Verdict session.Verdict
	Tokens  int
}

type rawVerdict struct {
	Sufficient *bool    `json:"sufficient"`
	Gap        string   `json:"gap_description"`
	Suggested  []string `json:"suggested_sub_queries"`
}

type Evaluator struct {
	llm         llm.Provider
	composer    *prompt.Composer
	timeout     time.Duration
	maxEvidence int
	logger      logger.ILogger
}

// NewEvaluator builds an evaluator. maxEvidence bounds how many ranked chunks
// are serialized into the prompt (0 means all).
func NewEvaluator(provider llm.Provider, composer *prompt.Composer, timeout time.Duration, maxEvidence int, logger logger.ILogger) *Evaluator {
	return &Evaluator{llm: provider, composer: composer, timeout: timeout, maxEvidence: maxEvidence, logger: logger}
}

func (e *Evaluator) Evaluate(ctx context.Context, in Input) Decision {
	fanOut := in.FanOut
	if fanOut < 1 {
		fanOut = 1
	}
	evidence := in.Evidence
	if e.maxEvidence > 0 && len(evidence) > e.maxEvidence {
		evidence = evidence[:e.maxEvidence]
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.llm.Generate(callCtx, e.composer.Reflect(in.Question, in.Issued, evidence, fanOut),
		llm.WithTemperature(0), llm.WithJSONMode())
	if err != nil {
		e.logger.Warn(module, "Reflection call failed, stopping", map[string]interface{}{
			"error": err.Error(),
		})
		return Decision{Stop: true, Verdict: session.Verdict{CallFailed: true}}
	}

	parsed := prompt.ParseJSON[rawVerdict](resp.Content)
	if parsed.OK() && parsed.Value.Sufficient == nil {
		parsed.Err = errMissingSufficient
	}
	if !parsed.OK() {
		e.logger.Warn(module, "Verdict unparseable, stopping", map[string]interface{}{
			"error": parsed.Err.Error(),
			"raw":   truncate(resp.Content, 200),
		})
		return Decision{Stop: true, Verdict: session.Verdict{ParseFailed: true}, Tokens: resp.TotalTokens}
	}

	v := parsed.Value
	verdict := session.Verdict{
		Sufficient:     *v.Sufficient,
		GapDescription: strings.TrimSpace(v.Gap),
		Suggested:      boundSuggestions(v.Suggested, fanOut),
	}

	e.logger.Info(module, "Verdict", map[string]interface{}{
		"sufficient": verdict.Sufficient,
		"gap":        verdict.GapDescription,
		"suggested":  verdict.Suggested,
		"tokens":     resp.TotalTokens,
	})
	return Decision{Stop: verdict.Sufficient, Verdict: verdict, Tokens: resp.TotalTokens}
}

func boundSuggestions(in []string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range in {
		key := session.NormalizeQuery(s)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(s))
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
