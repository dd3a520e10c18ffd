package planner

import (
	"context"
	"fmt"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/llm"
	"deepsearch-be/pkg/rag/prompt"
	"deepsearch-be/pkg/rag/session"
)

const module = "Planner"

// Request carries everything the planner may need for one round.
type Request struct {
	Question string
	Round    int
	FanOut   int
	// Issued holds every sub-query text of earlier rounds.
	Issued []string
	// Suggested and Gap come from the previous round's verdict.
	Suggested []string
	Gap       string
	Evidence  []session.EvidenceChunk
}

// Plan is the planner's output for one round.
type Plan struct {
	SubQueries  []session.SubQuery
	Tokens      int
	ParseFailed bool
}

func (p Plan) Texts() []string {
	out := make([]string, len(p.SubQueries))
	for i, q := range p.SubQueries {
		out[i] = q.Text
	}
	return out
}

// Planner turns a question, or the gaps left by earlier rounds, into sub-queries.
type Planner struct {
	llm      llm.Provider
	composer *prompt.Composer
	timeout  time.Duration
	logger   logger.ILogger
}

func NewPlanner(provider llm.Provider, composer *prompt.Composer, timeout time.Duration, logger logger.ILogger) *Planner {
	return &Planner{llm: provider, composer: composer, timeout: timeout, logger: logger}
}

// Plan never fails: model and parse errors fall back to the original question.
func (p *Planner) Plan(ctx context.Context, req Request) Plan {
	fanOut := req.FanOut
	if fanOut < 1 {
		fanOut = 1
	}

	if req.Round <= 1 {
		return p.decompose(ctx, req, fanOut)
	}

	seen := seenSet(req.Issued)
	if fresh := dedupe(req.Suggested, seen, fanOut); len(fresh) > 0 {
		p.logger.Debug(module, "Using evaluator suggestions", map[string]interface{}{
			"round":       req.Round,
			"sub_queries": fresh,
		})
		return Plan{SubQueries: toSubQueries(fresh, req.Round, "suggested by evaluator")}
	}

	return p.planGaps(ctx, req, fanOut, seen)
}

func (p *Planner) decompose(ctx context.Context, req Request, fanOut int) Plan {
	content, tokens, err := p.generate(ctx, p.composer.Decompose(req.Question, fanOut))
	if err != nil {
		p.logger.Warn(module, "Decomposition call failed, using original question", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback(req, tokens, true)
	}

	parsed := prompt.ParseStringList(content)
	if !parsed.OK() {
		p.logger.Warn(module, "Decomposition output unparseable, using original question", map[string]interface{}{
			"error": parsed.Err.Error(),
			"raw":   truncate(content, 200),
		})
		return fallback(req, tokens, true)
	}

	queries := dedupe(parsed.Value, map[string]bool{}, fanOut)
	if len(queries) == 0 {
		return fallback(req, tokens, false)
	}

	p.logger.Info(module, "Question decomposed", map[string]interface{}{
		"sub_queries": queries,
		"tokens":      tokens,
	})
	return Plan{SubQueries: toSubQueries(queries, req.Round, "decomposition"), Tokens: tokens}
}

func (p *Planner) planGaps(ctx context.Context, req Request, fanOut int, seen map[string]bool) Plan {
	content, tokens, err := p.generate(ctx, p.composer.GapPlan(req.Question, req.Gap, req.Issued, req.Evidence, fanOut))
	if err != nil {
		p.logger.Warn(module, "Gap planning call failed, using original question", map[string]interface{}{
			"round": req.Round,
			"error": err.Error(),
		})
		return fallback(req, tokens, true)
	}

	parsed := prompt.ParseStringList(content)
	if !parsed.OK() {
		p.logger.Warn(module, "Gap plan unparseable, using original question", map[string]interface{}{
			"round": req.Round,
			"error": parsed.Err.Error(),
		})
		return fallback(req, tokens, true)
	}

	queries := dedupe(parsed.Value, seen, fanOut)
	if len(queries) == 0 {
		// Nothing new to ask. Retrieval will surface no progress and the loop ends.
		return fallback(req, tokens, false)
	}

	p.logger.Info(module, "Gap queries planned", map[string]interface{}{
		"round":       req.Round,
		"sub_queries": queries,
		"tokens":      tokens,
	})
	return Plan{SubQueries: toSubQueries(queries, req.Round, "gap: "+req.Gap), Tokens: tokens}
}

func (p *Planner) generate(ctx context.Context, promptText string) (string, int, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, err := p.llm.Generate(callCtx, promptText, llm.WithTemperature(0.2))
	if err != nil {
		return "", 0, fmt.Errorf("llm generation failed: %w", err)
	}
	return resp.Content, resp.TotalTokens, nil
}

func fallback(req Request, tokens int, parseFailed bool) Plan {
	return Plan{
		SubQueries:  []session.SubQuery{{Text: req.Question, Round: req.Round, Rationale: "original question"}},
		Tokens:      tokens,
		ParseFailed: parseFailed,
	}
}

func toSubQueries(texts []string, round int, rationale string) []session.SubQuery {
	out := make([]session.SubQuery, len(texts))
	for i, t := range texts {
		out[i] = session.SubQuery{Text: t, Round: round, Rationale: rationale}
	}
	return out
}

func seenSet(issued []string) map[string]bool {
	seen := make(map[string]bool, len(issued))
	for _, q := range issued {
		seen[session.NormalizeQuery(q)] = true
	}
	return seen
}

// dedupe keeps candidates not in seen (and not repeated), bounded to limit.
// seen is updated with what is kept.
func dedupe(candidates []string, seen map[string]bool, limit int) []string {
	var out []string
	for _, c := range candidates {
		key := session.NormalizeQuery(c)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
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
	return s[:n] + "..."
}
