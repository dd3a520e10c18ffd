package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/pkg/rag/planner"
	"deepsearch-be/pkg/rag/reflection"
	"deepsearch-be/pkg/rag/response"
	"deepsearch-be/pkg/rag/router"
	"deepsearch-be/pkg/rag/search"
	"deepsearch-be/pkg/rag/session"
	"deepsearch-be/pkg/vectorstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const module = "Controller"

// Phase is a state of the per-session loop.
type Phase string

const (
	PhasePlanning     Phase = "PLANNING"
	PhaseRetrieving   Phase = "RETRIEVING"
	PhaseEvaluating   Phase = "EVALUATING"
	PhaseSynthesizing Phase = "SYNTHESIZING"
	PhaseDone         Phase = "DONE"
)

// Result is the outcome of one deep search session.
type Result struct {
	SessionID         uuid.UUID                 `json:"session_id"`
	Answer            string                    `json:"answer"`
	EvidenceUsed      []session.EvidenceChunk   `json:"evidence_used"`
	TokensConsumed    int                       `json:"tokens_consumed"`
	TerminationReason session.TerminationReason `json:"termination_reason"`
	Collections       []string                  `json:"collections"`
	State             *session.State            `json:"state"`
}

// Controller drives the plan, retrieve, evaluate loop for one question at a
// time. It holds no per-query state and is safe for concurrent use.
type Controller struct {
	planner     *planner.Planner
	retrieval   *search.Orchestrator
	evaluator   *reflection.Evaluator
	synthesizer *response.Generator
	router      *router.Router
	store       vectorstore.Store
	config      Config
	observer    Observer
	logger      logger.ILogger
	tracer      trace.Tracer
}

type Dependencies struct {
	Planner     *planner.Planner
	Retrieval   *search.Orchestrator
	Evaluator   *reflection.Evaluator
	Synthesizer *response.Generator
	// Router and Store are only needed when callers may omit collections.
	Router   *router.Router
	Store    vectorstore.Store
	Observer Observer
}

func NewController(deps Dependencies, config Config, logger logger.ILogger) *Controller {
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	return &Controller{
		planner:     deps.Planner,
		retrieval:   deps.Retrieval,
		evaluator:   deps.Evaluator,
		synthesizer: deps.Synthesizer,
		router:      deps.Router,
		store:       deps.Store,
		config:      config,
		observer:    observer,
		logger:      logger,
		tracer:      otel.Tracer("deepsearch-be/executor"),
	}
}

// round holds the work of the round in progress. Nothing in it reaches the
// session state until commit.
type round struct {
	record   session.RoundRecord
	plan     planner.Plan
	working  *session.EvidenceSet
	stats    search.Stats
	started  time.Time
	span     trace.Span
	decision *reflection.Decision
}

// RunQuery answers question by iterative search over collections. When
// collections is empty every collection of the store is considered, narrowed
// by the router when routing is enabled.
//
// The only error after validation is response.ErrSynthesisFailed; the
// returned Result still carries the session state in that case.
func (c *Controller) RunQuery(ctx context.Context, question string, collections []string, params Params, opts ...RunOption) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	params = params.withDefaults(c.config.Defaults)
	if err := params.validate(); err != nil {
		return nil, err
	}

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	observer := c.observer
	if ro.extra != nil {
		observer = MultiObserver{c.observer, ro.extra}
	}

	q := session.NewQuestion(question)
	if ro.sessionID != uuid.Nil {
		q.ID = ro.sessionID
	}
	state := session.NewState(q)

	ctx, span := c.tracer.Start(ctx, "deepsearch.session", trace.WithAttributes(
		attribute.String("session.id", q.ID.String()),
		attribute.Int("params.max_rounds", params.MaxRounds),
		attribute.Int("params.token_budget", params.TokenBudget),
	))
	defer span.End()

	collections, routeTokens := c.resolveCollections(ctx, q.Text, collections)
	state.AddTokens(routeTokens)

	c.logger.Info(module, "Session started", map[string]interface{}{
		"session_id":  q.ID.String(),
		"question":    q.Text,
		"collections": collections,
		"params":      params,
	})
	observer.SessionStarted(ctx, q.ID, q.Text, collections)

	res, err := c.loop(ctx, state, collections, params, routeTokens, observer)
	span.SetAttributes(
		attribute.String("termination_reason", string(state.Termination)),
		attribute.Int("rounds", len(state.Rounds)),
		attribute.Int("tokens", state.Tokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	c.logger.Info(module, "Session finished", map[string]interface{}{
		"session_id":         q.ID.String(),
		"termination_reason": state.Termination,
		"rounds":             len(state.Rounds),
		"tokens":             state.Tokens,
		"evidence":           state.Evidence.Len(),
	})
	observer.SessionFinished(ctx, res, err)
	return res, err
}

// loop runs rounds until a termination reason is set, then synthesizes. It is
// an explicit state machine: each iteration handles exactly one phase.
func (c *Controller) loop(ctx context.Context, state *session.State, collections []string, params Params, routeTokens int, observer Observer) (*Result, error) {
	var (
		phase = PhasePlanning
		cur   *round
		last  *session.Verdict
		n     = 1
		res   *Result
		err   error
	)

	for phase != PhaseDone {
		if phase != PhaseSynthesizing && ctx.Err() != nil {
			c.discard(cur)
			cur = nil
			state.Termination = session.TerminationCancelled
			phase = PhaseSynthesizing
			continue
		}

		switch phase {
		case PhasePlanning:
			state.Round = n
			cur = c.startRound(ctx, n)
			if n == 1 {
				cur.record.Tokens += routeTokens
			}

			req := planner.Request{
				Question: state.Question.Text,
				Round:    n,
				FanOut:   params.FanOut,
				Issued:   state.IssuedQueries(),
				Evidence: state.Evidence.Top(c.config.PlanningEvidence),
			}
			if last != nil {
				req.Suggested = last.Suggested
				req.Gap = last.GapDescription
			}
			cur.plan = c.planner.Plan(ctx, req)
			state.AddTokens(cur.plan.Tokens)
			cur.record.Tokens += cur.plan.Tokens
			cur.record.SubQueries = cur.plan.SubQueries
			cur.record.PlannerParseFailed = cur.plan.ParseFailed
			phase = PhaseRetrieving

		case PhaseRetrieving:
			cur.working = state.Evidence.Clone()
			cur.stats = c.retrieval.Execute(ctx, state.Question.Text, cur.plan.SubQueries, collections, params.TopK, cur.working)
			state.AddTokens(cur.stats.Tokens)
			cur.record.Tokens += cur.stats.Tokens
			cur.record.RejectedChunks = cur.stats.Rejected
			cur.record.TotalPairs = cur.stats.Pairs
			cur.record.FailedPairs = cur.stats.FailedPairs
			cur.record.NewChunks = cur.stats.Added
			cur.record.RefreshedChunks = cur.stats.Refreshed
			cur.record.MaxScoreGain = cur.stats.MaxScoreGain
			phase = PhaseEvaluating

		case PhaseEvaluating:
			reason, done := c.evaluate(ctx, state, cur, params)
			if ctx.Err() != nil {
				// Cancelled while the evaluator was running: the round never finalizes.
				continue
			}
			c.commit(ctx, state, cur, observer)
			if done {
				state.Termination = reason
				phase = PhaseSynthesizing
				continue
			}
			last = &cur.decision.Verdict
			cur = nil
			n++
			phase = PhasePlanning

		case PhaseSynthesizing:
			res, err = c.synthesize(ctx, state, collections)
			phase = PhaseDone
		}
	}
	return res, err
}

// evaluate applies the termination rules in order: no progress, token budget
// already spent, evaluator verdict, round budget, token budget.
func (c *Controller) evaluate(ctx context.Context, state *session.State, cur *round, params Params) (session.TerminationReason, bool) {
	if c.config.Stagnation.Stagnant(cur.stats.Added, cur.stats.MaxScoreGain) {
		c.logger.Info(module, "Round made no progress", map[string]interface{}{
			"round":        cur.record.Round,
			"failed_pairs": cur.stats.FailedPairs,
		})
		return session.TerminationNoProgress, true
	}

	if params.budgetReached(state.Tokens) {
		return session.TerminationTokenBudget, true
	}

	issued := append(state.IssuedQueries(), cur.plan.Texts()...)
	decision := c.evaluator.Evaluate(ctx, reflection.Input{
		Question: state.Question.Text,
		Issued:   issued,
		Evidence: cur.working.Ranked(),
		FanOut:   params.FanOut,
	})
	cur.decision = &decision
	state.AddTokens(decision.Tokens)
	cur.record.Tokens += decision.Tokens
	cur.record.Verdict = &decision.Verdict

	switch {
	case decision.Stop:
		return session.TerminationEvaluatorStop, true
	case cur.record.Round >= params.MaxRounds:
		return session.TerminationRoundBudget, true
	case params.budgetReached(state.Tokens):
		return session.TerminationTokenBudget, true
	}
	return session.TerminationNone, false
}

func (c *Controller) startRound(ctx context.Context, n int) *round {
	_, span := c.tracer.Start(ctx, "deepsearch.round", trace.WithAttributes(attribute.Int("round", n)))
	return &round{record: session.RoundRecord{Round: n}, started: time.Now(), span: span}
}

func (c *Controller) commit(ctx context.Context, state *session.State, cur *round, observer Observer) {
	cur.record.Duration = time.Since(cur.started)
	if err := state.Commit(cur.record, cur.working); err != nil {
		// Rounds are numbered by this loop alone, so this is a programming error.
		panic(fmt.Sprintf("executor: %v", err))
	}

	cur.span.SetAttributes(
		attribute.Int("new_chunks", cur.record.NewChunks),
		attribute.Int("failed_pairs", cur.record.FailedPairs),
		attribute.Int("tokens", cur.record.Tokens),
	)
	cur.span.End()

	c.logger.Info(module, "Round committed", map[string]interface{}{
		"session_id":   state.Question.ID.String(),
		"round":        cur.record.Round,
		"sub_queries":  len(cur.record.SubQueries),
		"new_chunks":   cur.record.NewChunks,
		"failed_pairs": cur.record.FailedPairs,
		"tokens":       cur.record.Tokens,
		"total_tokens": state.Tokens,
	})
	observer.RoundCompleted(ctx, RoundEvent{
		SessionID:     state.Question.ID,
		Question:      state.Question.Text,
		Record:        cur.record,
		TotalTokens:   state.Tokens,
		EvidenceCount: state.Evidence.Len(),
	})
}

func (c *Controller) discard(cur *round) {
	if cur == nil {
		return
	}
	cur.span.SetStatus(codes.Error, "cancelled")
	cur.span.End()
	c.logger.Warn(module, "Round discarded on cancellation", map[string]interface{}{
		"round": cur.record.Round,
	})
}

// synthesize writes the answer from committed evidence. It runs detached from
// cancellation so a cancelled session still answers with what it has. A
// cancellation that lands while the model is writing retags the session and
// retries once detached.
func (c *Controller) synthesize(ctx context.Context, state *session.State, collections []string) (*Result, error) {
	detached := state.Termination == session.TerminationCancelled
	synthCtx := ctx
	if detached {
		synthCtx = context.WithoutCancel(ctx)
	}

	res := &Result{
		SessionID:   state.Question.ID,
		Collections: collections,
		State:       state,
	}

	answer, err := c.synthesizer.Generate(synthCtx, state.Question.Text, state.IssuedQueries(), state.Evidence.Ranked())
	if err != nil && !detached && ctx.Err() != nil {
		c.logger.Warn(module, "Cancelled during synthesis, retrying detached", map[string]interface{}{
			"session_id": state.Question.ID.String(),
		})
		state.Termination = session.TerminationCancelled
		answer, err = c.synthesizer.Generate(context.WithoutCancel(ctx), state.Question.Text, state.IssuedQueries(), state.Evidence.Ranked())
	}
	res.TerminationReason = state.Termination
	if err != nil {
		res.TokensConsumed = state.Tokens
		return res, err
	}

	state.AddTokens(answer.Tokens)
	res.Answer = answer.Text
	res.EvidenceUsed = answer.EvidenceUsed
	res.TokensConsumed = state.Tokens
	return res, nil
}

func (c *Controller) resolveCollections(ctx context.Context, question string, requested []string) ([]string, int) {
	if len(requested) > 0 {
		return requested, 0
	}
	if c.store == nil {
		return nil, 0
	}

	infos, err := c.store.ListCollections(ctx)
	if err != nil {
		c.logger.Error(module, "Listing collections failed", map[string]interface{}{
			"error": err,
		})
		return nil, 0
	}

	if c.router == nil || !c.config.RouteCollections {
		all := make([]string, len(infos))
		for i, info := range infos {
			all[i] = info.Name
		}
		return all, 0
	}

	sel := c.router.Route(ctx, question, infos)
	return sel.Collections, sel.Tokens
}
