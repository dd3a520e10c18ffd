// Package ragtest provides scripted gateway fakes for exercising the deep
// search loop without real model or index backends.
package ragtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"deepsearch-be/pkg/llm"
)

// Stage identifies which prompt the loop sent.
type Stage string

const (
	StageDecompose  Stage = "decompose"
	StageGapPlan    Stage = "gap_plan"
	StageReflect    Stage = "reflect"
	StageSynthesize Stage = "synthesize"
	StageRoute      Stage = "route"
	StageRerank     Stage = "rerank"
	StageUnknown    Stage = "unknown"
)

// StageOf classifies a prompt by the task wording each one carries.
func StageOf(prompt string) Stage {
	switch {
	case strings.Contains(prompt, "Break the question below"):
		return StageDecompose
	case strings.Contains(prompt, "Propose at most"):
		return StageGapPlan
	case strings.Contains(prompt, "Judge whether the retrieved chunks"):
		return StageReflect
	case strings.Contains(prompt, "content analysis expert"):
		return StageSynthesize
	case strings.Contains(prompt, "Select the collections"):
		return StageRoute
	case strings.Contains(prompt, "Is the chunk helpful"):
		return StageRerank
	default:
		return StageUnknown
	}
}

// Reply is one scripted model answer.
type Reply struct {
	Content string
	Tokens  int
	Err     error
	// Hang blocks until the call's context is done.
	Hang bool
	// Delay holds the reply back, honouring the context.
	Delay time.Duration
}

// Call records one Generate invocation.
type Call struct {
	Stage  Stage
	Prompt string
	Tokens int
	Err    error
}

// LLM is a scripted llm.Provider. Replies are consumed per stage in order;
// when a stage's queue is empty its fallback reply is used.
type LLM struct {
	mu        sync.Mutex
	queues    map[Stage][]Reply
	fallbacks map[Stage]Reply
	calls     []Call

	// OnCall runs before each reply is produced.
	OnCall func(stage Stage)
}

var _ llm.Provider = (*LLM)(nil)

func NewLLM() *LLM {
	return &LLM{queues: make(map[Stage][]Reply), fallbacks: make(map[Stage]Reply)}
}

// Script queues replies for a stage.
func (f *LLM) Script(stage Stage, replies ...Reply) *LLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[stage] = append(f.queues[stage], replies...)
	return f
}

// Always sets the reply used once the stage's queue runs dry.
func (f *LLM) Always(stage Stage, reply Reply) *LLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks[stage] = reply
	return f
}

func (f *LLM) next(stage Stage) (Reply, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.queues[stage]; len(q) > 0 {
		f.queues[stage] = q[1:]
		return q[0], true
	}
	r, ok := f.fallbacks[stage]
	return r, ok
}

func (f *LLM) Chat(ctx context.Context, history []llm.Message, opts ...llm.Option) (*llm.Response, error) {
	var prompt strings.Builder
	for _, m := range history {
		prompt.WriteString(m.Content)
	}
	return f.Generate(ctx, prompt.String(), opts...)
}

func (f *LLM) Generate(ctx context.Context, prompt string, _ ...llm.Option) (*llm.Response, error) {
	stage := StageOf(prompt)
	if f.OnCall != nil {
		f.OnCall(stage)
	}

	reply, ok := f.next(stage)
	if !ok {
		reply = Reply{Err: fmt.Errorf("ragtest: no reply scripted for stage %s", stage)}
	}

	if reply.Hang {
		<-ctx.Done()
		reply = Reply{Err: ctx.Err()}
	} else if reply.Delay > 0 {
		select {
		case <-ctx.Done():
			reply = Reply{Err: ctx.Err()}
		case <-time.After(reply.Delay):
		}
	}
	if reply.Err == nil {
		if err := ctx.Err(); err != nil {
			reply = Reply{Err: err}
		}
	}

	call := Call{Stage: stage, Prompt: prompt, Err: reply.Err}
	if reply.Err == nil {
		call.Tokens = reply.Tokens
	}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	return &llm.Response{Content: reply.Content, TotalTokens: reply.Tokens, CompletionTokens: reply.Tokens}, nil
}

func (f *LLM) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsFor returns the calls made for one stage.
func (f *LLM) CallsFor(stage Stage) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	return out
}

// TokensReported sums the usage of every successful call.
func (f *LLM) TokensReported() int {
	total := 0
	for _, c := range f.Calls() {
		total += c.Tokens
	}
	return total
}
