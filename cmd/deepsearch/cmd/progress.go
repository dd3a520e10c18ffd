package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"deepsearch-be/pkg/rag/executor"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

// progressPrinter reports session progress on a terminal.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer

	header *color.Color
	round  *color.Color
	warn   *color.Color
	dim    *color.Color
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{
		out:    out,
		header: color.New(color.FgCyan, color.Bold),
		round:  color.New(color.FgBlue),
		warn:   color.New(color.FgYellow),
		dim:    color.New(color.Faint),
	}
}

func (p *progressPrinter) SessionStarted(_ context.Context, id uuid.UUID, question string, collections []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.header.Fprintf(p.out, "🔎 %s\n", question)
	p.dim.Fprintf(p.out, "   session %s, collections: %s\n", id, strings.Join(collections, ", "))
}

func (p *progressPrinter) RoundCompleted(_ context.Context, ev executor.RoundEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := ev.Record
	p.round.Fprintf(p.out, "── round %d", r.Round)
	fmt.Fprintf(p.out, ": +%d new, %d refreshed, %d tokens (total %d), %d chunks\n",
		r.NewChunks, r.RefreshedChunks, r.Tokens, ev.TotalTokens, ev.EvidenceCount)
	for _, q := range r.SubQueries {
		p.dim.Fprintf(p.out, "   • %s\n", q.Text)
	}
	if r.FailedPairs > 0 {
		p.warn.Fprintf(p.out, "   ! %d of %d searches failed\n", r.FailedPairs, r.TotalPairs)
	}
	if r.PlannerParseFailed || r.EvaluatorParseFailed() {
		p.warn.Fprintln(p.out, "   ! model output could not be parsed, fallback used")
	}
	if v := r.Verdict; v != nil && !v.Sufficient && v.GapDescription != "" {
		p.dim.Fprintf(p.out, "   gap: %s\n", v.GapDescription)
	}
}

func (p *progressPrinter) SessionFinished(_ context.Context, res *executor.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.warn.Fprintf(p.out, "✗ %v\n", err)
		return
	}
	if res != nil {
		p.dim.Fprintf(p.out, "✓ done (%s)\n\n", res.TerminationReason)
	}
}
