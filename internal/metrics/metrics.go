package metrics

import (
	"context"
	"sync"
	"time"

	"deepsearch-be/pkg/rag/executor"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exports deep search loop metrics. It is an executor.Observer.
type Recorder struct {
	sessionsTotal   *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	rounds          prometheus.Histogram
	tokens          prometheus.Histogram
	newChunks       prometheus.Histogram
	failedPairs     prometheus.Counter
	parseFailures   *prometheus.CounterVec
	sessionDuration prometheus.Histogram

	mu      sync.Mutex
	started map[uuid.UUID]time.Time
}

var _ executor.Observer = (*Recorder)(nil)

func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepsearch_sessions_total",
				Help: "Total number of finished deep search sessions by termination reason",
			},
			[]string{"reason", "outcome"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "deepsearch_sessions_active",
				Help: "Number of deep search sessions currently running",
			},
		),
		rounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deepsearch_session_rounds",
				Help:    "Committed rounds per session",
				Buckets: prometheus.LinearBuckets(0, 1, 11),
			},
		),
		tokens: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deepsearch_session_tokens",
				Help:    "Model tokens consumed per session",
				Buckets: prometheus.ExponentialBuckets(256, 2, 12), // 256 to ~524k
			},
		),
		newChunks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deepsearch_round_new_chunks",
				Help:    "Evidence chunks added per round",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		failedPairs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "deepsearch_failed_retrieval_pairs_total",
				Help: "Sub-query and collection pairs whose embedding or search failed",
			},
		),
		parseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deepsearch_parse_failures_total",
				Help: "Model outputs that could not be parsed, by stage",
			},
			[]string{"stage"},
		),
		sessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "deepsearch_session_duration_seconds",
				Help:    "Wall time of finished sessions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		started: make(map[uuid.UUID]time.Time),
	}

	reg.MustRegister(
		r.sessionsTotal, r.sessionsActive, r.rounds, r.tokens,
		r.newChunks, r.failedPairs, r.parseFailures, r.sessionDuration,
	)
	return r
}

func (r *Recorder) SessionStarted(_ context.Context, id uuid.UUID, _ string, _ []string) {
	r.sessionsActive.Inc()
	r.mu.Lock()
	r.started[id] = time.Now()
	r.mu.Unlock()
}

func (r *Recorder) RoundCompleted(_ context.Context, ev executor.RoundEvent) {
	r.newChunks.Observe(float64(ev.Record.NewChunks))
	r.failedPairs.Add(float64(ev.Record.FailedPairs))
	if ev.Record.PlannerParseFailed {
		r.parseFailures.WithLabelValues("planner").Inc()
	}
	if ev.Record.EvaluatorParseFailed() {
		r.parseFailures.WithLabelValues("evaluator").Inc()
	}
}

func (r *Recorder) SessionFinished(_ context.Context, res *executor.Result, err error) {
	r.sessionsActive.Dec()
	if res == nil {
		return
	}

	r.mu.Lock()
	at, ok := r.started[res.SessionID]
	delete(r.started, res.SessionID)
	r.mu.Unlock()
	if ok {
		r.sessionDuration.Observe(time.Since(at).Seconds())
	}

	outcome := "answered"
	if err != nil {
		outcome = "synthesis_failed"
	}
	r.sessionsTotal.WithLabelValues(string(res.TerminationReason), outcome).Inc()
	r.tokens.Observe(float64(res.TokensConsumed))
	if res.State != nil {
		r.rounds.Observe(float64(len(res.State.Rounds)))
	}
}
