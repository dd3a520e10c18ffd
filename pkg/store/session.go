package store

import (
	"context"
	"sync"
	"time"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Session is the live trace of one deep search run, updated from observer
// callbacks while API readers take snapshots.
type Session struct {
	mu sync.RWMutex

	id        uuid.UUID
	subject   string
	question  string
	params    executor.Params
	startedAt time.Time
	cancel    context.CancelFunc

	status      Status
	collections []string
	rounds      []session.RoundRecord
	tokens      int
	evidence    int
	result      *executor.Result
	err         string
	finishedAt  time.Time
}

// View is a point-in-time copy of a Session.
type View struct {
	ID                uuid.UUID                 `json:"session_id"`
	Question          string                    `json:"question"`
	Status            Status                    `json:"status"`
	Params            executor.Params           `json:"params"`
	Collections       []string                  `json:"collections"`
	Rounds            []session.RoundRecord     `json:"rounds"`
	TokensConsumed    int                       `json:"tokens_consumed"`
	EvidenceCount     int                       `json:"evidence_count"`
	TerminationReason session.TerminationReason `json:"termination_reason,omitempty"`
	Answer            string                    `json:"answer,omitempty"`
	EvidenceUsed      []session.EvidenceChunk   `json:"evidence_used,omitempty"`
	Error             string                    `json:"error,omitempty"`
	StartedAt         time.Time                 `json:"started_at"`
	FinishedAt        *time.Time                `json:"finished_at,omitempty"`
}

func NewSession(id uuid.UUID, subject, question string, params executor.Params, cancel context.CancelFunc) *Session {
	return &Session{
		id:        id,
		subject:   subject,
		question:  question,
		params:    params,
		startedAt: time.Now(),
		cancel:    cancel,
		status:    StatusRunning,
	}
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) Subject() string { return s.subject }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) SetCollections(collections []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = collections
}

func (s *Session) AddRound(ev executor.RoundEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = append(s.rounds, ev.Record)
	s.tokens = ev.TotalTokens
	s.evidence = ev.EvidenceCount
}

// Finish records the outcome. Later calls are ignored.
func (s *Session) Finish(res *executor.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return
	}

	s.finishedAt = time.Now()
	s.result = res
	switch {
	case err != nil:
		s.status = StatusFailed
		s.err = err.Error()
	case res != nil && res.TerminationReason == session.TerminationCancelled:
		s.status = StatusCancelled
	default:
		s.status = StatusCompleted
	}
	if res != nil {
		s.tokens = res.TokensConsumed
		s.collections = res.Collections
		if res.State != nil {
			s.rounds = append([]session.RoundRecord(nil), res.State.Rounds...)
			s.evidence = res.State.Evidence.Len()
		}
	}
}

// Cancel asks a running session to stop. It reports whether it was running.
func (s *Session) Cancel() bool {
	s.mu.RLock()
	running := s.status == StatusRunning
	s.mu.RUnlock()
	if running && s.cancel != nil {
		s.cancel()
	}
	return running
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Snapshot() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		ID:             s.id,
		Question:       s.question,
		Status:         s.status,
		Params:         s.params,
		Collections:    s.collections,
		Rounds:         append([]session.RoundRecord(nil), s.rounds...),
		TokensConsumed: s.tokens,
		EvidenceCount:  s.evidence,
		Error:          s.err,
		StartedAt:      s.startedAt,
	}
	if !s.finishedAt.IsZero() {
		t := s.finishedAt
		v.FinishedAt = &t
	}
	if s.result != nil {
		v.TerminationReason = s.result.TerminationReason
		v.Answer = s.result.Answer
		v.EvidenceUsed = s.result.EvidenceUsed
	}
	return v
}
