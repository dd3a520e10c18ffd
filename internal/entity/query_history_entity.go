package entity

import (
	"time"

	"deepsearch-be/pkg/rag/executor"
	"deepsearch-be/pkg/rag/session"

	"github.com/google/uuid"
)

type QueryHistory struct {
	Id                uuid.UUID
	Subject           string
	Question          string
	Collections       []string
	Params            executor.Params
	Answer            string
	TerminationReason session.TerminationReason
	TokensConsumed    int
	EvidenceCount     int
	Rounds            []session.RoundRecord
	EvidenceUsed      []session.EvidenceChunk
	ErrorMessage      string
	StartedAt         time.Time
	FinishedAt        time.Time
	CreatedAt         time.Time
}

// Failed reports whether the session ended without an answer.
func (h *QueryHistory) Failed() bool {
	return h.ErrorMessage != ""
}
