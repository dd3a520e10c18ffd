package dto

import (
	"time"

	"github.com/google/uuid"
)

type QueryRequest struct {
	Question    string   `json:"question" validate:"required,max=4000"`
	Collections []string `json:"collections,omitempty" validate:"max=50,dive,required"`
	MaxRounds   int      `json:"max_rounds,omitempty" validate:"min=0,max=20"`
	TokenBudget int      `json:"token_budget,omitempty" validate:"min=0"`
	TopK        int      `json:"top_k,omitempty" validate:"min=0,max=100"`
	FanOut      int      `json:"fan_out,omitempty" validate:"min=0,max=16"`
	// NoCache skips the answer cache lookup; the result is still cached.
	NoCache bool `json:"no_cache,omitempty"`
}

type CitationDTO struct {
	ChunkId    string  `json:"chunk_id"`
	Collection string  `json:"collection"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

type QueryResponse struct {
	SessionId         uuid.UUID     `json:"session_id"`
	Answer            string        `json:"answer"`
	Citations         []CitationDTO `json:"citations"`
	TokensConsumed    int           `json:"tokens_consumed"`
	TerminationReason string        `json:"termination_reason"`
	Rounds            int           `json:"rounds"`
	Collections       []string      `json:"collections"`
	Cached            bool          `json:"cached"`
}

type AsyncQueryResponse struct {
	SessionId uuid.UUID `json:"session_id"`
	StatusURL string    `json:"status_url"`
	StreamURL string    `json:"stream_url"`
}

type CollectionResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     bool   `json:"default"`
}

type HistoryListRequest struct {
	Page   int    `query:"page" validate:"min=0"`
	Limit  int    `query:"limit" validate:"min=0,max=100"`
	Reason string `query:"reason" validate:"omitempty,oneof=evaluator_stop round_budget_exhausted token_budget_exhausted no_progress cancelled"`
	Search string `query:"q"`
	// Since keeps entries created at or after this RFC 3339 time.
	Since string `query:"since" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type HistoryItemResponse struct {
	SessionId         uuid.UUID `json:"session_id"`
	Question          string    `json:"question"`
	TerminationReason string    `json:"termination_reason"`
	TokensConsumed    int       `json:"tokens_consumed"`
	Rounds            int       `json:"rounds"`
	Failed            bool      `json:"failed"`
	CreatedAt         time.Time `json:"created_at"`
}

type HistoryListResponse struct {
	Items []HistoryItemResponse `json:"items"`
	Total int64                 `json:"total"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
}

// ProgressMessage is pushed to websocket watchers of a session.
type ProgressMessage struct {
	Type          string      `json:"type"` // "started" | "round" | "finished"
	SessionId     uuid.UUID   `json:"session_id"`
	Round         int         `json:"round,omitempty"`
	TotalTokens   int         `json:"total_tokens"`
	EvidenceCount int         `json:"evidence_count"`
	Data          interface{} `json:"data,omitempty"`
	At            time.Time   `json:"at"`
}
