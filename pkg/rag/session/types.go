package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Question is the user's question bound to one search session.
type Question struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

func NewQuestion(text string) Question {
	return Question{ID: uuid.New(), Text: strings.TrimSpace(text)}
}

// SubQuery is a focused retrieval query issued during one round.
type SubQuery struct {
	Text      string `json:"text"`
	Round     int    `json:"round"`
	Rationale string `json:"rationale,omitempty"`
}

// Locator points back at the source of a chunk.
type Locator struct {
	Reference string `json:"reference"`
	Offset    int    `json:"offset"`
}

// String is the form used in citations: "<reference>#<offset>".
func (l Locator) String() string {
	return fmt.Sprintf("%s#%d", l.Reference, l.Offset)
}

// EvidenceChunk is a retrieved passage. Identity is (Collection, ChunkID).
type EvidenceChunk struct {
	ChunkID    string            `json:"chunk_id"`
	Collection string            `json:"collection"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Locator    Locator           `json:"locator"`
	FirstRound int               `json:"first_round"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (c EvidenceChunk) Key() ChunkKey {
	return ChunkKey{Collection: c.Collection, ChunkID: c.ChunkID}
}

// Citation returns the locator string, falling back to the chunk identity
// when the store carried no reference.
func (c EvidenceChunk) Citation() string {
	if c.Locator.Reference == "" {
		return fmt.Sprintf("%s/%s", c.Collection, c.ChunkID)
	}
	return c.Locator.String()
}

// ContextText is the text shown to the model. A wider window stored at
// ingestion time wins over the bare chunk.
func (c EvidenceChunk) ContextText() string {
	if w := c.Metadata[MetadataWiderText]; w != "" {
		return w
	}
	return c.Text
}

// MetadataWiderText is the metadata key holding the surrounding text window.
const MetadataWiderText = "wider_text"

type ChunkKey struct {
	Collection string
	ChunkID    string
}

// Verdict is the evaluator's judgement of one round.
type Verdict struct {
	Sufficient     bool     `json:"sufficient"`
	GapDescription string   `json:"gap_description,omitempty"`
	Suggested      []string `json:"suggested_sub_queries,omitempty"`
	ParseFailed    bool     `json:"parse_failed,omitempty"`
	CallFailed     bool     `json:"call_failed,omitempty"`
}

// RoundRecord is the immutable trace of one completed round.
type RoundRecord struct {
	Round              int           `json:"round"`
	SubQueries         []SubQuery    `json:"sub_queries"`
	NewChunks          int           `json:"new_chunks"`
	RefreshedChunks    int           `json:"refreshed_chunks"`
	RejectedChunks     int           `json:"rejected_chunks,omitempty"`
	MaxScoreGain       float64       `json:"max_score_gain"`
	TotalPairs         int           `json:"total_pairs"`
	FailedPairs        int           `json:"failed_pairs"`
	Tokens             int           `json:"tokens"`
	PlannerParseFailed bool          `json:"planner_parse_failed,omitempty"`
	Verdict            *Verdict      `json:"verdict,omitempty"` // nil when the evaluator was not consulted
	Duration           time.Duration `json:"duration_ns"`
}

// EvaluatorParseFailed reports whether the verdict of this round was a parse fallback.
func (r RoundRecord) EvaluatorParseFailed() bool {
	return r.Verdict != nil && r.Verdict.ParseFailed
}

// TerminationReason explains why the loop stopped.
type TerminationReason string

const (
	TerminationNone          TerminationReason = ""
	TerminationEvaluatorStop TerminationReason = "evaluator_stop"
	TerminationRoundBudget   TerminationReason = "round_budget_exhausted"
	TerminationTokenBudget   TerminationReason = "token_budget_exhausted"
	TerminationNoProgress    TerminationReason = "no_progress"
	TerminationCancelled     TerminationReason = "cancelled"
)
