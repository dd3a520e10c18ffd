package session

import (
	"fmt"
	"strings"
)

// State is everything one query accumulates. It is owned by the controller
// running that query and is not shared.
type State struct {
	Question    Question          `json:"question"`
	Evidence    *EvidenceSet      `json:"evidence"`
	Rounds      []RoundRecord     `json:"rounds"`
	Tokens      int               `json:"tokens"`
	Round       int               `json:"current_round"`
	Termination TerminationReason `json:"termination_reason"`
}

func NewState(q Question) *State {
	return &State{Question: q, Evidence: NewEvidenceSet()}
}

// AddTokens records usage reported by a model call. Negative values are ignored
// so the running total never decreases.
func (s *State) AddTokens(n int) {
	if n > 0 {
		s.Tokens += n
	}
}

// Commit appends a finished round and installs the evidence it produced.
// Round numbers must be strictly increasing.
func (s *State) Commit(record RoundRecord, evidence *EvidenceSet) error {
	if n := len(s.Rounds); n > 0 && record.Round <= s.Rounds[n-1].Round {
		return fmt.Errorf("round %d committed after round %d", record.Round, s.Rounds[n-1].Round)
	}
	s.Rounds = append(s.Rounds, record)
	if evidence != nil {
		s.Evidence = evidence
	}
	return nil
}

// IssuedQueries lists every sub-query text issued so far, in issue order.
func (s *State) IssuedQueries() []string {
	var out []string
	for _, r := range s.Rounds {
		for _, q := range r.SubQueries {
			out = append(out, q.Text)
		}
	}
	return out
}

// ParseFailures counts planner and evaluator parse fallbacks across rounds.
func (s *State) ParseFailures() int {
	n := 0
	for _, r := range s.Rounds {
		if r.PlannerParseFailed {
			n++
		}
		if r.EvaluatorParseFailed() {
			n++
		}
	}
	return n
}

// RoundTokens sums the per-round usage. Tokens minus this is what the
// synthesis step spent.
func (s *State) RoundTokens() int {
	n := 0
	for _, r := range s.Rounds {
		n += r.Tokens
	}
	return n
}

// NormalizeQuery is the comparison form used to dedupe sub-queries.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
