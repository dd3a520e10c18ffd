package executor

import (
	"errors"
	"fmt"

	"deepsearch-be/pkg/rag/reflection"

	"github.com/google/uuid"
)

var (
	ErrEmptyQuestion = errors.New("question must not be empty")
	ErrInvalidParams = errors.New("invalid search parameters")
)

// Params bounds one session. Zero fields take the controller defaults.
// TokenBudget <= 0 means unlimited.
type Params struct {
	MaxRounds   int `json:"max_rounds"`
	TokenBudget int `json:"token_budget"`
	TopK        int `json:"top_k"`
	FanOut      int `json:"fan_out"`
}

func DefaultParams() Params {
	return Params{MaxRounds: 3, TokenBudget: 0, TopK: 5, FanOut: 4}
}

func (p Params) withDefaults(d Params) Params {
	if p.MaxRounds == 0 {
		p.MaxRounds = d.MaxRounds
	}
	if p.TokenBudget == 0 {
		p.TokenBudget = d.TokenBudget
	}
	if p.TopK == 0 {
		p.TopK = d.TopK
	}
	if p.FanOut == 0 {
		p.FanOut = d.FanOut
	}
	return p
}

func (p Params) validate() error {
	switch {
	case p.MaxRounds < 1:
		return fmt.Errorf("%w: max_rounds must be at least 1, got %d", ErrInvalidParams, p.MaxRounds)
	case p.TopK < 1:
		return fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidParams, p.TopK)
	case p.FanOut < 1:
		return fmt.Errorf("%w: fan_out must be at least 1, got %d", ErrInvalidParams, p.FanOut)
	}
	return nil
}

func (p Params) budgetReached(tokens int) bool {
	return p.TokenBudget > 0 && tokens >= p.TokenBudget
}

// Config holds controller-wide settings.
type Config struct {
	Defaults   Params
	Stagnation reflection.StagnationPolicy
	// RouteCollections lets the model pick collections when the caller names none.
	RouteCollections bool
	// PlanningEvidence bounds the ranked chunks shown to the gap planner.
	PlanningEvidence int
}

func DefaultConfig() Config {
	return Config{
		Defaults:         DefaultParams(),
		Stagnation:       reflection.DefaultStagnationPolicy(),
		RouteCollections: true,
		PlanningEvidence: 10,
	}
}

// RunOption customises a single RunQuery call.
type RunOption func(*runOptions)

type runOptions struct {
	sessionID uuid.UUID
	// extra is nil unless WithObserver was given.
	extra Observer
}

// WithSessionID fixes the session id, letting callers hand it out before the run starts.
func WithSessionID(id uuid.UUID) RunOption {
	return func(o *runOptions) { o.sessionID = id }
}

// WithObserver adds an observer for this run only.
func WithObserver(obs Observer) RunOption {
	return func(o *runOptions) { o.extra = obs }
}
