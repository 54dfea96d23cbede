// Package judge is the boundary to the external causal-reasoning capability.
// The core never sees prompts or transport details beyond this package: it
// hands over a candidate pair plus both event records and gets back a small
// structured verdict or a typed failure.
package judge

import (
	"context"
	"errors"
	"fmt"

	"causeway/internal/event"
	"causeway/internal/gate"
)

var (
	// ErrInvalidJudgment marks an adapter response outside the valid domain.
	// The pair is discarded; values are never clamped.
	ErrInvalidJudgment = errors.New("judgment outside valid domain")
	// ErrUnavailable marks a timeout/network/breaker failure. The pair is
	// discarded for this cycle; decay handles any late retry naturally.
	ErrUnavailable = errors.New("judgment unavailable")
)

// Judgment is the structured verdict about one candidate pair.
type Judgment struct {
	Edge       bool    `json:"edge"`
	Polarity   int     `json:"polarity"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Validate range-checks the verdict. Out-of-range values are rejected.
func (j Judgment) Validate() error {
	if j.Polarity < -1 || j.Polarity > 1 {
		return fmt.Errorf("%w: polarity=%d", ErrInvalidJudgment, j.Polarity)
	}
	if j.Confidence < 0 || j.Confidence > 1 {
		return fmt.Errorf("%w: confidence=%v", ErrInvalidJudgment, j.Confidence)
	}
	return nil
}

// Judge assesses candidate pairs.
type Judge interface {
	Assess(ctx context.Context, pair gate.CandidatePair, cause, effect event.Event) (Judgment, error)
}

// Explainer optionally produces a short alert rationale. Failures are
// best-effort: callers fall back to a generated rationale.
type Explainer interface {
	Explain(ctx context.Context, ticker, direction string, score float64) (string, error)
}
