// Package alert carries directional alert records to their sinks. Records
// are immutable once emitted; the JSONL sink is the consumable stream, the
// audit log keeps the authoritative trail.
package alert

import (
	"time"

	"github.com/shopspring/decimal"
)

// Record is one emitted alert.
type Record struct {
	ID                string    `json:"id"`
	Ticker            string    `json:"ticker"`
	TS                time.Time `json:"ts"`
	HorizonMinutes    int       `json:"horizon_min"`
	Direction         string    `json:"direction"`
	Probability       float64   `json:"probability"`
	ExpectedSigma     float64   `json:"expected_sigma"`
	Rationale         string    `json:"rationale"`
	TriggeringEventID string    `json:"triggering_event_id"`
}

// Rounded returns a copy with probability at 4 decimal places and sigma at 3,
// the precision the sinks publish.
func (r Record) Rounded() Record {
	r.Probability, _ = decimal.NewFromFloat(r.Probability).Round(4).Float64()
	r.ExpectedSigma, _ = decimal.NewFromFloat(r.ExpectedSigma).Round(3).Float64()
	return r
}

// Sink consumes alert records.
type Sink interface {
	Emit(rec Record) error
}

// Fanout emits to every sink, keeping going past individual failures.
type Fanout []Sink

func (f Fanout) Emit(rec Record) error {
	var firstErr error
	for _, s := range f {
		if err := s.Emit(rec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
