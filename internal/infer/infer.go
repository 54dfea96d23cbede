// Package infer turns live incoming edges into a calibrated directional
// probability and expected dispersion for a ticker. For a fixed graph
// snapshot and fixed event the result is deterministic, which keeps audit
// replay honest.
package infer

import (
	"math"

	"causeway/internal/config"
	"causeway/internal/event"
	"causeway/internal/graph"
	"causeway/internal/logger"
)

// probabilityGain shapes the logistic squash of the net score.
const probabilityGain = 2.5

// Result is one inference run over a ticker's incoming edges.
type Result struct {
	Ticker         string  `json:"ticker"`
	Net            float64 `json:"net"`
	Score          float64 `json:"score"`
	Direction      int     `json:"direction"`
	Probability    float64 `json:"probability"`
	ExpectedSigma  float64 `json:"expected_sigma"`
	EdgeCount      int     `json:"edge_count"`
	MissingSignals int     `json:"missing_signals"`
	Eligible       bool    `json:"eligible"`
	SuppressReason string  `json:"suppress_reason,omitempty"`
}

type Engine struct {
	store   *graph.Store
	horizon config.HorizonConfig
}

func NewEngine(store *graph.Store, horizon config.HorizonConfig) *Engine {
	return &Engine{store: store, horizon: horizon}
}

// Infer aggregates the active incoming edges for the event's ticker at the
// event's timestamp. The probability is a saturating combination: however
// many edges agree, it stays inside (0,1).
func (e *Engine) Infer(ev event.Event) Result {
	res := Result{Ticker: ev.Ticker, Direction: 1}
	if ev.Ticker == "" {
		res.SuppressReason = "event has no ticker"
		return res
	}

	views := e.store.Incoming(ev.Ticker, ev.Timestamp)
	res.EdgeCount = len(views)

	var net, sigma float64
	for _, v := range views {
		net += float64(v.Edge.Polarity) * v.DecayedWeight

		// Expected dispersion: weight times the cause's volatility signal.
		// Price causes must carry sigma; a missing/zero signal contributes
		// nothing but never aborts the run. Non-price causes count at the
		// weight itself.
		vol := 1.0
		if v.Cause.Type == event.TypePrice {
			s, ok := v.Cause.Sigma()
			if !ok || s <= 0 {
				logger.Warnf("inference %s: edge %s missing volatility signal, contributing zero",
					ev.Ticker, v.Edge.Key)
				res.MissingSignals++
				continue
			}
			vol = s
		}
		sigma += v.DecayedWeight * vol
	}

	res.Net = net
	res.Score = math.Abs(net)
	if net < 0 {
		res.Direction = -1
	}
	res.Probability = logistic(probabilityGain * res.Score)
	res.ExpectedSigma = sigma

	switch {
	case res.EdgeCount == 0:
		res.SuppressReason = "no active incoming edges"
	case res.Probability < e.horizon.MinProbability:
		res.SuppressReason = "probability below horizon minimum"
	case res.ExpectedSigma < e.horizon.SpreadSigmaK:
		res.SuppressReason = "expected sigma below horizon spread"
	default:
		res.Eligible = true
	}
	return res
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
