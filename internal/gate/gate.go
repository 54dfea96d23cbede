// Package gate proposes plausible cause→effect candidate pairs for a newly
// ingested event. Proposal is pure and deterministic: the same event and
// window always yield the same ordered sequence, and an empty result is a
// decision, not an error.
package gate

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"causeway/internal/config"
	"causeway/internal/event"
)

// CandidatePair is a proposed directed causal relationship, not yet judged.
type CandidatePair struct {
	CauseID    string `json:"cause_id"`
	EffectID   string `json:"effect_id"`
	EdgeType   string `json:"edge_type"`
	GateReason string `json:"gate_reason"`
}

// EdgeType derives the pair-class label from the two event types.
func EdgeType(cause, effect event.Type) string {
	return fmt.Sprintf("%s->%s", cause, effect)
}

// Rejection names a window event the gate dropped and the rule that dropped
// it, so discarded candidates still leave an audit trace.
type Rejection struct {
	CauseID  string `json:"cause_id"`
	EffectID string `json:"effect_id"`
	Rule     string `json:"rule"`
}

// Rules reported in Rejection records.
const (
	RuleTemporalOrder        = "temporal_order"
	RuleMaxLag               = "max_lag"
	RuleInsufficientEvidence = "insufficient_evidence"
	RuleImplausible          = "implausible"
	RuleFanOutCap            = "fan_out_cap"
)

var (
	cashtagRE = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	tickerRE  = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
)

// ExtractTickers pulls candidate ticker symbols ($AAPL style and bare
// uppercase words) from free text.
func ExtractTickers(text string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range cashtagRE.FindAllStringSubmatch(text, -1) {
		out[m[1]] = true
	}
	for _, m := range tickerRE.FindAllString(text, -1) {
		out[m] = true
	}
	return out
}

// Generator applies the gating rules against a recent-event window.
type Generator struct {
	cfg      config.GatingConfig
	universe *config.Universe
}

func NewGenerator(cfg config.GatingConfig, universe *config.Universe) *Generator {
	return &Generator{cfg: cfg, universe: universe}
}

// Propose returns candidate pairs where newEvent is the effect of some event
// in the window, ordered by descending cause recency and bounded by the
// fan-out cap, plus one Rejection per window event that was considered and
// dropped. Rules are applied in order: temporal, lag, evidence, plausibility.
func (g *Generator) Propose(newEvent event.Event, window []event.Event) ([]CandidatePair, []Rejection) {
	var rejected []Rejection
	reject := func(causeID, rule string) {
		rejected = append(rejected, Rejection{CauseID: causeID, EffectID: newEvent.ID, Rule: rule})
	}

	causes := make([]event.Event, 0, len(window))
	for _, ev := range window {
		if ev.ID == newEvent.ID {
			continue
		}
		if !ev.Timestamp.Before(newEvent.Timestamp) {
			reject(ev.ID, RuleTemporalOrder)
			continue
		}
		causes = append(causes, ev)
	}
	// Most recent cause first; ID breaks ties so repeated calls agree.
	sort.Slice(causes, func(i, j int) bool {
		if !causes[i].Timestamp.Equal(causes[j].Timestamp) {
			return causes[i].Timestamp.After(causes[j].Timestamp)
		}
		return causes[i].ID < causes[j].ID
	})

	uni := g.universe.Snapshot()
	maxLag := g.maxLag(newEvent.Type)
	pairs := make([]CandidatePair, 0, g.cfg.MaxCandidatesPerEvent)
	for _, cause := range causes {
		if len(pairs) >= g.cfg.MaxCandidatesPerEvent {
			reject(cause.ID, RuleFanOutCap)
			continue
		}
		if newEvent.Timestamp.Sub(cause.Timestamp) > maxLag {
			reject(cause.ID, RuleMaxLag)
			continue
		}
		if !g.sufficientEvidence(cause) {
			reject(cause.ID, RuleInsufficientEvidence)
			continue
		}
		reason, ok := g.plausible(cause, newEvent, uni)
		if !ok {
			reject(cause.ID, RuleImplausible)
			continue
		}
		pairs = append(pairs, CandidatePair{
			CauseID:    cause.ID,
			EffectID:   newEvent.ID,
			EdgeType:   EdgeType(cause.Type, newEvent.Type),
			GateReason: reason,
		})
	}
	return pairs, rejected
}

func (g *Generator) maxLag(effectType event.Type) time.Duration {
	if effectType == event.TypePrice {
		return time.Duration(g.cfg.MaxBarLagMinutes) * time.Minute
	}
	return time.Duration(g.cfg.MaxLagMinutes) * time.Minute
}

// sufficientEvidence enforces type-specific signal floors on causes.
func (g *Generator) sufficientEvidence(cause event.Event) bool {
	if cause.Type == event.TypeSocial {
		attrs := cause.Attrs.Social
		return attrs != nil && attrs.Mentions >= g.cfg.MinSocialMentions
	}
	return true
}

func (g *Generator) plausible(cause, effect event.Event, uni config.UniverseSnapshot) (string, bool) {
	if cause.Ticker != "" && cause.Ticker == effect.Ticker {
		return "same_ticker", true
	}
	if cause.Type == event.TypeMacro && g.cfg.AllowMacroToTicker && effect.Ticker != "" {
		return "macro_to_ticker", true
	}
	if g.cfg.AllowCrossTickerWithinSector && cause.Ticker != "" && effect.Ticker != "" {
		cs, cok := uni.Sectors[cause.Ticker]
		es, eok := uni.Sectors[effect.Ticker]
		if cok && eok && cs == es {
			return "sector_peer", true
		}
	}
	if g.cfg.AllowSupplyChainLinks && cause.Ticker != "" && effect.Ticker != "" {
		for _, p := range uni.Peers[cause.Ticker] {
			if p == effect.Ticker {
				return "supply_chain", true
			}
		}
	}
	if cause.Ticker != "" && ExtractTickers(effect.Text())[cause.Ticker] {
		return "entity_mention", true
	}
	if effect.Ticker != "" && ExtractTickers(cause.Text())[effect.Ticker] {
		return "entity_mention", true
	}
	return "", false
}
