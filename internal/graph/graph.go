// Package graph owns the decaying, signed, weighted causal graph. The Store
// is the sole mutator of edge state: every update serializes through Apply,
// which performs the read-decay-blend-write cycle atomically per edge key so
// concurrent judgments can never double-count decay.
package graph

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"causeway/internal/event"
	"causeway/internal/gate"
	"causeway/internal/judge"
)

var ErrUnknownNode = errors.New("edge endpoint not present in graph")

// EdgeKey identifies an edge by its originating node pair.
type EdgeKey struct {
	CauseID  string
	EffectID string
}

func (k EdgeKey) String() string { return k.CauseID + "->" + k.EffectID }

// Edge is the mutable causal link record.
type Edge struct {
	Key          EdgeKey       `json:"-"`
	CauseID      string        `json:"cause_id"`
	EffectID     string        `json:"effect_id"`
	EdgeType     string        `json:"edge_type"`
	Polarity     int           `json:"polarity"`
	Weight       float64       `json:"weight"`
	SupportCount int           `json:"support_count"`
	HalfLife     time.Duration `json:"half_life"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// DecayedWeight computes the weight at time at without mutating the edge:
// w * 0.5^(elapsed/halfLife). Elapsed time before LastUpdated counts as zero.
func (e Edge) DecayedWeight(at time.Time) float64 {
	elapsed := at.Sub(e.LastUpdated)
	if elapsed <= 0 {
		return e.Weight
	}
	if e.HalfLife <= 0 {
		return 0
	}
	return e.Weight * math.Pow(0.5, float64(elapsed)/float64(e.HalfLife))
}

// Outcome classifies an Apply decision.
type Outcome string

const (
	OutcomeRejected   Outcome = "rejected"
	OutcomeCreated    Outcome = "created"
	OutcomeReinforced Outcome = "reinforced"
	OutcomeWeakened   Outcome = "weakened"
	OutcomeFlipped    Outcome = "flipped"
	OutcomePruned     Outcome = "pruned"
)

// EdgeUpdateResult reports what Apply did and the weights involved.
type EdgeUpdateResult struct {
	Outcome       Outcome `json:"outcome"`
	Reason        string  `json:"reason,omitempty"`
	Edge          *Edge   `json:"edge,omitempty"`
	DecayedWeight float64 `json:"decayed_weight"`
	NewWeight     float64 `json:"new_weight"`
}

// Params are the numeric calibration knobs for weight updates.
type Params struct {
	AlphaBlend         float64
	InitialEdgeWeight  float64
	MinConfidenceToAdd float64
	FlipMargin         float64
	PruneThreshold     float64
	HalfLife           func(event.Type) time.Duration
}

// Store holds the full graph. A single mutex linearizes all mutation; reads
// for export copy under the same lock and never hand out internal pointers.
type Store struct {
	mu     sync.Mutex
	params Params
	nodes  map[string]event.Event
	edges  map[EdgeKey]*Edge
	// incoming indexes edge keys by effect ticker for inference lookups.
	incoming map[string]map[EdgeKey]struct{}
}

func NewStore(params Params) *Store {
	return &Store{
		params:   params,
		nodes:    make(map[string]event.Event),
		edges:    make(map[EdgeKey]*Edge),
		incoming: make(map[string]map[EdgeKey]struct{}),
	}
}

// AddNode inserts an event node. Re-inserting the same ID is a no-op: events
// are immutable.
func (s *Store) AddNode(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[ev.ID]; ok {
		return nil
	}
	s.nodes[ev.ID] = ev
	return nil
}

// Node returns the event with the given ID.
func (s *Store) Node(id string) (event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.nodes[id]
	return ev, ok
}

// RemoveNode drops a node and every edge touching it (external retention
// policy hook).
func (s *Store) RemoveNode(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return
	}
	delete(s.nodes, id)
	for key := range s.edges {
		if key.CauseID == id || key.EffectID == id {
			s.dropEdgeLocked(key)
		}
	}
}

// NodeWindow returns all current nodes, oldest first (the gate's recent-event
// window).
func (s *Store) NodeWindow() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Event, 0, len(s.nodes))
	for _, ev := range s.nodes {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply folds one accepted-or-not judgment into the graph. Rejections (no
// edge, weak confidence) are decisions, not errors; the error path is
// reserved for invariant violations (malformed key, missing endpoint).
func (s *Store) Apply(pair gate.CandidatePair, j judge.Judgment, now time.Time) (EdgeUpdateResult, error) {
	if pair.CauseID == "" || pair.EffectID == "" || pair.CauseID == pair.EffectID {
		return EdgeUpdateResult{}, fmt.Errorf("malformed edge key %q->%q", pair.CauseID, pair.EffectID)
	}
	if err := j.Validate(); err != nil {
		return EdgeUpdateResult{Outcome: OutcomeRejected, Reason: err.Error()}, nil
	}
	if !j.Edge {
		return EdgeUpdateResult{Outcome: OutcomeRejected, Reason: "judge found no edge"}, nil
	}
	if j.Confidence < s.params.MinConfidenceToAdd {
		return EdgeUpdateResult{
			Outcome: OutcomeRejected,
			Reason:  fmt.Sprintf("confidence %.3f below minimum %.3f", j.Confidence, s.params.MinConfidenceToAdd),
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cause, ok := s.nodes[pair.CauseID]
	if !ok {
		return EdgeUpdateResult{}, fmt.Errorf("%w: cause %s", ErrUnknownNode, pair.CauseID)
	}
	effect, ok := s.nodes[pair.EffectID]
	if !ok {
		return EdgeUpdateResult{}, fmt.Errorf("%w: effect %s", ErrUnknownNode, pair.EffectID)
	}

	key := EdgeKey{CauseID: pair.CauseID, EffectID: pair.EffectID}
	existing := s.edges[key]

	var (
		wNow    float64
		outcome Outcome
	)
	if existing == nil {
		wNow = s.params.InitialEdgeWeight
		outcome = OutcomeCreated
	} else {
		wNow = existing.DecayedWeight(now)
	}

	conf := j.Confidence
	polarity := j.Polarity
	support := 1
	if existing != nil {
		switch {
		case j.Polarity == existing.Polarity:
			polarity = existing.Polarity
			support = existing.SupportCount + 1
			outcome = OutcomeReinforced
		case j.Confidence > wNow+s.params.FlipMargin:
			// Disagreement strong enough to supersede: flip and restart the
			// support count.
			polarity = j.Polarity
			support = 1
			outcome = OutcomeFlipped
		default:
			// Conflicting vote below the flip margin only drags the weight
			// down; it never lifts it above the decayed value.
			polarity = existing.Polarity
			support = existing.SupportCount
			conf = math.Min(conf, wNow)
			outcome = OutcomeWeakened
		}
	}

	wNew := s.params.AlphaBlend*conf + (1-s.params.AlphaBlend)*wNow

	if wNew < s.params.PruneThreshold {
		if existing != nil {
			s.dropEdgeLocked(key)
		}
		return EdgeUpdateResult{
			Outcome:       OutcomePruned,
			Reason:        fmt.Sprintf("blended weight %.4f below prune threshold %.4f", wNew, s.params.PruneThreshold),
			DecayedWeight: wNow,
			NewWeight:     wNew,
		}, nil
	}

	halfLife := s.edgeHalfLife(cause.Type, effect.Type)
	edge := &Edge{
		Key:          key,
		CauseID:      pair.CauseID,
		EffectID:     pair.EffectID,
		EdgeType:     pair.EdgeType,
		Polarity:     polarity,
		Weight:       wNew,
		SupportCount: support,
		HalfLife:     halfLife,
		CreatedAt:    now,
		LastUpdated:  now,
	}
	if existing != nil {
		edge.CreatedAt = existing.CreatedAt
	}
	s.edges[key] = edge
	s.indexLocked(key, effect.Ticker)

	cp := *edge
	return EdgeUpdateResult{
		Outcome:       outcome,
		Edge:          &cp,
		DecayedWeight: wNow,
		NewWeight:     wNew,
	}, nil
}

// edgeHalfLife follows the faster-fading endpoint of the pair.
func (s *Store) edgeHalfLife(causeType, effectType event.Type) time.Duration {
	c := s.params.HalfLife(causeType)
	e := s.params.HalfLife(effectType)
	if c < e {
		return c
	}
	return e
}

func (s *Store) indexLocked(key EdgeKey, effectTicker string) {
	if effectTicker == "" {
		return
	}
	set := s.incoming[effectTicker]
	if set == nil {
		set = make(map[EdgeKey]struct{})
		s.incoming[effectTicker] = set
	}
	set[key] = struct{}{}
}

func (s *Store) dropEdgeLocked(key EdgeKey) {
	delete(s.edges, key)
	for ticker, set := range s.incoming {
		if _, ok := set[key]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.incoming, ticker)
			}
		}
	}
}

// Sweep decays every edge to its value at now and prunes those that fell
// below the threshold. Returns the pruned keys for audit.
func (s *Store) Sweep(now time.Time) []EdgeKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []EdgeKey
	for key, e := range s.edges {
		w := e.DecayedWeight(now)
		e.Weight = w
		if now.After(e.LastUpdated) {
			e.LastUpdated = now
		}
		if w < s.params.PruneThreshold {
			pruned = append(pruned, key)
		}
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i].String() < pruned[j].String() })
	for _, key := range pruned {
		s.dropEdgeLocked(key)
	}
	return pruned
}

// IncomingView is a read-only projection of one active incoming edge,
// decayed to the requested instant.
type IncomingView struct {
	Edge          Edge
	DecayedWeight float64
	Cause         event.Event
}

// Incoming returns the active incoming edges for a ticker with weights
// decayed as of at. Edges whose decayed weight fell below the prune
// threshold are excluded (but not removed; Sweep owns removal).
func (s *Store) Incoming(ticker string, at time.Time) []IncomingView {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]EdgeKey, 0, len(s.incoming[ticker]))
	for key := range s.incoming[ticker] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]IncomingView, 0, len(keys))
	for _, key := range keys {
		e, ok := s.edges[key]
		if !ok {
			continue
		}
		w := e.DecayedWeight(at)
		if w < s.params.PruneThreshold {
			continue
		}
		out = append(out, IncomingView{Edge: *e, DecayedWeight: w, Cause: s.nodes[key.CauseID]})
	}
	return out
}

// Snapshot is a point-in-time serializable view of the graph.
type Snapshot struct {
	TakenAt time.Time     `json:"taken_at"`
	Nodes   []event.Event `json:"nodes"`
	Edges   []Edge        `json:"edges"`
}

// Snapshot deep-copies the current nodes and edges without blocking ongoing
// updates for longer than the copy itself.
func (s *Store) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{TakenAt: now}
	snap.Nodes = make([]event.Event, 0, len(s.nodes))
	for _, ev := range s.nodes {
		snap.Nodes = append(snap.Nodes, ev)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	snap.Edges = make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		snap.Edges = append(snap.Edges, *e)
	}
	sort.Slice(snap.Edges, func(i, j int) bool { return snap.Edges[i].Key.String() < snap.Edges[j].Key.String() })
	return snap
}

// EdgeCount reports the live edge count.
func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edges)
}
