// Package engine orchestrates the pipeline: ingest → gate → judge → graph →
// inference → alert, with the RTH policy layer and the daily judgment budget
// wrapped around evaluation. Ingestion itself is never gated.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"causeway/internal/alert"
	"causeway/internal/audit"
	"causeway/internal/config"
	"causeway/internal/event"
	"causeway/internal/gate"
	"causeway/internal/graph"
	"causeway/internal/infer"
	"causeway/internal/judge"
	"causeway/internal/logger"
	"causeway/internal/markethours"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Params bundles the engine's dependencies.
type Params struct {
	Config   *config.Config
	Gate     *gate.Generator
	Judge    judge.Judge
	Explain  judge.Explainer // optional
	Graph    *graph.Store
	Infer    *infer.Engine
	Audit    *audit.Store
	Sinks    alert.Sink
	Calendar markethours.Calendar
	NowFn    func() time.Time
}

type Engine struct {
	cfg      *config.Config
	gate     *gate.Generator
	judge    judge.Judge
	explain  judge.Explainer
	graph    *graph.Store
	infer    *infer.Engine
	audit    *audit.Store
	sinks    alert.Sink
	calendar markethours.Calendar
	nowFn    func() time.Time

	events chan event.Event
	budget dailyBudget

	// commitMu linearizes Apply+Append so the audit trail records edge
	// updates in their true apply order; replay depends on it.
	commitMu sync.Mutex

	tickerMu sync.Map // ticker -> *sync.Mutex
}

func New(p Params) (*Engine, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("engine requires config")
	}
	if p.Gate == nil || p.Judge == nil || p.Graph == nil || p.Infer == nil || p.Audit == nil {
		return nil, fmt.Errorf("engine dependencies incomplete")
	}
	if p.Calendar == nil {
		p.Calendar = markethours.Static(true)
	}
	if p.NowFn == nil {
		p.NowFn = func() time.Time { return time.Now().UTC() }
	}
	if p.Sinks == nil {
		p.Sinks = alert.Fanout{}
	}
	buffer := p.Config.App.IngressBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Engine{
		cfg:      p.Config,
		gate:     p.Gate,
		judge:    p.Judge,
		explain:  p.Explain,
		graph:    p.Graph,
		infer:    p.Infer,
		audit:    p.Audit,
		sinks:    p.Sinks,
		calendar: p.Calendar,
		nowFn:    p.NowFn,
		events:   make(chan event.Event, buffer),
		budget:   dailyBudget{cap: p.Config.Budget.EdgesPerDay()},
	}, nil
}

// Submit queues an event for processing. Blocks only when the ingress buffer
// is full.
func (e *Engine) Submit(ctx context.Context, ev event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the ingress queue until the context is cancelled. Events are
// processed one at a time; judgment calls inside one event fan out in
// parallel under the configured bound.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("engine started (budget=%d judgments/day, rth_enforce=%v)",
		e.budget.cap, e.cfg.RTH.Enforce)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("engine stopped: %v", ctx.Err())
			return nil
		case ev := <-e.events:
			if err := e.InsertEvent(ctx, ev); err != nil {
				logger.Errorf("event %s processing failed: %v", ev.ID, err)
			}
		}
	}
}

// InsertEvent runs the full pipeline for one event. The node is always
// ingested; evaluation and inference honor the market-hours policy.
func (e *Engine) InsertEvent(ctx context.Context, ev event.Event) error {
	traceID := uuid.NewString()
	now := e.nowFn()

	if err := e.graph.AddNode(ev); err != nil {
		return fmt.Errorf("add node: %w", err)
	}
	if err := e.audit.Append(ctx, audit.ActionAddNode, traceID, audit.NodePayload{Event: ev}); err != nil {
		return fmt.Errorf("audit add_node: %w", err)
	}

	open := e.calendar.IsOpen(now)
	if e.cfg.RTH.Enforce && !open {
		// Keep the node; it becomes an eligible cause once the session
		// opens, subject to normal temporal-lag rules.
		_ = e.audit.Append(ctx, audit.ActionEvaluationSkipped, traceID, map[string]any{
			"event_id": ev.ID, "reason": "market closed",
		})
		return nil
	}

	pairs, dropped := e.gate.Propose(ev, e.graph.NodeWindow())
	_ = e.audit.Append(ctx, audit.ActionCandidatesProposed, traceID, map[string]any{
		"event_id": ev.ID, "count": len(pairs), "pairs": pairs,
	})
	for _, rej := range dropped {
		_ = e.audit.Append(ctx, audit.ActionCandidateRejected, traceID, rej)
	}

	if e.cfg.RTH.Enforce && !e.cfg.RTH.TriggersOn(ev.Type) {
		// Non-trigger events never spend judgment budget under enforcement;
		// they stay in the window as eligible causes.
		_ = e.audit.Append(ctx, audit.ActionEvaluationSkipped, traceID, map[string]any{
			"event_id": ev.ID, "reason": "event type is not an evaluation trigger", "pairs": len(pairs),
		})
	} else {
		e.evaluatePairs(ctx, traceID, pairs, ev)
	}

	swept := e.nowFn()
	pruned := e.graph.Sweep(swept)
	keys := make([]string, 0, len(pruned))
	for _, k := range pruned {
		keys = append(keys, k.String())
	}
	_ = e.audit.Append(ctx, audit.ActionSweep, traceID, audit.SweepPayload{At: swept, Pruned: keys})

	if e.cfg.RTH.TriggersOn(ev.Type) {
		e.runInference(ctx, traceID, ev)
	}
	return nil
}

// evaluatePairs fans judgment calls out in parallel, bounded by
// judge.max_parallel. Graph mutation happens only after each judgment
// returns; no lock spans the network call.
func (e *Engine) evaluatePairs(ctx context.Context, traceID string, pairs []gate.CandidatePair, effect event.Event) {
	if len(pairs) == 0 {
		return
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.cfg.Judge.MaxParallel)
	for _, pair := range pairs {
		pair := pair
		if !e.budget.take(e.nowFn()) {
			_ = e.audit.Append(ctx, audit.ActionBudgetSkip, traceID, map[string]any{
				"pair": pair, "reason": "daily judgment cap reached", "cap": e.budget.cap,
			})
			continue
		}
		group.Go(func() error {
			e.evaluateOne(gctx, traceID, pair, effect)
			return nil
		})
	}
	_ = group.Wait()
}

func (e *Engine) evaluateOne(ctx context.Context, traceID string, pair gate.CandidatePair, effect event.Event) {
	cause, ok := e.graph.Node(pair.CauseID)
	if !ok {
		logger.Warnf("pair %s->%s: cause vanished before judgment", pair.CauseID, pair.EffectID)
		return
	}

	j, err := e.judge.Assess(ctx, pair, cause, effect)
	if err != nil {
		switch {
		case errors.Is(err, judge.ErrInvalidJudgment):
			logger.Warnf("pair %s->%s: invalid judgment: %v", pair.CauseID, pair.EffectID, err)
			_ = e.audit.Append(ctx, audit.ActionJudgmentRejected, traceID, map[string]any{
				"pair": pair, "reason": err.Error(),
			})
		default:
			logger.Warnf("pair %s->%s: judgment unavailable: %v", pair.CauseID, pair.EffectID, err)
			_ = e.audit.Append(ctx, audit.ActionJudgmentUnavailable, traceID, map[string]any{
				"pair": pair, "reason": err.Error(),
			})
		}
		return
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	now := e.nowFn()
	result, err := e.graph.Apply(pair, j, now)
	if err != nil {
		// Invariant violation: fatal to this update only, never to the graph.
		logger.Errorf("pair %s->%s: graph apply failed: %v (judgment=%+v)",
			pair.CauseID, pair.EffectID, err, j)
		_ = e.audit.Append(ctx, audit.ActionJudgmentRejected, traceID, map[string]any{
			"pair": pair, "reason": err.Error(),
		})
		return
	}
	switch result.Outcome {
	case graph.OutcomeRejected:
		_ = e.audit.Append(ctx, audit.ActionJudgmentRejected, traceID, map[string]any{
			"pair": pair, "reason": result.Reason,
		})
	case graph.OutcomePruned:
		_ = e.audit.Append(ctx, audit.ActionEdgePruned, traceID, map[string]any{
			"pair": pair, "reason": result.Reason,
		})
	default:
		_ = e.audit.Append(ctx, audit.ActionEdgeUpserted, traceID, audit.EdgePayload{
			Pair: pair, Judgment: j, AppliedAt: now, Result: result,
		})
		logger.Debugf("edge %s->%s %s w=%.4f support=%d",
			pair.CauseID, pair.EffectID, result.Outcome, result.NewWeight, result.Edge.SupportCount)
	}
}

// runInference serializes per ticker so a run never interleaves with edge
// updates for the same ticker.
func (e *Engine) runInference(ctx context.Context, traceID string, ev event.Event) {
	if ev.Ticker == "" {
		return
	}
	muAny, _ := e.tickerMu.LoadOrStore(ev.Ticker, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	res := e.infer.Infer(ev)
	if !res.Eligible {
		_ = e.audit.Append(ctx, audit.ActionAlertSuppressed, traceID, res)
		return
	}

	direction := "UP"
	if res.Direction < 0 {
		direction = "DOWN"
	}
	rationale := e.rationale(ctx, ev.Ticker, direction, res.Score)
	rec := alert.Record{
		ID:                uuid.NewString(),
		Ticker:            ev.Ticker,
		TS:                e.nowFn(),
		HorizonMinutes:    e.cfg.Horizon.Minutes,
		Direction:         direction,
		Probability:       res.Probability,
		ExpectedSigma:     res.ExpectedSigma,
		Rationale:         rationale,
		TriggeringEventID: ev.ID,
	}
	if err := e.sinks.Emit(rec); err != nil {
		logger.Errorf("alert emit failed for %s: %v", ev.Ticker, err)
	}
	_ = e.audit.Append(ctx, audit.ActionAlertEmitted, traceID, rec)
}

func (e *Engine) rationale(ctx context.Context, ticker, direction string, score float64) string {
	if e.explain != nil {
		if text, err := e.explain.Explain(ctx, ticker, direction, score); err == nil && text != "" {
			return text
		}
	}
	side := "bullish"
	if direction == "DOWN" {
		side = "bearish"
	}
	return fmt.Sprintf("Graph net support %s with score=%.2fσ.", side, score)
}

// Snapshot exports the current graph for the HTTP surface.
func (e *Engine) Snapshot() graph.Snapshot {
	return e.graph.Snapshot(e.nowFn())
}

// dailyBudget caps judgment calls per UTC day.
type dailyBudget struct {
	mu   sync.Mutex
	day  string
	used int
	cap  int
}

func (b *dailyBudget) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	day := now.UTC().Format("2006-01-02")
	if day != b.day {
		b.day = day
		b.used = 0
	}
	if b.used >= b.cap {
		return false
	}
	b.used++
	return true
}
