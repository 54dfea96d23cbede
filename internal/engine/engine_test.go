package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"causeway/internal/alert"
	"causeway/internal/audit"
	"causeway/internal/config"
	"causeway/internal/event"
	"causeway/internal/gate"
	"causeway/internal/graph"
	"causeway/internal/infer"
	"causeway/internal/judge"
	"causeway/internal/markethours"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var engineBase = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type MockJudge struct {
	mock.Mock
}

func (m *MockJudge) Assess(ctx context.Context, pair gate.CandidatePair, cause, effect event.Event) (judge.Judgment, error) {
	args := m.Called(ctx, pair, cause, effect)
	return args.Get(0).(judge.Judgment), args.Error(1)
}

type captureSink struct {
	mu      sync.Mutex
	records []alert.Record
}

func (c *captureSink) Emit(rec alert.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *captureSink) all() []alert.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Record(nil), c.records...)
}

type harness struct {
	engine *Engine
	judge  *MockJudge
	graph  *graph.Store
	audit  *audit.Store
	sink   *captureSink
}

func testConfig() *config.Config {
	return &config.Config{
		Gating: config.GatingConfig{
			MaxCandidatesPerEvent: 10,
			MaxLagMinutes:         24 * 60,
			MaxBarLagMinutes:      90,
			MinSocialMentions:     5,
		},
		Weights: config.WeightConfig{
			AlphaBlend:         0.7,
			InitialEdgeWeight:  0.55,
			MinConfidenceToAdd: 0.5,
			FlipMargin:         0.15,
			PruneThreshold:     0.05,
		},
		Decay:   config.DecayConfig{PriceDays: 1, NewsDays: 5, FilingDays: 10, MacroDays: 45, SocialDays: 2},
		Horizon: config.HorizonConfig{Minutes: 90, SpreadSigmaK: 0.5, MinProbability: 0.65},
		Judge:   config.JudgeConfig{MaxParallel: 4},
		RTH:     config.RTHConfig{Enforce: false},
		Budget:  config.BudgetConfig{DailyUSDCap: 1.0, EstUSDPerEdge: 0.0005},
	}
}

func newHarness(t *testing.T, cfg *config.Config, cal markethours.Calendar) *harness {
	t.Helper()
	auditStore, err := audit.New(filepath.Join(t.TempDir(), "audit.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { auditStore.Close() })

	graphStore := graph.NewStore(graph.Params{
		AlphaBlend:         cfg.Weights.AlphaBlend,
		InitialEdgeWeight:  cfg.Weights.InitialEdgeWeight,
		MinConfidenceToAdd: cfg.Weights.MinConfidenceToAdd,
		FlipMargin:         cfg.Weights.FlipMargin,
		PruneThreshold:     cfg.Weights.PruneThreshold,
		HalfLife:           cfg.Decay.HalfLife,
	})

	universe, err := config.NewUniverse("")
	require.NoError(t, err)
	t.Cleanup(func() { universe.Close() })

	mockJudge := new(MockJudge)
	sink := &captureSink{}
	eng, err := New(Params{
		Config:   cfg,
		Gate:     gate.NewGenerator(cfg.Gating, universe),
		Judge:    mockJudge,
		Graph:    graphStore,
		Infer:    infer.NewEngine(graphStore, cfg.Horizon),
		Audit:    auditStore,
		Sinks:    sink,
		Calendar: cal,
		NowFn:    func() time.Time { return engineBase },
	})
	require.NoError(t, err)
	return &harness{engine: eng, judge: mockJudge, graph: graphStore, audit: auditStore, sink: sink}
}

func engineNews(id string, ts time.Time) event.Event {
	return event.Event{
		ID: id, Type: event.TypeNews, Ticker: "AAPL", Timestamp: ts,
		Attrs: event.Attrs{News: &event.NewsAttrs{Headline: "Apple supplier update"}},
	}
}

func enginePrice(id string, ts time.Time) event.Event {
	return event.Event{
		ID: id, Type: event.TypePrice, Ticker: "AAPL", Timestamp: ts,
		Attrs: event.Attrs{Price: &event.PriceAttrs{Sigma: 2.5}},
	}
}

func actions(t *testing.T, store *audit.Store) []string {
	t.Helper()
	recs, err := store.ListAfter(context.Background(), 0, 1000)
	require.NoError(t, err)
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Action)
	}
	return out
}

func TestInsertEventFullPipelineEmitsAlert(t *testing.T) {
	h := newHarness(t, testConfig(), markethours.Static(true))
	ctx := context.Background()

	h.judge.On("Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(judge.Judgment{Edge: true, Polarity: 1, Confidence: 0.9, Rationale: "supplier beat"}, nil)

	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-30*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	h.judge.AssertNumberOfCalls(t, "Assess", 1)
	assert.Equal(t, 1, h.graph.EdgeCount())

	alerts := h.sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, "AAPL", alerts[0].Ticker)
	assert.Equal(t, "UP", alerts[0].Direction)
	assert.Equal(t, "p1", alerts[0].TriggeringEventID)
	assert.Greater(t, alerts[0].Probability, 0.65)
	assert.NotEmpty(t, alerts[0].Rationale)

	got := actions(t, h.audit)
	assert.Contains(t, got, audit.ActionAddNode)
	assert.Contains(t, got, audit.ActionCandidatesProposed)
	assert.Contains(t, got, audit.ActionEdgeUpserted)
	assert.Contains(t, got, audit.ActionAlertEmitted)
}

func TestInsertEventMarketClosedIngestsButSkipsEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.RTH.Enforce = true
	h := newHarness(t, cfg, markethours.Static(false))
	ctx := context.Background()

	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-30*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	// Nodes land regardless; nothing downstream runs.
	_, ok := h.graph.Node("p1")
	assert.True(t, ok)
	h.judge.AssertNotCalled(t, "Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.sink.all())
	assert.Equal(t, 0, h.graph.EdgeCount())

	got := actions(t, h.audit)
	assert.Contains(t, got, audit.ActionEvaluationSkipped)
	assert.NotContains(t, got, audit.ActionCandidatesProposed)
	assert.NotContains(t, got, audit.ActionAlertEmitted)
}

func TestInsertEventJudgeRejectionLeavesGraphUntouched(t *testing.T) {
	h := newHarness(t, testConfig(), markethours.Static(true))
	ctx := context.Background()

	h.judge.On("Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(judge.Judgment{Edge: false, Polarity: 0, Confidence: 0.9}, nil)

	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-30*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	assert.Equal(t, 0, h.graph.EdgeCount())
	got := actions(t, h.audit)
	assert.Contains(t, got, audit.ActionJudgmentRejected)
	assert.NotContains(t, got, audit.ActionEdgeUpserted)
	// No live edges, so inference suppresses.
	assert.Contains(t, got, audit.ActionAlertSuppressed)
}

func TestInsertEventJudgeUnavailableIsAudited(t *testing.T) {
	h := newHarness(t, testConfig(), markethours.Static(true))
	ctx := context.Background()

	h.judge.On("Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(judge.Judgment{}, judge.ErrUnavailable)

	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-30*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	assert.Equal(t, 0, h.graph.EdgeCount())
	assert.Contains(t, actions(t, h.audit), audit.ActionJudgmentUnavailable)
}

func TestInsertEventBudgetCapSkipsExcessPairs(t *testing.T) {
	cfg := testConfig()
	cfg.Budget = config.BudgetConfig{DailyUSDCap: 0.0005, EstUSDPerEdge: 0.0005} // one judgment/day
	h := newHarness(t, cfg, markethours.Static(true))
	ctx := context.Background()

	h.judge.On("Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(judge.Judgment{Edge: true, Polarity: 1, Confidence: 0.9}, nil)

	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-40*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n2", engineBase.Add(-20*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	h.judge.AssertNumberOfCalls(t, "Assess", 1)
	assert.Contains(t, actions(t, h.audit), audit.ActionBudgetSkip)
}

func TestInsertEventAuditsGateRejections(t *testing.T) {
	h := newHarness(t, testConfig(), markethours.Static(true))
	ctx := context.Background()

	// Two hours beats the 90-minute bar lag, so the gate drops the pair.
	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("stale", engineBase.Add(-2*time.Hour))))
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))

	h.judge.AssertNotCalled(t, "Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Contains(t, actions(t, h.audit), audit.ActionCandidateRejected)

	recs, err := h.audit.RecentByAction(ctx, audit.ActionCandidateRejected, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	var rej gate.Rejection
	require.NoError(t, json.Unmarshal(recs[0].Payload, &rej))
	assert.Equal(t, "stale", rej.CauseID)
	assert.Equal(t, "p1", rej.EffectID)
	assert.Equal(t, gate.RuleMaxLag, rej.Rule)
}

func TestInsertEventNonTriggerTypeSkipsJudgmentsUnderEnforcement(t *testing.T) {
	cfg := testConfig()
	cfg.RTH.Enforce = true
	h := newHarness(t, cfg, markethours.Static(true))
	ctx := context.Background()

	h.judge.On("Assess", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(judge.Judgment{Edge: true, Polarity: 1, Confidence: 0.9}, nil)

	// News effect during the session: pairs are proposed and audited, but no
	// judgment budget is spent on a non-trigger event type.
	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n1", engineBase.Add(-40*time.Minute))))
	require.NoError(t, h.engine.InsertEvent(ctx, engineNews("n2", engineBase.Add(-20*time.Minute))))
	h.judge.AssertNumberOfCalls(t, "Assess", 0)
	got := actions(t, h.audit)
	assert.Contains(t, got, audit.ActionCandidatesProposed)
	assert.Contains(t, got, audit.ActionEvaluationSkipped)
	assert.NotContains(t, got, audit.ActionEdgeUpserted)

	// A price event is a trigger; its pairs get judged.
	require.NoError(t, h.engine.InsertEvent(ctx, enginePrice("p1", engineBase)))
	h.judge.AssertNumberOfCalls(t, "Assess", 2)
	assert.Contains(t, actions(t, h.audit), audit.ActionEdgeUpserted)
}

func TestSubmitRejectsInvalidEvent(t *testing.T) {
	h := newHarness(t, testConfig(), markethours.Static(true))
	bad := event.Event{ID: "x", Type: event.TypeNews, Timestamp: engineBase}
	assert.Error(t, h.engine.Submit(context.Background(), bad))
}
