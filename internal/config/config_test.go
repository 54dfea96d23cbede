package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"causeway/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  env: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, ":9920", cfg.App.HTTPAddr)
	assert.InDelta(t, 0.7, cfg.Weights.AlphaBlend, 1e-9)
	assert.InDelta(t, 0.55, cfg.Weights.InitialEdgeWeight, 1e-9)
	assert.Equal(t, 10, cfg.Gating.MaxCandidatesPerEvent)
	assert.Equal(t, 90, cfg.Gating.MaxBarLagMinutes)
	assert.Equal(t, 90, cfg.Horizon.Minutes)
	assert.True(t, cfg.RTH.Enforce)
	assert.Equal(t, 2000, cfg.Budget.EdgesPerDay())
}

func TestLoadOverridesAndWeakTyping(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
weights:
  alpha_blend: "0.5"
gating:
  max_bar_lag_minutes: 60
rth:
  enforce: false
`))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, cfg.Weights.AlphaBlend, 1e-9)
	assert.Equal(t, 60, cfg.Gating.MaxBarLagMinutes)
	assert.False(t, cfg.RTH.Enforce)
}

func TestLoadRejectsOutOfRangeWeights(t *testing.T) {
	_, err := Load(writeConfig(t, "weights:\n  alpha_blend: 1.5\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "horizon:\n  minutes: 0\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "decay:\n  price_days: -1\n"))
	assert.Error(t, err)
}

func TestLoadRejectsIncompleteTelegram(t *testing.T) {
	_, err := Load(writeConfig(t, "alerts:\n  telegram:\n    enabled: true\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDecayHalfLife(t *testing.T) {
	d := DecayConfig{PriceDays: 1, NewsDays: 5, FilingDays: 10, MacroDays: 45, SocialDays: 2}
	assert.Equal(t, 24*time.Hour, d.HalfLife(event.TypePrice))
	assert.Equal(t, 5*24*time.Hour, d.HalfLife(event.TypeNews))
	assert.Equal(t, 10*24*time.Hour, d.HalfLife(event.TypeFiling))
	assert.Equal(t, 45*24*time.Hour, d.HalfLife(event.TypeMacro))
	assert.Equal(t, 48*time.Hour, d.HalfLife(event.TypeSocial))
}

func TestRTHTriggersOnDefaultsToPrice(t *testing.T) {
	var r RTHConfig
	assert.True(t, r.TriggersOn(event.TypePrice))
	assert.False(t, r.TriggersOn(event.TypeNews))

	r.TriggerTypes = []string{"price", "news"}
	assert.True(t, r.TriggersOn(event.TypeNews))
	assert.False(t, r.TriggersOn(event.TypeMacro))
}

func TestBudgetEdgesPerDayFloorsAtOne(t *testing.T) {
	assert.Equal(t, 1, BudgetConfig{DailyUSDCap: 0.0001, EstUSDPerEdge: 0.0005}.EdgesPerDay())
	assert.Equal(t, 1, BudgetConfig{DailyUSDCap: 0, EstUSDPerEdge: 0}.EdgesPerDay())
}

func TestUniverseLoadAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
aapl:
  sector: technology
  peers: [msft]
MSFT:
  sector: technology
`), 0o644))

	u, err := NewUniverse(path)
	require.NoError(t, err)
	defer u.Close()

	snap := u.Snapshot()
	assert.Equal(t, "technology", snap.Sectors["AAPL"], "tickers normalize to upper case")
	assert.Equal(t, []string{"MSFT"}, snap.Peers["AAPL"])
	assert.Equal(t, int64(1), snap.Version)
}

func TestUniverseReloadSwapsSnapshotAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "universe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
AAPL:
  sector: technology
  peers: [MSFT]
`), 0o644))

	u, err := NewUniverse(path)
	require.NoError(t, err)
	defer u.Close()

	before := u.Snapshot()
	require.Equal(t, int64(1), before.Version)

	require.NoError(t, os.WriteFile(path, []byte(`
AAPL:
  sector: technology
  peers: [MSFT, GOOG]
XOM:
  sector: energy
`), 0o644))

	require.Eventually(t, func() bool {
		return u.Snapshot().Version > before.Version
	}, 5*time.Second, 10*time.Millisecond, "watcher picks up the rewrite")

	after := u.Snapshot()
	assert.Equal(t, "energy", after.Sectors["XOM"])
	assert.Equal(t, []string{"MSFT", "GOOG"}, after.Peers["AAPL"])

	// The snapshot taken before the rewrite is immutable; reload built fresh
	// maps instead of mutating the ones already handed out.
	assert.Equal(t, []string{"MSFT"}, before.Peers["AAPL"])
	_, ok := before.Sectors["XOM"]
	assert.False(t, ok)
}

func TestUniverseEmptyPath(t *testing.T) {
	u, err := NewUniverse("")
	require.NoError(t, err)
	defer u.Close()
	snap := u.Snapshot()
	assert.Empty(t, snap.Sectors)
	assert.Empty(t, snap.Peers)
}
