// Package app builds and runs the application from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"causeway/internal/alert"
	"causeway/internal/audit"
	"causeway/internal/config"
	"causeway/internal/engine"
	"causeway/internal/gate"
	"causeway/internal/graph"
	"causeway/internal/infer"
	"causeway/internal/judge"
	"causeway/internal/logger"
	"causeway/internal/markethours"
	"causeway/internal/transport/httpapi"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg      *config.Config
	engine   *engine.Engine
	http     *httpapi.Server
	audit    *audit.Store
	universe *config.Universe
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	universe, err := config.NewUniverse(cfg.Universe.MetaPath)
	if err != nil {
		return nil, fmt.Errorf("universe metadata: %w", err)
	}

	auditStore, err := audit.New(cfg.Audit.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}

	graphStore := graph.NewStore(graph.Params{
		AlphaBlend:         cfg.Weights.AlphaBlend,
		InitialEdgeWeight:  cfg.Weights.InitialEdgeWeight,
		MinConfidenceToAdd: cfg.Weights.MinConfidenceToAdd,
		FlipMargin:         cfg.Weights.FlipMargin,
		PruneThreshold:     cfg.Weights.PruneThreshold,
		HalfLife:           cfg.Decay.HalfLife,
	})

	// Rehydrate graph state from the audit trail before taking traffic.
	replayCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := audit.Replay(replayCtx, auditStore, graphStore); err != nil {
		return nil, fmt.Errorf("audit replay: %w", err)
	}

	var calendar markethours.Calendar = markethours.Static(true)
	if cfg.RTH.Enforce {
		xnys, err := markethours.NewXNYS()
		if err != nil {
			return nil, fmt.Errorf("market calendar: %w", err)
		}
		calendar = xnys
	}

	debate := judge.NewDebateJudge(cfg.Judge)

	sinks := alert.Fanout{}
	if cfg.Alerts.EnableConsole {
		sinks = append(sinks, alert.ConsoleSink{})
	}
	if cfg.Alerts.JSONLPath != "" {
		jsonl, err := alert.NewJSONLSink(cfg.Alerts.JSONLPath)
		if err != nil {
			return nil, fmt.Errorf("alert jsonl sink: %w", err)
		}
		sinks = append(sinks, jsonl)
	}
	if cfg.Alerts.Telegram.Enabled {
		tg := alert.NewTelegram(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID)
		sinks = append(sinks, alert.NotifierSink{Notifier: tg})
	}

	eng, err := engine.New(engine.Params{
		Config:   cfg,
		Gate:     gate.NewGenerator(cfg.Gating, universe),
		Judge:    debate,
		Explain:  debate,
		Graph:    graphStore,
		Infer:    infer.NewEngine(graphStore, cfg.Horizon),
		Audit:    auditStore,
		Sinks:    sinks,
		Calendar: calendar,
	})
	if err != nil {
		return nil, err
	}

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Engine: eng,
		Audit:  auditStore,
	})
	if err != nil {
		return nil, err
	}

	return &App{cfg: cfg, engine: eng, http: httpSrv, audit: auditStore, universe: universe}, nil
}

// Run starts the HTTP surface and the engine loop, returning when either
// fails or the context ends.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.universe.Close()
	defer a.audit.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return a.engine.Run(ctx)
	})
	return group.Wait()
}

// Engine exposes the engine (for test/replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
