package config

import (
	"time"

	"causeway/internal/event"
)

// Config is the top-level configuration carrier.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Gating   GatingConfig   `mapstructure:"gating"`
	Decay    DecayConfig    `mapstructure:"decay"`
	Weights  WeightConfig   `mapstructure:"weights"`
	Horizon  HorizonConfig  `mapstructure:"horizon"`
	Judge    JudgeConfig    `mapstructure:"judge"`
	Alerts   AlertConfig    `mapstructure:"alerts"`
	Audit    AuditConfig    `mapstructure:"audit"`
	RTH      RTHConfig      `mapstructure:"rth"`
	Universe UniverseConfig `mapstructure:"universe"`
	Budget   BudgetConfig   `mapstructure:"budget"`
}

type AppConfig struct {
	Env           string `mapstructure:"env"`
	LogLevel      string `mapstructure:"log_level"`
	LogPath       string `mapstructure:"log_path"`
	HTTPAddr      string `mapstructure:"http_addr"`
	IngressBuffer int    `mapstructure:"ingress_buffer"`
}

// GatingConfig bounds candidate-pair proposal.
type GatingConfig struct {
	MaxCandidatesPerEvent        int  `mapstructure:"max_candidates_per_event"`
	MaxLagMinutes                int  `mapstructure:"max_lag_minutes"`
	MaxBarLagMinutes             int  `mapstructure:"max_bar_lag_minutes"`
	MinSocialMentions            int  `mapstructure:"min_social_mentions"`
	AllowCrossTickerWithinSector bool `mapstructure:"allow_cross_ticker_within_sector"`
	AllowSupplyChainLinks        bool `mapstructure:"allow_supply_chain_links"`
	AllowMacroToTicker           bool `mapstructure:"allow_macro_to_ticker"`
}

// DecayConfig holds per-event-type half-lives in days. Price-driven edges
// fade fastest, macro slowest.
type DecayConfig struct {
	PriceDays  float64 `mapstructure:"price_days"`
	NewsDays   float64 `mapstructure:"news_days"`
	FilingDays float64 `mapstructure:"filing_days"`
	MacroDays  float64 `mapstructure:"macro_days"`
	SocialDays float64 `mapstructure:"social_days"`
}

// HalfLife returns the decay half-life for a cause event type.
func (d DecayConfig) HalfLife(t event.Type) time.Duration {
	days := 3.0
	switch t {
	case event.TypePrice:
		days = d.PriceDays
	case event.TypeNews:
		days = d.NewsDays
	case event.TypeFiling:
		days = d.FilingDays
	case event.TypeMacro:
		days = d.MacroDays
	case event.TypeSocial:
		days = d.SocialDays
	}
	return time.Duration(days * 24 * float64(time.Hour))
}

type WeightConfig struct {
	AlphaBlend         float64 `mapstructure:"alpha_blend"`
	InitialEdgeWeight  float64 `mapstructure:"initial_edge_weight"`
	MinConfidenceToAdd float64 `mapstructure:"min_confidence_to_add"`
	FlipMargin         float64 `mapstructure:"flip_margin"`
	PruneThreshold     float64 `mapstructure:"prune_threshold"`
}

type HorizonConfig struct {
	Minutes        int     `mapstructure:"minutes"`
	SpreadSigmaK   float64 `mapstructure:"spread_sigma_k"`
	MinProbability float64 `mapstructure:"min_probability"`
}

type JudgeConfig struct {
	BaseURL                string  `mapstructure:"base_url"`
	APIKey                 string  `mapstructure:"api_key"`
	Model                  string  `mapstructure:"model"`
	TimeoutSeconds         int     `mapstructure:"timeout_seconds"`
	MaxRetries             int     `mapstructure:"max_retries"`
	MaxParallel            int     `mapstructure:"max_parallel"`
	Temperature            float64 `mapstructure:"temperature"`
	BreakerThreshold       int     `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int     `mapstructure:"breaker_cooldown_seconds"`
}

type AlertConfig struct {
	EnableConsole bool           `mapstructure:"enable_console"`
	JSONLPath     string         `mapstructure:"jsonl_path"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type AuditConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RTHConfig gates evaluation/inference to regular trading hours. Ingestion
// is never gated.
type RTHConfig struct {
	Enforce      bool     `mapstructure:"enforce"`
	TriggerTypes []string `mapstructure:"trigger_types"`
}

// TriggersOn reports whether events of type t qualify as inference triggers.
func (r RTHConfig) TriggersOn(t event.Type) bool {
	if len(r.TriggerTypes) == 0 {
		return t == event.TypePrice
	}
	for _, s := range r.TriggerTypes {
		if event.Type(s) == t {
			return true
		}
	}
	return false
}

type UniverseConfig struct {
	Tickers        []string `mapstructure:"tickers"`
	ReferenceIndex string   `mapstructure:"reference_index"`
	MetaPath       string   `mapstructure:"meta_path"`
}

// BudgetConfig caps judgment calls per UTC day by dollar estimate.
type BudgetConfig struct {
	DailyUSDCap   float64 `mapstructure:"daily_usd_cap"`
	EstUSDPerEdge float64 `mapstructure:"est_usd_per_edge"`
}

// EdgesPerDay converts the dollar cap into a call cap (at least 1).
func (b BudgetConfig) EdgesPerDay() int {
	per := b.EstUSDPerEdge
	if per <= 0 {
		per = 0.0005
	}
	n := int(b.DailyUSDCap / per)
	if n < 1 {
		return 1
	}
	return n
}
