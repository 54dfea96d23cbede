package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the YAML config at path, applies defaults and validates.
// Configuration errors at startup are fatal to the process (the caller
// decides); nothing here is recoverable.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":9920")
	v.SetDefault("app.ingress_buffer", 256)

	v.SetDefault("gating.max_candidates_per_event", 10)
	v.SetDefault("gating.max_lag_minutes", 24*60)
	v.SetDefault("gating.max_bar_lag_minutes", 90)
	v.SetDefault("gating.min_social_mentions", 5)
	v.SetDefault("gating.allow_cross_ticker_within_sector", true)
	v.SetDefault("gating.allow_supply_chain_links", true)
	v.SetDefault("gating.allow_macro_to_ticker", true)

	v.SetDefault("decay.price_days", 1.0)
	v.SetDefault("decay.news_days", 5.0)
	v.SetDefault("decay.filing_days", 10.0)
	v.SetDefault("decay.macro_days", 45.0)
	v.SetDefault("decay.social_days", 2.0)

	v.SetDefault("weights.alpha_blend", 0.7)
	v.SetDefault("weights.initial_edge_weight", 0.55)
	v.SetDefault("weights.min_confidence_to_add", 0.50)
	v.SetDefault("weights.flip_margin", 0.15)
	v.SetDefault("weights.prune_threshold", 0.05)

	v.SetDefault("horizon.minutes", 90)
	v.SetDefault("horizon.spread_sigma_k", 1.0)
	v.SetDefault("horizon.min_probability", 0.65)

	v.SetDefault("judge.base_url", "https://api.openai.com/v1")
	v.SetDefault("judge.model", "gpt-4o-mini")
	v.SetDefault("judge.timeout_seconds", 30)
	v.SetDefault("judge.max_retries", 2)
	v.SetDefault("judge.max_parallel", 4)
	v.SetDefault("judge.temperature", 0.2)
	v.SetDefault("judge.breaker_threshold", 5)
	v.SetDefault("judge.breaker_cooldown_seconds", 60)

	v.SetDefault("alerts.enable_console", true)
	v.SetDefault("alerts.jsonl_path", "data/alerts.jsonl")

	v.SetDefault("audit.sqlite_path", "data/audit.sqlite")

	v.SetDefault("rth.enforce", true)
	v.SetDefault("rth.trigger_types", []string{"price"})

	v.SetDefault("universe.reference_index", "SPY")

	v.SetDefault("budget.daily_usd_cap", 1.0)
	v.SetDefault("budget.est_usd_per_edge", 0.0005)
}
