package config

import "fmt"

func validate(cfg *Config) error {
	if err := inUnit("weights.alpha_blend", cfg.Weights.AlphaBlend); err != nil {
		return err
	}
	if err := inUnit("weights.initial_edge_weight", cfg.Weights.InitialEdgeWeight); err != nil {
		return err
	}
	if err := inUnit("weights.min_confidence_to_add", cfg.Weights.MinConfidenceToAdd); err != nil {
		return err
	}
	if err := inUnit("weights.prune_threshold", cfg.Weights.PruneThreshold); err != nil {
		return err
	}
	if cfg.Weights.FlipMargin < 0 {
		return fmt.Errorf("weights.flip_margin must be >= 0, got %v", cfg.Weights.FlipMargin)
	}
	if err := inUnit("horizon.min_probability", cfg.Horizon.MinProbability); err != nil {
		return err
	}
	if cfg.Horizon.Minutes <= 0 {
		return fmt.Errorf("horizon.minutes must be > 0, got %d", cfg.Horizon.Minutes)
	}
	if cfg.Horizon.SpreadSigmaK < 0 {
		return fmt.Errorf("horizon.spread_sigma_k must be >= 0, got %v", cfg.Horizon.SpreadSigmaK)
	}
	if cfg.Gating.MaxCandidatesPerEvent <= 0 {
		return fmt.Errorf("gating.max_candidates_per_event must be > 0, got %d", cfg.Gating.MaxCandidatesPerEvent)
	}
	if cfg.Gating.MaxLagMinutes <= 0 || cfg.Gating.MaxBarLagMinutes <= 0 {
		return fmt.Errorf("gating lag ceilings must be > 0")
	}
	for name, days := range map[string]float64{
		"decay.price_days":  cfg.Decay.PriceDays,
		"decay.news_days":   cfg.Decay.NewsDays,
		"decay.filing_days": cfg.Decay.FilingDays,
		"decay.macro_days":  cfg.Decay.MacroDays,
		"decay.social_days": cfg.Decay.SocialDays,
	} {
		if days <= 0 {
			return fmt.Errorf("%s must be > 0, got %v", name, days)
		}
	}
	if cfg.Judge.TimeoutSeconds <= 0 {
		return fmt.Errorf("judge.timeout_seconds must be > 0, got %d", cfg.Judge.TimeoutSeconds)
	}
	if cfg.Judge.MaxRetries < 0 {
		return fmt.Errorf("judge.max_retries must be >= 0, got %d", cfg.Judge.MaxRetries)
	}
	if cfg.Judge.MaxParallel <= 0 {
		return fmt.Errorf("judge.max_parallel must be > 0, got %d", cfg.Judge.MaxParallel)
	}
	if cfg.Alerts.Telegram.Enabled {
		if cfg.Alerts.Telegram.BotToken == "" || cfg.Alerts.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram requires bot_token and chat_id when enabled")
		}
	}
	if cfg.Audit.SQLitePath == "" {
		return fmt.Errorf("audit.sqlite_path cannot be empty")
	}
	return nil
}

func inUnit(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", name, v)
	}
	return nil
}
