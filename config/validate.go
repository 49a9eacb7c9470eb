package config

import (
	"fmt"
	"strings"
)

const maxBasisPoints = 10_000

// Validate rejects configurations the engine would refuse at startup, so
// operators see a config path in the error instead of an engine sentinel.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Risk.LiquidationThresholdBPS == 0 || cfg.Risk.LiquidationThresholdBPS > maxBasisPoints {
		return fmt.Errorf("risk: LiquidationThresholdBPS must be in (0, %d]", maxBasisPoints)
	}
	if cfg.Risk.LiquidationBonusBPS >= maxBasisPoints {
		return fmt.Errorf("risk: LiquidationBonusBPS must be below %d", maxBasisPoints)
	}
	if cfg.Risk.MaxQuoteAgeSeconds < 0 {
		return fmt.Errorf("risk: MaxQuoteAgeSeconds cannot be negative")
	}
	if len(cfg.Collateral) == 0 {
		return fmt.Errorf("collateral: at least one asset must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Collateral))
	for i, entry := range cfg.Collateral {
		symbol := strings.ToLower(strings.TrimSpace(entry.Symbol))
		if symbol == "" {
			return fmt.Errorf("collateral[%d]: Symbol is required", i)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("collateral[%d]: duplicate symbol %q", i, entry.Symbol)
		}
		seen[symbol] = struct{}{}
		if err := validateFeed(entry.Feed, fmt.Sprintf("collateral[%d].Feed", i)); err != nil {
			return err
		}
	}
	return nil
}

func validateFeed(feed FeedConfig, path string) error {
	switch strings.ToLower(strings.TrimSpace(feed.Type)) {
	case "manual":
		return nil
	case "http":
		if strings.TrimSpace(feed.Endpoint) == "" {
			return fmt.Errorf("%s: http feeds need an Endpoint", path)
		}
		return nil
	case "aggregate":
		if len(feed.Fallbacks) == 0 {
			return fmt.Errorf("%s: aggregate feeds need at least one fallback", path)
		}
		for i, fallback := range feed.Fallbacks {
			if strings.EqualFold(strings.TrimSpace(fallback.Type), "aggregate") {
				return fmt.Errorf("%s.Fallbacks[%d]: aggregates cannot nest", path, i)
			}
			if err := validateFeed(fallback, fmt.Sprintf("%s.Fallbacks[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case "":
		return fmt.Errorf("%s: Type is required", path)
	default:
		return fmt.Errorf("%s: unknown feed type %q", path, feed.Type)
	}
}
