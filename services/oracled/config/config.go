package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the price publisher daemon.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	NodeURL       string       `yaml:"node_url"`
	Feeds         []FeedConfig `yaml:"feeds"`
}

// FeedConfig describes one upstream price source and the sanity bounds its
// answers must satisfy before they are pushed on-chain.
type FeedConfig struct {
	Asset           string  `yaml:"asset"`
	Symbol          string  `yaml:"symbol"`
	URL             string  `yaml:"url"`
	PriceField      string  `yaml:"price_field"`
	Decimals        uint8   `yaml:"decimals"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	MaxDeviationBPS uint64  `yaml:"max_deviation_bps"`
	MinPrice        float64 `yaml:"min_price"`
	MaxPrice        float64 `yaml:"max_price"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: ":7121"}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7121"
	}
	cfg.NodeURL = strings.TrimSpace(cfg.NodeURL)
	for i := range cfg.Feeds {
		feed := &cfg.Feeds[i]
		feed.Asset = strings.TrimSpace(feed.Asset)
		feed.Symbol = strings.ToUpper(strings.TrimSpace(feed.Symbol))
		feed.URL = strings.TrimSpace(feed.URL)
		feed.PriceField = strings.TrimSpace(feed.PriceField)
		if feed.PriceField == "" {
			feed.PriceField = "price"
		}
		if feed.Decimals == 0 {
			feed.Decimals = 8
		}
		if feed.IntervalSeconds <= 0 {
			feed.IntervalSeconds = 60
		}
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.NodeURL == "" {
		return fmt.Errorf("node_url is required")
	}
	if len(cfg.Feeds) == 0 {
		return fmt.Errorf("at least one feed is required")
	}
	seen := make(map[string]struct{}, len(cfg.Feeds))
	for i, feed := range cfg.Feeds {
		if feed.Asset == "" {
			return fmt.Errorf("feed %d: asset is required", i)
		}
		if feed.URL == "" {
			return fmt.Errorf("feed %d (%s): url is required", i, feed.Symbol)
		}
		if feed.Decimals > 18 {
			return fmt.Errorf("feed %d (%s): decimals must not exceed 18", i, feed.Symbol)
		}
		if feed.MaxDeviationBPS >= 10_000 {
			return fmt.Errorf("feed %d (%s): max_deviation_bps must be below 10000", i, feed.Symbol)
		}
		if feed.MinPrice < 0 || (feed.MaxPrice > 0 && feed.MaxPrice <= feed.MinPrice) {
			return fmt.Errorf("feed %d (%s): price bounds are inconsistent", i, feed.Symbol)
		}
		if _, dup := seen[feed.Asset]; dup {
			return fmt.Errorf("feed %d (%s): duplicate asset %s", i, feed.Symbol, feed.Asset)
		}
		seen[feed.Asset] = struct{}{}
	}
	return nil
}

// Interval returns the polling cadence for the feed.
func (f FeedConfig) Interval() time.Duration {
	return time.Duration(f.IntervalSeconds) * time.Second
}
