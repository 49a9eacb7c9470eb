package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the audit service daemon.
type Config struct {
	ListenAddress    string         `yaml:"listen"`
	NodeWebsocketURL string         `yaml:"node_ws_url"`
	DatabaseURL      string         `yaml:"database_url"`
	Snapshot         SnapshotConfig `yaml:"snapshot"`
	ReconnectSeconds int            `yaml:"reconnect_seconds"`
}

// SnapshotConfig controls the periodic parquet exports of derived balances.
type SnapshotConfig struct {
	OutputDir     string `yaml:"output_dir"`
	IntervalHours int    `yaml:"interval_hours"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress:    ":7120",
		ReconnectSeconds: 5,
		Snapshot: SnapshotConfig{
			OutputDir:     "./audit-snapshots",
			IntervalHours: 24,
		},
	}
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
		cfg.ListenAddress = ":7120"
	}
	cfg.NodeWebsocketURL = strings.TrimSpace(cfg.NodeWebsocketURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.Snapshot.OutputDir = strings.TrimSpace(cfg.Snapshot.OutputDir)
	if cfg.Snapshot.OutputDir == "" {
		cfg.Snapshot.OutputDir = "./audit-snapshots"
	}
	if cfg.Snapshot.IntervalHours <= 0 {
		cfg.Snapshot.IntervalHours = 24
	}
	if cfg.ReconnectSeconds <= 0 {
		cfg.ReconnectSeconds = 5
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.NodeWebsocketURL == "" {
		return fmt.Errorf("node_ws_url is required")
	}
	if !strings.HasPrefix(cfg.NodeWebsocketURL, "ws://") && !strings.HasPrefix(cfg.NodeWebsocketURL, "wss://") {
		return fmt.Errorf("node_ws_url must use ws:// or wss://")
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	return nil
}

// ReconnectBackoff returns the delay between websocket redial attempts.
func (cfg Config) ReconnectBackoff() time.Duration {
	return time.Duration(cfg.ReconnectSeconds) * time.Second
}

// SnapshotInterval returns the cadence for parquet exports.
func (cfg Config) SnapshotInterval() time.Duration {
	return time.Duration(cfg.Snapshot.IntervalHours) * time.Hour
}
