package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nusd/crypto"
	"nusd/native/vault"
)

// FeedConfig selects the price source for one collateral asset.
type FeedConfig struct {
	// Type is one of "manual", "http", or "aggregate".
	Type string `toml:"Type"`
	// Endpoint is the poll URL for http feeds.
	Endpoint string `toml:"Endpoint,omitempty"`
	// Source labels the observation origin in quotes and events.
	Source string `toml:"Source,omitempty"`
	// Fallbacks lists ranked backup feeds for aggregate sources.
	Fallbacks []FeedConfig `toml:"Fallbacks,omitempty"`
}

// CollateralConfig registers one supported collateral asset.
type CollateralConfig struct {
	Symbol  string     `toml:"Symbol"`
	Address string     `toml:"Address,omitempty"`
	Feed    FeedConfig `toml:"Feed"`
}

// RiskConfig carries the issuance safety parameters.
type RiskConfig struct {
	LiquidationThresholdBPS uint64 `toml:"LiquidationThresholdBPS"`
	LiquidationBonusBPS     uint64 `toml:"LiquidationBonusBPS"`
	MaxQuoteAgeSeconds      int64  `toml:"MaxQuoteAgeSeconds"`
}

// LoggingConfig selects the slog output shape.
type LoggingConfig struct {
	Env        string `toml:"Env"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
}

// OTLPConfig points trace export at a collector. An empty endpoint disables
// tracing.
type OTLPConfig struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Insecure bool   `toml:"Insecure,omitempty"`
}

// PausesConfig switches mutating module entry points off for maintenance.
type PausesConfig struct {
	Vault bool `toml:"Vault"`
}

type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	NetworkName          string `toml:"NetworkName"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`

	// ModuleAddress holds the vault's escrow account; SynthAsset identifies
	// the pegged token on the ledger. Both default to addresses derived from
	// the network name when left empty.
	ModuleAddress string `toml:"ModuleAddress,omitempty"`
	SynthAsset    string `toml:"SynthAsset,omitempty"`

	Risk       RiskConfig         `toml:"Risk"`
	Collateral []CollateralConfig `toml:"Collateral"`
	Pauses     PausesConfig       `toml:"Pauses"`
	Logging    LoggingConfig      `toml:"Logging"`
	OTLP       OTLPConfig         `toml:"OTLP"`
}

// Load reads the configuration, creating a default file (and operator
// keystore) when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.OperatorKeystorePath == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./nusd-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "nusd-local"
	}
	if strings.TrimSpace(cfg.Logging.Env) == "" {
		cfg.Logging.Env = "dev"
	}
	if cfg.Risk.LiquidationThresholdBPS == 0 && cfg.Risk.LiquidationBonusBPS == 0 && cfg.Risk.MaxQuoteAgeSeconds == 0 {
		defaults := vault.DefaultRiskParameters()
		cfg.Risk.LiquidationThresholdBPS = defaults.LiquidationThreshold
		cfg.Risk.LiquidationBonusBPS = defaults.LiquidationBonus
		cfg.Risk.MaxQuoteAgeSeconds = int64(defaults.MaxQuoteAge / time.Second)
	}
}

// RiskParameters converts the config section into engine parameters.
func (cfg *Config) RiskParameters() (vault.RiskParameters, error) {
	params := vault.RiskParameters{
		LiquidationThreshold: cfg.Risk.LiquidationThresholdBPS,
		LiquidationBonus:     cfg.Risk.LiquidationBonusBPS,
		MaxQuoteAge:          time.Duration(cfg.Risk.MaxQuoteAgeSeconds) * time.Second,
	}
	return params.Normalise()
}

// ModuleAccount resolves the vault escrow address, deriving a deterministic
// account from the network name when unconfigured.
func (cfg *Config) ModuleAccount() (crypto.Address, error) {
	if strings.TrimSpace(cfg.ModuleAddress) != "" {
		return crypto.DecodeAddress(strings.TrimSpace(cfg.ModuleAddress))
	}
	return deriveAddress("module/vault/" + cfg.NetworkName), nil
}

// SynthAssetID resolves the pegged token identifier, deriving a deterministic
// one from the network name when unconfigured.
func (cfg *Config) SynthAssetID() (crypto.Address, error) {
	if strings.TrimSpace(cfg.SynthAsset) != "" {
		return crypto.DecodeAddress(strings.TrimSpace(cfg.SynthAsset))
	}
	return deriveAddress("token/nusd/" + cfg.NetworkName), nil
}

// AssetAddress resolves one collateral entry, deriving a deterministic
// address from the symbol when none is configured.
func (c CollateralConfig) AssetAddress(network string) (crypto.Address, error) {
	if strings.TrimSpace(c.Address) != "" {
		return crypto.DecodeAddress(strings.TrimSpace(c.Address))
	}
	return deriveAddress("collateral/" + strings.ToLower(strings.TrimSpace(c.Symbol)) + "/" + network), nil
}

func deriveAddress(label string) crypto.Address {
	digest := ethcrypto.Keccak256([]byte(label))
	return crypto.NewAddress(digest[len(digest)-crypto.AddressLength:])
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := defaultKeystorePath(configPath)
	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}
	cfg.OperatorKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault writes a fresh config with a manual USD feed for one derived
// collateral asset so a new node is usable out of the box.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:           ":8080",
		DataDir:              "./nusd-data",
		NetworkName:          "nusd-local",
		OperatorKeystorePath: keystorePath,
		Collateral: []CollateralConfig{{
			Symbol: "WETH",
			Feed:   FeedConfig{Type: "manual", Source: "manual"},
		}},
	}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
