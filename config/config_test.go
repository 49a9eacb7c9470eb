package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nusd/native/vault"
)

func TestLoadCreatesDefaultConfigAndKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "nusd-local", cfg.NetworkName)
	require.Len(t, cfg.Collateral, 1)
	require.Equal(t, "WETH", cfg.Collateral[0].Symbol)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be persisted")
	_, err = os.Stat(cfg.OperatorKeystorePath)
	require.NoError(t, err, "operator keystore should be created")

	params, err := cfg.RiskParameters()
	require.NoError(t, err)
	require.Equal(t, vault.DefaultRiskParameters().LiquidationThreshold, params.LiquidationThreshold)
	require.Equal(t, 3*time.Hour, params.MaxQuoteAge)
}

func TestLoadParsesExistingConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
RPCAddress = ":9090"
DataDir = "/var/lib/nusd"
NetworkName = "nusd-test"
OperatorKeystorePath = "/tmp/operator.keystore"

[Risk]
LiquidationThresholdBPS = 6000
LiquidationBonusBPS = 500
MaxQuoteAgeSeconds = 900

[[Collateral]]
Symbol = "WETH"
  [Collateral.Feed]
  Type = "http"
  Endpoint = "https://feeds.example.com/weth"
  Source = "example"

[[Collateral]]
Symbol = "WBTC"
  [Collateral.Feed]
  Type = "manual"

[Pauses]
Vault = true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.True(t, cfg.Pauses.Vault)
	require.Len(t, cfg.Collateral, 2)

	params, err := cfg.RiskParameters()
	require.NoError(t, err)
	require.Equal(t, uint64(6000), params.LiquidationThreshold)
	require.Equal(t, uint64(500), params.LiquidationBonus)
	require.Equal(t, 15*time.Minute, params.MaxQuoteAge)
}

func TestDerivedAddressesAreStablePerNetwork(t *testing.T) {
	cfg := &Config{NetworkName: "nusd-test"}

	module1, err := cfg.ModuleAccount()
	require.NoError(t, err)
	module2, err := cfg.ModuleAccount()
	require.NoError(t, err)
	require.Equal(t, module1, module2)

	synth, err := cfg.SynthAssetID()
	require.NoError(t, err)
	require.NotEqual(t, module1, synth)

	other := &Config{NetworkName: "nusd-main"}
	otherModule, err := other.ModuleAccount()
	require.NoError(t, err)
	require.NotEqual(t, module1, otherModule)
}

func TestCollateralAddressOverride(t *testing.T) {
	derived := CollateralConfig{Symbol: "WETH", Feed: FeedConfig{Type: "manual"}}
	addr, err := derived.AssetAddress("nusd-test")
	require.NoError(t, err)
	require.False(t, addr.IsZero())

	explicit := CollateralConfig{Symbol: "WETH", Address: addr.String(), Feed: FeedConfig{Type: "manual"}}
	resolved, err := explicit.AssetAddress("nusd-test")
	require.NoError(t, err)
	require.Equal(t, addr, resolved)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPCAddress:  ":8080",
			NetworkName: "nusd-test",
			Risk:        RiskConfig{LiquidationThresholdBPS: 5000, LiquidationBonusBPS: 1000},
			Collateral: []CollateralConfig{{
				Symbol: "WETH",
				Feed:   FeedConfig{Type: "manual"},
			}},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Risk.LiquidationThresholdBPS = 0 }},
		{"threshold above bps", func(c *Config) { c.Risk.LiquidationThresholdBPS = 10_001 }},
		{"bonus at bps", func(c *Config) { c.Risk.LiquidationBonusBPS = 10_000 }},
		{"negative quote age", func(c *Config) { c.Risk.MaxQuoteAgeSeconds = -1 }},
		{"no collateral", func(c *Config) { c.Collateral = nil }},
		{"blank symbol", func(c *Config) { c.Collateral[0].Symbol = "  " }},
		{"duplicate symbol", func(c *Config) {
			c.Collateral = append(c.Collateral, CollateralConfig{Symbol: "weth", Feed: FeedConfig{Type: "manual"}})
		}},
		{"missing feed type", func(c *Config) { c.Collateral[0].Feed.Type = "" }},
		{"unknown feed type", func(c *Config) { c.Collateral[0].Feed.Type = "chainlink" }},
		{"http without endpoint", func(c *Config) { c.Collateral[0].Feed = FeedConfig{Type: "http"} }},
		{"empty aggregate", func(c *Config) { c.Collateral[0].Feed = FeedConfig{Type: "aggregate"} }},
		{"nested aggregate", func(c *Config) {
			c.Collateral[0].Feed = FeedConfig{Type: "aggregate", Fallbacks: []FeedConfig{{Type: "aggregate"}}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	require.NoError(t, base().Validate())
}
