package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nusd/config"
	"nusd/core/events"
	"nusd/core/state"
	"nusd/crypto"
	"nusd/native/oracle"
	"nusd/native/token"
	"nusd/native/vault"
	"nusd/observability/logging"
	"nusd/observability/otel"
	"nusd/rpc"
	"nusd/rpc/modules"
	"nusd/storage"
)

const envPrefix = "NUSD_ENV"

// staticPauses serves the pause switches loaded from config.
type staticPauses struct {
	vault bool
}

func (p staticPauses) IsPaused(module string) bool {
	return module == "vault" && p.vault
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envPrefix))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var logOpts []logging.Option
	if strings.TrimSpace(cfg.Logging.File) != "" {
		logOpts = append(logOpts, logging.WithRotatingFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))
	}
	if env == "" {
		env = cfg.Logging.Env
	}
	logger := logging.Setup("nusdd", env, logOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if strings.TrimSpace(cfg.OTLP.Endpoint) != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "nusdd",
			Environment: env,
			Endpoint:    cfg.OTLP.Endpoint,
			Insecure:    cfg.OTLP.Insecure,
			Traces:      true,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	engine, manualFeeds, bus, ledger, err := buildEngine(cfg, db)
	if err != nil {
		logger.Error("Failed to build issuance engine", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(
		modules.NewVaultModule(engine, ledger),
		modules.NewOracleModule(engine, manualFeeds, bus),
		bus,
	)

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress), slog.String("network", cfg.NetworkName))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown failed", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("JSON-RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func buildEngine(cfg *config.Config, db storage.Database) (*vault.Engine, map[crypto.Address]*oracle.ManualFeed, *events.Bus, *token.Ledger, error) {
	moduleAddr, err := cfg.ModuleAccount()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolve module account: %w", err)
	}
	synth, err := cfg.SynthAssetID()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("resolve synth asset: %w", err)
	}
	params, err := cfg.RiskParameters()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("risk parameters: %w", err)
	}

	assets := make([]crypto.Address, 0, len(cfg.Collateral))
	feeds := make([]oracle.Feed, 0, len(cfg.Collateral))
	manualFeeds := make(map[crypto.Address]*oracle.ManualFeed)
	for _, entry := range cfg.Collateral {
		asset, err := entry.AssetAddress(cfg.NetworkName)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("collateral %s: %w", entry.Symbol, err)
		}
		feed, manual, err := buildFeed(entry.Feed, params.MaxQuoteAge)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("collateral %s: %w", entry.Symbol, err)
		}
		assets = append(assets, asset)
		feeds = append(feeds, feed)
		if manual != nil {
			manualFeeds[asset] = manual
		}
	}

	manager := state.NewManager(db)
	ledger := token.NewLedger(manager)

	engine, err := vault.NewEngine(moduleAddr, synth, assets, feeds, params)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	engine.SetState(modules.NewStateAdapter(manager))
	engine.SetLedger(ledger)
	bus := events.NewBus()
	engine.SetEmitter(bus)
	engine.SetPauses(staticPauses{vault: cfg.Pauses.Vault})
	return engine, manualFeeds, bus, ledger, nil
}

// buildFeed constructs the configured price source. Manual feeds are returned
// separately so the oracle module can accept operator overrides for them.
func buildFeed(cfg config.FeedConfig, maxAge time.Duration) (oracle.Feed, *oracle.ManualFeed, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "manual":
		manual := oracle.NewManualFeed()
		return manual, manual, nil
	case "http":
		return oracle.NewHTTPFeed(nil, cfg.Endpoint, cfg.Source), nil, nil
	case "aggregate":
		ranked := make([]oracle.Feed, 0, len(cfg.Fallbacks))
		var manual *oracle.ManualFeed
		for _, fallback := range cfg.Fallbacks {
			feed, m, err := buildFeed(fallback, maxAge)
			if err != nil {
				return nil, nil, err
			}
			ranked = append(ranked, feed)
			if manual == nil && m != nil {
				manual = m
			}
		}
		return oracle.NewAggregator(ranked, maxAge), manual, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed type %q", cfg.Type)
	}
}
