package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nusd/gateway/config"
	"nusd/gateway/middleware"
	"nusd/gateway/routes"
	"nusd/observability/logging"
	telemetry "nusd/observability/otel"
)

const (
	nodeURLEnv   = "NUSD_GATEWAY_NODE_URL"
	nodeTokenEnv = "NUSD_RPC_TOKEN"
)

func main() {
	var cfgPath string
	var allowInsecureFlag bool
	flag.StringVar(&cfgPath, "config", "", "path to gateway configuration")
	flag.BoolVar(&allowInsecureFlag, "allow-insecure", false, "DEV ONLY: permit plaintext listeners on loopback interfaces")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NUSD_ENV"))
	slogger := logging.Setup("gateway", env)
	logger := log.New(os.Stdout, "gateway ", log.LstdFlags|log.Lmsgprefix)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "gateway",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		slogger.Error("failed to initialise telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	configDir := ""
	if strings.TrimSpace(cfgPath) != "" {
		configDir = filepath.Dir(cfgPath)
	}

	nodeEndpoint := resolveNodeEndpoint(cfg)
	parsed, err := url.Parse(nodeEndpoint)
	if err != nil {
		logger.Fatalf("parse node endpoint: %v", err)
	}
	autoUpgrade := cfg.Security.AutoUpgradeHTTP
	if override := strings.TrimSpace(os.Getenv("NUSD_GATEWAY_AUTO_HTTPS")); override != "" {
		parsedOverride, err := strconv.ParseBool(override)
		if err != nil {
			logger.Fatalf("parse NUSD_GATEWAY_AUTO_HTTPS: %v", err)
		}
		autoUpgrade = parsedOverride
	}
	nodeURL, upgraded, err := config.EnforceSecureScheme(env, parsed, autoUpgrade)
	if err != nil {
		logger.Fatalf("enforce HTTPS for node endpoint: %v", err)
	}
	if upgraded {
		logger.Printf("auto-upgraded node endpoint to HTTPS")
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics || cfg.Observability.Tracing,
	}, logger)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:        cfg.Auth.Enabled,
		HMACSecret:     cfg.Auth.HMACSecret,
		Issuer:         cfg.Auth.Issuer,
		Audience:       cfg.Auth.Audience,
		ScopeClaim:     cfg.Auth.ScopeClaim,
		OptionalPaths:  cfg.Auth.OptionalPaths,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		ClockSkew:      cfg.Auth.ClockSkew,
	}, logger)

	rateLimits := make(map[string]middleware.RateLimit)
	for _, entry := range cfg.RateLimits {
		if entry.ID == "" {
			continue
		}
		perMinute := entry.RequestsPerMinute
		if perMinute <= 0 && entry.RatePerSecond > 0 {
			perMinute = entry.RatePerSecond * 60.0
		}
		rateLimits[entry.ID] = middleware.RateLimit{
			RequestsPerMinute: perMinute,
			Burst:             entry.Burst,
		}
	}
	if len(rateLimits) == 0 {
		rateLimits["vault"] = middleware.RateLimit{RequestsPerMinute: 120, Burst: 20}
	}

	router, err := routes.New(routes.Config{
		Routes: []routes.ServiceRoute{
			{
				Name:           "vault",
				Prefix:         "/v1/vault",
				Target:         nodeURL,
				RequireAuth:    true,
				RequiredScopes: []string{"vault"},
				RateLimitKey:   "vault",
				NodeToken:      strings.TrimSpace(os.Getenv(nodeTokenEnv)),
			},
		},
		Authenticator: auth,
		RateLimiter:   middleware.NewRateLimiter(rateLimits, logger),
		Idempotency:   middleware.NewIdempotency(),
		Observability: obs,
		CORS: middleware.CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
			AllowCredentials: false,
		},
	})
	if err != nil {
		logger.Fatalf("configure routes: %v", err)
	}

	handler := http.Handler(router)
	if cfg.Observability.Tracing {
		handler = otelhttp.NewHandler(router, "gateway")
	}

	tlsConfig, err := buildTLSConfig(configDir, cfg.Security)
	if err != nil {
		logger.Fatalf("configure TLS: %v", err)
	}

	allowInsecure := cfg.Security.AllowInsecure || allowInsecureFlag
	if tlsConfig == nil {
		if !allowInsecure {
			logger.Fatal("gateway TLS certificate and key are required; provide security.tlsCertFile/tlsKeyFile or start with --allow-insecure in dev")
		}
		if !strings.EqualFold(env, "dev") && !isLoopbackAddress(cfg.ListenAddress) {
			logger.Fatal("plaintext gateway mode is restricted to loopback listeners or dev environment")
		}
	}

	server := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if tlsConfig != nil {
		server.TLSConfig = tlsConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	go func() {
		scheme := "http"
		if tlsConfig != nil {
			scheme = "https"
		}
		logger.Printf("listening on %s://%s", scheme, listener.Addr())
		var serveErr error
		if tlsConfig != nil {
			serveErr = server.Serve(tls.NewListener(listener, tlsConfig))
		} else {
			serveErr = server.Serve(listener)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Fatalf("listen and serve: %v", serveErr)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func resolveNodeEndpoint(cfg config.Config) string {
	if override := strings.TrimSpace(os.Getenv(nodeURLEnv)); override != "" {
		return override
	}
	if svc, err := cfg.ServiceByName("node"); err == nil {
		return svc.Endpoint
	}
	return "http://127.0.0.1:8080"
}

func buildTLSConfig(baseDir string, sec config.SecurityConfig) (*tls.Config, error) {
	certPath := resolveTLSPath(baseDir, sec.TLSCertFile)
	keyPath := resolveTLSPath(baseDir, sec.TLSKeyFile)
	caPath := resolveTLSPath(baseDir, sec.TLSClientCAFile)
	if strings.TrimSpace(certPath) == "" && strings.TrimSpace(keyPath) == "" && strings.TrimSpace(caPath) == "" {
		return nil, nil
	}
	if strings.TrimSpace(certPath) == "" || strings.TrimSpace(keyPath) == "" {
		return nil, fmt.Errorf("security.tlsCertFile and security.tlsKeyFile must both be provided when enabling TLS")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if strings.TrimSpace(caPath) != "" {
		data, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("read client CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("parse client CA file %s", caPath)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

func resolveTLSPath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if baseDir == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(baseDir, trimmed)
}

func isLoopbackAddress(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
