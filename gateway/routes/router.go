package routes

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"nusd/gateway/middleware"
)

type ServiceRoute struct {
	Name           string
	Prefix         string
	Target         *url.URL
	RequireAuth    bool
	RequiredScopes []string
	RateLimitKey   string
	// NodeToken is forwarded as the bearer token on mutating node calls when
	// the route bridges to the issuance node.
	NodeToken string
}

type Config struct {
	Routes        []ServiceRoute
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Idempotency   *middleware.Idempotency
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

func New(cfg Config) (http.Handler, error) {
	r := chi.NewRouter()
	if cfg.CORS.AllowedOrigins != nil || cfg.CORS.AllowedMethods != nil {
		r.Use(middleware.CORS(cfg.CORS))
	} else {
		r.Use(middleware.CORS(middleware.CORSConfig{}))
	}

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	for _, route := range cfg.Routes {
		proxy := NewProxy(route.Target, route.Prefix)
		var vaultBridge *vaultRoutes
		if route.Name == "vault" {
			vr, err := newVaultRoutes(route.Target, route.NodeToken)
			if err != nil {
				return nil, fmt.Errorf("configure vault routes: %w", err)
			}
			vaultBridge = vr
		}
		r.Route(route.Prefix, func(sr chi.Router) {
			if cfg.RateLimiter != nil && route.RateLimitKey != "" {
				sr.Use(cfg.RateLimiter.Middleware(route.RateLimitKey))
			}
			if cfg.Authenticator != nil && route.RequireAuth {
				sr.Use(cfg.Authenticator.Middleware(route.RequiredScopes...))
			}
			if cfg.Idempotency != nil {
				sr.Use(cfg.Idempotency.Middleware)
			}
			if obs != nil {
				sr.Use(obs.Middleware(route.Name))
			}
			if vaultBridge != nil {
				vaultBridge.mount(sr)
			}
			sr.Handle("/*", proxy)
			sr.Handle("/", proxy)
		})
	}

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
