package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nusd/core/events"
	"nusd/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	mutationRatePerMinute = 60.0
	mutationRateBurst     = 10
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
)

// Server terminates the JSON-RPC surface of the issuance node. Mutating vault
// methods and oracle overrides require the bearer token from NUSD_RPC_TOKEN;
// queries are open. Each client source gets its own token bucket for mutating
// calls so a single integrator cannot starve the rest.
type Server struct {
	vault  *modules.VaultModule
	oracle *modules.OracleModule
	bus    *events.Bus

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	authToken string
	nowFunc   func() time.Time
}

// NewServer wires the server around the module layer and the event bus used
// by the websocket stream.
func NewServer(vault *modules.VaultModule, oracle *modules.OracleModule, bus *events.Bus) *Server {
	token := strings.TrimSpace(os.Getenv("NUSD_RPC_TOKEN"))
	return &Server{
		vault:     vault,
		oracle:    oracle,
		bus:       bus,
		limiters:  make(map[string]*rate.Limiter),
		authToken: token,
		nowFunc:   time.Now,
	}
}

// SetAuthToken overrides the token sourced from the environment. Used by the
// node when the token comes from config instead.
func (s *Server) SetAuthToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authToken = strings.TrimSpace(token)
}

// Handler returns the full HTTP surface: JSON-RPC on /, the vault event
// stream on /ws/vault/events, Prometheus metrics, and the liveness probe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/vault/events", s.handleVaultEventsWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

// Start serves the handler until the listener fails.
func (s *Server) Start(addr string) error {
	slog.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeModuleError(w http.ResponseWriter, id interface{}, modErr *modules.ModuleError) {
	if modErr == nil {
		writeError(w, http.StatusInternalServerError, id, codeServerError, "unknown module failure", nil)
		return
	}
	writeError(w, modErr.HTTPStatus, id, modErr.Code, modErr.Message, modErr.Data)
}

func firstParam(req *RPCRequest) json.RawMessage {
	if req == nil || len(req.Params) == 0 {
		return nil
	}
	return req.Params[0]
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	switch req.Method {
	case "vault_deposit":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.Deposit(raw)
		})
	case "vault_mint":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.Mint(raw)
		})
	case "vault_burn":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.Burn(raw)
		})
	case "vault_redeem":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.Redeem(raw)
		})
	case "vault_depositAndMint":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.DepositAndMint(raw)
		})
	case "vault_burnAndRedeem":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.BurnAndRedeem(raw)
		})
	case "vault_liquidate":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.vault.Liquidate(raw)
		})
	case "vault_getPosition":
		result, modErr := s.vault.GetPosition(firstParam(req))
		s.respond(w, req.ID, result, modErr)
	case "vault_getHealthFactor":
		result, modErr := s.vault.GetHealthFactor(firstParam(req))
		s.respond(w, req.ID, result, modErr)
	case "vault_getAccountInformation":
		result, modErr := s.vault.GetAccountInformation(firstParam(req))
		s.respond(w, req.ID, result, modErr)
	case "vault_listCollateral":
		result, modErr := s.vault.ListCollateral()
		s.respond(w, req.ID, result, modErr)
	case "vault_getTotals":
		result, modErr := s.vault.GetTotals()
		s.respond(w, req.ID, result, modErr)
	case "vault_getBalance":
		result, modErr := s.vault.GetBalance(firstParam(req))
		s.respond(w, req.ID, result, modErr)
	case "oracle_setPrice":
		s.handleMutation(w, r, req, func(raw json.RawMessage) (interface{}, *modules.ModuleError) {
			return s.oracle.SetPrice(raw)
		})
	case "oracle_getQuote":
		result, modErr := s.oracle.GetQuote(firstParam(req))
		s.respond(w, req.ID, result, modErr)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

func (s *Server) respond(w http.ResponseWriter, id interface{}, result interface{}, modErr *modules.ModuleError) {
	if modErr != nil {
		writeModuleError(w, id, modErr)
		return
	}
	writeResult(w, id, result)
}

// handleMutation gates state-changing methods behind bearer auth and a
// per-source token bucket before dispatching to the module layer.
func (s *Server) handleMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest, call func(json.RawMessage) (interface{}, *modules.ModuleError)) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	if !s.allowSource(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded for source", nil)
		return
	}
	result, modErr := call(firstParam(req))
	s.respond(w, req.ID, result, modErr)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	s.mu.Lock()
	token := s.authToken
	s.mu.Unlock()
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	presented := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if presented == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(mutationRatePerMinute/60.0), mutationRateBurst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first := forwarded
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			first = strings.TrimSpace(forwarded[:comma])
		}
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
