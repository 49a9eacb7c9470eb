package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const vaultRequestLimit = 1 << 20 // 1 MiB

// vaultRoutes bridges the REST surface onto the issuance node's JSON-RPC API.
// Mutating routes forward the node bearer token configured on the gateway;
// callers authenticate to the gateway itself via its JWT middleware.
type vaultRoutes struct {
	endpoint string
	token    string
	client   *http.Client
	timeout  time.Duration
}

func newVaultRoutes(target *url.URL, token string) (*vaultRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil vault target")
	}
	return &vaultRoutes{
		endpoint: target.String(),
		token:    strings.TrimSpace(token),
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout: 10 * time.Second,
	}, nil
}

func (vr *vaultRoutes) mount(r chi.Router) {
	r.Get("/collateral", vr.listCollateral)
	r.Get("/totals", vr.getTotals)
	r.Post("/positions/get", vr.getPosition)
	r.Post("/health/get", vr.getHealthFactor)
	r.Post("/accounts/get", vr.getAccountInformation)
	r.Post("/balances/get", vr.getBalance)
	r.Post("/deposit", vr.deposit)
	r.Post("/mint", vr.mint)
	r.Post("/burn", vr.burn)
	r.Post("/redeem", vr.redeem)
	r.Post("/deposit-and-mint", vr.depositAndMint)
	r.Post("/burn-and-redeem", vr.burnAndRedeem)
	r.Post("/liquidate", vr.liquidate)
	r.Post("/oracle/price", vr.setOraclePrice)
	r.Post("/oracle/quote", vr.getOracleQuote)
}

type rpcEnvelope struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int               `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcReplyError  `json:"error"`
}

type rpcReplyError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (vr *vaultRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	timeout := vr.timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}

// call forwards one JSON-RPC method to the node and relays the result or the
// node's error payload, preserving the upstream HTTP status.
func (vr *vaultRoutes) call(w http.ResponseWriter, r *http.Request, method string, params json.RawMessage, authed bool) {
	envelope := rpcEnvelope{JSONRPC: "2.0", ID: 1, Method: method}
	if len(params) > 0 {
		envelope.Params = []json.RawMessage{params}
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		http.Error(w, "encode upstream request", http.StatusInternalServerError)
		return
	}

	ctx, cancel := vr.context(r.Context())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, vr.endpoint, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "build upstream request", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if authed && vr.token != "" {
		req.Header.Set("Authorization", "Bearer "+vr.token)
	}

	resp, err := vr.client.Do(req)
	if err != nil {
		http.Error(w, "upstream error", http.StatusBadGateway)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, vaultRequestLimit))
	if err != nil {
		http.Error(w, "read upstream response", http.StatusBadGateway)
		return
	}
	var reply rpcReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		http.Error(w, "decode upstream response", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if reply.Error != nil {
		status := resp.StatusCode
		if status == http.StatusOK {
			status = http.StatusBadGateway
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"code":    reply.Error.Code,
				"message": reply.Error.Message,
				"data":    reply.Error.Data,
			},
		})
		return
	}
	_, _ = w.Write(reply.Result)
}

func (vr *vaultRoutes) readParams(r *http.Request) (json.RawMessage, error) {
	defer func() {
		_ = r.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(r.Body, vaultRequestLimit))
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("request body required")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON body")
	}
	return trimmed, nil
}

func (vr *vaultRoutes) forward(method string, authed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := vr.readParams(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vr.call(w, r, method, params, authed)
	}
}

func (vr *vaultRoutes) listCollateral(w http.ResponseWriter, r *http.Request) {
	vr.call(w, r, "vault_listCollateral", nil, false)
}

func (vr *vaultRoutes) getTotals(w http.ResponseWriter, r *http.Request) {
	vr.call(w, r, "vault_getTotals", nil, false)
}

func (vr *vaultRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_getPosition", false)(w, r)
}

func (vr *vaultRoutes) getHealthFactor(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_getHealthFactor", false)(w, r)
}

func (vr *vaultRoutes) getAccountInformation(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_getAccountInformation", false)(w, r)
}

func (vr *vaultRoutes) getBalance(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_getBalance", false)(w, r)
}

func (vr *vaultRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_deposit", true)(w, r)
}

func (vr *vaultRoutes) mint(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_mint", true)(w, r)
}

func (vr *vaultRoutes) burn(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_burn", true)(w, r)
}

func (vr *vaultRoutes) redeem(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_redeem", true)(w, r)
}

func (vr *vaultRoutes) depositAndMint(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_depositAndMint", true)(w, r)
}

func (vr *vaultRoutes) burnAndRedeem(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_burnAndRedeem", true)(w, r)
}

func (vr *vaultRoutes) liquidate(w http.ResponseWriter, r *http.Request) {
	vr.forward("vault_liquidate", true)(w, r)
}

func (vr *vaultRoutes) setOraclePrice(w http.ResponseWriter, r *http.Request) {
	vr.forward("oracle_setPrice", true)(w, r)
}

func (vr *vaultRoutes) getOracleQuote(w http.ResponseWriter, r *http.Request) {
	vr.forward("oracle_getQuote", false)(w, r)
}
