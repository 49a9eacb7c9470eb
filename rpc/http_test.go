package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nusd/core/events"
	"nusd/core/state"
	"nusd/crypto"
	"nusd/native/oracle"
	"nusd/native/token"
	"nusd/native/vault"
	"nusd/rpc/modules"
	"nusd/storage"
)

const testToken = "test-rpc-token"

type serverEnv struct {
	server *Server
	user   crypto.Address
	asset  crypto.Address
}

func makeAddress(fill byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	manager := state.NewManager(db)
	ledger := token.NewLedger(manager)
	feed := oracle.NewManualFeed()
	feed.Set(new(big.Int).Mul(big.NewInt(2000), big.NewInt(100_000_000)), 8, time.Now())

	moduleAddr := makeAddress(0x0D)
	synth := makeAddress(0x5D)
	asset := makeAddress(0xE7)
	engine, err := vault.NewEngine(moduleAddr, synth, []crypto.Address{asset}, []oracle.Feed{feed}, vault.RiskParameters{
		LiquidationThreshold: 5_000,
		LiquidationBonus:     1_000,
	})
	require.NoError(t, err)
	engine.SetState(modules.NewStateAdapter(manager))
	engine.SetLedger(ledger)
	bus := events.NewBus()
	engine.SetEmitter(bus)

	user := makeAddress(0xA1)
	require.NoError(t, ledger.Issue(asset, user, big.NewInt(1_000)))

	server := NewServer(
		modules.NewVaultModule(engine, ledger),
		modules.NewOracleModule(engine, map[crypto.Address]*oracle.ManualFeed{asset: feed}, bus),
		bus,
	)
	server.SetAuthToken(testToken)
	return &serverEnv{server: server, user: user, asset: asset}
}

func (env *serverEnv) call(t *testing.T, method string, params interface{}, token string) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = []interface{}{params}
	}
	body, err := json.Marshal(request)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, codeParseError, resp.Error.Code)

	recorder, resp = env.call(t, "", nil, "")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	recorder, resp = env.call(t, "vault_unknownMethod", nil, "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestServerMutationsRequireBearerToken(t *testing.T) {
	env := newServerEnv(t)
	params := map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": "100",
	}

	recorder, resp := env.call(t, "vault_deposit", params, "")
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	recorder, resp = env.call(t, "vault_deposit", params, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	recorder, resp = env.call(t, "vault_deposit", params, testToken)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, result["txHash"])
}

func TestServerQueriesAreOpen(t *testing.T) {
	env := newServerEnv(t)

	_, resp := env.call(t, "vault_deposit", map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": "250",
	}, testToken)
	require.Nil(t, resp.Error)

	recorder, resp := env.call(t, "vault_getPosition", map[string]string{"user": env.user.String()}, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "max", result["healthFactor"])

	recorder, resp = env.call(t, "vault_listCollateral", nil, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
}

func TestServerMapsModuleErrorsOntoStatusCodes(t *testing.T) {
	env := newServerEnv(t)

	recorder, resp := env.call(t, "vault_deposit", map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": "0",
	}, testToken)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	// Minting beyond the supported collateral fails with the health factor in
	// the error payload.
	_, resp = env.call(t, "vault_deposit", map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": "100",
	}, testToken)
	require.Nil(t, resp.Error)

	recorder, resp = env.call(t, "vault_mint", map[string]string{
		"user":   env.user.String(),
		"amount": "100001",
	}, testToken)
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.NotNil(t, resp.Error)
	data, ok := resp.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, data["healthFactor"])
}

func TestServerRateLimitsMutationSources(t *testing.T) {
	env := newServerEnv(t)
	params := map[string]string{
		"user":   env.user.String(),
		"asset":  env.asset.String(),
		"amount": "1",
	}

	var limited bool
	for i := 0; i < mutationRateBurst+2; i++ {
		recorder, resp := env.call(t, "vault_deposit", params, testToken)
		if recorder.Code == http.StatusTooManyRequests {
			require.Equal(t, codeRateLimited, resp.Error.Code)
			limited = true
			break
		}
	}
	require.True(t, limited, "burst beyond the bucket should be limited")
}

func TestServerHealthzAndMetricsEndpoints(t *testing.T) {
	env := newServerEnv(t)

	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), `"ok"`)

	recorder = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
}
