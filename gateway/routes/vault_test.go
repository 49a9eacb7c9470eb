package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"nusd/gateway/middleware"
)

// stubNode fakes the issuance node's JSON-RPC endpoint and records what the
// bridge sent.
type stubNode struct {
	t        *testing.T
	lastAuth string
	lastBody map[string]interface{}
	reply    map[string]interface{}
	replyErr map[string]interface{}
	status   int
}

func (s *stubNode) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.lastAuth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(s.t, err)
		s.lastBody = map[string]interface{}{}
		require.NoError(s.t, json.Unmarshal(body, &s.lastBody))

		w.Header().Set("Content-Type", "application/json")
		if s.status != 0 {
			w.WriteHeader(s.status)
		}
		response := map[string]interface{}{"jsonrpc": "2.0", "id": 1}
		if s.replyErr != nil {
			response["error"] = s.replyErr
		} else {
			response["result"] = s.reply
		}
		_ = json.NewEncoder(w).Encode(response)
	})
}

func newBridgeRouter(t *testing.T, node *httptest.Server) http.Handler {
	t.Helper()
	target, err := url.Parse(node.URL)
	require.NoError(t, err)
	router, err := New(Config{
		Routes: []ServiceRoute{{
			Name:      "vault",
			Prefix:    "/v1/vault",
			Target:    target,
			NodeToken: "node-secret",
		}},
		Idempotency: middleware.NewIdempotency(),
	})
	require.NoError(t, err)
	return router
}

func TestVaultBridgeForwardsMutationsWithNodeToken(t *testing.T) {
	stub := &stubNode{t: t, reply: map[string]interface{}{"txHash": "0xabc"}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()
	router := newBridgeRouter(t, node)

	payload := map[string]string{"user": "nusd1xyz", "asset": "nusd1abc", "amount": "100"}
	body, _ := json.Marshal(payload)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "Bearer node-secret", stub.lastAuth)
	require.Equal(t, "vault_deposit", stub.lastBody["method"])
	params, ok := stub.lastBody["params"].([]interface{})
	require.True(t, ok)
	require.Len(t, params, 1)

	var result map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &result))
	require.Equal(t, "0xabc", result["txHash"])
}

func TestVaultBridgeQueriesOmitNodeToken(t *testing.T) {
	stub := &stubNode{t: t, reply: map[string]interface{}{"assets": []string{}}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()
	router := newBridgeRouter(t, node)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/vault/collateral", nil))

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Empty(t, stub.lastAuth)
	require.Equal(t, "vault_listCollateral", stub.lastBody["method"])
}

func TestVaultBridgeRelaysUpstreamErrors(t *testing.T) {
	stub := &stubNode{
		t:        t,
		status:   http.StatusConflict,
		replyErr: map[string]interface{}{"code": -32009, "message": "health factor below minimum"},
	}
	node := httptest.NewServer(stub.handler())
	defer node.Close()
	router := newBridgeRouter(t, node)

	body, _ := json.Marshal(map[string]string{"user": "nusd1xyz", "amount": "10"})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/vault/mint", bytes.NewReader(body)))

	require.Equal(t, http.StatusConflict, recorder.Code)
	var reply map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &reply))
	require.Equal(t, "health factor below minimum", reply["error"]["message"])
}

func TestVaultBridgeRejectsEmptyMutationBody(t *testing.T) {
	stub := &stubNode{t: t, reply: map[string]interface{}{}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()
	router := newBridgeRouter(t, node)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/vault/deposit", nil))
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestVaultBridgeReplaysIdempotentRequests(t *testing.T) {
	stub := &stubNode{t: t, reply: map[string]interface{}{"txHash": "0xfirst"}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()
	router := newBridgeRouter(t, node)

	body, _ := json.Marshal(map[string]string{"user": "nusd1xyz", "amount": "10"})
	first := httptest.NewRequest(http.MethodPost, "/v1/vault/mint", bytes.NewReader(body))
	first.Header.Set("Idempotency-Key", "retry-1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, first)
	require.Equal(t, http.StatusOK, recorder.Code)

	// The upstream answer changes, but the replay must return the original.
	stub.reply = map[string]interface{}{"txHash": "0xsecond"}
	second := httptest.NewRequest(http.MethodPost, "/v1/vault/mint", bytes.NewReader(body))
	second.Header.Set("Idempotency-Key", "retry-1")
	replay := httptest.NewRecorder()
	router.ServeHTTP(replay, second)

	require.Equal(t, "true", replay.Header().Get("X-Idempotent-Replay"))
	var result map[string]string
	require.NoError(t, json.Unmarshal(replay.Body.Bytes(), &result))
	require.Equal(t, "0xfirst", result["txHash"])
}
