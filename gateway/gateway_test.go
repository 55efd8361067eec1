package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeRPC answers JSON-RPC requests with canned results keyed by method.
func fakeRPC(t *testing.T, results map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": 1,
				"error": map[string]interface{}{"code": -32601, "message": "unknown method"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": 1, "result": result,
		})
	}))
}

func TestGatewayForwardsGetRoutes(t *testing.T) {
	upstream := fakeRPC(t, map[string]interface{}{
		"escrow_get":     map[string]string{"id": "0xabc", "status": "active"},
		"workorder_list": []map[string]string{{"id": "0xdef"}},
	})
	defer upstream.Close()

	gw := httptest.NewServer(New(Config{Target: upstream.URL}).Handler())
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/v1/escrows/0xabc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var escrow map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&escrow))
	require.Equal(t, "active", escrow["status"])

	listResp, err := http.Get(gw.URL + "/v1/workorders?party=0x01")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var orders []map[string]string
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&orders))
	require.Len(t, orders, 1)
}

func TestGatewayRelaysUpstreamErrors(t *testing.T) {
	upstream := fakeRPC(t, nil)
	defer upstream.Close()

	gw := httptest.NewServer(New(Config{Target: upstream.URL}).Handler())
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/v1/escrows/0xabc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.GreaterOrEqual(t, resp.StatusCode, http.StatusBadRequest)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Contains(t, body, "error")
}

func TestGatewayHealthz(t *testing.T) {
	gw := httptest.NewServer(New(Config{Target: "http://127.0.0.1:0"}).Handler())
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
