package odoorpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"odoo-mcp-gateway/internal/apperror"
)

func newTestServer(t *testing.T, handle func(req jsonrpcRequest) jsonrpcResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := handle(req)
		resp.JSONRPC = "2.0"
		resp.ID = req.ID

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func mustRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestJSONRPCHandler_Authenticate(t *testing.T) {
	srv := newTestServer(t, func(req jsonrpcRequest) jsonrpcResponse {
		require.Equal(t, "common", req.Params.Service)
		require.Equal(t, "authenticate", req.Params.Method)
		return jsonrpcResponse{Result: mustRaw(t, 7)}
	})
	defer srv.Close()

	h, err := NewJSONRPCHandler(Config{URL: srv.URL, Database: "db", Username: "admin", APIKey: "key"})
	require.NoError(t, err)
	defer h.Close()

	uid, err := h.Authenticate(t.Context())
	require.NoError(t, err)
	require.Equal(t, int64(7), uid)
	require.True(t, h.isAuthenticated())
}

func TestJSONRPCHandler_Authenticate_Rejected(t *testing.T) {
	srv := newTestServer(t, func(req jsonrpcRequest) jsonrpcResponse {
		return jsonrpcResponse{Result: mustRaw(t, false)}
	})
	defer srv.Close()

	h, err := NewJSONRPCHandler(Config{URL: srv.URL, Database: "db", Username: "admin", APIKey: "wrong"})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Authenticate(t.Context())
	require.Error(t, err)
	require.Equal(t, apperror.KindAuth, apperror.KindOf(err))
}

func TestJSONRPCHandler_ExecuteKw(t *testing.T) {
	srv := newTestServer(t, func(req jsonrpcRequest) jsonrpcResponse {
		if req.Params.Method == "authenticate" {
			return jsonrpcResponse{Result: mustRaw(t, 7)}
		}
		require.Equal(t, "object", req.Params.Service)
		require.Equal(t, "execute_kw", req.Params.Method)
		return jsonrpcResponse{Result: mustRaw(t, []map[string]any{{"id": 1, "name": "Acme"}})}
	})
	defer srv.Close()

	h, err := NewJSONRPCHandler(Config{URL: srv.URL, Database: "db", Username: "admin", APIKey: "key"})
	require.NoError(t, err)
	defer h.Close()

	result, err := h.ExecuteKw(t.Context(), "res.partner", "search_read", Args{[]any{}}, map[string]any{"fields": []string{"name"}})
	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestJSONRPCHandler_FaultResponse(t *testing.T) {
	srv := newTestServer(t, func(req jsonrpcRequest) jsonrpcResponse {
		resp := jsonrpcResponse{}
		resp.Error = &jsonrpcError{Code: 200, Message: "Odoo Server Error"}
		resp.Error.Data.Message = "Fault 1: 'AccessDenied'"
		return resp
	})
	defer srv.Close()

	h, err := NewJSONRPCHandler(Config{URL: srv.URL, Database: "db", Username: "admin", APIKey: "key"})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Authenticate(t.Context())
	require.Error(t, err)
	require.Equal(t, apperror.KindAuth, apperror.KindOf(err))
}
