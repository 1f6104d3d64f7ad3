package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/dispatcher"
	"odoo-mcp-gateway/internal/metrics"
	"odoo-mcp-gateway/internal/odoorpc"
	"odoo-mcp-gateway/internal/pool"
	"odoo-mcp-gateway/internal/ratelimit"
	"odoo-mcp-gateway/internal/security"
	"odoo-mcp-gateway/internal/session"
	"odoo-mcp-gateway/internal/subscription"
)

type noopAudit struct{}

func (noopAudit) Log(context.Context, *audit.Entry) error { return nil }
func (noopAudit) Close() error                             { return nil }

func newTestDispatcher(t *testing.T) *dispatcher.Dispatcher {
	t.Helper()

	cfg := &config.Config{}
	cfg.Odoo.SchemaCacheTTL = time.Minute
	cfg.Odoo.MaxPayloadSize = 1 << 20
	cfg.RateLimit.MaxWaitSeconds = 0
	cfg.Cache.TTL = time.Minute

	limiter, err := ratelimit.New(ratelimit.DefaultConfig())
	require.NoError(t, err)

	acquire := func(_ context.Context, username, secret string) (int64, error) {
		if username == "" || secret == "" {
			return 0, apperror.New(apperror.KindAuth, "missing credentials")
		}
		return 1, nil
	}

	p := pool.New(odoorpc.Config{}, config.PoolConfig{Size: 0})

	return dispatcher.New(dispatcher.Deps{
		Config:        cfg,
		Pool:          p,
		Sessions:      session.NewStore(time.Hour, acquire),
		Limiter:       limiter,
		Domains:       security.NewImplicitDomainPolicy(false, nil),
		PII:           security.NewPIIDetector(false, nil),
		Audit:         noopAudit{},
		Metrics:       metrics.InitMetrics("test_transport", strings.ReplaceAll(t.Name(), "/", "_")),
		Bus:           subscription.NewBus(8),
		ServerName:    "odoo-mcp-gateway-test",
		ServerVersion: "0.0.0-test",
	})
}

func TestHandleMCP_ClassicEchoRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	srv := New(config.TransportConfig{Mode: "http"}, d, nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"echo","arguments":{"message":"hi"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()

	srv.handleMCP(false)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	result := resp["result"].(map[string]any)
	assert.Equal(t, "hi", result["message"])
}

func TestHandleMCP_MalformedJSONReturns400(t *testing.T) {
	d := newTestDispatcher(t)
	srv := New(config.TransportConfig{Mode: "http"}, d, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	srv.handleMCP(false)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMCP_NotificationReturnsNoContent(t *testing.T) {
	d := newTestDispatcher(t)
	srv := New(config.TransportConfig{Mode: "http"}, d, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"ping"}`))
	rec := httptest.NewRecorder()

	srv.handleMCP(false)(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleHealth_ReportsPoolAndSessionStats(t *testing.T) {
	d := newTestDispatcher(t)
	srv := New(config.TransportConfig{Mode: "http"}, d, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.handleHealth(rec, req)

	// No connections have ever been acquired, so the pool reports no
	// idle/in-use connections and the endpoint signals unhealthy.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
}

func TestRunStdioWith_EchoRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	srv := New(config.TransportConfig{Mode: "stdio"}, d, nil)

	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"echo","arguments":{"message":"hi"}}}` + "\n")
	var out bytes.Buffer

	err := srv.runStdioWith(context.Background(), in, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	result := resp["result"].(map[string]any)
	assert.Equal(t, "hi", result["message"])
}

func TestWithCORS_ExactOriginMatch(t *testing.T) {
	handler := withCORS([]string{"https://allowed.example"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req2 := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req2.Header.Set("Origin", "https://allowed.example")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	assert.Equal(t, "https://allowed.example", rec2.Header().Get("Access-Control-Allow-Origin"))
}
