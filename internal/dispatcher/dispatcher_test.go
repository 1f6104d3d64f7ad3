package dispatcher

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/metrics"
	"odoo-mcp-gateway/internal/ratelimit"
	"odoo-mcp-gateway/internal/registry"
	"odoo-mcp-gateway/internal/security"
	"odoo-mcp-gateway/internal/session"
	"odoo-mcp-gateway/internal/subscription"
)

// fakeAuditLogger records entries instead of writing them anywhere, so
// tests can assert on outcomes without a real audit backend.
type fakeAuditLogger struct {
	entries []*audit.Entry
}

func (f *fakeAuditLogger) Log(_ context.Context, entry *audit.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditLogger) Close() error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeAuditLogger) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Odoo.SchemaCacheTTL = time.Minute
	cfg.Odoo.MaxPayloadSize = 1 << 20
	cfg.RateLimit.MaxWaitSeconds = 0
	cfg.Cache.TTL = time.Minute

	limiter, err := ratelimit.New(ratelimit.DefaultConfig())
	require.NoError(t, err)

	auditLogger := &fakeAuditLogger{}
	domains := security.NewImplicitDomainPolicy(false, nil)
	pii := security.NewPIIDetector(false, nil)

	acquire := func(_ context.Context, username, secret string) (int64, error) {
		if username == "admin" && secret == "secret" {
			return 1, nil
		}
		if username == "" || secret == "" {
			return 0, apperror.New(apperror.KindAuth, "missing credentials")
		}
		return 2, nil
	}
	sessions := session.NewStore(time.Hour, acquire)

	d := New(Deps{
		Config:        cfg,
		Sessions:      sessions,
		Limiter:       limiter,
		Domains:       domains,
		PII:           pii,
		Audit:         auditLogger,
		Metrics:       metrics.InitMetrics("test", strings.ReplaceAll(t.Name(), "/", "_")),
		Bus:           subscription.NewBus(8),
		ServerName:    "odoo-mcp-gateway-test",
		ServerVersion: "0.0.0-test",
	})
	return d, auditLogger
}

func TestDispatch_NotificationYieldsNoResponse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","method":"ping"}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	assert.False(t, wrote)
	assert.Nil(t, out)
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"not_a_real_method"}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperror.KindProtocol.JSONRPCCode(), resp.Error.Code)
}

func TestDispatch_Initialize(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "odoo-mcp-gateway-test", result["server_name"])
}

func TestDispatch_ListToolsIncludesEcho(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"list_tools"}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	raw2, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var listing struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(raw2, &listing))

	var names []string
	for _, tool := range listing.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, "odoo.search_read")
	assert.Contains(t, names, "odoo_search_read")
	assert.Contains(t, names, "odoo.read_group")
	assert.Contains(t, names, "odoo_read_group")
}

func TestDispatch_CallTool_Echo(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"echo","arguments":{"message":"hi"}}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", result["message"])
}

func TestDispatch_CallTool_UnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"does_not_exist","arguments":{}}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperror.KindTool.JSONRPCCode(), resp.Error.Code)
}

func TestDispatch_CallTool_SchemaValidationRejectsMissingField(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"echo","arguments":{}}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperror.KindValidationSchema.JSONRPCCode(), resp.Error.Code)
}

func TestDispatch_CreateSessionThenResolvedOnSubsequentCall(t *testing.T) {
	d, auditLogger := newTestDispatcher(t)
	createRaw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"create_session","arguments":{"username":"admin","api_key":"secret"}}}`)

	out, wrote := d.Dispatch(context.Background(), createRaw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	sessionID, ok := result["session_id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, float64(1), result["uid"])

	echoRaw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "call_tool",
		"params": map[string]any{
			"name":       "echo",
			"arguments":  map[string]any{"message": "again"},
			"session_id": sessionID,
		},
	})
	require.NoError(t, err)

	out2, wrote2 := d.Dispatch(context.Background(), echoRaw)
	require.True(t, wrote2)
	var resp2 rpcResponse
	require.NoError(t, json.Unmarshal(out2, &resp2))
	require.Nil(t, resp2.Error)

	assert.NotEmpty(t, auditLogger.entries)
}

func TestDispatch_CallTool_UnresolvableSessionFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"echo","arguments":{"message":"hi"},"session_id":"not-a-real-session"}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
}

func TestDispatch_DomainValidate(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"odoo.domain.validate","arguments":{"model":"res.partner","domain_json":[["active","=",true]]}}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])
}

func TestDispatch_SubscribeResourceRequiresStatefulTransport(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"subscribe_resource","params":{"uri":"odoo://res.partner/7"}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
}

func TestDispatch_SubscribeAndUnsubscribeResource(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := WithSinkID(context.Background(), "sink-1")
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"subscribe_resource","params":{"uri":"odoo://res.partner/7"}}`)

	out, wrote := d.Dispatch(ctx, raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Nil(t, resp.Error)

	assert.Equal(t, 1, d.bus.SubscriberCount("odoo://res.partner/7"))

	unsubRaw := []byte(`{"jsonrpc":"2.0","id":2,"method":"unsubscribe_resource","params":{"uri":"odoo://res.partner/7"}}`)
	out2, wrote2 := d.Dispatch(ctx, unsubRaw)
	require.True(t, wrote2)

	var resp2 rpcResponse
	require.NoError(t, json.Unmarshal(out2, &resp2))
	require.Nil(t, resp2.Error)
	assert.Equal(t, 0, d.bus.SubscriberCount("odoo://res.partner/7"))
}

func TestDispatch_UnknownResourceTemplate(t *testing.T) {
	d, _ := newTestDispatcher(t)
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"not-odoo://nope"}}`)

	out, wrote := d.Dispatch(context.Background(), raw)
	require.True(t, wrote)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, apperror.KindResource.JSONRPCCode(), resp.Error.Code)
}

func TestReplayCache_LookupMissThenStoreThenHit(t *testing.T) {
	rc := newReplayCache(time.Minute)

	_, _, ok := rc.Lookup("op-1")
	assert.False(t, ok)

	rc.Store("op-1", map[string]any{"id": 7}, nil)

	result, appErr, ok := rc.Lookup("op-1")
	require.True(t, ok)
	assert.Nil(t, appErr)
	assert.Equal(t, 7, result["id"])
}

func TestReplayCache_ExpiredEntryIsAMiss(t *testing.T) {
	rc := newReplayCache(time.Millisecond)
	rc.Store("op-1", map[string]any{"id": 7}, nil)
	time.Sleep(5 * time.Millisecond)

	_, _, ok := rc.Lookup("op-1")
	assert.False(t, ok)
}

func TestReplayCache_EmptyOperationIDNeverStored(t *testing.T) {
	rc := newReplayCache(time.Minute)
	rc.Store("", map[string]any{"id": 7}, nil)

	_, _, ok := rc.Lookup("")
	assert.False(t, ok)
}

func TestChainMiddleware_RunsOutermostFirst(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
				order = append(order, name)
				return next(ctx, inv)
			}
		}
	}
	final := func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		order = append(order, "final")
		return map[string]any{}, nil
	}

	chain := chainMiddleware([]Middleware{mk("a"), mk("b"), mk("c")}, final)
	_, err := chain(context.Background(), &Invocation{Tool: &registry.Tool{Name: "t"}, Request: &registry.Request{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "final"}, order)
}

func TestRecoveryMiddleware_ConvertsPanicToInternalError(t *testing.T) {
	d := &Dispatcher{}
	next := func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		panic("boom")
	}
	handler := d.recoveryMiddleware(next)

	result, err := handler(context.Background(), &Invocation{Tool: &registry.Tool{Name: "t"}, Request: &registry.Request{}})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))
}

func TestValidationMiddleware_RejectsArgumentsFailingSchema(t *testing.T) {
	d := &Dispatcher{}
	reg := registry.New()
	tool := &registry.Tool{
		Name:       "needs-message",
		SchemaJSON: `{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`,
	}
	reg.RegisterTool(tool)

	called := false
	next := func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		called = true
		return map[string]any{}, nil
	}
	handler := d.validationMiddleware(next)

	_, err := handler(context.Background(), &Invocation{Tool: tool, Request: &registry.Request{Arguments: map[string]any{}}})
	require.Error(t, err)
	assert.False(t, called)
	assert.Equal(t, apperror.KindValidationSchema, apperror.KindOf(err))
}
