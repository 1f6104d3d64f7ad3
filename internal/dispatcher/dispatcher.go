// Package dispatcher implements the MCP request dispatcher (SPEC_FULL
// §4.10): it parses the JSON-RPC envelope, routes by method, drives
// every call_tool invocation through a middleware chain, and owns the
// tool/resource catalog wiring that ties together the pool, session
// store, rate limiter, cache, security layer, and subscription bus.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/cache"
	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/domaindsl"
	"odoo-mcp-gateway/internal/metrics"
	"odoo-mcp-gateway/internal/normalizer"
	"odoo-mcp-gateway/internal/pool"
	"odoo-mcp-gateway/internal/ratelimit"
	"odoo-mcp-gateway/internal/registry"
	"odoo-mcp-gateway/internal/security"
	"odoo-mcp-gateway/internal/session"
	"odoo-mcp-gateway/internal/subscription"
)

type sinkIDKey struct{}

// WithSinkID attaches the transport-assigned subscriber id (an SSE
// connection, for instance) to ctx so subscribe_resource/unsubscribe_resource
// know which sink to register.
func WithSinkID(ctx context.Context, sinkID string) context.Context {
	return context.WithValue(ctx, sinkIDKey{}, sinkID)
}

func sinkIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sinkIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Deps are the already-constructed components a Dispatcher wires
// together. Every field is a capability the dispatcher needs, not the
// whole owning component, per SPEC_FULL §9's "cyclic objects" note
// where that is practical; the pool and registry are referenced
// directly since dispatcher is their only consumer.
type Deps struct {
	Config    *config.Config
	Pool      *pool.Pool
	Sessions  *session.Store
	Limiter   ratelimit.Limiter
	Cache     cache.Cache
	Domains   *security.ImplicitDomainPolicy
	PII       *security.PIIDetector
	Audit     audit.Logger
	Metrics   *metrics.Metrics
	Bus       *subscription.Bus
	ServerName string
	ServerVersion string
}

// Dispatcher routes MCP JSON-RPC requests to the tool/resource catalog.
type Dispatcher struct {
	cfg      *config.Config
	pool     *pool.Pool
	sessions *session.Store
	limiter  ratelimit.Limiter
	cache    cache.Cache
	domains  *security.ImplicitDomainPolicy
	pii      *security.PIIDetector
	audit    audit.Logger
	metrics  *metrics.Metrics
	bus      *subscription.Bus
	registry *registry.Registry
	replay   *replayCache
	schema   *schemaVersioner

	serverName    string
	serverVersion string

	chain HandlerFunc
}

// New builds a Dispatcher, registers its full tool and resource
// catalog, and assembles the middleware chain.
func New(deps Deps) *Dispatcher {
	d := &Dispatcher{
		cfg:           deps.Config,
		pool:          deps.Pool,
		sessions:      deps.Sessions,
		limiter:       deps.Limiter,
		cache:         deps.Cache,
		domains:       deps.Domains,
		pii:           deps.PII,
		audit:         deps.Audit,
		metrics:       deps.Metrics,
		bus:           deps.Bus,
		registry:      registry.New(),
		replay:        newReplayCache(10 * time.Minute),
		serverName:    deps.ServerName,
		serverVersion: deps.ServerVersion,
	}
	d.schema = newSchemaVersioner(d.fetchSchemaVersion, deps.Config.Odoo.SchemaCacheTTL)
	d.registerTools()
	d.registerResources()

	final := func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		return inv.Tool.Handler(ctx, inv.Request)
	}
	d.chain = chainMiddleware([]Middleware{
		d.recoveryMiddleware,
		d.rateLimitMiddleware,
		d.tracingMiddleware,
		d.metricsMiddleware,
		d.loggingMiddleware,
		d.validationMiddleware,
		d.auditMiddleware,
	}, final)
	return d
}

// rpcRequest/rpcResponse are the wire JSON-RPC 2.0 envelopes. ID is
// kept as raw JSON so the response echoes it back byte-for-byte
// regardless of whether the client used a string or a number.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      json.RawMessage    `json:"id,omitempty"`
	Result  any                `json:"result,omitempty"`
	Error   *apperror.Envelope `json:"error,omitempty"`
}

func errorResponse(id json.RawMessage, err error) *rpcResponse {
	env := apperror.ToJSONRPC(err)
	return &rpcResponse{JSONRPC: "2.0", ID: id, Error: &env}
}

func successResponse(id json.RawMessage, result any) *rpcResponse {
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

// Dispatch handles one raw JSON-RPC message and returns the encoded
// response, or (nil, false) for a notification (no "id" field), which
// the transport MUST NOT write back to the client.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) ([]byte, bool) {
	var req rpcRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		resp := errorResponse(nil, apperror.Wrap(err, apperror.KindProtocol, "malformed json-rpc request"))
		out, _ := json.Marshal(resp)
		return out, true
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	result, err := d.route(ctx, &req)
	if isNotification {
		return nil, false
	}

	var resp *rpcResponse
	if err != nil {
		resp = errorResponse(req.ID, err)
	} else {
		resp = successResponse(req.ID, result)
	}

	out, marshalErr := json.Marshal(resp)
	if marshalErr != nil {
		fallback := errorResponse(req.ID, apperror.Wrap(marshalErr, apperror.KindInternal, "failed to encode response"))
		out, _ = json.Marshal(fallback)
	}
	return out, true
}

func (d *Dispatcher) route(ctx context.Context, req *rpcRequest) (any, error) {
	switch req.Method {
	case "initialize":
		return d.handleInitialize(), nil
	case "ping":
		return map[string]any{}, nil
	case "list_tools":
		return d.handleListTools(), nil
	case "call_tool":
		return d.handleCallTool(ctx, req.Params)
	case "list_resource_templates":
		return d.handleListResourceTemplates(), nil
	case "read_resource":
		return d.handleReadResource(ctx, req.Params)
	case "subscribe_resource":
		return d.handleSubscribeResource(ctx, req.Params)
	case "unsubscribe_resource":
		return d.handleUnsubscribeResource(ctx, req.Params)
	case "list_prompts":
		return map[string]any{"prompts": []any{}}, nil
	case "get_prompt":
		return nil, apperror.New(apperror.KindResource, "no prompts are registered")
	default:
		return nil, apperror.New(apperror.KindProtocol, "unknown method: "+req.Method)
	}
}

func (d *Dispatcher) handleInitialize() map[string]any {
	return map[string]any{
		"server_name":    d.serverName,
		"server_version": d.serverVersion,
		"capabilities": map[string]any{
			"tools":     true,
			"resources": true,
			"prompts":   false,
		},
	}
}

func (d *Dispatcher) handleListTools() map[string]any {
	tools := d.registry.Tools()
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"input_schema": json.RawMessage(t.SchemaJSON),
		})
	}
	return map[string]any{"tools": out}
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	SessionID string          `json:"session_id"`
}

func (d *Dispatcher) handleCallTool(ctx context.Context, raw json.RawMessage) (any, error) {
	var p callToolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, apperror.Wrap(err, apperror.KindProtocol, "malformed call_tool params")
		}
	}

	tool, ok := d.registry.Tool(p.Name)
	if !ok {
		return nil, apperror.New(apperror.KindTool, "unknown tool").WithDetails("tool", p.Name)
	}

	var envelope map[string]any
	if len(p.Arguments) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(p.Arguments, &raw); err != nil {
			return nil, apperror.Wrap(err, apperror.KindProtocol, "malformed tool arguments")
		}
		envelope = normalizer.Envelope(raw)
	} else {
		envelope = map[string]any{}
	}

	sessionID := p.SessionID
	if sid, ok := envelope["session_id"].(string); ok && sid != "" {
		sessionID = sid
	}

	var uid int64
	privileged := false
	if sessionID != "" {
		resolvedUID, err := d.sessions.Resolve(sessionID)
		if err != nil {
			return nil, err
		}
		uid = resolvedUID
		privileged = uid == 1
	}

	req := &registry.Request{
		Arguments:  envelope,
		SessionID:  sessionID,
		UID:        uid,
		Privileged: privileged,
	}

	return d.chain(ctx, &Invocation{Tool: tool, Request: req})
}

// Bus exposes the subscription bus so the transport layer can register
// per-connection sinks and drain their event channels; the dispatcher
// itself only ever publishes to it.
func (d *Dispatcher) Bus() *subscription.Bus {
	return d.bus
}

// PoolStats reports connection pool occupancy for the /health endpoint.
func (d *Dispatcher) PoolStats() pool.Stats {
	return d.pool.Stats()
}

// SessionCount reports the number of live sessions for /health.
func (d *Dispatcher) SessionCount() int {
	return d.sessions.Count()
}

// domainContextFor builds a domaindsl.Context from the request UID and
// the gateway's configured per-request limits.
func (d *Dispatcher) domainContextFor(uid int64) domaindsl.Context {
	return domaindsl.Context{
		CurrentUID:     uid,
		Now:            time.Now(),
		MaxPayloadSize: d.cfg.Odoo.MaxPayloadSize,
	}
}
