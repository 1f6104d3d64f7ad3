package odoorpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"odoo-mcp-gateway/internal/apperror"
)

// jsonrpcRequest is the envelope Odoo's /jsonrpc endpoint expects. It is a
// dialect of JSON-RPC 2.0 where "method" is always "call" and the actual
// service/method pair travels inside params.
type jsonrpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  jsonrpcParams  `json:"params"`
	ID      int64          `json:"id"`
}

type jsonrpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *jsonrpcError   `json:"error"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Debug   string `json:"debug"`
		Message string `json:"message"`
		Arguments []any `json:"arguments"`
	} `json:"data"`
}

func (e *jsonrpcError) String() string {
	if e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

// JSONRPCHandler speaks Odoo's JSON-RPC 2.0 dialect over a single
// /jsonrpc HTTP endpoint, using the "common"/"object" service names in
// place of XML-RPC's separate endpoints.
type JSONRPCHandler struct {
	cfg        Config
	httpClient *http.Client
	endpoint   string

	mu   sync.RWMutex
	uid  int64
	auth bool

	idSeq   atomic.Int64
	healthy atomic.Bool
}

func NewJSONRPCHandler(cfg Config) (*JSONRPCHandler, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	h := &JSONRPCHandler{
		cfg:      cfg,
		endpoint: cfg.URL + "/jsonrpc",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	h.healthy.Store(true)
	return h, nil
}

func (h *JSONRPCHandler) nextID() int64 {
	return h.idSeq.Add(1)
}

// call issues a single JSON-RPC request against the shared /jsonrpc
// endpoint and decodes the result into v.
func (h *JSONRPCHandler) call(ctx context.Context, service, method string, args []any, v any) error {
	reqBody := jsonrpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: jsonrpcParams{
			Service: service,
			Method:  method,
			Args:    args,
		},
		ID: h.nextID(),
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return apperror.Wrap(err, apperror.KindProtocol, "encoding odoo jsonrpc request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperror.Wrap(err, apperror.KindNetwork, "building odoo jsonrpc request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		h.healthy.Store(false)
		return apperror.Wrap(err, apperror.KindNetwork, "odoo jsonrpc request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.healthy.Store(false)
		return apperror.Wrap(err, apperror.KindNetwork, "reading odoo jsonrpc response")
	}

	if resp.StatusCode != http.StatusOK {
		h.healthy.Store(false)
		return apperror.New(apperror.KindNetwork, fmt.Sprintf("odoo jsonrpc endpoint returned status %d", resp.StatusCode)).
			WithDetails("body", string(body))
	}

	var rpcResp jsonrpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return apperror.Wrap(err, apperror.KindProtocol, "decoding odoo jsonrpc response")
	}

	if rpcResp.Error != nil {
		h.healthy.Store(false)
		return classifyFault(fmt.Errorf("%s", rpcResp.Error.String()))
	}

	h.healthy.Store(true)

	if v == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, v); err != nil {
		return apperror.Wrap(err, apperror.KindProtocol, "decoding odoo jsonrpc result")
	}
	return nil
}

func (h *JSONRPCHandler) isAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.auth && h.uid != 0
}

func (h *JSONRPCHandler) Authenticate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if h.isAuthenticated() {
		h.mu.RLock()
		uid := h.uid
		h.mu.RUnlock()
		return uid, nil
	}

	// Odoo answers a rejected login with false rather than a fault.
	var result any
	args := []any{h.cfg.Database, h.cfg.Username, h.cfg.APIKey, map[string]any{}}
	if err := h.call(ctx, "common", "authenticate", args, &result); err != nil {
		return 0, err
	}
	var uid int64
	if n, ok := result.(float64); ok {
		uid = int64(n)
	}
	if uid == 0 {
		return 0, apperror.New(apperror.KindAuth, "odoo rejected credentials")
	}

	h.mu.Lock()
	h.uid = uid
	h.auth = true
	h.mu.Unlock()

	return uid, nil
}

func (h *JSONRPCHandler) ExecuteKw(ctx context.Context, model, method string, args Args, kwargs map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uid, err := h.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	callArgs := []any{h.cfg.Database, uid, h.cfg.APIKey, model, method, []any(args)}
	if kwargs != nil {
		callArgs = append(callArgs, kwargs)
	}

	var result any
	if err := h.call(ctx, "object", "execute_kw", callArgs, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Call is the generic fallthrough for Odoo service methods that aren't
// object.execute_kw (e.g. common.about, db.list).
func (h *JSONRPCHandler) Call(ctx context.Context, service, method string, args Args) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result any
	if err := h.call(ctx, service, method, []any(args), &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *JSONRPCHandler) Version(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result map[string]any
	if err := h.call(ctx, "common", "version", []any{}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *JSONRPCHandler) Healthy() bool {
	return h.healthy.Load()
}

func (h *JSONRPCHandler) Close() error {
	h.mu.Lock()
	h.uid = 0
	h.auth = false
	h.mu.Unlock()

	h.httpClient.CloseIdleConnections()
	return nil
}
