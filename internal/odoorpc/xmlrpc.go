package odoorpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kolo/xmlrpc"

	"odoo-mcp-gateway/internal/apperror"
)

// XMLRPCHandler speaks Odoo's classic XML-RPC dialect over the
// /xmlrpc/2/common and /xmlrpc/2/object endpoints.
type XMLRPCHandler struct {
	cfg    Config
	common *xmlrpc.Client
	object *xmlrpc.Client

	mu   sync.RWMutex
	uid  int64
	auth bool

	healthy atomic.Bool
}

func NewXMLRPCHandler(cfg Config) (*XMLRPCHandler, error) {
	common, err := xmlrpc.NewClient(cfg.URL+"/xmlrpc/2/common", nil)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindNetwork, "dialing odoo common endpoint")
	}

	object, err := xmlrpc.NewClient(cfg.URL+"/xmlrpc/2/object", nil)
	if err != nil {
		common.Close()
		return nil, apperror.Wrap(err, apperror.KindNetwork, "dialing odoo object endpoint")
	}

	h := &XMLRPCHandler{cfg: cfg, common: common, object: object}
	h.healthy.Store(true)
	return h, nil
}

func (h *XMLRPCHandler) isAuthenticated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.auth && h.uid != 0
}

// Authenticate calls the common endpoint's "authenticate" method and
// caches the returned uid. kolo/xmlrpc blocks the calling goroutine for
// the duration of the round trip; ctx cancellation is only observed
// before the call starts, since the library offers no in-flight hook.
func (h *XMLRPCHandler) Authenticate(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if h.isAuthenticated() {
		h.mu.RLock()
		uid := h.uid
		h.mu.RUnlock()
		return uid, nil
	}

	var uid int64
	err := h.common.Call("authenticate", []any{h.cfg.Database, h.cfg.Username, h.cfg.APIKey, map[string]any{}}, &uid)
	if err != nil {
		h.healthy.Store(false)
		return 0, classifyFault(err)
	}
	if uid == 0 {
		h.healthy.Store(false)
		return 0, apperror.New(apperror.KindAuth, "odoo rejected credentials")
	}

	h.mu.Lock()
	h.uid = uid
	h.auth = true
	h.mu.Unlock()

	h.healthy.Store(true)
	return uid, nil
}

// ExecuteKw invokes a model method via the object endpoint's execute_kw,
// the universal entry point for both ORM shortcuts (search, read,
// search_read, create, write, unlink) and arbitrary custom methods.
func (h *XMLRPCHandler) ExecuteKw(ctx context.Context, model, method string, args Args, kwargs map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	uid, err := h.Authenticate(ctx)
	if err != nil {
		return nil, err
	}

	params := []any{h.cfg.Database, uid, h.cfg.APIKey, model, method, []any(args)}
	if kwargs != nil {
		params = append(params, kwargs)
	}

	var result any
	if err := h.object.Call("execute_kw", params, &result); err != nil {
		h.healthy.Store(false)
		return nil, classifyFault(err)
	}

	h.healthy.Store(true)
	return result, nil
}

// Call is the generic fallthrough for Odoo service methods that aren't
// object.execute_kw. service selects which endpoint (common or object)
// receives the call; any other service name is rejected.
func (h *XMLRPCHandler) Call(ctx context.Context, service, method string, args Args) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var client *xmlrpc.Client
	switch service {
	case "common":
		client = h.common
	case "object":
		client = h.object
	default:
		return nil, apperror.New(apperror.KindProtocol, "unknown odoo service").WithDetails("service", service)
	}

	var result any
	if err := client.Call(method, []any(args), &result); err != nil {
		h.healthy.Store(false)
		return nil, classifyFault(err)
	}
	h.healthy.Store(true)
	return result, nil
}

// Version calls the common endpoint's unauthenticated "version" method,
// used by the connection pool's health probe.
func (h *XMLRPCHandler) Version(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result map[string]any
	if err := h.common.Call("version", []any{}, &result); err != nil {
		h.healthy.Store(false)
		return nil, apperror.Wrap(err, apperror.KindNetwork, "odoo version probe failed")
	}

	h.healthy.Store(true)
	return result, nil
}

func (h *XMLRPCHandler) Healthy() bool {
	return h.healthy.Load()
}

func (h *XMLRPCHandler) Close() error {
	h.mu.Lock()
	h.uid = 0
	h.auth = false
	h.mu.Unlock()

	var err error
	if h.common != nil {
		err = h.common.Close()
	}
	if closeErr := h.object.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("closing odoo xmlrpc handler: %w", err)
	}
	return nil
}
