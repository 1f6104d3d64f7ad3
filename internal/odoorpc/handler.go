// Package odoorpc implements the two Odoo RPC transport variants the
// gateway can speak to a backend with — classic XML-RPC and the JSON-RPC
// dialect Odoo also exposes — behind one RpcHandler interface so the rest
// of the gateway never branches on protocol.
package odoorpc

import (
	"context"
	"time"
)

// Args is the positional argument list passed to execute_kw.
type Args []any

func (a *Args) Append(v ...any) { *a = append(*a, v...) }

// RpcHandler is the uniform surface the connection pool hands out.
// Authenticate establishes (or re-validates) the session uid; every other
// call assumes Authenticate has already succeeded.
type RpcHandler interface {
	Authenticate(ctx context.Context) (uid int64, err error)
	ExecuteKw(ctx context.Context, model, method string, args Args, kwargs map[string]any) (any, error)
	// Call is the generic fallthrough for Odoo service methods outside
	// object.execute_kw (e.g. common.about, db.list).
	Call(ctx context.Context, service, method string, args Args) (any, error)
	Version(ctx context.Context) (map[string]any, error)
	Healthy() bool
	Close() error
}

// Config carries the connection parameters a single RpcHandler needs.
// It is intentionally narrower than the full gateway config so the RPC
// layer has no dependency on config.Config.
type Config struct {
	URL      string
	Database string
	Username string
	APIKey   string
	Protocol string // xmlrpc, jsonrpc
	Timeout  time.Duration
}

// New builds an RpcHandler for the protocol named in cfg.Protocol.
func New(cfg Config) (RpcHandler, error) {
	switch cfg.Protocol {
	case "jsonrpc":
		return NewJSONRPCHandler(cfg)
	default:
		return NewXMLRPCHandler(cfg)
	}
}
