package dispatcher

import (
	"context"
	"time"

	"odoo-mcp-gateway/internal/odoorpc"
)

// execute borrows a pool connection, runs one execute_kw call, and
// records the Odoo-RPC-level metric independently of the MCP-level one
// recorded by the middleware chain. Every execute_kw call a tool handler
// issues funnels through this one choke point so release/metrics
// bookkeeping never gets duplicated or forgotten in a handler;
// non-execute_kw service methods go through call below, which records
// no Odoo-RPC metric.
func (d *Dispatcher) execute(ctx context.Context, model, method string, args odoorpc.Args, kwargs map[string]any) (any, error) {
	conn, release, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := conn.Handler().ExecuteKw(ctx, model, method, args, kwargs)
	release(err == nil)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if d.metrics != nil {
		d.metrics.RecordOdooRPC(method, status, time.Since(start))
	}
	return result, err
}

// call is the execute counterpart for non-execute_kw service methods
// (common.*, db.*).
func (d *Dispatcher) call(ctx context.Context, service, method string, args odoorpc.Args) (any, error) {
	conn, release, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	result, err := conn.Handler().Call(ctx, service, method, args)
	release(err == nil)
	return result, err
}
