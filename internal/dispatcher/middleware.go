package dispatcher

import (
	"context"
	"errors"
	"time"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/logger"
	"odoo-mcp-gateway/internal/ratelimit"
	"odoo-mcp-gateway/internal/registry"
	"odoo-mcp-gateway/internal/telemetry"
)

// Invocation carries everything a middleware might need about the
// call it is wrapping, mirroring the *grpc.UnaryServerInfo parameter
// of a grpc.UnaryServerInterceptor.
type Invocation struct {
	Tool    *registry.Tool
	Request *registry.Request
}

// HandlerFunc executes (or continues executing) an Invocation. It is
// the local analogue of grpc.UnaryHandler.
type HandlerFunc func(ctx context.Context, inv *Invocation) (map[string]any, error)

// Middleware wraps a HandlerFunc with cross-cutting behavior, the local
// analogue of grpc.UnaryServerInterceptor.
type Middleware func(next HandlerFunc) HandlerFunc

// chainMiddleware composes mws around final in the order given — mws[0]
// runs outermost — mirroring pkg/interceptors/chain.go's
// chainUnaryInterceptors/buildUnaryChain composition.
func chainMiddleware(mws []Middleware, final HandlerFunc) HandlerFunc {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// recoveryMiddleware converts a panicking handler into an Internal
// error instead of crashing the dispatch loop.
func (d *Dispatcher) recoveryMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (result map[string]any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tool handler panicked", "tool", inv.Tool.Name, "panic", r)
				err = apperror.New(apperror.KindInternal, "internal error handling tool call")
			}
		}()
		return next(ctx, inv)
	}
}

// rateLimitMiddleware gates the call through the per-client token
// bucket, keyed by session id (falling back to a constant) per §4.4.
func (d *Dispatcher) rateLimitMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		if d.limiter == nil {
			return next(ctx, inv)
		}

		key := ratelimit.DefaultKeyExtractor(ctx, inv.Request.SessionID, "")
		maxWait := time.Duration(d.cfg.RateLimit.MaxWaitSeconds) * time.Second

		if maxWait > 0 {
			if err := d.limiter.Wait(ctx, key, maxWait); err != nil {
				if d.metrics != nil {
					d.metrics.RecordRateLimited(key)
				}
				return nil, apperror.ErrRateLimited
			}
			return next(ctx, inv)
		}

		ok, err := d.limiter.Allow(ctx, key)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.KindInternal, "rate limiter failure")
		}
		if !ok {
			if d.metrics != nil {
				d.metrics.RecordRateLimited(key)
			}
			return nil, apperror.ErrRateLimited
		}
		return next(ctx, inv)
	}
}

// tracingMiddleware opens one span per tool call.
func (d *Dispatcher) tracingMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		ctx, span := telemetry.StartSpan(ctx, "tool."+inv.Tool.Name)
		defer span.End()

		result, err := next(ctx, inv)
		if err != nil {
			telemetry.SetError(ctx, err)
		}
		return result, err
	}
}

// metricsMiddleware records the MCP-level request counter/histogram.
func (d *Dispatcher) metricsMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		start := time.Now()
		result, err := next(ctx, inv)

		status := "ok"
		if err != nil {
			status = "error"
		}
		if d.metrics != nil {
			d.metrics.RecordMCPRequest(inv.Tool.Name, status, time.Since(start))
		}
		return result, err
	}
}

// loggingMiddleware emits a structured debug/error line per call.
func (d *Dispatcher) loggingMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		log := logger.WithSession(inv.Request.SessionID)
		result, err := next(ctx, inv)
		if err != nil {
			log.Warn("tool call failed", "tool", inv.Tool.Name, "error", err)
		} else {
			log.Debug("tool call completed", "tool", inv.Tool.Name)
		}
		return result, err
	}
}

// validationMiddleware enforces the tool's JSON Schema before the
// handler ever sees the arguments, per §8's "validate(schema,args)==true
// before execution" property.
func (d *Dispatcher) validationMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		if err := inv.Tool.Validate(inv.Request.Arguments); err != nil {
			return nil, apperror.NewWithField(apperror.KindValidationSchema, err.Error(), "arguments")
		}
		return next(ctx, inv)
	}
}

// auditMiddleware is innermost so it observes exactly what the handler
// returned, per §4.7's "every successful dispatch emits a structured
// record ... failures also include error kind and code."
func (d *Dispatcher) auditMiddleware(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
		start := time.Now()
		result, err := next(ctx, inv)

		if d.audit == nil {
			return result, err
		}

		builder := audit.NewEntry().
			Session(inv.Request.SessionID).
			Action(audit.ActionToolCall).
			Tool(inv.Tool.Name).
			Duration(time.Since(start))

		if model, ok := inv.Request.Arguments["model"].(string); ok {
			builder = builder.Model(model)
		}

		if err != nil {
			var appErr *apperror.Error
			outcome := audit.OutcomeFailure
			if errors.As(err, &appErr) && appErr.Kind == apperror.KindAuth {
				outcome = audit.OutcomeDenied
			}
			builder = builder.Outcome(outcome).Error(string(apperror.KindOf(err)), err.Error())
		} else {
			builder = builder.Outcome(audit.OutcomeSuccess)
		}

		_ = d.audit.Log(ctx, builder.Build())
		return result, err
	}
}
