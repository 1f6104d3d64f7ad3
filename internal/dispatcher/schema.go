package dispatcher

import (
	"context"
	"sync"
	"time"

	"odoo-mcp-gateway/internal/odoorpc"
	"odoo-mcp-gateway/internal/pool"
)

// schemaVersioner caches the Odoo schema version behind a TTL so that
// `odoo.schema.version` and the cache key builder don't issue a fresh
// introspection call on every request, per §4.5/§9's "cheap query
// returning a hash over model/field tables" guidance.
type schemaVersioner struct {
	mu        sync.Mutex
	value     int64
	fetchedAt time.Time
	ttl       time.Duration
	fetch     func(ctx context.Context) (int64, error)
}

func newSchemaVersioner(fetch func(ctx context.Context) (int64, error), ttl time.Duration) *schemaVersioner {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &schemaVersioner{fetch: fetch, ttl: ttl}
}

func (s *schemaVersioner) Version(ctx context.Context) (int64, error) {
	s.mu.Lock()
	if !s.fetchedAt.IsZero() && time.Since(s.fetchedAt) < s.ttl {
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	v, err := s.fetch(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.value = v
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return v, nil
}

// fetchSchemaVersion issues the cheapest introspection call the gateway
// has a use for already: the installed module count. A module
// install/upgrade is exactly the event that can change field
// definitions, so its count is a serviceable proxy for a schema hash
// without adding a dedicated Odoo-side endpoint.
func (d *Dispatcher) fetchSchemaVersion(ctx context.Context) (int64, error) {
	result, err := d.execute(ctx, "ir.module.module", "search_count", odoorpc.Args{[]any{[]any{"state", "=", "installed"}}}, nil)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, nil
	}
}

// FieldsGetter builds a security.FieldsGetter closure over a
// connection pool, independent of any Dispatcher instance, so it can
// be wired into security.NewImplicitDomainPolicy before the Dispatcher
// that will eventually hold that policy is itself constructed.
func FieldsGetter(p *pool.Pool) func(ctx context.Context, model string) (map[string]bool, error) {
	return func(ctx context.Context, model string) (map[string]bool, error) {
		conn, release, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		result, execErr := conn.Handler().ExecuteKw(ctx, model, "fields_get", odoorpc.Args{[]any{}}, map[string]any{"attributes": []string{}})
		release(execErr == nil)
		if execErr != nil {
			return nil, execErr
		}

		fields, ok := result.(map[string]any)
		if !ok {
			return map[string]bool{}, nil
		}
		names := make(map[string]bool, len(fields))
		for name := range fields {
			names[name] = true
		}
		return names, nil
	}
}
