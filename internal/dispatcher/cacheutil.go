package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"odoo-mcp-gateway/internal/logger"
	"odoo-mcp-gateway/internal/subscription"
)

// cacheGet fetches and decodes a previously cached tool result. Any
// decode failure is treated as a miss rather than an error — a stale or
// corrupt entry should never fail a request, only cost a cache hit.
func (d *Dispatcher) cacheGet(ctx context.Context, key string) (map[string]any, bool) {
	if d.cache == nil {
		return nil, false
	}

	raw, err := d.cache.Get(ctx, key)
	if err != nil {
		if d.metrics != nil {
			d.metrics.RecordCacheMiss(key)
		}
		return nil, false
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	if d.metrics != nil {
		d.metrics.RecordCacheHit(key)
	}
	return out, true
}

// cacheSet stores a read-only tool result for every caller; the
// privileged flag is not read. Non-privileged results arrive already
// PII-masked and privileged results arrive unmasked; the key carries
// the effective uid, so callers with different uids never share an
// entry.
func (d *Dispatcher) cacheSet(ctx context.Context, key string, value map[string]any, _ bool) {
	if d.cache == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	ttl := d.cfg.Cache.TTL
	if err := d.cache.Set(ctx, key, raw, ttl); err != nil {
		logger.Debug("cache set failed", "key", key, "error", err)
	}
}

// invalidateModel drops every cached entry derived from model in the
// configured database, regardless of which schema version tagged it,
// after a successful write. The pattern has a single trailing "*", the
// form both cache backends' DeleteByPattern match.
func (d *Dispatcher) invalidateModel(ctx context.Context, model string) {
	if d.cache == nil {
		return
	}
	pattern := fmt.Sprintf("odoo:%s:%s:*", d.cfg.Odoo.Database, model)
	if _, err := d.cache.DeleteByPattern(ctx, pattern); err != nil {
		logger.Debug("cache invalidation failed", "model", model, "error", err)
	}
}

// publish emits a resources/updated notification for model's list URI
// and every affected record URI, per §4.12(a).
func (d *Dispatcher) publish(model, method string, ids []int64) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(subscription.Event{URI: fmt.Sprintf("odoo://%s/list", model), Method: method})
	for _, id := range ids {
		d.bus.Publish(subscription.Event{URI: fmt.Sprintf("odoo://%s/%d", model, id), Method: method})
	}
}
