package dispatcher

import (
	"sync"
	"time"

	"odoo-mcp-gateway/internal/apperror"
)

// replayEntry is the stored outcome of one idempotent write, keyed by
// its client-supplied operation_id.
type replayEntry struct {
	result  map[string]any
	err     *apperror.Error
	storedAt time.Time
}

// replayCache implements §4.8's "idempotent write replay" window: a
// write tool carrying operation_id is executed at most once within
// window; subsequent calls with the same id return the stored outcome
// without touching Odoo again.
type replayCache struct {
	mu      sync.Mutex
	entries map[string]replayEntry
	window  time.Duration
}

func newReplayCache(window time.Duration) *replayCache {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &replayCache{entries: make(map[string]replayEntry), window: window}
}

// Lookup returns the stored (result, err) for operationID if present
// and still within window; ok is false on a miss or expiry.
func (r *replayCache) Lookup(operationID string) (map[string]any, *apperror.Error, bool) {
	if operationID == "" {
		return nil, nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[operationID]
	if !ok {
		return nil, nil, false
	}
	if time.Since(entry.storedAt) > r.window {
		delete(r.entries, operationID)
		return nil, nil, false
	}
	return entry.result, entry.err, true
}

// Store records a write outcome for later replay. Only successful
// outcomes and gateway-classified errors are stored; a nil error with a
// nil result is never a valid entry and is ignored.
func (r *replayCache) Store(operationID string, result map[string]any, err *apperror.Error) {
	if operationID == "" || (result == nil && err == nil) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[operationID] = replayEntry{result: result, err: err, storedAt: time.Now()}
	r.sweepLocked()
}

// sweepLocked drops expired entries from within Store once the map
// holds 256 or more entries, rather than running a dedicated
// goroutine — the replay window
// is short enough that a background sweeper would be idle most of the
// time it ran.
func (r *replayCache) sweepLocked() {
	if len(r.entries) < 256 {
		return
	}
	now := time.Now()
	for id, entry := range r.entries {
		if now.Sub(entry.storedAt) > r.window {
			delete(r.entries, id)
		}
	}
}
