// Package session implements the gateway's authenticator and
// session store (SPEC_FULL §4.3): it exchanges (username, secret) for
// an Odoo uid via a pooled connection, issues an opaque session id, and
// reaps sessions a background sweep finds past their inactivity TTL.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"odoo-mcp-gateway/internal/apperror"
)

// Session is a server-side token authorizing the gateway to act on a
// client's behalf. It does not change the credentials placed on the
// wire for execute_kw calls — see DESIGN.md's Open Question decision.
type Session struct {
	ID         string
	UID        int64
	CreatedAt  time.Time
	LastUsedAt time.Time
}

func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	return now.After(s.LastUsedAt.Add(ttl))
}

// Acquirer is the narrow capability the store needs from the connection
// pool: authenticate on behalf of a borrowed connection. Modeled as a
// function type so the store doesn't depend on the whole pool.Pool type
// (per the "cyclic objects" design note in SPEC_FULL §9).
type Acquirer func(ctx context.Context, username, secret string) (uid int64, err error)

// Store holds live sessions and runs the background expiry sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	acquire  Acquirer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewStore(ttl time.Duration, acquire Acquirer) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		acquire:  acquire,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic expiry sweep.
func (s *Store) Start(cleanupInterval time.Duration) {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s.wg.Add(1)
	go s.sweepLoop(cleanupInterval)
}

func (s *Store) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// CreateSession authenticates (username, secret) against Odoo via the
// pool and, on success, issues a new opaque session id.
func (s *Store) CreateSession(ctx context.Context, username, secret string) (*Session, error) {
	uid, err := s.acquire(ctx, username, secret)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		UID:        uid,
		CreatedAt:  now,
		LastUsedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, nil
}

// Resolve touches last_used and returns the session's uid, or a Session
// error if the id is unknown or past its TTL.
func (s *Store) Resolve(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return 0, apperror.ErrSessionExpired
	}

	now := time.Now()
	if sess.expired(s.ttl, now) {
		delete(s.sessions, id)
		return 0, apperror.ErrSessionExpired
	}

	sess.LastUsedAt = now
	return sess.UID, nil
}

// Destroy removes a session; idempotent.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Count reports the number of live sessions, for the /health endpoint.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.expired(s.ttl, now) {
			delete(s.sessions, id)
		}
	}
}
