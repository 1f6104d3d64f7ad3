// Package pool manages a bounded set of odoorpc.RpcHandler connections,
// handing them out to callers with acquire/release semantics, probing
// idle connections for health, and retrying construction with backoff.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/odoorpc"
)

var ErrPoolClosed = errors.New("connection pool is closed")

// Connection is one pool slot: a handler plus the bookkeeping the pool
// and health prober need to manage its lifecycle.
type Connection struct {
	handler  odoorpc.RpcHandler
	inUse    bool
	lastUsed time.Time
	failures int
}

// Pool is the bounded set of Connections to a single Odoo backend,
// per SPEC_FULL §4.2.
type Pool struct {
	mu    sync.Mutex
	cond  *sync.Cond
	conns []*Connection

	rpcCfg odoorpc.Config
	pcfg   config.PoolConfig

	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Stats summarizes pool occupancy for the /health endpoint.
type Stats struct {
	Size   int
	Idle   int
	InUse  int
}

// New builds an (initially empty) pool; connections are constructed
// lazily on first Acquire up to pcfg.Size.
func New(rpcCfg odoorpc.Config, pcfg config.PoolConfig) *Pool {
	p := &Pool{
		conns:  make([]*Connection, 0, pcfg.Size),
		rpcCfg: rpcCfg,
		pcfg:   pcfg,
		stopCh: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the background health prober.
func (p *Pool) Start() {
	if p.pcfg.ConnectionHealthInterval <= 0 {
		return
	}
	p.wg.Add(1)
	go p.healthLoop()
}

// Stop halts the health prober and closes every connection.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()

	for _, c := range conns {
		_ = c.handler.Close()
	}
}

// Acquire returns the first healthy idle connection, lazily constructs
// one if the pool has not reached its configured size, or blocks until
// timeout elapses (returning apperror.KindPoolTimeout).
func (p *Pool) Acquire(ctx context.Context) (*Connection, func(ok bool), error) {
	deadline := time.Now().Add(p.pcfg.Timeout)
	if p.pcfg.Timeout <= 0 {
		deadline = time.Now().Add(30 * time.Second)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, nil, apperror.Wrap(ErrPoolClosed, apperror.KindPoolConnectionFailed, "pool is closed")
		}

		for _, c := range p.conns {
			if !c.inUse && c.handler.Healthy() {
				c.inUse = true
				p.mu.Unlock()
				return c, p.releaseFunc(c), nil
			}
		}

		if len(p.conns) < p.pcfg.Size {
			p.mu.Unlock()
			handler, err := p.construct(ctx)
			if err != nil {
				return nil, nil, err
			}
			conn := &Connection{handler: handler, inUse: true, lastUsed: time.Now()}

			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				_ = handler.Close()
				return nil, nil, apperror.Wrap(ErrPoolClosed, apperror.KindPoolConnectionFailed, "pool is closed")
			}
			p.conns = append(p.conns, conn)
			p.mu.Unlock()
			return conn, p.releaseFunc(conn), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			return nil, nil, apperror.ErrPoolTimeout
		}

		waitCh := make(chan struct{})
		timer := time.AfterFunc(remaining, func() { p.cond.Broadcast() })
		go func() {
			p.cond.L.Lock()
			p.cond.Wait()
			p.cond.L.Unlock()
			close(waitCh)
		}()
		p.mu.Unlock()

		select {
		case <-waitCh:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			p.cond.Broadcast()
			return nil, nil, apperror.Wrap(ctx.Err(), apperror.KindPoolTimeout, "context canceled while acquiring connection")
		}

		if time.Now().After(deadline) {
			return nil, nil, apperror.ErrPoolTimeout
		}
	}
}

func (p *Pool) releaseFunc(c *Connection) func(ok bool) {
	return func(ok bool) { p.release(c, ok) }
}

// release returns a connection to the idle set. A failed call increments
// the connection's failure count; once it exceeds MaxConsecutiveFailures
// the connection is destroyed and a replacement is constructed lazily on
// the next Acquire.
func (p *Pool) release(c *Connection, ok bool) {
	p.mu.Lock()
	c.lastUsed = time.Now()
	if ok {
		c.failures = 0
		c.inUse = false
		p.mu.Unlock()
		p.cond.Broadcast()
		return
	}

	c.failures++
	destroy := c.failures > p.pcfg.MaxConsecutiveFailures
	if destroy {
		p.removeLocked(c)
	} else {
		c.inUse = false
	}
	p.mu.Unlock()
	p.cond.Broadcast()

	if destroy {
		_ = c.handler.Close()
	}
}

func (p *Pool) removeLocked(target *Connection) {
	out := p.conns[:0]
	for _, c := range p.conns {
		if c != target {
			out = append(out, c)
		}
	}
	p.conns = out
}

// construct builds a new RpcHandler with exponential backoff retry, per
// §4.2's "Retry policy."
func (p *Pool) construct(ctx context.Context) (odoorpc.RpcHandler, error) {
	var lastErr error
	delay := p.pcfg.BaseRetryDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	attempts := p.pcfg.RetryCount
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(delay) * math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, apperror.Wrap(ctx.Err(), apperror.KindPoolConnectionFailed, "context canceled during connection construction")
			}
		}

		handler, err := odoorpc.New(p.rpcCfg)
		if err != nil {
			lastErr = err
			continue
		}
		if _, err := handler.Authenticate(ctx); err != nil {
			_ = handler.Close()
			lastErr = err
			continue
		}
		return handler, nil
	}

	return nil, apperror.Wrap(lastErr, apperror.KindPoolConnectionFailed,
		fmt.Sprintf("failed to construct odoo connection after %d attempts", attempts))
}

// healthLoop probes idle connections older than ConnectionHealthInterval
// with a cheap common.version call, destroying any that fail.
func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pcfg.ConnectionHealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.probeIdle()
		}
	}
}

func (p *Pool) probeIdle() {
	p.mu.Lock()
	var candidates []*Connection
	now := time.Now()
	for _, c := range p.conns {
		if !c.inUse && now.Sub(c.lastUsed) >= p.pcfg.ConnectionHealthInterval {
			candidates = append(candidates, c)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := c.handler.Version(ctx); err != nil {
				p.mu.Lock()
				c.failures = p.pcfg.MaxConsecutiveFailures + 1
				destroy := !c.inUse
				if destroy {
					p.removeLocked(c)
				}
				p.mu.Unlock()
				if destroy {
					_ = c.handler.Close()
				}
			}
		}(c)
	}
	wg.Wait()
}

// Stats reports current occupancy for the /health endpoint.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Size: p.pcfg.Size}
	for _, c := range p.conns {
		if c.inUse {
			s.InUse++
		} else {
			s.Idle++
		}
	}
	return s
}

// Handler exposes the underlying RpcHandler for a Connection.
func (c *Connection) Handler() odoorpc.RpcHandler { return c.handler }
