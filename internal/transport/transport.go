// Package transport implements the multiplexer described in SPEC_FULL
// §4.11: a newline-delimited JSON stdio loop, classic and chunked
// ("streamable") HTTP endpoints, and a server-sent-event stream for
// resource-update notifications — all driving the same
// dispatcher.Dispatcher.Dispatch call. Exactly one of these is active
// per process, selected by config.TransportConfig.Mode.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"odoo-mcp-gateway/internal/config"
	"odoo-mcp-gateway/internal/dispatcher"
	"odoo-mcp-gateway/internal/logger"
	"odoo-mcp-gateway/internal/metrics"
)

// Server wires the configured transport mode to a Dispatcher. It owns
// no gateway state of its own beyond per-connection bookkeeping (sink
// ids, HTTP server lifecycle).
type Server struct {
	cfg        config.TransportConfig
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Metrics

	httpServer *http.Server
}

// New builds a Server for the given transport config.
func New(cfg config.TransportConfig, d *dispatcher.Dispatcher, m *metrics.Metrics) *Server {
	return &Server{cfg: cfg, dispatcher: d, metrics: m}
}

// Run blocks serving the configured transport mode until ctx is
// canceled (or, for stdio, until stdin is closed).
func (s *Server) Run(ctx context.Context) error {
	switch s.cfg.Mode {
	case "stdio":
		return s.runStdio(ctx)
	case "sse":
		return s.runHTTP(ctx, true, false)
	case "streamable_http":
		return s.runHTTP(ctx, false, true)
	default:
		return s.runHTTP(ctx, false, false)
	}
}

func (s *Server) runHTTP(ctx context.Context, sse, streamable bool) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP(streamable))
	if sse {
		mux.HandleFunc("/events", s.handleSSE)
		mux.HandleFunc("/sse", s.handleSSE)
	}
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	handler = withCORS(s.cfg.AllowedOrigins, handler)
	// Streamable HTTP benefits from request/response multiplexing over
	// a single connection, so it upgrades to cleartext HTTP/2 (h2c);
	// classic and SSE modes stay on plain HTTP/1.1.
	if streamable {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: s.cfg.ReadTimeout,
	}
	// SSE and chunked-streaming connections are long-lived by design;
	// a fixed WriteTimeout would sever them mid-stream.
	if !sse && !streamable {
		s.httpServer.WriteTimeout = s.cfg.WriteTimeout
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("transport listening", "mode", s.cfg.Mode, "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
