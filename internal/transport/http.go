package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/dispatcher"
	"odoo-mcp-gateway/internal/logger"
)

const maxRequestBody = 16 * 1024 * 1024

const clientIDHeader = "X-MCP-Client-Id"

// clientID resolves the correlation id a caller uses to tie a POST
// /mcp call to a previously opened SSE stream (so subscribe_resource
// registers against the right subscription.Sink). It is read from the
// X-MCP-Client-Id header or the client_id query parameter; if neither
// is present a fresh one is minted and handed back so the caller can
// use it on its next request.
func clientID(r *http.Request) (id string, isNew bool) {
	if v := r.Header.Get(clientIDHeader); v != "" {
		return v, false
	}
	if v := r.URL.Query().Get("client_id"); v != "" {
		return v, false
	}
	return uuid.NewString(), true
}

// handleMCP implements §4.11's "http (classic)" and "streamable_http"
// endpoints. In classic mode it writes exactly one JSON response body.
// In streamable mode it sets Transfer-Encoding: chunked and writes the
// response as one newline-delimited JSON chunk, followed by any
// notifications already queued for this connection's sink (a
// best-effort rendering of "intermediate progress notifications" since
// the dispatcher processes one request per call, not a batch).
func (s *Server) handleMCP(streamable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}

		if !json.Valid(body) {
			writeParseError(w)
			return
		}

		id, _ := clientID(r)
		ctx := dispatcher.WithSinkID(r.Context(), id)

		out, hasResponse := s.dispatcher.Dispatch(ctx, body)

		w.Header().Set(clientIDHeader, id)

		if streamable {
			s.writeStreamable(w, id, out, hasResponse)
			return
		}

		if !hasResponse {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			logger.Error("failed to write mcp response", "error", err)
		}
	}
}

func (s *Server) writeStreamable(w http.ResponseWriter, sinkID string, out []byte, hasResponse bool) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	if hasResponse {
		w.Write(out)
		w.Write([]byte("\n"))
		if canFlush {
			flusher.Flush()
		}
	}

	// Drain whatever notifications are already queued for this sink
	// without blocking the connection open indefinitely.
	sink := s.dispatcher.Bus().SinkFor(sinkID)
	for {
		select {
		case ev, ok := <-sink.Events:
			if !ok {
				return
			}
			w.Write(encodeNotification(ev))
			w.Write([]byte("\n"))
			if canFlush {
				flusher.Flush()
			}
		default:
			return
		}
	}
}

func writeParseError(w http.ResponseWriter) {
	appErr := apperror.New(apperror.KindProtocol, "malformed json")
	env := apperror.ToJSONRPC(appErr)
	resp := map[string]any{"jsonrpc": "2.0", "id": nil, "error": env}
	out, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	w.Write(out)
}

// handleHealth implements §4.11's /health endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.dispatcher.PoolStats()
	healthy := stats.Idle+stats.InUse > 0

	body := map[string]any{
		"ok": healthy,
		"pool": map[string]any{
			"size":   stats.Size,
			"idle":   stats.Idle,
			"in_use": stats.InUse,
		},
		"sessions": map[string]any{
			"count": s.dispatcher.SessionCount(),
		},
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	out, _ := json.Marshal(body)
	w.Write(out)
}
