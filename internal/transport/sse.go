package transport

import (
	"fmt"
	"net/http"
)

// handleSSE implements §4.11's SSE transport: GET /events (or /sse)
// opens a text/event-stream; the server pushes "endpoint" once so the
// client learns the client_id to attach to its POST /mcp calls (the
// same correlation convention the MCP SSE transport defines), then
// streams notifications/* events as they are published until the
// client disconnects.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id, isNew := clientID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if isNew {
		fmt.Fprintf(w, "event: endpoint\ndata: /mcp?client_id=%s\n\n", id)
		flusher.Flush()
	}

	sink := s.dispatcher.Bus().SinkFor(id)
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			s.dispatcher.Bus().UnsubscribeAll(id)
			sink.Close()
			return
		case ev, ok := <-sink.Events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: notifications/resources/updated\ndata: %s\n\n", encodeNotification(ev))
			flusher.Flush()
		}
	}
}
