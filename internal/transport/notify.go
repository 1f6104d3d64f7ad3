package transport

import (
	"encoding/json"

	"odoo-mcp-gateway/internal/subscription"
)

// notification is the JSON-RPC 2.0 shape for a one-way
// "notifications/resources/updated" message (no id, no response
// expected), per SPEC_FULL §4.12/§6.
type notification struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

func encodeNotification(ev subscription.Event) []byte {
	n := notification{
		JSONRPC: "2.0",
		Method:  "notifications/resources/updated",
		Params: map[string]any{
			"uri":    ev.URI,
			"method": ev.Method,
			"ts":     ev.Timestamp.UnixMilli(),
			"data":   ev.Data,
		},
	}
	out, err := json.Marshal(n)
	if err != nil {
		// Should never happen for this fixed shape; fall back to a
		// minimal envelope rather than dropping the event silently.
		out, _ = json.Marshal(notification{JSONRPC: "2.0", Method: n.Method, Params: map[string]any{"uri": ev.URI}})
	}
	return out
}
