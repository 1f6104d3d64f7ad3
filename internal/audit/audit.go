// Package audit captures structured records of gateway operations —
// tool calls, session lifecycle, and resource access — for compliance
// and incident review. MaskFields and MaskValue redact sensitive values;
// the loggers themselves write each entry as they receive it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of gateway operation being audited.
type Action string

const (
	ActionToolCall           Action = "tool.call"
	ActionSessionCreate      Action = "session.create"
	ActionSessionDestroy     Action = "session.destroy"
	ActionResourceRead       Action = "resource.read"
	ActionResourceSubscribe  Action = "resource.subscribe"
	ActionResourceUnsubscribe Action = "resource.unsubscribe"
)

// Outcome is the result of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeDenied  Outcome = "DENIED"
)

// Entry is a single audit log record.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       Action         `json:"action"`
	Outcome      Outcome        `json:"outcome"`
	Method       string         `json:"method,omitempty"`
	Model        string         `json:"model,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Resource     string         `json:"resource,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	ErrorCode    string         `json:"error_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Logger is the interface audit backends implement.
type Logger interface {
	Log(ctx context.Context, entry *Entry) error
	Close() error
}

// Config controls the audit backend and its masking policy.
type Config struct {
	Enabled     bool          `koanf:"enabled"`
	Backend     string        `koanf:"backend"` // stdout, file, noop
	FilePath    string        `koanf:"file_path"`
	BufferSize  int           `koanf:"buffer_size"`
	FlushPeriod time.Duration `koanf:"flush_period"`
	MaskFields  []string      `koanf:"mask_fields"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Backend:     "stdout",
		BufferSize:  1000,
		FlushPeriod: 2 * time.Second,
		MaskFields:  []string{"password", "token", "secret", "api_key"},
	}
}

// Builder provides a fluent API for constructing an Entry.
type Builder struct {
	entry *Entry
}

func NewEntry() *Builder {
	return &Builder{entry: &Entry{Timestamp: time.Now(), Metadata: make(map[string]any)}}
}

func (b *Builder) Session(id string) *Builder   { b.entry.SessionID = id; return b }
func (b *Builder) Action(a Action) *Builder     { b.entry.Action = a; return b }
func (b *Builder) Outcome(o Outcome) *Builder   { b.entry.Outcome = o; return b }
func (b *Builder) Method(m string) *Builder     { b.entry.Method = m; return b }
func (b *Builder) Model(m string) *Builder      { b.entry.Model = m; return b }
func (b *Builder) Tool(t string) *Builder       { b.entry.Tool = t; return b }
func (b *Builder) Resource(r string) *Builder   { b.entry.Resource = r; return b }
func (b *Builder) RequestID(id string) *Builder { b.entry.RequestID = id; return b }
func (b *Builder) Duration(d time.Duration) *Builder {
	b.entry.DurationMs = d.Milliseconds()
	return b
}
func (b *Builder) Error(code, message string) *Builder {
	b.entry.ErrorCode = code
	b.entry.ErrorMessage = message
	return b
}
func (b *Builder) Meta(key string, value any) *Builder {
	b.entry.Metadata[key] = value
	return b
}

func (b *Builder) Build() *Entry {
	if b.entry.ID == "" {
		b.entry.ID = uuid.NewString()
	}
	return b.entry
}

func (e *Entry) MarshalJSON() ([]byte, error) {
	type Alias Entry
	return json.Marshal((*Alias)(e))
}
