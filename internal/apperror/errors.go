// Package apperror provides a structured way to represent gateway failures
// with a typed Kind, severity, and structured details, and to convert them
// into the JSON-RPC 2.0 error envelope the transport layer writes to clients.
package apperror

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a gateway failure. It is the Go
// counterpart of the error taxonomy in the gateway's specification.
type Kind string

const (
	KindConfig                Kind = "config"
	KindNetwork               Kind = "network"
	KindProtocol              Kind = "protocol"
	KindAuth                  Kind = "auth"
	KindSession               Kind = "session"
	KindPoolTimeout           Kind = "pool_timeout"
	KindPoolConnectionFailed  Kind = "pool_connection_failed"
	KindRateLimit             Kind = "rate_limit"
	KindValidationDomain      Kind = "validation_domain"
	KindValidationField       Kind = "validation_field"
	KindValidationSchema      Kind = "validation_schema"
	KindValidationAggregation Kind = "validation_aggregation"
	KindValidationGeneric     Kind = "validation_generic"
	KindNotFoundRecord        Kind = "not_found_record"
	KindNotFoundMethod        Kind = "not_found_method"
	KindTool                  Kind = "tool"
	KindResource              Kind = "resource"
	KindInternal              Kind = "internal"
)

// Severity indicates how critical a failure is.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "error"
	}
}

// Error is the gateway's structured error type. It carries enough context
// to build both a human-readable message and the JSON-RPC error envelope's
// data payload, without leaking internal details by default.
type Error struct {
	Kind     Kind
	Message  string
	Field    string
	Details  map[string]any
	Cause    error
	Severity Severity
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Details: make(map[string]any), Severity: SeverityError}
}

func NewWithField(kind Kind, message, field string) *Error {
	return &Error{Kind: kind, Message: message, Field: field, Details: make(map[string]any), Severity: SeverityError}
}

func NewWarning(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Details: make(map[string]any), Severity: SeverityWarning}
}

// Wrap attaches a Kind and message to an underlying cause, keeping the
// original error reachable via errors.Unwrap/errors.As.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, Details: make(map[string]any), Severity: SeverityError}
}

func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// Is reports whether err is an *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsWarning(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityWarning
	}
	return false
}

// JSONRPCCode maps an error Kind to the JSON-RPC 2.0 code table (standard
// codes plus the gateway-reserved -32000..-32016 range).
func (k Kind) JSONRPCCode() int {
	switch k {
	case KindConfig:
		return -32004
	case KindNetwork:
		return -32002
	case KindProtocol:
		return -32003
	case KindAuth:
		return -32001
	case KindSession:
		return -32006
	case KindPoolConnectionFailed:
		return -32005
	case KindPoolTimeout:
		return -32005
	case KindRateLimit:
		return -32010
	case KindValidationDomain, KindValidationField, KindValidationSchema,
		KindValidationAggregation, KindValidationGeneric:
		return -32007
	case KindNotFoundRecord:
		return -32008
	case KindNotFoundMethod:
		return -32009
	case KindTool:
		return -32012
	case KindResource:
		return -32011
	default:
		return -32000
	}
}

// validationKindLabel returns the "kind" string carried in data.kind for
// the Validation family, per SPEC_FULL §4.6/§6.
func (k Kind) validationKindLabel() string {
	switch k {
	case KindValidationDomain:
		return "domain"
	case KindValidationField:
		return "field"
	case KindValidationSchema:
		return "schema"
	case KindValidationAggregation:
		return "aggregation"
	case KindValidationGeneric:
		return "generic"
	default:
		return string(k)
	}
}

// Envelope is the JSON-RPC 2.0 "error" object.
type Envelope struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ToJSONRPC converts any error into a JSON-RPC error envelope. Internal
// details (stack-trace-shaped causes) never appear in Message; a sanitized
// string of the cause MAY appear in data.details.
func ToJSONRPC(err error) Envelope {
	if err == nil {
		return Envelope{Code: 0, Message: "ok"}
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		data := map[string]any{"kind": appErr.kindLabel()}
		for k, v := range appErr.Details {
			data[k] = v
		}
		if appErr.Field != "" {
			data["field"] = appErr.Field
		}
		if appErr.Cause != nil {
			data["details"] = appErr.Cause.Error()
		}
		return Envelope{Code: appErr.Kind.JSONRPCCode(), Message: appErr.Message, Data: data}
	}

	return Envelope{
		Code:    -32603,
		Message: "internal error",
		Data:    map[string]any{"kind": "internal", "details": err.Error()},
	}
}

func (e *Error) kindLabel() string {
	switch e.Kind {
	case KindValidationDomain, KindValidationField, KindValidationSchema,
		KindValidationAggregation, KindValidationGeneric:
		return "validation"
	case KindNotFoundRecord, KindNotFoundMethod:
		return "not_found"
	case KindPoolTimeout, KindPoolConnectionFailed:
		return "pool"
	default:
		return e.Kind.validationKindLabel()
	}
}

// Predefined sentinel-style constructors for common scenarios, mirroring
// the fixed error set referenced throughout the dispatcher and RPC layer.
var (
	ErrSessionExpired  = New(KindSession, "session expired or unknown")
	ErrPoolTimeout     = New(KindPoolTimeout, "timed out waiting for a pool connection")
	ErrRateLimited     = New(KindRateLimit, "rate limit exceeded")
	ErrRecordNotFound  = New(KindNotFoundRecord, "record not found")
	ErrUnknownTool     = New(KindTool, "unknown tool")
	ErrUnknownResource = New(KindResource, "unknown resource")
)

// ValidationErrors aggregates multiple domain-compiler or schema failures,
// separating hard errors from advisory warnings (e.g. boolean-domain coercion).
type ValidationErrors struct {
	Errors   []*Error
	Warnings []*Error
}

func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]*Error, 0), Warnings: make([]*Error, 0)}
}

func (v *ValidationErrors) Add(err *Error) {
	if err.Severity == SeverityWarning {
		v.Warnings = append(v.Warnings, err)
	} else {
		v.Errors = append(v.Errors, err)
	}
}

func (v *ValidationErrors) AddError(kind Kind, message string) {
	v.Errors = append(v.Errors, New(kind, message))
}

func (v *ValidationErrors) AddWarning(kind Kind, message string) {
	v.Warnings = append(v.Warnings, NewWarning(kind, message))
}

func (v *ValidationErrors) HasErrors() bool   { return len(v.Errors) > 0 }
func (v *ValidationErrors) HasWarnings() bool { return len(v.Warnings) > 0 }
func (v *ValidationErrors) IsValid() bool     { return !v.HasErrors() }

func (v *ValidationErrors) ErrorMessages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Error()
	}
	return messages
}

func (v *ValidationErrors) WarningMessages() []string {
	messages := make([]string, len(v.Warnings))
	for i, warn := range v.Warnings {
		messages[i] = warn.Message
	}
	return messages
}
