package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(KindValidationDomain, "domain is invalid"),
			expected: "[validation_domain] domain is invalid",
		},
		{
			name:     "with field",
			err:      NewWithField(KindValidationField, "unknown field", "record_ids"),
			expected: "[validation_field] unknown field (field: record_ids)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, KindNetwork, "odoo unreachable")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestKind_JSONRPCCode(t *testing.T) {
	tests := []struct {
		kind Kind
		code int
	}{
		{KindAuth, -32001},
		{KindNetwork, -32002},
		{KindProtocol, -32003},
		{KindConfig, -32004},
		{KindSession, -32006},
		{KindValidationAggregation, -32007},
		{KindNotFoundRecord, -32008},
		{KindNotFoundMethod, -32009},
		{KindRateLimit, -32010},
		{KindResource, -32011},
		{KindTool, -32012},
		{KindInternal, -32000},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.JSONRPCCode())
		})
	}
}

func TestToJSONRPC_WrapsPlainError(t *testing.T) {
	env := ToJSONRPC(errors.New("boom"))
	assert.Equal(t, -32603, env.Code)
	assert.Equal(t, "internal error", env.Message)
	assert.Equal(t, "boom", env.Data["details"])
}

func TestToJSONRPC_AppError(t *testing.T) {
	err := New(KindValidationDomain, "bad operator").WithField("domain").WithDetails("node", 2)
	env := ToJSONRPC(err)

	assert.Equal(t, -32007, env.Code)
	assert.Equal(t, "bad operator", env.Message)
	assert.Equal(t, "validation", env.Data["kind"])
	assert.Equal(t, "domain", env.Data["field"])
	assert.Equal(t, 2, env.Data["node"])
}

func TestValidationErrors(t *testing.T) {
	ve := NewValidationErrors()
	ve.AddWarning(KindValidationGeneric, "boolean domain coerced to []")
	ve.AddError(KindValidationDomain, "unknown operator 'nand'")

	require.True(t, ve.HasWarnings())
	require.True(t, ve.HasErrors())
	assert.False(t, ve.IsValid())
	assert.Len(t, ve.ErrorMessages(), 1)
	assert.Len(t, ve.WarningMessages(), 1)
}
