package odoorpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"odoo-mcp-gateway/internal/apperror"
)

func TestClassifyFault(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind apperror.Kind
	}{
		{
			name:     "access denied",
			raw:      "Fault 1: 'AccessDenied'",
			wantKind: apperror.KindAuth,
		},
		{
			name:     "access error",
			raw:      "Fault 1: 'odoo.exceptions.AccessError: you are not allowed'",
			wantKind: apperror.KindAuth,
		},
		{
			name:     "unknown model",
			raw:      "XML-RPC fault: The model does not exist: res.fake",
			wantKind: apperror.KindNotFoundMethod,
		},
		{
			name:     "unknown method",
			raw:      "Fault 1: 'Object has no method frobnicate'",
			wantKind: apperror.KindNotFoundMethod,
		},
		{
			name:     "record not found",
			raw:      "Fault 1: 'record does not exist or has been deleted'",
			wantKind: apperror.KindNotFoundRecord,
		},
		{
			name:     "unclassified fault",
			raw:      "Fault 1: 'something unexpected happened'",
			wantKind: apperror.KindProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyFault(errors.New(tt.raw))
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.NotEmpty(t, got.Details["fault"])
		})
	}
}

func TestClassifyFault_Nil(t *testing.T) {
	assert.Nil(t, classifyFault(nil))
}

func TestFaultCode(t *testing.T) {
	assert.Equal(t, 1, faultCode("Fault 1: 'AccessDenied'"))
	assert.Equal(t, 0, faultCode("no code here"))
}
