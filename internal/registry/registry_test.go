package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTool_ValidateAcceptsAndRejects(t *testing.T) {
	r := New()
	r.RegisterTool(&Tool{
		Name:       "echo",
		SchemaJSON: `{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`,
		Handler: func(ctx context.Context, req *Request) (map[string]any, error) {
			return map[string]any{"message": req.Arguments["message"]}, nil
		},
	})

	tool, ok := r.Tool("echo")
	require.True(t, ok)

	assert.NoError(t, tool.Validate(map[string]any{"message": "hi"}))
	assert.Error(t, tool.Validate(map[string]any{}))
}

func TestRegisterTool_DuplicateNamePanics(t *testing.T) {
	r := New()
	r.RegisterTool(&Tool{Name: "echo"})

	assert.Panics(t, func() {
		r.RegisterTool(&Tool{Name: "echo"})
	})
}

func TestRegisterTool_InvalidSchemaPanics(t *testing.T) {
	r := New()
	assert.Panics(t, func() {
		r.RegisterTool(&Tool{Name: "broken", SchemaJSON: `{not json`})
	})
}

func TestTools_PreservesRegistrationOrder(t *testing.T) {
	r := New()
	r.RegisterTool(&Tool{Name: "a"})
	r.RegisterTool(&Tool{Name: "b"})
	r.RegisterTool(&Tool{Name: "c"})

	var names []string
	for _, tool := range r.Tools() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestTool_ValidateWithNoSchemaAlwaysPasses(t *testing.T) {
	r := New()
	r.RegisterTool(&Tool{Name: "no-schema"})
	tool, ok := r.Tool("no-schema")
	require.True(t, ok)
	assert.NoError(t, tool.Validate(map[string]any{"anything": 1}))
}

func TestMatchResource_RecordTemplate(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{
		Name:        "model-record",
		URITemplate: "odoo://{model}/{id}",
		Kind:        ResourceRecord,
	})

	tmpl, params, ok := r.MatchResource("odoo://res.partner/42")
	require.True(t, ok)
	assert.Equal(t, "model-record", tmpl.Name)
	assert.Equal(t, "res.partner", params["model"])
	assert.Equal(t, "42", params["id"])
}

func TestMatchResource_MoreSpecificTemplateMustBeRegisteredFirst(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{Name: "model-list", URITemplate: "odoo://{model}/list", Kind: ResourceList})
	r.RegisterResource(&ResourceTemplate{Name: "model-record", URITemplate: "odoo://{model}/{id}", Kind: ResourceRecord})

	tmpl, params, ok := r.MatchResource("odoo://res.partner/list")
	require.True(t, ok)
	assert.Equal(t, "model-list", tmpl.Name)
	assert.Equal(t, "res.partner", params["model"])

	tmpl2, params2, ok := r.MatchResource("odoo://res.partner/42")
	require.True(t, ok)
	assert.Equal(t, "model-record", tmpl2.Name)
	assert.Equal(t, "42", params2["id"])
}

func TestMatchResource_GenericRecordTemplateWouldSwallowListIfRegisteredFirst(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{Name: "model-record", URITemplate: "odoo://{model}/{id}", Kind: ResourceRecord})
	r.RegisterResource(&ResourceTemplate{Name: "model-list", URITemplate: "odoo://{model}/list", Kind: ResourceList})

	tmpl, _, ok := r.MatchResource("odoo://res.partner/list")
	require.True(t, ok)
	assert.Equal(t, "model-record", tmpl.Name, "registration order determines which template wins a shared path shape")
}

func TestMatchResource_BinaryTemplate(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{
		Name:        "model-binary-field",
		URITemplate: "odoo://{model}/binary/{field}/{id}",
		Kind:        ResourceBinary,
	})

	tmpl, params, ok := r.MatchResource("odoo://ir.attachment/binary/datas/9")
	require.True(t, ok)
	assert.Equal(t, ResourceBinary, tmpl.Kind)
	assert.Equal(t, "ir.attachment", params["model"])
	assert.Equal(t, "datas", params["field"])
	assert.Equal(t, "9", params["id"])
}

func TestMatchResource_NoMatch(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{Name: "model-record", URITemplate: "odoo://{model}/{id}", Kind: ResourceRecord})

	_, _, ok := r.MatchResource("not-a-uri")
	assert.False(t, ok)
}

func TestResourceTemplates_ReturnsACopy(t *testing.T) {
	r := New()
	r.RegisterResource(&ResourceTemplate{Name: "a", URITemplate: "odoo://{model}/a"})

	templates := r.ResourceTemplates()
	templates[0] = nil

	again := r.ResourceTemplates()
	assert.NotNil(t, again[0], "mutating a returned slice must not affect the registry's internal state")
}
