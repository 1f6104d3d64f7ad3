package normalizer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-mcp-gateway/internal/domaindsl"
)

func TestEnvelope_CanonicalShape(t *testing.T) {
	raw := map[string]any{"arguments": map[string]any{"model": "res.partner"}}
	assert.Equal(t, map[string]any{"model": "res.partner"}, Envelope(raw))
}

func TestEnvelope_LegacyArgsShape(t *testing.T) {
	raw := map[string]any{"args": map[string]any{"model": "res.partner"}}
	assert.Equal(t, map[string]any{"model": "res.partner"}, Envelope(raw))
}

func TestEnvelope_LegacyKwargsShape(t *testing.T) {
	raw := map[string]any{"kwargs": map[string]any{"model": "res.partner"}}
	assert.Equal(t, map[string]any{"model": "res.partner"}, Envelope(raw))
}

func TestExtractCreate_DirectValues(t *testing.T) {
	call, err := ExtractCreate(map[string]any{"values": map[string]any{"name": "Mario Rossi"}})
	require.Nil(t, err)
	assert.Equal(t, []any{map[string]any{"name": "Mario Rossi"}}, []any(call.Args))
}

// TestExtractCreate_LegacyKwargsValues covers §8 scenario 2: a legacy
// envelope nesting values under kwargs must normalize so Odoo never
// receives a top-level "values" field.
func TestExtractCreate_LegacyKwargsValues(t *testing.T) {
	call, err := ExtractCreate(map[string]any{
		"kwargs": map[string]any{"values": map[string]any{"name": "X"}},
	})
	require.Nil(t, err)
	values := call.Args[0].(map[string]any)
	assert.Equal(t, "X", values["name"])
	_, hasValuesKey := call.Kwargs["values"]
	assert.False(t, hasValuesKey)
}

func TestExtractCreate_MissingValues(t *testing.T) {
	_, err := ExtractCreate(map[string]any{})
	require.NotNil(t, err)
}

func TestExtractRead_DefaultsFields(t *testing.T) {
	call, err := ExtractRead(map[string]any{"record_ids": []any{float64(1), float64(2)}})
	require.Nil(t, err)
	assert.Equal(t, []any{float64(1), float64(2)}, call.Args[0])
	assert.Equal(t, []string{"id", "name"}, call.Args[1])
	_, hasFields := call.Kwargs["fields"]
	assert.False(t, hasFields)
}

func TestExtractSearch_BooleanDomainCoercesToEmpty(t *testing.T) {
	raw, err := json.Marshal(true)
	require.NoError(t, err)

	call, verrs := ExtractSearch("search_count", map[string]any{}, raw, domaindsl.Context{})
	require.False(t, verrs.HasErrors())
	assert.Equal(t, []any{}, call.Args[0])
	assert.NotEmpty(t, call.Warnings)
}

func TestExtractReadGroup_AggregationIsCallerResponsibility(t *testing.T) {
	call, verrs := ExtractReadGroup(map[string]any{
		"fields":  []any{"amount_total:month"},
		"groupby": []any{"partner_id"},
	}, []byte("[]"), domaindsl.Context{})
	require.False(t, verrs.HasErrors())
	assert.Equal(t, []any{"amount_total:month"}, call.Args[1])
}

func TestExtractReadGroup_SingleObjectForm(t *testing.T) {
	call, verrs := ExtractReadGroup(map[string]any{
		"request": map[string]any{
			"domain":  []any{},
			"fields":  []any{"amount_total"},
			"groupby": []any{"partner_id"},
			"kwargs":  map[string]any{"limit": float64(10)},
		},
	}, nil, domaindsl.Context{})
	require.False(t, verrs.HasErrors())
	assert.Equal(t, []any{"amount_total"}, call.Args[1])
	assert.Equal(t, float64(10), call.Kwargs["limit"])
}

func TestExtractWrite(t *testing.T) {
	call, err := ExtractWrite(map[string]any{
		"record_ids": []any{float64(7)},
		"values":     map[string]any{"name": "Updated"},
	})
	require.Nil(t, err)
	assert.Equal(t, []any{float64(7)}, call.Args[0])
	assert.Empty(t, call.Kwargs)
}

func TestExtractUnlink(t *testing.T) {
	call, err := ExtractUnlink(map[string]any{"record_ids": []any{float64(7)}})
	require.Nil(t, err)
	assert.Equal(t, []any{float64(7)}, call.Args[0])
}

func TestExtractAction(t *testing.T) {
	call, err := ExtractAction(map[string]any{
		"record_ids": []any{float64(1)},
		"method":     "action_confirm",
		"parameters": map[string]any{"force": true},
	})
	require.Nil(t, err)
	assert.Equal(t, "action_confirm", call.Method)
	assert.Equal(t, true, call.Kwargs["force"])
}
