package domaindsl

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileJSON(t *testing.T, raw string) *Result {
	t.Helper()
	res, verrs := Compile(json.RawMessage(raw), Context{})
	require.False(t, verrs.HasErrors(), "unexpected errors: %v", verrs.ErrorMessages())
	return res
}

func TestCompile_NullFalseEmptyYieldEmptyDomainWithWarning(t *testing.T) {
	for _, raw := range []string{`null`, `""`, `"[]"`, `false`, `true`} {
		t.Run(raw, func(t *testing.T) {
			res := compileJSON(t, raw)
			assert.Equal(t, []any{}, res.Domain)
		})
	}

	res := compileJSON(t, `null`)
	assert.NotEmpty(t, res.Warnings)

	res = compileJSON(t, `true`)
	assert.NotEmpty(t, res.Warnings)
}

func TestCompile_RawPrefixArray(t *testing.T) {
	res := compileJSON(t, `["&", ["active", "=", true], ["name", "ilike", "foo"]]`)
	assert.Equal(t, []any{"&", []any{"active", "=", true}, []any{"name", "ilike", "foo"}}, res.Domain)
}

func TestCompile_ObjectAndForm(t *testing.T) {
	res := compileJSON(t, `{"and": [["active", "=", true], ["name", "ilike", "foo"]]}`)
	assert.Equal(t, []any{"&", []any{"active", "=", true}, []any{"name", "ilike", "foo"}}, res.Domain)
}

func TestCompile_ObjectOrForm(t *testing.T) {
	res := compileJSON(t, `{"or": [["state", "=", "draft"], ["state", "=", "open"]]}`)
	assert.Equal(t, []any{"|", []any{"state", "=", "draft"}, []any{"state", "=", "open"}}, res.Domain)
}

func TestCompile_ObjectNotForm(t *testing.T) {
	res := compileJSON(t, `{"not": ["active", "=", true]}`)
	assert.Equal(t, []any{"!", "active", "=", true}, res.Domain)
}

func TestCompile_NestedObjectForm(t *testing.T) {
	res := compileJSON(t, `{"and": [{"or": [["a","=",1], ["a","=",2]]}, ["b","=",3]]}`)
	assert.Equal(t, []any{"&", "|", []any{"a", "=", float64(1)}, []any{"a", "=", float64(2)}, []any{"b", "=", float64(3)}}, res.Domain)
}

func TestCompile_StringifiedJSON(t *testing.T) {
	res := compileJSON(t, `"[[\"active\", \"=\", true]]"`)
	assert.Equal(t, []any{[]any{"active", "=", true}}, res.Domain)
}

func TestCompile_UnknownOperatorErrors(t *testing.T) {
	_, verrs := Compile(json.RawMessage(`[["name", "??", "x"]]`), Context{})
	assert.True(t, verrs.HasErrors())
}

func TestCompile_InvalidFieldNameErrors(t *testing.T) {
	_, verrs := Compile(json.RawMessage(`[["9bad field", "=", "x"]]`), Context{})
	assert.True(t, verrs.HasErrors())
}

func TestCompile_PlaceholderSubstitution(t *testing.T) {
	res, verrs := Compile(json.RawMessage(`[["company_id", "in", "__current_company_ids__"]]`), Context{CurrentCompanyIDs: []int64{1, 2}})
	require.False(t, verrs.HasErrors())
	assert.Equal(t, []any{"company_id", "in", []any{int64(1), int64(2)}}, res.Domain[0])
}

func TestCompile_Idempotent(t *testing.T) {
	raw := json.RawMessage(`{"and": [["active", "=", true], ["name", "ilike", "foo"]]}`)
	first, verrs := Compile(raw, Context{})
	require.False(t, verrs.HasErrors())

	reencoded, err := json.Marshal(first.Domain)
	require.NoError(t, err)

	second, verrs := Compile(reencoded, Context{})
	require.False(t, verrs.HasErrors())

	assert.Equal(t, first.Domain, second.Domain)
}

func TestCompile_MaxPayloadSize(t *testing.T) {
	big := make([]any, 0, 1000)
	for i := 0; i < 1000; i++ {
		big = append(big, i)
	}
	raw, err := json.Marshal([]any{[]any{"id", "in", big}})
	require.NoError(t, err)

	_, verrs := Compile(raw, Context{MaxPayloadSize: 16})
	assert.True(t, verrs.HasErrors())
}
