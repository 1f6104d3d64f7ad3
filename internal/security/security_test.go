package security

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsWith(names ...string) FieldsGetter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(ctx context.Context, model string) (map[string]bool, error) {
		return set, nil
	}
}

func TestImplicitDomainPolicy_Disabled(t *testing.T) {
	p := NewImplicitDomainPolicy(false, fieldsWith("company_id"))
	out, err := p.Apply(context.Background(), "res.partner", []any{}, []int64{1}, 5)
	require.NoError(t, err)
	assert.Equal(t, []any{}, out)
}

func TestImplicitDomainPolicy_InjectsCompanyOnly(t *testing.T) {
	p := NewImplicitDomainPolicy(true, fieldsWith("company_id"))
	out, err := p.Apply(context.Background(), "res.partner", []any{}, []int64{1, 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"company_id", "in", []any{int64(1), int64(2)}}}, out)
}

func TestImplicitDomainPolicy_InjectsBothAndUserDomain(t *testing.T) {
	p := NewImplicitDomainPolicy(true, fieldsWith("company_id", "user_id"))
	userDomain := []any{"name", "ilike", "foo"}
	out, err := p.Apply(context.Background(), "res.partner", userDomain, []int64{1}, 42)
	require.NoError(t, err)
	assert.Equal(t, []any{
		"&", "&",
		[]any{"company_id", "in", []any{int64(1)}},
		[]any{"user_id", "=", int64(42)},
		"name", "ilike", "foo",
	}, out)
}

func TestImplicitDomainPolicy_SkipViaModelPolicy(t *testing.T) {
	p := NewImplicitDomainPolicy(true, fieldsWith("company_id", "user_id"))
	p.SetModelPolicy("res.partner", ModelPolicy{SkipUserFilter: true})
	out, err := p.Apply(context.Background(), "res.partner", []any{}, []int64{1}, 42)
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{"company_id", "in", []any{int64(1)}}}, out)
}

func TestImplicitDomainPolicy_NoApplicableFields(t *testing.T) {
	p := NewImplicitDomainPolicy(true, fieldsWith("some_other_field"))
	out, err := p.Apply(context.Background(), "res.partner", []any{"a", "=", 1}, []int64{1}, 42)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "=", 1}, out)
}

func TestPIIDetector_MasksMatchingFields(t *testing.T) {
	d := NewPIIDetector(true, nil)
	record := map[string]any{
		"name":  "Mario Rossi",
		"email": "mario@example.com",
		"phone": "+391234567",
	}
	masked := d.MaskRecord(record, false)
	assert.Equal(t, "Mario Rossi", masked["name"])
	assert.NotEqual(t, "mario@example.com", masked["email"])
	assert.Contains(t, masked["email"], "****")
}

func TestPIIDetector_PrivilegedBypassesMasking(t *testing.T) {
	d := NewPIIDetector(true, nil)
	record := map[string]any{"email": "mario@example.com"}
	masked := d.MaskRecord(record, true)
	assert.Equal(t, "mario@example.com", masked["email"])
}

func TestPIIDetector_Disabled(t *testing.T) {
	d := NewPIIDetector(false, nil)
	record := map[string]any{"email": "mario@example.com"}
	masked := d.MaskRecord(record, false)
	assert.Equal(t, "mario@example.com", masked["email"])
}

func TestPIIDetector_ExtraFieldNames(t *testing.T) {
	d := NewPIIDetector(true, []string{"custom_secret"})
	record := map[string]any{"custom_secret": "abcdefgh"}
	masked := d.MaskRecord(record, false)
	assert.Contains(t, masked["custom_secret"], "****")
}
