// Package security implements the gateway's security policy layer
// (SPEC_FULL §4.7): implicit domain injection based on model metadata,
// and PII masking of response field values. Both policies are
// data-driven — no model name or field pattern is hardcoded into
// control flow, only into the registries below — per the "keep
// data-driven, not hardcoded" design note in SPEC_FULL §9.
package security

import (
	"context"
	"regexp"
	"sync"
)

// FieldsGetter discovers a model's field definitions (Odoo's
// fields_get), used to decide whether implicit domain injection
// applies. Modeled as a narrow function type rather than a full
// odoorpc.RpcHandler dependency.
type FieldsGetter func(ctx context.Context, model string) (fieldNames map[string]bool, err error)

// ImplicitDomainPolicy decides, per model, which implicit filters should
// be AND-ed onto a compiled user domain.
type ImplicitDomainPolicy struct {
	mu       sync.RWMutex
	enabled  bool
	fields   FieldsGetter
	perModel map[string]ModelPolicy
}

// ModelPolicy overrides the default company_id/user_id injection for a
// specific model; an empty ModelPolicy inherits the default behavior of
// "inject whichever of company_id/user_id the model actually has."
type ModelPolicy struct {
	SkipCompanyFilter bool
	SkipUserFilter    bool
}

func NewImplicitDomainPolicy(enabled bool, fields FieldsGetter) *ImplicitDomainPolicy {
	return &ImplicitDomainPolicy{enabled: enabled, fields: fields, perModel: make(map[string]ModelPolicy)}
}

func (p *ImplicitDomainPolicy) SetModelPolicy(model string, mp ModelPolicy) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perModel[model] = mp
}

// Apply AND-s the implicit domain fragments onto domain, per §4.7. It
// is a no-op when the policy is disabled.
func (p *ImplicitDomainPolicy) Apply(ctx context.Context, model string, domain []any, allowedCompanyIDs []int64, effectiveUID int64) ([]any, error) {
	if !p.enabled || p.fields == nil {
		return domain, nil
	}

	p.mu.RLock()
	mp := p.perModel[model]
	p.mu.RUnlock()

	fieldNames, err := p.fields(ctx, model)
	if err != nil {
		return domain, err
	}

	var injected []any
	if fieldNames["company_id"] && !mp.SkipCompanyFilter && len(allowedCompanyIDs) > 0 {
		ids := make([]any, len(allowedCompanyIDs))
		for i, id := range allowedCompanyIDs {
			ids[i] = id
		}
		injected = append(injected, []any{"company_id", "in", ids})
	}
	if fieldNames["user_id"] && !mp.SkipUserFilter && effectiveUID != 0 {
		injected = append(injected, []any{"user_id", "=", effectiveUID})
	}

	if len(injected) == 0 {
		return domain, nil
	}

	// Each injected triple is one top-level domain unit and is placed as
	// a single nested element; the caller's own domain, if non-empty, is
	// itself already a complete self-consuming unit and is spliced in
	// flat so its internal "&"/"|" structure stays intact.
	units := 0
	elements := make([]any, 0, len(injected)+len(domain)+1)
	for _, triple := range injected {
		elements = append(elements, triple)
		units++
	}
	if len(domain) > 0 {
		elements = append(elements, domain...)
		units++
	}

	if units <= 1 {
		return elements, nil
	}

	out := make([]any, 0, len(elements)+units-1)
	for i := 0; i < units-1; i++ {
		out = append(out, "&")
	}
	out = append(out, elements...)
	return out, nil
}

// PIIDetector identifies response fields likely to carry personally
// identifiable data and rewrites their values with a deterministic
// partial mask. The field-name pattern is data-driven (constructed from
// a configurable list, defaulting to a sensible built-in set) rather
// than hardcoded per caller.
type PIIDetector struct {
	enabled bool
	pattern *regexp.Regexp
}

// DefaultPIIFieldNames is the built-in set of field-name fragments that
// commonly carry PII on Odoo models.
var DefaultPIIFieldNames = []string{
	"email", "phone", "mobile", "street", "vat", "iban", "ssn",
	"passport", "birth", "card_number", "national_id",
}

func NewPIIDetector(enabled bool, extraFieldNames []string) *PIIDetector {
	names := append(append([]string{}, DefaultPIIFieldNames...), extraFieldNames...)
	pattern := regexp.MustCompile("(?i)(" + joinAlternatives(names) + ")")
	return &PIIDetector{enabled: enabled, pattern: pattern}
}

func joinAlternatives(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += "|"
		}
		out += regexp.QuoteMeta(n)
	}
	return out
}

// MaskRecord returns a copy of record with any PII-looking field values
// replaced by a deterministic partial mask (keep a short prefix/suffix).
// Privileged callers receive the record unmasked so cache storage can
// key un-masked values to their identity only (§4.7).
func (d *PIIDetector) MaskRecord(record map[string]any, privileged bool) map[string]any {
	if !d.enabled || privileged {
		return record
	}

	masked := make(map[string]any, len(record))
	for k, v := range record {
		if d.pattern.MatchString(k) {
			if s, ok := v.(string); ok && s != "" {
				masked[k] = maskValue(s)
				continue
			}
		}
		masked[k] = v
	}
	return masked
}

// MaskRecords applies MaskRecord to a slice of records, as returned by
// search_read/read.
func (d *PIIDetector) MaskRecords(records []map[string]any, privileged bool) []map[string]any {
	if !d.enabled || privileged {
		return records
	}
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = d.MaskRecord(r, privileged)
	}
	return out
}

func maskValue(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
