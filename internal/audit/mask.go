package audit

import "regexp"

// defaultPIIFieldPattern matches Odoo field names that commonly carry
// personally identifiable data: emails, phone numbers, addresses, and
// identity documents, by name rather than by value inspection.
var defaultPIIFieldPattern = regexp.MustCompile(`(?i)(email|phone|mobile|street|vat|ssn|passport|iban|birth)`)

// MaskValue partially redacts a string value, keeping a short prefix so
// audit readers can still recognize which record a masked entry refers to.
func MaskValue(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// MaskFields returns a copy of fields with values for keys that look like
// PII (by name, per defaultPIIFieldPattern, or by explicit name in extra)
// replaced with a masked placeholder.
func MaskFields(fields map[string]any, extra []string) map[string]any {
	extraSet := make(map[string]bool, len(extra))
	for _, f := range extra {
		extraSet[f] = true
	}

	masked := make(map[string]any, len(fields))
	for k, v := range fields {
		if extraSet[k] || defaultPIIFieldPattern.MatchString(k) {
			if s, ok := v.(string); ok {
				masked[k] = MaskValue(s)
				continue
			}
		}
		masked[k] = v
	}
	return masked
}
