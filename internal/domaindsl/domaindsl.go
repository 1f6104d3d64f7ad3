// Package domaindsl validates and compiles the JSON forms a client may
// send as an Odoo search domain into Odoo's canonical prefix/Polish
// notation array, per SPEC_FULL §4.6. Named domaindsl (not domain) to
// avoid colliding with Odoo's own "model" vocabulary elsewhere in the
// gateway.
package domaindsl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"odoo-mcp-gateway/internal/apperror"
)

var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// knownOperators is the set of comparison operators Odoo accepts in a
// domain triple.
var knownOperators = map[string]bool{
	"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"like": true, "ilike": true, "not like": true, "not ilike": true,
	"=like": true, "=ilike": true, "in": true, "not in": true,
	"child_of": true, "parent_of": true,
}

// logicalPrefixOperators are Odoo's Polish-notation connective tokens.
var logicalPrefixOperators = map[string]bool{"&": true, "|": true, "!": true}

// Resolver substitutes a placeholder token (e.g. __current_company_ids__)
// with a concrete value at compile time. Registered in a fixed table so
// the set of supported placeholders is auditable and data-driven, per
// SPEC_FULL §9's "PII field detection ... data-driven" posture applied
// here to placeholders too.
type Resolver func() any

// Context carries the per-request values placeholder resolvers need.
type Context struct {
	CurrentCompanyIDs []int64
	CurrentUID        int64
	Now               time.Time
	MaxPayloadSize    int
}

// placeholderTable returns the fixed resolver table for a given request
// Context. Each entry is looked up by exact token match during compile.
func placeholderTable(c Context) map[string]Resolver {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	return map[string]Resolver{
		"__current_company_ids__": func() any {
			ids := make([]any, len(c.CurrentCompanyIDs))
			for i, id := range c.CurrentCompanyIDs {
				ids[i] = id
			}
			return ids
		},
		"__current_uid__": func() any { return c.CurrentUID },
		"__start_of_month__": func() any {
			return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02")
		},
		"__start_of_today__": func() any {
			return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Format("2006-01-02")
		},
		"__today__": func() any { return now.Format("2006-01-02") },
	}
}

// Result is the outcome of Compile: the canonical prefix-notation
// domain, plus any non-fatal warnings recorded along the way (§8).
type Result struct {
	Domain   []any
	Warnings []string
}

// Compile accepts a raw JSON value in any of the forms §4.6 describes —
// a prefix-notation array, the {"and"/"or"/"not"} object form, a
// stringified encoding of either, or null/""/bool — and returns the
// canonical Odoo domain array.
func Compile(raw json.RawMessage, ctx Context) (*Result, *apperror.ValidationErrors) {
	verrs := apperror.NewValidationErrors()
	res := &Result{Domain: []any{}}

	if len(raw) == 0 {
		return res, verrs
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		// Might be a stringified JSON value embedded as a plain string
		// without surrounding quotes in raw — fall back to string parse.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 == nil {
			value = s
		} else {
			verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("domain is not valid json: %v", err))
			return res, verrs
		}
	}

	compiled, warnings := compileValue(value, ctx, verrs, 0)
	res.Warnings = warnings
	if verrs.HasErrors() {
		return res, verrs
	}

	if compiled == nil {
		res.Domain = []any{}
		return res, verrs
	}

	arr, ok := compiled.([]any)
	if !ok {
		verrs.AddError(apperror.KindValidationDomain, "compiled domain is not an array")
		return res, verrs
	}
	res.Domain = arr
	return res, verrs
}

// compileValue recursively normalizes value into a canonical domain
// array ([]any of triples/logical-prefix-tokens), handling every form
// §4.6 names. depth bounds recursion against pathological nesting.
func compileValue(value any, ctx Context, verrs *apperror.ValidationErrors, depth int) (any, []string) {
	var warnings []string

	if depth > 64 {
		verrs.AddError(apperror.KindValidationDomain, "domain nesting too deep")
		return []any{}, warnings
	}

	switch v := value.(type) {
	case nil:
		warnings = append(warnings, "null domain coerced to []")
		return []any{}, warnings

	case bool:
		warnings = append(warnings, "boolean domain coerced to []")
		return []any{}, warnings

	case string:
		trimmed := v
		if trimmed == "" {
			warnings = append(warnings, "empty string domain coerced to []")
			return []any{}, warnings
		}
		var nested any
		if err := json.Unmarshal([]byte(trimmed), &nested); err != nil {
			verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("stringified domain is not valid json: %v", err))
			return []any{}, warnings
		}
		inner, innerWarnings := compileValue(nested, ctx, verrs, depth+1)
		return inner, append(warnings, innerWarnings...)

	case []any:
		// A bare [field, op, value] leaf, as an and/or/not child carries
		// it, is one clause rather than a list of clauses.
		if len(v) == 3 && !IsLogicalOperator(v[0]) {
			_, fieldIsString := v[0].(string)
			_, opIsString := v[1].(string)
			if fieldIsString && opIsString {
				triple, w := compileTriple(v, ctx, verrs)
				if triple == nil {
					return []any{}, append(warnings, w...)
				}
				return []any{triple}, append(warnings, w...)
			}
		}
		return compileArray(v, ctx, verrs, depth)

	case map[string]any:
		return compileObject(v, ctx, verrs, depth)

	default:
		verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("unsupported domain value type %T", value))
		return []any{}, warnings
	}
}

// compileArray handles both the raw Odoo form (triples + prefix logical
// tokens already mixed in one flat array) and a bare list of object-form
// nodes (each compiled and AND-ed together implicitly).
func compileArray(arr []any, ctx Context, verrs *apperror.ValidationErrors, depth int) (any, []string) {
	var warnings []string
	out := make([]any, 0, len(arr))

	for _, item := range arr {
		switch it := item.(type) {
		case string:
			if logicalPrefixOperators[it] {
				out = append(out, it)
				continue
			}
			out = append(out, it)

		case []any:
			triple, w := compileTriple(it, ctx, verrs)
			warnings = append(warnings, w...)
			if triple != nil {
				out = append(out, triple)
			}

		case map[string]any:
			nested, w := compileObject(it, ctx, verrs, depth+1)
			warnings = append(warnings, w...)
			if nested != nil {
				nestedArr, ok := nested.([]any)
				if ok {
					out = append(out, nestedArr...)
				}
			}

		default:
			verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("unsupported domain array element %T", item))
		}
	}

	return out, warnings
}

// compileTriple validates and normalizes a single [field, op, value]
// clause, substituting any placeholder token found in value.
func compileTriple(triple []any, ctx Context, verrs *apperror.ValidationErrors) (any, []string) {
	var warnings []string

	if len(triple) != 3 {
		verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("domain clause must have 3 elements, got %d", len(triple)))
		return nil, warnings
	}

	field, ok := triple[0].(string)
	if !ok || !fieldNamePattern.MatchString(field) {
		verrs.AddError(apperror.KindValidationField, fmt.Sprintf("invalid field name %v", triple[0]))
		return nil, warnings
	}

	op, ok := triple[1].(string)
	if !ok || !knownOperators[op] {
		verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("unknown domain operator %v", triple[1]))
		return nil, warnings
	}

	value := triple[2]
	if s, ok := value.(string); ok {
		table := placeholderTable(ctx)
		if resolver, found := table[s]; found {
			value = resolver()
		}
	}

	if ctx.MaxPayloadSize > 0 {
		if raw, err := json.Marshal(value); err == nil && len(raw) > ctx.MaxPayloadSize {
			verrs.AddError(apperror.KindValidationDomain, fmt.Sprintf("domain value for field %q exceeds max_payload_size", field))
			return nil, warnings
		}
	}

	return []any{field, op, value}, warnings
}

// compileObject handles the {"and":[...]}, {"or":[...]}, {"not": ...}
// object form, converting each into Odoo's prefix-notation connectives.
func compileObject(obj map[string]any, ctx Context, verrs *apperror.ValidationErrors, depth int) (any, []string) {
	var warnings []string

	if andNode, ok := obj["and"]; ok {
		children, w := compileChildren(andNode, ctx, verrs, depth)
		warnings = append(warnings, w...)
		return prefixJoin("&", children), warnings
	}
	if orNode, ok := obj["or"]; ok {
		children, w := compileChildren(orNode, ctx, verrs, depth)
		warnings = append(warnings, w...)
		return prefixJoin("|", children), warnings
	}
	if notNode, ok := obj["not"]; ok {
		inner, w := compileValue(notNode, ctx, verrs, depth+1)
		warnings = append(warnings, w...)
		innerArr, ok := inner.([]any)
		if !ok || len(innerArr) == 0 {
			return []any{}, warnings
		}
		return append([]any{"!"}, innerArr...), warnings
	}

	verrs.AddError(apperror.KindValidationDomain, "domain object must have one of and/or/not")
	return []any{}, warnings
}

func compileChildren(node any, ctx Context, verrs *apperror.ValidationErrors, depth int) ([][]any, []string) {
	var warnings []string
	list, ok := node.([]any)
	if !ok {
		verrs.AddError(apperror.KindValidationDomain, "and/or node must be an array")
		return nil, warnings
	}

	children := make([][]any, 0, len(list))
	for _, item := range list {
		compiled, w := compileValue(item, ctx, verrs, depth+1)
		warnings = append(warnings, w...)
		if arr, ok := compiled.([]any); ok && len(arr) > 0 {
			children = append(children, arr)
		}
	}
	return children, warnings
}

// prefixJoin combines N already-compiled domain fragments with N-1
// copies of op in Polish-notation prefix form: op a b, op op a b c, ...
func prefixJoin(op string, children [][]any) []any {
	if len(children) == 0 {
		return []any{}
	}
	if len(children) == 1 {
		return children[0]
	}

	out := make([]any, 0)
	for i := 0; i < len(children)-1; i++ {
		out = append(out, op)
	}
	for _, c := range children {
		out = append(out, c...)
	}
	return out
}

// IsLogicalOperator reports whether tok is one of Odoo's prefix
// connectives ("&", "|", "!").
func IsLogicalOperator(tok any) bool {
	s, ok := tok.(string)
	if !ok {
		return false
	}
	return logicalPrefixOperators[s]
}

// ParseInt is a small helper the normalizer uses when a limit/offset
// argument may arrive as a JSON number or a numeric string.
func ParseInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return fallback
}
