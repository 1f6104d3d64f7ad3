// Package normalizer reconciles the several argument shapes an MCP
// client may send into the canonical envelope the tool registry
// validates against, and applies the per-Odoo-method extraction rules
// of SPEC_FULL §4.8 that turn normalized arguments into the positional
// + named channels execute_kw expects.
package normalizer

import (
	"encoding/json"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/domaindsl"
	"odoo-mcp-gateway/internal/odoorpc"
)

// Envelope reconciles a raw params.arguments payload into the canonical
// shape {"arguments": {...}}. Clients MAY send the arguments at the top
// level, or nested under "args"/"kwargs" instead of "arguments"; all
// three collapse into one map before schema validation runs.
func Envelope(raw map[string]any) map[string]any {
	if args, ok := raw["arguments"].(map[string]any); ok {
		return args
	}

	// Legacy shape: {"args": {...}} or {"kwargs": {...}} as the only key,
	// standing in for "arguments" at the top level. When other keys sit
	// beside it (model, method, ...), the payload is already the argument
	// map and its kwargs object stays part of it.
	if len(raw) == 1 {
		if args, ok := raw["args"].(map[string]any); ok {
			return args
		}
		if kwargs, ok := raw["kwargs"].(map[string]any); ok {
			return kwargs
		}
	}

	// No recognized wrapper: treat the whole payload as the argument map.
	return raw
}

// Call is the canonical (model, method, positional, named) shape every
// execute_kw-style tool normalizes down to before it reaches the pool.
type Call struct {
	Model    string
	Method   string
	Args     odoorpc.Args
	Kwargs   map[string]any
	Warnings []string
}

// ExtractCreate implements §4.8's `create` extraction rule.
func ExtractCreate(arguments map[string]any) (*Call, *apperror.Error) {
	values, err := firstCreateValues(arguments)
	if err != nil {
		return nil, err
	}
	return &Call{
		Method: "create",
		Args:   odoorpc.Args{values},
		Kwargs: map[string]any{},
	}, nil
}

func firstCreateValues(arguments map[string]any) (map[string]any, *apperror.Error) {
	if v, ok := arguments["values"].(map[string]any); ok {
		return v, nil
	}
	if rawArgs, ok := arguments["args"].([]any); ok && len(rawArgs) > 0 {
		if v, ok := rawArgs[0].(map[string]any); ok {
			return v, nil
		}
	}
	if kwargs, ok := arguments["kwargs"].(map[string]any); ok {
		if v, ok := kwargs["values"].(map[string]any); ok {
			return v, nil
		}
		return kwargs, nil
	}
	return nil, apperror.New(apperror.KindValidationField, "create requires a values object")
}

// ExtractRead implements §4.8's `read` extraction rule: record_ids (or
// ids) become args[0] and fields become args[1] (default
// ["id","name"]); kwargs is
// filtered down to {context} so a duplicate "fields" named argument
// never reaches Odoo.
func ExtractRead(arguments map[string]any) (*Call, *apperror.Error) {
	ids, err := recordIDs(arguments)
	if err != nil {
		return nil, err
	}

	fields := []string{"id", "name"}
	if f, ok := arguments["fields"].([]any); ok {
		fields = toStringSlice(f)
	}

	kwargs := map[string]any{}
	if ctxVal, ok := arguments["context"]; ok {
		kwargs["context"] = ctxVal
	}

	return &Call{
		Method: "read",
		Args:   odoorpc.Args{ids, fields},
		Kwargs: kwargs,
	}, nil
}

// ExtractSearch implements §4.8's search/search_read/search_count rule.
// domainJSON may be nil (empty domain); a non-array compiled domain is
// coerced to [] with a recorded warning (§8 scenario 4).
func ExtractSearch(method string, arguments map[string]any, domainJSON json.RawMessage, ctx domaindsl.Context) (*Call, *apperror.ValidationErrors) {
	verrs := apperror.NewValidationErrors()

	if domainJSON == nil {
		domainJSON = []byte("[]")
	}
	result, compileErrs := domaindsl.Compile(domainJSON, ctx)
	if compileErrs.HasErrors() {
		return nil, compileErrs
	}
	for _, w := range result.Warnings {
		verrs.AddWarning(apperror.KindValidationDomain, w)
	}

	args := odoorpc.Args{result.Domain}

	if method != "search_count" {
		fields := []string{}
		if f, ok := arguments["fields"].([]any); ok {
			fields = toStringSlice(f)
		}
		args.Append(fields)

		offset := 0
		if o, ok := arguments["offset"]; ok {
			offset = domaindsl.ParseInt(o, 0)
		}
		args.Append(offset)

		limit := 0
		if l, ok := arguments["limit"]; ok {
			limit = domaindsl.ParseInt(l, 0)
		}
		args.Append(limit)

		if order, ok := arguments["order"].(string); ok && order != "" {
			args.Append(order)
		}
	}

	kwargs := map[string]any{}
	if ctxVal, ok := arguments["context"]; ok {
		kwargs["context"] = ctxVal
	}

	return &Call{Method: method, Args: args, Kwargs: kwargs, Warnings: verrs.WarningMessages()}, verrs
}

// ExtractReadGroup implements §4.8's read_group rule: a client may send
// separate (domain, fields, groupby) entries or a single object
// positional carrying all four keys; both forms collapse to the same
// three positionals plus a named-arg allowlist.
func ExtractReadGroup(arguments map[string]any, domainJSON json.RawMessage, ctx domaindsl.Context) (*Call, *apperror.ValidationErrors) {
	verrs := apperror.NewValidationErrors()

	fields := arguments["fields"]
	groupby := arguments["groupby"]
	kwargsIn, _ := arguments["kwargs"].(map[string]any)

	if single, ok := arguments["request"].(map[string]any); ok {
		if d, ok := single["domain"]; ok {
			if raw, err := json.Marshal(d); err == nil {
				domainJSON = raw
			}
		}
		if f, ok := single["fields"]; ok {
			fields = f
		}
		if g, ok := single["groupby"]; ok {
			groupby = g
		}
		if k, ok := single["kwargs"].(map[string]any); ok {
			kwargsIn = k
		}
	}

	if domainJSON == nil {
		domainJSON = []byte("[]")
	}
	result, compileErrs := domaindsl.Compile(domainJSON, ctx)
	if compileErrs.HasErrors() {
		return nil, compileErrs
	}
	for _, w := range result.Warnings {
		verrs.AddWarning(apperror.KindValidationDomain, w)
	}

	kwargs := map[string]any{}
	for _, key := range []string{"limit", "offset", "orderby", "lazy"} {
		if v, ok := kwargsIn[key]; ok {
			kwargs[key] = v
		} else if v, ok := arguments[key]; ok {
			kwargs[key] = v
		}
	}

	return &Call{
		Method:   "read_group",
		Args:     odoorpc.Args{result.Domain, fields, groupby},
		Kwargs:   kwargs,
		Warnings: verrs.WarningMessages(),
	}, verrs
}

// ExtractWrite implements §4.8's `write` rule: (ids, values), no named args.
func ExtractWrite(arguments map[string]any) (*Call, *apperror.Error) {
	ids, err := recordIDs(arguments)
	if err != nil {
		return nil, err
	}
	values, ok := arguments["values"].(map[string]any)
	if !ok {
		return nil, apperror.New(apperror.KindValidationField, "write requires a values object")
	}
	return &Call{Method: "write", Args: odoorpc.Args{ids, values}, Kwargs: map[string]any{}}, nil
}

// ExtractUnlink implements §4.8's `unlink` rule: (ids,) positional only.
func ExtractUnlink(arguments map[string]any) (*Call, *apperror.Error) {
	ids, err := recordIDs(arguments)
	if err != nil {
		return nil, err
	}
	return &Call{Method: "unlink", Args: odoorpc.Args{ids}, Kwargs: map[string]any{}}, nil
}

// ExtractAction implements §4.8's action-method rule: (ids,) positional,
// plus optional context and a parameters object folded into kwargs.
func ExtractAction(arguments map[string]any) (*Call, *apperror.Error) {
	ids, err := recordIDs(arguments)
	if err != nil {
		return nil, err
	}

	kwargs := map[string]any{}
	if ctxVal, ok := arguments["context"]; ok {
		kwargs["context"] = ctxVal
	}

	args := odoorpc.Args{ids}
	if params, ok := arguments["parameters"].(map[string]any); ok {
		for k, v := range params {
			kwargs[k] = v
		}
	}

	method, _ := arguments["method"].(string)
	return &Call{Method: method, Args: args, Kwargs: kwargs}, nil
}

// recordIDs extracts record_ids (or the legacy "ids") as a []any of
// record identifiers, accepting a single numeric id too.
func recordIDs(arguments map[string]any) ([]any, *apperror.Error) {
	raw, ok := arguments["record_ids"]
	if !ok {
		raw, ok = arguments["ids"]
	}
	if !ok {
		return nil, apperror.New(apperror.KindValidationField, "record_ids is required")
	}

	switch v := raw.(type) {
	case []any:
		return v, nil
	case float64:
		return []any{v}, nil
	default:
		return nil, apperror.New(apperror.KindValidationField, "record_ids must be an array of ids")
	}
}

func toStringSlice(in []any) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
