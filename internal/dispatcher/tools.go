package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/cache"
	"odoo-mcp-gateway/internal/domaindsl"
	"odoo-mcp-gateway/internal/normalizer"
	"odoo-mcp-gateway/internal/odoorpc"
	"odoo-mcp-gateway/internal/registry"
)

// registerTools builds the full §6 tool catalog. Every handler closes
// over the Dispatcher so it can reach the pool, cache, security
// policies, and subscription bus through the one execute/call choke
// point in exec.go.
func (d *Dispatcher) registerTools() {
	d.registry.RegisterTool(&registry.Tool{
		Name:        "echo",
		Description: "Echoes a message back; used to verify the transport is alive.",
		SchemaJSON:  `{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}`,
		Handler:     d.toolEcho,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "create_session",
		Description: "Authenticates against Odoo and issues an opaque session id.",
		SchemaJSON:  `{"type":"object","properties":{"username":{"type":"string"},"api_key":{"type":"string"}},"required":["username","api_key"]}`,
		Handler:     d.toolCreateSession,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "destroy_session",
		Description: "Ends a session early.",
		SchemaJSON:  `{"type":"object","properties":{"session_id":{"type":"string"}},"required":["session_id"]}`,
		Handler:     d.toolDestroySession,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.schema.version",
		Description: "Returns the current schema version tag for cache invalidation.",
		SchemaJSON:  `{"type":"object","properties":{}}`,
		Handler:     d.toolSchemaVersion,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.schema.models",
		Description: "Lists installed model technical names.",
		SchemaJSON:  `{"type":"object","properties":{"with_access":{"type":"boolean"}}}`,
		Handler:     d.toolSchemaModels,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.schema.fields",
		Description: "Describes a model's fields.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"}},"required":["model"]}`,
		Handler:     d.toolSchemaFields,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.domain.validate",
		Description: "Compiles and validates a search domain without executing it.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"domain_json":{}},"required":["model"]}`,
		Handler:     d.toolDomainValidate,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.search_read",
		Description: "Searches a model and reads matching records in one call.",
		SchemaJSON: `{"type":"object","properties":{"model":{"type":"string"},"domain_json":{},"fields":{"type":"array"},
			"limit":{"type":"integer","maximum":200},"offset":{"type":"integer","minimum":0},"order":{"type":"string"}},"required":["model"]}`,
		Handler: d.toolSearchRead,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.read",
		Description: "Reads records by id.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"record_ids":{},"fields":{"type":"array"}},"required":["model","record_ids"]}`,
		Handler:     d.toolRead,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.read_group",
		Description: "Aggregates records into groups (domain/fields/groupby, or a single request object carrying all three).",
		SchemaJSON: `{"type":"object","properties":{"model":{"type":"string"},"domain_json":{},"fields":{"type":"array"},"groupby":{"type":"array"},
			"request":{"type":"object"},"limit":{"type":"integer"},"offset":{"type":"integer"},"orderby":{"type":"string"},"lazy":{"type":"boolean"}},"required":["model"]}`,
		Handler: d.toolReadGroup,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.create",
		Description: "Creates a record.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"values":{"type":"object"},"operation_id":{"type":"string"}},"required":["model","values"]}`,
		Handler:     d.toolCreate,
		Idempotent:  true,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.write",
		Description: "Updates records.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"record_ids":{},"values":{"type":"object"},"operation_id":{"type":"string"}},"required":["model","record_ids","values"]}`,
		Handler:     d.toolWrite,
		Idempotent:  true,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.unlink",
		Description: "Deletes records.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"record_ids":{},"operation_id":{"type":"string"}},"required":["model","record_ids"]}`,
		Handler:     d.toolUnlink,
		Idempotent:  true,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.name_search",
		Description: "Searches a model by display name.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"name":{"type":"string"},"operator":{"type":"string"},"limit":{"type":"integer"}},"required":["model","name"]}`,
		Handler:     d.toolNameSearch,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.picklists",
		Description: "Lists the valid values of a selection or many2one field.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"field":{"type":"string"},"limit":{"type":"integer"}},"required":["model","field"]}`,
		Handler:     d.toolPicklists,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.actions.next_steps",
		Description: "Suggests the next workflow actions available for a record.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"record_id":{"type":"integer"}},"required":["model","record_id"]}`,
		Handler:     d.toolActionsNextSteps,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo.actions.call",
		Description: "Invokes a workflow action method on a record.",
		SchemaJSON: `{"type":"object","properties":{"model":{"type":"string"},"record_id":{"type":"integer"},"method":{"type":"string"},
			"parameters":{"type":"object"},"operation_id":{"type":"string"}},"required":["model","record_id","method"]}`,
		Handler:    d.toolActionsCall,
		Idempotent: true,
	})

	// Legacy passthrough tools (§4.8), reusing the same extraction
	// rules and the same execution/cache/security path.
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo_execute_kw",
		Description: "Legacy passthrough: invokes execute_kw directly.",
		SchemaJSON:  `{"type":"object","properties":{"model":{"type":"string"},"method":{"type":"string"},"args":{"type":"array"},"kwargs":{"type":"object"}},"required":["model","method"]}`,
		Handler:     d.toolLegacyExecuteKw,
	})
	d.registry.RegisterTool(&registry.Tool{
		Name:        "odoo_call_method",
		Description: "Legacy passthrough: invokes a non-execute_kw service method.",
		SchemaJSON:  `{"type":"object","properties":{"service":{"type":"string"},"method":{"type":"string"},"args":{"type":"array"}},"required":["service","method"]}`,
		Handler:     d.toolLegacyCallMethod,
	})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_search_read", Description: "Legacy alias of odoo.search_read.", SchemaJSON: `{"type":"object"}`, Handler: d.toolSearchRead})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_read", Description: "Legacy alias of odoo.read.", SchemaJSON: `{"type":"object"}`, Handler: d.toolRead})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_read_group", Description: "Legacy alias of odoo.read_group.", SchemaJSON: `{"type":"object"}`, Handler: d.toolReadGroup})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_create", Description: "Legacy alias of odoo.create.", SchemaJSON: `{"type":"object"}`, Handler: d.toolCreate, Idempotent: true})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_write", Description: "Legacy alias of odoo.write.", SchemaJSON: `{"type":"object"}`, Handler: d.toolWrite, Idempotent: true})
	d.registry.RegisterTool(&registry.Tool{Name: "odoo_unlink", Description: "Legacy alias of odoo.unlink.", SchemaJSON: `{"type":"object"}`, Handler: d.toolUnlink, Idempotent: true})
}

func (d *Dispatcher) toolEcho(_ context.Context, req *registry.Request) (map[string]any, error) {
	return map[string]any{"message": req.Arguments["message"]}, nil
}

func (d *Dispatcher) toolCreateSession(ctx context.Context, req *registry.Request) (map[string]any, error) {
	username, _ := req.Arguments["username"].(string)
	apiKey, _ := req.Arguments["api_key"].(string)

	sess, err := d.sessions.CreateSession(ctx, username, apiKey)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": sess.ID, "uid": sess.UID}, nil
}

func (d *Dispatcher) toolDestroySession(_ context.Context, req *registry.Request) (map[string]any, error) {
	id, _ := req.Arguments["session_id"].(string)
	d.sessions.Destroy(id)
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) toolSchemaVersion(ctx context.Context, _ *registry.Request) (map[string]any, error) {
	v, err := d.schema.Version(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"version": v}, nil
}

func (d *Dispatcher) toolSchemaModels(ctx context.Context, req *registry.Request) (map[string]any, error) {
	withAccess := true
	if v, ok := req.Arguments["with_access"].(bool); ok {
		withAccess = v
	}

	method := "search_read"
	var domain []any
	if withAccess {
		domain = []any{[]any{"transient", "=", false}}
	}
	result, err := d.execute(ctx, "ir.model", method, odoorpc.Args{domain, []string{"model"}}, nil)
	if err != nil {
		return nil, err
	}

	records, _ := result.([]any)
	models := make([]string, 0, len(records))
	for _, r := range records {
		rec, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := rec["model"].(string); ok {
			models = append(models, name)
		}
	}
	return map[string]any{"models": models}, nil
}

func (d *Dispatcher) toolSchemaFields(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}

	result, err := d.execute(ctx, model, "fields_get", odoorpc.Args{[]any{}},
		map[string]any{"attributes": []string{"string", "type", "required", "selection", "relation"}})
	if err != nil {
		return nil, err
	}

	raw, ok := result.(map[string]any)
	if !ok {
		return map[string]any{"fields": []any{}}, nil
	}

	fields := make([]map[string]any, 0, len(raw))
	for name, def := range raw {
		attrs, _ := def.(map[string]any)
		fields = append(fields, map[string]any{
			"name":     name,
			"string":   attrs["string"],
			"type":     attrs["type"],
			"required": attrs["required"],
			"relation": attrs["relation"],
		})
	}
	return map[string]any{"fields": fields}, nil
}

func (d *Dispatcher) toolDomainValidate(_ context.Context, req *registry.Request) (map[string]any, error) {
	raw, err := json.Marshal(req.Arguments["domain_json"])
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindValidationDomain, "domain_json is not serializable")
	}

	result, verrs := domaindsl.Compile(raw, domaindsl.Context{CurrentUID: req.UID})
	hints := make([]string, 0)
	hints = append(hints, verrs.WarningMessages()...)

	return map[string]any{
		"ok":       !verrs.HasErrors(),
		"compiled": result.Domain,
		"errors":   verrs.ErrorMessages(),
		"hints":    hints,
	}, nil
}

// allowedCompanyIDs reads an optional client-supplied company_ids
// array used by implicit domain injection; absent, injection of the
// company_id filter is skipped (security.ImplicitDomainPolicy treats an
// empty list as "nothing to inject").
func allowedCompanyIDs(arguments map[string]any) []int64 {
	raw, ok := arguments["company_ids"].([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, v := range raw {
		out = append(out, int64(domaindsl.ParseInt(v, 0)))
	}
	return out
}

func (d *Dispatcher) domainJSONFor(arguments map[string]any) json.RawMessage {
	if arguments["domain_json"] == nil {
		return nil
	}
	raw, err := json.Marshal(arguments["domain_json"])
	if err != nil {
		return nil
	}
	return raw
}

func (d *Dispatcher) toolSearchRead(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}

	call, verrs := normalizer.ExtractSearch("search_read", req.Arguments, d.domainJSONFor(req.Arguments), d.domainContextFor(req.UID))
	if verrs.HasErrors() {
		return nil, verrs.Errors[0]
	}

	domain, err := d.domains.Apply(ctx, model, call.Args[0].([]any), allowedCompanyIDs(req.Arguments), req.UID)
	if err != nil {
		return nil, err
	}
	call.Args[0] = domain

	cacheKey := cache.QueryKey(d.cfg.Odoo.Database, req.UID, model, "search_read", map[string]any{"args": []any(call.Args), "kwargs": call.Kwargs}, d.mustSchemaVersion(ctx))
	if cached, ok := d.cacheGet(ctx, cacheKey); ok {
		return cached, nil
	}

	result, err := d.execute(ctx, model, "search_read", call.Args, call.Kwargs)
	if err != nil {
		return nil, err
	}

	records := toRecordSlice(result)
	masked := d.pii.MaskRecords(records, req.Privileged)

	out := map[string]any{"records": masked, "count": len(masked), "domain": domain}
	d.cacheSet(ctx, cacheKey, out, req.Privileged)
	return out, nil
}

func (d *Dispatcher) toolReadGroup(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}

	call, verrs := normalizer.ExtractReadGroup(req.Arguments, d.domainJSONFor(req.Arguments), d.domainContextFor(req.UID))
	if verrs.HasErrors() {
		return nil, verrs.Errors[0]
	}

	domain, err := d.domains.Apply(ctx, model, call.Args[0].([]any), allowedCompanyIDs(req.Arguments), req.UID)
	if err != nil {
		return nil, err
	}
	call.Args[0] = domain

	cacheKey := cache.QueryKey(d.cfg.Odoo.Database, req.UID, model, "read_group", map[string]any{"args": []any(call.Args), "kwargs": call.Kwargs}, d.mustSchemaVersion(ctx))
	if cached, ok := d.cacheGet(ctx, cacheKey); ok {
		return cached, nil
	}

	result, err := d.execute(ctx, model, "read_group", call.Args, call.Kwargs)
	if err != nil {
		return nil, err
	}

	groups := toRecordSlice(result)
	masked := d.pii.MaskRecords(groups, req.Privileged)

	out := map[string]any{"groups": masked, "domain": domain}
	d.cacheSet(ctx, cacheKey, out, req.Privileged)
	return out, nil
}

func (d *Dispatcher) toolRead(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}

	call, err := normalizer.ExtractRead(req.Arguments)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.QueryKey(d.cfg.Odoo.Database, req.UID, model, "read", map[string]any{"args": []any(call.Args)}, d.mustSchemaVersion(ctx))
	if cached, ok := d.cacheGet(ctx, cacheKey); ok {
		return cached, nil
	}

	result, execErr := d.execute(ctx, model, "read", call.Args, call.Kwargs)
	if execErr != nil {
		return nil, execErr
	}

	records := toRecordSlice(result)
	masked := d.pii.MaskRecords(records, req.Privileged)
	out := map[string]any{"records": masked}
	d.cacheSet(ctx, cacheKey, out, req.Privileged)
	return out, nil
}

func (d *Dispatcher) toolCreate(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}
	operationID, _ := req.Arguments["operation_id"].(string)

	if cached, appErr, ok := d.replay.Lookup(operationID); ok {
		if appErr != nil {
			return nil, appErr
		}
		return cached, nil
	}

	call, err := normalizer.ExtractCreate(req.Arguments)
	if err != nil {
		d.replay.Store(operationID, nil, err)
		return nil, err
	}

	result, execErr := d.execute(ctx, model, "create", call.Args, call.Kwargs)
	if execErr != nil {
		appErr := toAppError(execErr)
		d.replay.Store(operationID, nil, appErr)
		return nil, execErr
	}

	id := domaindsl.ParseInt(result, 0)
	out := map[string]any{"id": id}
	d.invalidateModel(ctx, model)
	d.publish(model, "create", []int64{int64(id)})
	d.replay.Store(operationID, out, nil)
	return out, nil
}

func (d *Dispatcher) toolWrite(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}
	operationID, _ := req.Arguments["operation_id"].(string)

	if cached, appErr, ok := d.replay.Lookup(operationID); ok {
		if appErr != nil {
			return nil, appErr
		}
		return cached, nil
	}

	call, err := normalizer.ExtractWrite(req.Arguments)
	if err != nil {
		d.replay.Store(operationID, nil, err)
		return nil, err
	}

	_, execErr := d.execute(ctx, model, "write", call.Args, call.Kwargs)
	if execErr != nil {
		appErr := toAppError(execErr)
		d.replay.Store(operationID, nil, appErr)
		return nil, execErr
	}

	ids := idsFromAny(call.Args[0])
	out := map[string]any{"updated": len(ids)}
	d.invalidateModel(ctx, model)
	d.publish(model, "write", ids)
	d.replay.Store(operationID, out, nil)
	return out, nil
}

func (d *Dispatcher) toolUnlink(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}
	operationID, _ := req.Arguments["operation_id"].(string)

	if cached, appErr, ok := d.replay.Lookup(operationID); ok {
		if appErr != nil {
			return nil, appErr
		}
		return cached, nil
	}

	call, err := normalizer.ExtractUnlink(req.Arguments)
	if err != nil {
		d.replay.Store(operationID, nil, err)
		return nil, err
	}

	_, execErr := d.execute(ctx, model, "unlink", call.Args, call.Kwargs)
	if execErr != nil {
		appErr := toAppError(execErr)
		d.replay.Store(operationID, nil, appErr)
		return nil, execErr
	}

	ids := idsFromAny(call.Args[0])
	out := map[string]any{"deleted": len(ids)}
	d.invalidateModel(ctx, model)
	d.publish(model, "unlink", ids)
	d.replay.Store(operationID, out, nil)
	return out, nil
}

func (d *Dispatcher) toolNameSearch(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	name, _ := req.Arguments["name"].(string)
	operator := "ilike"
	if v, ok := req.Arguments["operator"].(string); ok && v != "" {
		operator = v
	}
	limit := 10
	if v, ok := req.Arguments["limit"]; ok {
		limit = domaindsl.ParseInt(v, 10)
	}

	result, err := d.execute(ctx, model, "name_search", odoorpc.Args{name},
		map[string]any{"args": []any{}, "operator": operator, "limit": limit})
	if err != nil {
		return nil, err
	}

	pairs, _ := result.([]any)
	return map[string]any{"results": pairs}, nil
}

func (d *Dispatcher) toolPicklists(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	field, _ := req.Arguments["field"].(string)
	limit := 100
	if v, ok := req.Arguments["limit"]; ok {
		limit = domaindsl.ParseInt(v, 100)
	}

	result, err := d.execute(ctx, model, "fields_get", odoorpc.Args{[]any{field}},
		map[string]any{"attributes": []string{"selection", "relation"}})
	if err != nil {
		return nil, err
	}

	defs, _ := result.(map[string]any)
	fieldDef, _ := defs[field].(map[string]any)

	if selection, ok := fieldDef["selection"].([]any); ok {
		values := make([]map[string]any, 0, len(selection))
		for _, pair := range selection {
			tuple, ok := pair.([]any)
			if !ok || len(tuple) != 2 {
				continue
			}
			values = append(values, map[string]any{"id": tuple[0], "label": tuple[1]})
		}
		return map[string]any{"values": values}, nil
	}

	relation, _ := fieldDef["relation"].(string)
	if relation == "" {
		return map[string]any{"values": []any{}}, nil
	}

	searchResult, err := d.execute(ctx, relation, "name_search", odoorpc.Args{""},
		map[string]any{"args": []any{}, "limit": limit})
	if err != nil {
		return nil, err
	}
	pairs, _ := searchResult.([]any)
	values := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		tuple, ok := p.([]any)
		if !ok || len(tuple) != 2 {
			continue
		}
		values = append(values, map[string]any{"id": tuple[0], "label": tuple[1]})
	}
	return map[string]any{"values": values}, nil
}

func (d *Dispatcher) toolActionsNextSteps(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	recordID := domaindsl.ParseInt(req.Arguments["record_id"], 0)

	result, err := d.execute(ctx, model, "read", odoorpc.Args{[]any{recordID}, []string{"state"}}, nil)
	if err != nil {
		return nil, err
	}
	records := toRecordSlice(result)

	state := ""
	if len(records) > 0 {
		if s, ok := records[0]["state"].(string); ok {
			state = s
		}
	}

	actionsResult, err := d.execute(ctx, "ir.actions.act_window", "search_read",
		odoorpc.Args{[]any{[]any{"res_model", "=", model}}, []string{"name"}}, nil)
	if err != nil {
		return nil, err
	}
	actionRecords := toRecordSlice(actionsResult)
	available := make([]string, 0, len(actionRecords))
	for _, r := range actionRecords {
		if name, ok := r["name"].(string); ok {
			available = append(available, name)
		}
	}

	return map[string]any{
		"current_state":     state,
		"available_actions": available,
		"suggested_actions": available,
		"hints":              []string{fmt.Sprintf("record is in state %q", state)},
	}, nil
}

func (d *Dispatcher) toolActionsCall(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	if model == "" {
		return nil, apperror.New(apperror.KindValidationField, "model is required")
	}
	operationID, _ := req.Arguments["operation_id"].(string)

	if cached, appErr, ok := d.replay.Lookup(operationID); ok {
		if appErr != nil {
			return nil, appErr
		}
		return cached, nil
	}

	arguments := make(map[string]any, len(req.Arguments))
	for k, v := range req.Arguments {
		arguments[k] = v
	}
	arguments["record_ids"] = []any{req.Arguments["record_id"]}

	call, err := normalizer.ExtractAction(arguments)
	if err != nil {
		d.replay.Store(operationID, nil, err)
		return nil, err
	}

	result, execErr := d.execute(ctx, model, call.Method, call.Args, call.Kwargs)
	if execErr != nil {
		appErr := toAppError(execErr)
		d.replay.Store(operationID, nil, appErr)
		return nil, execErr
	}

	out := map[string]any{"result": result}
	ids := idsFromAny(call.Args[0])
	d.invalidateModel(ctx, model)
	d.publish(model, call.Method, ids)
	d.replay.Store(operationID, out, nil)
	return out, nil
}

func (d *Dispatcher) toolLegacyExecuteKw(ctx context.Context, req *registry.Request) (map[string]any, error) {
	model, _ := req.Arguments["model"].(string)
	method, _ := req.Arguments["method"].(string)
	var args odoorpc.Args
	if raw, ok := req.Arguments["args"].([]any); ok {
		args = odoorpc.Args(raw)
	}
	kwargs, _ := req.Arguments["kwargs"].(map[string]any)

	result, err := d.execute(ctx, model, method, args, kwargs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func (d *Dispatcher) toolLegacyCallMethod(ctx context.Context, req *registry.Request) (map[string]any, error) {
	service, _ := req.Arguments["service"].(string)
	method, _ := req.Arguments["method"].(string)
	var args odoorpc.Args
	if raw, ok := req.Arguments["args"].([]any); ok {
		args = odoorpc.Args(raw)
	}

	result, err := d.call(ctx, service, method, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": result}, nil
}

func toRecordSlice(result any) []map[string]any {
	items, _ := result.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if rec, ok := item.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

func idsFromAny(v any) []int64 {
	raw, _ := v.([]any)
	out := make([]int64, 0, len(raw))
	for _, id := range raw {
		out = append(out, int64(domaindsl.ParseInt(id, 0)))
	}
	return out
}

func toAppError(err error) *apperror.Error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*apperror.Error); ok {
		return appErr
	}
	return apperror.Wrap(err, apperror.KindOf(err), err.Error())
}

func (d *Dispatcher) mustSchemaVersion(ctx context.Context) int64 {
	v, err := d.schema.Version(ctx)
	if err != nil {
		return 0
	}
	return v
}
