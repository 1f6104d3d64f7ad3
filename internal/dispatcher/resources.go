package dispatcher

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"odoo-mcp-gateway/internal/apperror"
	"odoo-mcp-gateway/internal/audit"
	"odoo-mcp-gateway/internal/domaindsl"
	"odoo-mcp-gateway/internal/normalizer"
	"odoo-mcp-gateway/internal/odoorpc"
	"odoo-mcp-gateway/internal/registry"
)

// registerResources wires the three odoo:// URI families from §4.9.
// The "list" and "binary" templates are registered ahead of the bare
// record template so a literal "list"/"binary" path segment can never
// be mistaken for a record id by the generic {id} pattern.
func (d *Dispatcher) registerResources() {
	d.registry.RegisterResource(&registry.ResourceTemplate{
		Name:        "model-binary-field",
		URITemplate: "odoo://{model}/binary/{field}/{id}",
		Kind:        registry.ResourceBinary,
		MimeType:    "application/octet-stream",
		Operations:  []string{"read"},
	})
	d.registry.RegisterResource(&registry.ResourceTemplate{
		Name:        "model-list",
		URITemplate: "odoo://{model}/list",
		Kind:        registry.ResourceList,
		MimeType:    "application/json",
		Operations:  []string{"read", "subscribe"},
	})
	d.registry.RegisterResource(&registry.ResourceTemplate{
		Name:        "model-record",
		URITemplate: "odoo://{model}/{id}",
		Kind:        registry.ResourceRecord,
		MimeType:    "application/json",
		Operations:  []string{"read", "subscribe"},
	})
}

func (d *Dispatcher) handleListResourceTemplates() map[string]any {
	templates := d.registry.ResourceTemplates()
	out := make([]map[string]any, 0, len(templates))
	for _, t := range templates {
		out = append(out, map[string]any{
			"name":         t.Name,
			"uri_template": t.URITemplate,
			"kind":         string(t.Kind),
			"mime_type":    t.MimeType,
		})
	}
	return map[string]any{"resource_templates": out}
}

type readResourceParams struct {
	URI         string          `json:"uri"`
	Fields      []string        `json:"fields"`
	DomainJSON  json.RawMessage `json:"domain_json"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
	Order       string          `json:"order"`
	SessionID   string          `json:"session_id"`
}

func (d *Dispatcher) handleReadResource(ctx context.Context, raw json.RawMessage) (any, error) {
	var p readResourceParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.Wrap(err, apperror.KindProtocol, "malformed read_resource params")
	}

	tmpl, params, ok := d.registry.MatchResource(p.URI)
	if !ok {
		return nil, apperror.New(apperror.KindResource, "unknown resource").WithDetails("uri", p.URI)
	}

	uid, privileged := d.resolveCaller(p.SessionID)

	switch tmpl.Kind {
	case registry.ResourceRecord:
		return d.readRecordResource(ctx, params["model"], params["id"], p.Fields, uid, privileged)
	case registry.ResourceList:
		return d.readListResource(ctx, params["model"], p, uid, privileged)
	case registry.ResourceBinary:
		return d.readBinaryResource(ctx, params["model"], params["field"], params["id"])
	default:
		return nil, apperror.ErrUnknownResource
	}
}

func (d *Dispatcher) resolveCaller(sessionID string) (uid int64, privileged bool) {
	if sessionID == "" {
		return 0, false
	}
	resolved, err := d.sessions.Resolve(sessionID)
	if err != nil {
		return 0, false
	}
	return resolved, resolved == 1
}

func (d *Dispatcher) readRecordResource(ctx context.Context, model, idParam string, fields []string, uid int64, privileged bool) (map[string]any, error) {
	id := domaindsl.ParseInt(idParam, 0)
	if len(fields) == 0 {
		fields = []string{"id", "display_name"}
	}

	result, err := d.execute(ctx, model, "read", odoorpc.Args{[]any{id}, fields}, nil)
	if err != nil {
		return nil, err
	}

	records := toRecordSlice(result)
	masked := d.pii.MaskRecords(records, privileged)
	if len(masked) == 0 {
		return nil, apperror.New(apperror.KindNotFoundRecord, "record not found").WithDetails("model", model).WithDetails("id", id)
	}
	return map[string]any{"record": masked[0]}, nil
}

func (d *Dispatcher) readListResource(ctx context.Context, model string, p readResourceParams, uid int64, privileged bool) (map[string]any, error) {
	arguments := map[string]any{"fields": toAnySlice(p.Fields), "limit": p.Limit, "offset": p.Offset, "order": p.Order}
	call, verrs := normalizer.ExtractSearch("search_read", arguments, p.DomainJSON, d.domainContextFor(uid))
	if verrs.HasErrors() {
		return nil, verrs.Errors[0]
	}

	domain, err := d.domains.Apply(ctx, model, call.Args[0].([]any), nil, uid)
	if err != nil {
		return nil, err
	}
	call.Args[0] = domain

	result, execErr := d.execute(ctx, model, "search_read", call.Args, call.Kwargs)
	if execErr != nil {
		return nil, execErr
	}

	records := toRecordSlice(result)
	masked := d.pii.MaskRecords(records, privileged)
	return map[string]any{"records": masked, "count": len(masked), "domain": domain}, nil
}

func (d *Dispatcher) readBinaryResource(ctx context.Context, model, field, idParam string) (map[string]any, error) {
	id := domaindsl.ParseInt(idParam, 0)

	result, err := d.execute(ctx, model, "read", odoorpc.Args{[]any{id}, []string{field}}, nil)
	if err != nil {
		return nil, err
	}

	records := toRecordSlice(result)
	if len(records) == 0 {
		return nil, apperror.ErrRecordNotFound
	}

	encoded, _ := records[0][field].(string)
	data, decodeErr := base64.StdEncoding.DecodeString(encoded)
	if decodeErr != nil {
		return nil, apperror.Wrap(decodeErr, apperror.KindProtocol, "binary field is not valid base64")
	}

	return map[string]any{"mime_type": "application/octet-stream", "data": data}, nil
}

type subscribeParams struct {
	URI       string `json:"uri"`
	SessionID string `json:"session_id"`
}

func (d *Dispatcher) handleSubscribeResource(ctx context.Context, raw json.RawMessage) (any, error) {
	var p subscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.Wrap(err, apperror.KindProtocol, "malformed subscribe_resource params")
	}
	if _, _, ok := d.registry.MatchResource(p.URI); !ok {
		return nil, apperror.New(apperror.KindResource, "unknown resource").WithDetails("uri", p.URI)
	}

	sinkID := sinkIDFrom(ctx)
	if sinkID == "" {
		return nil, apperror.New(apperror.KindProtocol, "subscribe_resource requires a stateful transport connection")
	}

	d.bus.Subscribe(p.URI, sinkID)
	if d.metrics != nil {
		d.metrics.Subscriptions.Inc()
	}
	if d.audit != nil {
		entry := audit.NewEntry().Session(p.SessionID).Action(audit.ActionResourceSubscribe).
			Resource(p.URI).Outcome(audit.OutcomeSuccess).Build()
		_ = d.audit.Log(ctx, entry)
	}
	return map[string]any{"ok": true}, nil
}

func (d *Dispatcher) handleUnsubscribeResource(ctx context.Context, raw json.RawMessage) (any, error) {
	var p subscribeParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperror.Wrap(err, apperror.KindProtocol, "malformed unsubscribe_resource params")
	}

	sinkID := sinkIDFrom(ctx)
	if sinkID != "" {
		d.bus.Unsubscribe(p.URI, sinkID)
		if d.metrics != nil {
			d.metrics.Subscriptions.Dec()
		}
	}
	return map[string]any{"ok": true}, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
