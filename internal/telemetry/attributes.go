package telemetry

import "go.opentelemetry.io/otel/attribute"

// Standard span attribute keys used across the dispatcher and RPC layer.
const (
	AttrMCPMethod    = "mcp.method"
	AttrSessionID    = "mcp.session_id"
	AttrToolName     = "tool.name"
	AttrResourceURI  = "resource.uri"
	AttrOdooModel    = "odoo.model"
	AttrOdooMethod   = "odoo.method"
	AttrDomainDepth  = "domain.depth"
	AttrCacheHit     = "cache.hit"
	AttrRecordsCount = "odoo.records_count"
)

func MCPAttributes(method, sessionID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPMethod, method),
		attribute.String(AttrSessionID, sessionID),
	}
}

func ToolAttributes(tool, model string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrToolName, tool),
		attribute.String(AttrOdooModel, model),
	}
}

func OdooRPCAttributes(model, method string, recordsCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOdooModel, model),
		attribute.String(AttrOdooMethod, method),
		attribute.Int(AttrRecordsCount, recordsCount),
	}
}

func CacheAttributes(resource string, hit bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrResourceURI, resource),
		attribute.Bool(AttrCacheHit, hit),
	}
}
