// Package registry holds the gateway's declarative tool and resource
// catalogs (SPEC_FULL §3, §4.8, §4.9): a fixed set of JSON-Schema
// validated Tools and templated Resources, registered once at startup
// and treated as immutable thereafter.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Request is the canonical, already-normalized argument envelope a Tool
// handler receives. The normalizer (internal/normalizer) is the only
// place that produces one of these from the several client-side shapes
// the spec tolerates.
type Request struct {
	Arguments map[string]any
	SessionID string
	UID       int64
	Privileged bool
}

// Handler executes a Tool's operation against the already-validated,
// already-normalized arguments.
type Handler func(ctx context.Context, req *Request) (map[string]any, error)

// Tool is a named, schema-validated operation exposed to MCP clients.
type Tool struct {
	Name        string
	Description string
	Tags        []string
	SchemaJSON  string
	schema      *jsonschema.Schema
	Handler     Handler
	// Idempotent marks write tools that accept operation_id replay (§4.8).
	Idempotent bool
}

// Validate runs the tool's compiled JSON Schema against arguments.
func (t *Tool) Validate(arguments map[string]any) error {
	if t.schema == nil {
		return nil
	}
	return t.schema.Validate(arguments)
}

// ResourceKind identifies the shape a ResourceTemplate serves.
type ResourceKind string

const (
	ResourceRecord ResourceKind = "record"
	ResourceList   ResourceKind = "list"
	ResourceBinary ResourceKind = "binary"
)

// ResourceTemplate describes an addressable odoo:// URI family (§4.9).
type ResourceTemplate struct {
	Name       string
	URITemplate string
	Kind       ResourceKind
	MimeType   string
	Operations []string
	pattern    *regexp.Regexp
	paramNames []string
}

// compilePattern turns a "{name}"-templated URI into a matching regexp
// and records the named parameters in template order.
func compilePattern(tmpl string) (*regexp.Regexp, []string) {
	var names []string
	var b strings.Builder
	b.WriteString("^")

	i := 0
	for i < len(tmpl) {
		if tmpl[i] == '{' {
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(string(tmpl[i])))
				i++
				continue
			}
			name := tmpl[i+1 : i+end]
			names = append(names, name)
			b.WriteString(`([^/]+)`)
			i += end + 1
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(tmpl[i])))
		i++
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String()), names
}

// Match reports whether uri fits this template, returning the named
// path parameters on success.
func (r *ResourceTemplate) Match(uri string) (map[string]string, bool) {
	m := r.pattern.FindStringSubmatch(uri)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(r.paramNames))
	for i, name := range r.paramNames {
		params[name] = m[i+1]
	}
	return params, true
}

// Registry is the immutable catalog of Tools and ResourceTemplates.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	toolOrder []string
	resources []*ResourceTemplate
}

func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// RegisterTool compiles t's JSON Schema and adds it to the catalog.
// Registration happens once at startup; the schema MUST compile and the
// name MUST be unique or RegisterTool panics, matching the teacher's
// "fail fast on a programmer error at wiring time" posture.
func (r *Registry) RegisterTool(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		panic(fmt.Sprintf("registry: duplicate tool name %q", t.Name))
	}

	if t.SchemaJSON != "" {
		compiler := jsonschema.NewCompiler()
		resourceID := "mem://" + t.Name + ".json"
		if err := compiler.AddResource(resourceID, strings.NewReader(t.SchemaJSON)); err != nil {
			panic(fmt.Sprintf("registry: invalid schema for tool %q: %v", t.Name, err))
		}
		schema, err := compiler.Compile(resourceID)
		if err != nil {
			panic(fmt.Sprintf("registry: failed to compile schema for tool %q: %v", t.Name, err))
		}
		t.schema = schema
	}

	r.tools[t.Name] = t
	r.toolOrder = append(r.toolOrder, t.Name)
}

func (r *Registry) Tool(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns every registered Tool, in registration order.
func (r *Registry) Tools() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.toolOrder))
	for _, name := range r.toolOrder {
		out = append(out, r.tools[name])
	}
	return out
}

// RegisterResource adds a ResourceTemplate, compiling its URI pattern.
func (r *Registry) RegisterResource(rt *ResourceTemplate) {
	rt.pattern, rt.paramNames = compilePattern(rt.URITemplate)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, rt)
}

// ResourceTemplates returns every registered ResourceTemplate.
func (r *Registry) ResourceTemplates() []*ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceTemplate, len(r.resources))
	copy(out, r.resources)
	return out
}

// MatchResource finds the first ResourceTemplate matching uri.
func (r *Registry) MatchResource(uri string) (*ResourceTemplate, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.resources {
		if params, ok := rt.Match(uri); ok {
			return rt, params, true
		}
	}
	return nil, nil, false
}
