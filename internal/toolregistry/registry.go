// Package toolregistry implements the process-global table of callable
// tools and instructional skills the turn engine dispatches against.
package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Result is the outcome of a tool call.
type Result struct {
	Content string
	IsError bool
}

// ErrorResult builds an error Result from a message.
func ErrorResult(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Handler executes a tool call against a canonicalised workspace path.
type Handler func(ctx context.Context, workspace string, args json.RawMessage) (*Result, error)

// Entry is one registered tool: metadata, an optional callable handler, and
// optional skill instructions. Builtins and skills unify by name — a single
// entry may carry both.
type Entry struct {
	Meta     models.ToolMeta
	Handler  Handler
	Skill    *models.Skill
	Deferred bool
}

// HasCapability reports whether the entry is callable, instructional, or
// both.
func (e *Entry) HasCapability() bool {
	return e.Handler != nil || e.Skill != nil
}

// Registry is a process-global, mutex-guarded ordered list of Entry.
type Registry struct {
	mu      sync.Mutex
	entries []*Entry
	byName  map[string]int
	schemas map[string]*jsonschema.Schema
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: map[string]int{}, schemas: map[string]*jsonschema.Schema{}}
}

// Register adds or replaces metadata for a core (non-deferred) tool.
func (r *Registry) Register(meta models.ToolMeta, handler Handler) {
	r.upsert(meta, handler, false)
}

// RegisterDeferred adds or replaces metadata for a tool omitted from the
// core prompt/function-definition set but callable once discovered via
// search_tools.
func (r *Registry) RegisterDeferred(meta models.ToolMeta, handler Handler) {
	r.upsert(meta, handler, true)
}

func (r *Registry) upsert(meta models.ToolMeta, handler Handler, deferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, meta.Name)
	if idx, ok := r.byName[meta.Name]; ok {
		r.entries[idx].Meta = meta
		r.entries[idx].Handler = handler
		r.entries[idx].Deferred = deferred
		return
	}
	r.byName[meta.Name] = len(r.entries)
	r.entries = append(r.entries, &Entry{Meta: meta, Handler: handler, Deferred: deferred})
}

// AttachHandler binds a handler to an already-registered tool (e.g. a skill
// entry that gains a callable implementation later).
func (r *Registry) AttachHandler(name string, fn Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("tool %q not registered", name)
	}
	r.entries[idx].Handler = fn
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	return ok
}

// ListAll returns metadata for every registered tool, including deferred.
func (r *Registry) ListAll() []models.ToolMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ToolMeta, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Meta)
	}
	return out
}

// ListCore returns metadata for non-deferred tools only — these are
// injected into the agent prompt and function-calling definitions upfront.
func (r *Registry) ListCore() []models.ToolMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ToolMeta, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Deferred {
			out = append(out, e.Meta)
		}
	}
	return out
}

// Call dispatches name with args against workspace. It returns an error only
// for registry-level failures (unknown tool, no handler); tool-level
// failures are reported via Result.IsError so the conversation can recover.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage, workspace string) (*Result, error) {
	r.mu.Lock()
	idx, ok := r.byName[name]
	var handler Handler
	var argsSchema json.RawMessage
	if ok {
		handler = r.entries[idx].Handler
		argsSchema = r.entries[idx].Meta.ArgsSchema
	}
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %q has no handler", name)
	}
	if schema, err := r.schemaFor(name, argsSchema); err != nil {
		return ErrorResult("tool %q declares an invalid args schema: %v", name, err), nil
	} else if schema != nil {
		var v any
		if err := json.Unmarshal(args, &v); err != nil {
			return ErrorResult("tool %q received malformed arguments: %v", name, err), nil
		}
		if err := schema.Validate(v); err != nil {
			return ErrorResult("tool %q arguments failed validation: %v", name, err), nil
		}
	}
	return handler(ctx, workspace, args)
}

// schemaFor compiles and caches the JSON Schema declared by a tool's
// ArgsSchema. A tool with no schema (empty ArgsSchema) is called unvalidated.
func (r *Registry) schemaFor(name string, argsSchema json.RawMessage) (*jsonschema.Schema, error) {
	if len(bytes.TrimSpace(argsSchema)) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	if schema, ok := r.schemas[name]; ok {
		r.mu.Unlock()
		return schema, nil
	}
	r.mu.Unlock()

	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(argsSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[name] = schema
	r.mu.Unlock()
	return schema, nil
}

// SyncSkills drops existing skill-only entries (keeping builtins), then for
// each loaded skill either attaches its instructions to a colliding builtin
// or inserts a fresh instruction-only entry.
func (r *Registry) SyncSkills(loaded map[string]models.Skill) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make([]*Entry, 0, len(r.entries))
	byName := make(map[string]int, len(r.entries))
	for _, e := range r.entries {
		if e.Handler == nil && e.Skill != nil {
			continue // drop skill-only entry, rebuilt below
		}
		e.Skill = nil
		byName[e.Meta.Name] = len(kept)
		kept = append(kept, e)
	}

	names := make([]string, 0, len(loaded))
	for name := range loaded {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		skill := loaded[name]
		if idx, ok := byName[name]; ok {
			s := skill
			kept[idx].Skill = &s
			continue
		}
		s := skill
		byName[name] = len(kept)
		kept = append(kept, &Entry{
			Meta:     models.ToolMeta{Name: name, Description: skill.Description},
			Skill:    &s,
			Deferred: true,
		})
	}

	r.entries = kept
	r.byName = byName
}

// PromptInstructions concatenates skill instructions for non-empty entries,
// honouring an optional allow-list (nil or empty means all skills).
func (r *Registry) PromptInstructions(enabled []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var allow map[string]bool
	if len(enabled) > 0 {
		allow = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allow[name] = true
		}
	}

	var b strings.Builder
	var wrote bool
	for _, e := range r.entries {
		if e.Skill == nil || strings.TrimSpace(e.Skill.Instructions) == "" {
			continue
		}
		if allow != nil && !allow[e.Meta.Name] {
			continue
		}
		if !wrote {
			b.WriteString("<available_skills>\n")
			wrote = true
		}
		fmt.Fprintf(&b, "<skill><name>%s</name><instructions>%s</instructions></skill>\n",
			e.Meta.Name, e.Skill.Instructions)
	}
	if wrote {
		b.WriteString("</available_skills>")
	}
	return b.String()
}

// FunctionDefs builds the provider-facing function definitions for core
// (non-deferred) tools.
func (r *Registry) FunctionDefs() []models.FunctionDef {
	core := r.ListCore()
	defs := make([]models.FunctionDef, 0, len(core))
	for _, m := range core {
		defs = append(defs, models.FunctionDef{
			Name:        m.Name,
			Description: m.Description,
			Parameters:  m.ArgsSchema,
		})
	}
	return defs
}
