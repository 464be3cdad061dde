// Package toolserver exposes the product's operations as a machine-callable
// tool catalog: a JSON registry of named tools with schemas, resource URIs
// for addressable entities, and a poller that pushes resource changes onto
// the signal bus so subscribers see updates without polling themselves.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// ToolFunc executes a tool call. args is the raw JSON arguments object from
// the caller; the returned value is serialized as the tool result.
type ToolFunc func(ctx context.Context, id domain.Identity, args json.RawMessage) (any, error)

// Tool is one callable entry in the registry.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	ReadOnly    bool           `json:"readOnly"`

	fn ToolFunc
}

// Registry holds the tool catalog. Registration happens at startup; lookups
// are concurrent-safe afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the catalog. Registering the same name twice
// replaces the earlier entry.
func (r *Registry) Register(t Tool, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.fn = fn
	r.tools[t.Name] = t
}

// List returns the catalog sorted by tool name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call executes the named tool with the given arguments.
func (r *Registry) Call(ctx context.Context, id domain.Identity, name string, args json.RawMessage) (any, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("toolserver: tool %q: %w", name, domain.ErrNotFound)
	}
	return t.fn(ctx, id, args)
}

// objectSchema builds a JSON-schema-shaped description of a tool's input.
func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}
