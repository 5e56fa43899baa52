// Package toolregistry holds the dispatch contract concrete tools must
// satisfy and a name-keyed lookup, grounded on the teacher's
// tool_guard.go Check/AuditLog pair: the registry resolves a name to a
// Tool, the risk classifier and rate limiter gate the call, and the
// registry itself stays a thin, swappable lookup — the concrete tool
// implementations (file reader, shell executor) are out of scope per
// spec.md §1.
package toolregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Tool is the contract every dispatchable operation must satisfy.
type Tool struct {
	name        string
	description string
	dispatch    func(ctx context.Context, args map[string]any) (string, error)
}

func NewTool(name, description string, dispatch func(ctx context.Context, args map[string]any) (string, error)) Tool {
	return Tool{name: name, description: description, dispatch: dispatch}
}

func (t Tool) Name() string        { return t.name }
func (t Tool) Description() string { return t.description }

func (t Tool) Dispatch(ctx context.Context, args map[string]any) (string, error) {
	if t.dispatch == nil {
		return "", fmt.Errorf("tool %q has no dispatch function", t.name)
	}
	return t.dispatch(ctx, args)
}

// Registry is a name-keyed, concurrency-safe Tool lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch resolves name and invokes it, returning a plain error for
// unregistered names; no errs.Kind is attached here or by the Agent Loop,
// which wraps the error with the tool name.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("no tool registered for %q", name)
	}
	return t.Dispatch(ctx, args)
}

// SchemaDescription renders a deterministic, human-readable summary of
// every registered tool's name and description, suitable for embedding
// in the Agent Loop's composed system prompt (spec.md §4.1 step 4).
func (r *Registry) SchemaDescription() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ""
	for _, name := range names {
		out += fmt.Sprintf("- %s: %s\n", name, r.tools[name].Description())
	}
	return out
}
