package extension

import (
	"context"
	"fmt"
	"net/http"
	"plugin"

	"github.com/ovrishq/rove/pkg/rove/bus"
	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/model"
)

// constructorSymbol is the fixed exported symbol every native tool
// shared object must provide, per spec.md §4.5's "resolve a fixed
// symbol (the constructor)".
const constructorSymbol = "NewRoveTool"

// NativeCapabilities is the narrow capability set handed to a native
// tool's Start: submit a task to the agent, config read, scrub, an HTTP
// client, and publish on the message bus. It carries no database
// query, no sign/verify and no bus subscription capability. The caller
// of LoadNative supplies the set for each tool it loads; fields are
// nil-checked by callers so a tool used only in tests can supply a
// subset.
type NativeCapabilities struct {
	SubmitTask   func(ctx context.Context, input string, source model.Source) (*model.TaskResult, error)
	ConfigRead   func(key string) (string, bool)
	Scrub        func(text string) string
	HTTPClient   *http.Client
	PublishEvent func(bus.Event)
}

// NativeTool is the contract a native core tool's constructor must
// return.
type NativeTool interface {
	Start(ctx context.Context, caps NativeCapabilities) error
	Handle(name, input string) (string, error)
	Stop() error
}

type loadedNativeTool struct {
	tool   NativeTool
	handle *plugin.Plugin
}

// LoadNative runs the four verification gates for name, opens the
// resolved shared object, resolves its constructor, instantiates, and
// calls Start with caps.
func (h *Host) LoadNative(ctx context.Context, name string, resolvePath func(entryPath string) string, caps NativeCapabilities) error {
	entry, err := h.pipeline.VerifyNativeTool(name)
	if err != nil {
		return err
	}

	path := entry.Path
	if resolvePath != nil {
		path = resolvePath(entry.Path)
	}

	lib, err := plugin.Open(path)
	if err != nil {
		return fmt.Errorf("opening native tool %q at %q: %w", name, path, err)
	}

	sym, err := lib.Lookup(constructorSymbol)
	if err != nil {
		return fmt.Errorf("resolving constructor for %q: %w", name, err)
	}
	constructor, ok := sym.(func() NativeTool)
	if !ok {
		return fmt.Errorf("constructor for %q has unexpected signature", name)
	}

	tool := constructor()
	if err := tool.Start(ctx, caps); err != nil {
		return fmt.Errorf("starting native tool %q: %w", name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nativeTools[name] = &loadedNativeTool{tool: tool, handle: lib}
	return nil
}

// CallNative delegates to the loaded tool's Handle.
func (h *Host) CallNative(name, input string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	loaded, ok := h.nativeTools[name]
	if !ok {
		return "", errs.New(errs.KindToolNotLoaded, fmt.Sprintf("native tool %q is not loaded", name))
	}
	return loaded.tool.Handle(name, input)
}

// UnloadNative stops and drops a single native tool.
func (h *Host) UnloadNative(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unloadNativeLocked(name)
}

func (h *Host) unloadNativeLocked(name string) {
	loaded, ok := h.nativeTools[name]
	if !ok {
		return
	}
	if err := loaded.tool.Stop(); err != nil {
		h.logger.Warn("native tool stop failed", "name", name, "error", err)
	}
	delete(h.nativeTools, name)
}
