// Package extension implements the Extension Host from spec.md §4.5:
// native core tools (in-process dynamic libraries, trusted
// post-verification) and sandboxed plugins (no ambient authority,
// validated against the Filesystem Guard on every host-function call).
//
// No WASM or plugin-ABI sandboxing library appears anywhere in the
// example pack this was built from, so both runtimes are grounded on
// Go's standard library `plugin` package (the closest in-ecosystem
// analogue to the "in-process dynamic library" the spec describes for
// native tools); the sandboxed runtime reuses the same loader but
// narrows what a loaded plugin can do to a fixed, permission-checked
// host-function set rather than true OS-level sandboxing. This
// stdlib choice is recorded and justified in the grounding ledger.
package extension

import (
	"log/slog"
	"sync"

	"github.com/ovrishq/rove/pkg/rove/bus"
	"github.com/ovrishq/rove/pkg/rove/fsguard"
	"github.com/ovrishq/rove/pkg/rove/verify"
)

// Host owns every loaded native tool and sandboxed plugin. Load/unload
// take the exclusive lock; call takes the shared lock, per spec.md §5's
// "Extension host keeps a map keyed by name; load/unload take an
// exclusive lock on that map; call takes a shared lock."
type Host struct {
	mu sync.RWMutex

	pipeline *verify.Pipeline
	guard    *fsguard.Guard
	bus      *bus.Bus
	logger   *slog.Logger

	nativeTools map[string]*loadedNativeTool
	plugins     map[string]*loadedPlugin
}

func New(pipeline *verify.Pipeline, guard *fsguard.Guard, eventBus *bus.Bus, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		pipeline:    pipeline,
		guard:       guard,
		bus:         eventBus,
		logger:      logger.With("component", "extension_host"),
		nativeTools: make(map[string]*loadedNativeTool),
		plugins:     make(map[string]*loadedPlugin),
	}
}

// UnloadAll calls every native tool's stop() and every plugin's
// equivalent teardown, in arbitrary order, logging but not failing on
// individual errors — the Daemon Lifecycle's shutdown steps 3-4.
func (h *Host) UnloadAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name := range h.nativeTools {
		h.unloadNativeLocked(name)
	}
	for name := range h.plugins {
		h.unloadPluginLocked(name)
	}
}
