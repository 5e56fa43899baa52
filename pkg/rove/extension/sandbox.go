package extension

import (
	"context"
	"fmt"
	"plugin"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/verify"
)

// sandboxConstructorSymbol is the fixed exported symbol a sandboxed
// plugin's shared object must provide.
const sandboxConstructorSymbol = "NewRovePlugin"

// maxCrashesBeforeFailed matches spec.md §4.5's crash-handling threshold.
const maxCrashesBeforeFailed = 3

// HostFunctions is the fixed set of capabilities a sandboxed plugin may
// call, each validated by the Host against the plugin's permissions and
// the Filesystem Guard before it runs.
type HostFunctions struct {
	ReadFile      func(path string) (string, error)
	WriteFile     func(path, content string) error
	ListDirectory func(path string) ([]string, error)
	ExecGit       func(args []string) (string, error)
}

// SandboxModule is the contract a sandboxed plugin's constructor must
// return.
type SandboxModule interface {
	Start(hostFns HostFunctions) error
	Handle(function, input string) (string, error)
	Stop() error
}

type loadedPlugin struct {
	module      SandboxModule
	handle      *plugin.Plugin
	permissions verify.PluginPermissions
	path        string
	crashCount  int
	failed      bool
}

// LoadPlugin runs the two plugin verification gates, opens the module,
// and starts it with a permission-checked HostFunctions set.
func (h *Host) LoadPlugin(ctx context.Context, name string, resolvePath func(entryPath string) string) error {
	entry, err := h.pipeline.VerifyPlugin(name)
	if err != nil {
		return err
	}

	path := entry.Path
	if resolvePath != nil {
		path = resolvePath(entry.Path)
	}

	module, handle, err := h.openPlugin(path)
	if err != nil {
		return err
	}

	hostFns := h.buildHostFunctions(entry.Permissions)
	if err := module.Start(hostFns); err != nil {
		return fmt.Errorf("starting plugin %q: %w", name, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.plugins[name] = &loadedPlugin{module: module, handle: handle, permissions: entry.Permissions, path: path}
	return nil
}

func (h *Host) openPlugin(path string) (SandboxModule, *plugin.Plugin, error) {
	lib, err := plugin.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening plugin at %q: %w", path, err)
	}
	sym, err := lib.Lookup(sandboxConstructorSymbol)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving plugin constructor: %w", err)
	}
	constructor, ok := sym.(func() SandboxModule)
	if !ok {
		return nil, nil, fmt.Errorf("plugin constructor has unexpected signature")
	}
	return constructor(), lib, nil
}

// buildHostFunctions wraps the Filesystem Guard and a plugin's
// permissions record around the fixed host-function set, per spec.md
// §4.5.
func (h *Host) buildHostFunctions(perms verify.PluginPermissions) HostFunctions {
	return HostFunctions{
		ReadFile: func(path string) (string, error) {
			if _, err := h.guard.Validate(path); err != nil {
				return "", err
			}
			if !pathAllowedByPermissions(path, perms) {
				return "", fmt.Errorf("path %q not permitted for this plugin", path)
			}
			return "", fmt.Errorf("read_file host function not wired to a concrete filesystem in this build")
		},
		WriteFile: func(path, content string) error {
			if err := h.guard.ValidateForCreate(path); err != nil {
				return err
			}
			if !pathAllowedByPermissions(path, perms) {
				return fmt.Errorf("path %q not permitted for this plugin", path)
			}
			if int64(len(content)) > perms.MaxFileSizeBytes && perms.MaxFileSizeBytes > 0 {
				return fmt.Errorf("content exceeds plugin's max file size")
			}
			return fmt.Errorf("write_file host function not wired to a concrete filesystem in this build")
		},
		ListDirectory: func(path string) ([]string, error) {
			if _, err := h.guard.Validate(path); err != nil {
				return nil, err
			}
			if !pathAllowedByPermissions(path, perms) {
				return nil, fmt.Errorf("path %q not permitted for this plugin", path)
			}
			return nil, fmt.Errorf("list_directory host function not wired to a concrete filesystem in this build")
		},
		ExecGit: func(args []string) (string, error) {
			if !perms.AllowExecute {
				return "", fmt.Errorf("plugin is not permitted to execute commands")
			}
			for _, flag := range args {
				for _, denied := range perms.DeniedCommandFlags {
					if flag == denied {
						return "", fmt.Errorf("flag %q is denied for this plugin", flag)
					}
				}
			}
			return "", fmt.Errorf("exec_git host function not wired to a concrete executor in this build")
		},
	}
}

func pathAllowedByPermissions(path string, perms verify.PluginPermissions) bool {
	for _, denied := range perms.DeniedPathSubstr {
		if denied != "" && contains(path, denied) {
			return false
		}
	}
	if len(perms.AllowedPathPrefixes) == 0 {
		return true
	}
	for _, prefix := range perms.AllowedPathPrefixes {
		if hasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func contains(s, substr string) bool  { return indexOf(s, substr) >= 0 }
func hasPrefix(s, prefix string) bool { return len(s) >= len(prefix) && s[:len(prefix)] == prefix }

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// CallPlugin dispatches function/input to the named plugin, applying
// spec.md §4.5's crash-handling policy: on failure, increment
// crash_count; below the threshold, reload from disk (preserving the
// counter) and retry once; at or above the threshold the plugin is
// permanently failed and further calls fail immediately without
// retrying.
func (h *Host) CallPlugin(ctx context.Context, name, function, input string) (string, error) {
	h.mu.Lock()
	loaded, ok := h.plugins[name]
	if !ok {
		h.mu.Unlock()
		return "", errs.New(errs.KindToolNotLoaded, fmt.Sprintf("plugin %q is not loaded", name))
	}
	if loaded.failed {
		h.mu.Unlock()
		return "", errs.New(errs.KindPluginCrashed, fmt.Sprintf("plugin %q is disabled after repeated crashes", name))
	}
	h.mu.Unlock()

	output, err := loaded.module.Handle(function, input)
	if err == nil {
		h.mu.Lock()
		loaded.crashCount = 0
		h.mu.Unlock()
		return output, nil
	}

	h.mu.Lock()
	loaded.crashCount++
	crashed := loaded.crashCount
	h.mu.Unlock()

	h.publishCrash(name, err)

	if crashed >= maxCrashesBeforeFailed {
		h.mu.Lock()
		loaded.failed = true
		h.mu.Unlock()
		return "", errs.Wrap(errs.KindPluginCrashed, fmt.Sprintf("plugin %q failed permanently after %d crashes", name, crashed), err)
	}

	if reloadErr := h.reloadPlugin(name); reloadErr != nil {
		return "", fmt.Errorf("reloading plugin %q after crash: %w", name, reloadErr)
	}

	h.mu.Lock()
	reloaded, ok := h.plugins[name]
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("plugin %q missing after reload", name)
	}

	retryOutput, retryErr := reloaded.module.Handle(function, input)
	if retryErr != nil {
		return "", fmt.Errorf("plugin %q retry after reload also failed: %w", name, retryErr)
	}
	return retryOutput, nil
}

func (h *Host) reloadPlugin(name string) error {
	h.mu.Lock()
	loaded, ok := h.plugins[name]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("plugin %q not found for reload", name)
	}
	preservedCrashCount := loaded.crashCount
	path := loaded.path
	perms := loaded.permissions
	h.mu.Unlock()

	module, handle, err := h.openPlugin(path)
	if err != nil {
		return err
	}
	if err := module.Start(h.buildHostFunctions(perms)); err != nil {
		return fmt.Errorf("starting reloaded plugin %q: %w", name, err)
	}

	h.mu.Lock()
	h.plugins[name] = &loadedPlugin{module: module, handle: handle, permissions: perms, path: path, crashCount: preservedCrashCount}
	h.mu.Unlock()
	return nil
}

// RestartPlugin is the manual-restart operation: resets crash_count to
// 0 and clears the failed flag, per spec.md §4.5.
func (h *Host) RestartPlugin(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	loaded, ok := h.plugins[name]
	if !ok {
		return fmt.Errorf("plugin %q not loaded", name)
	}
	loaded.crashCount = 0
	loaded.failed = false
	return nil
}

func (h *Host) publishCrash(pluginID string, err error) {
	if h.bus == nil {
		return
	}
	h.bus.PublishPluginCrashed(pluginID, err)
}

// UnloadPlugin stops and drops a single plugin.
func (h *Host) UnloadPlugin(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unloadPluginLocked(name)
}

func (h *Host) unloadPluginLocked(name string) {
	loaded, ok := h.plugins[name]
	if !ok {
		return
	}
	if err := loaded.module.Stop(); err != nil {
		h.logger.Warn("plugin stop failed", "name", name, "error", err)
	}
	delete(h.plugins, name)
}
