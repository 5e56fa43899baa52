package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the service name used in the OS keyring, following the
// teacher's single-service-name convention from keyring.go.
const keyringService = "rove"

// Resolver resolves provider credentials through the priority chain
// described in spec.md §1 and SPEC_FULL.md §A: OS keyring, then
// environment variable, then a statically configured value. It is
// read-only from the daemon's perspective — Rove never writes secrets
// into a config file.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger.With("component", "secrets")}
}

// Resolve returns the secret for key, trying in order: OS keyring, the
// environment variable named envVar, then configValue. Returns "" if none
// of the sources had a value.
func (r *Resolver) Resolve(key, envVar, configValue string) string {
	if val, err := keyring.Get(keyringService, key); err == nil && val != "" {
		r.logger.Debug("secret resolved from OS keyring", "key", key)
		return val
	}

	if envVar != "" {
		if val := os.Getenv(envVar); val != "" {
			r.logger.Debug("secret resolved from environment", "key", key, "env_var", envVar)
			return val
		}
	}

	if configValue != "" && !isEnvReference(configValue) {
		r.logger.Debug("secret resolved from config", "key", key)
		return configValue
	}

	r.logger.Warn("no secret found", "key", key)
	return ""
}

// Store writes a secret to the OS keyring. This is the one write path
// Rove exposes, used by the operator-facing `rove config set-key`
// command — never called from inside the agent loop or any tool.
func (r *Resolver) Store(key, value string) error {
	if err := keyring.Set(keyringService, key, value); err != nil {
		return fmt.Errorf("storing secret in keyring: %w", err)
	}
	return nil
}

// DeleteStored removes key from the OS keyring.
func (r *Resolver) DeleteStored(key string) error {
	if err := keyring.Delete(keyringService, key); err != nil {
		return fmt.Errorf("deleting secret from keyring: %w", err)
	}
	return nil
}

// Available reports whether the OS keyring backend is reachable, by
// performing a throwaway set+delete cycle (mirrors keyring.go's
// KeyringAvailable check).
func (r *Resolver) Available() bool {
	const probeKey = "__rove_probe__"
	if err := keyring.Set(keyringService, probeKey, "probe"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, probeKey)
	return true
}

// isEnvReference reports whether a config value is an unexpanded
// "${VAR}"-style placeholder rather than a literal secret.
func isEnvReference(v string) bool {
	return strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}")
}
