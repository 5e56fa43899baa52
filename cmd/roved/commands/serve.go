package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ovrishq/rove/pkg/rove/agent"
	"github.com/ovrishq/rove/pkg/rove/bus"
	"github.com/ovrishq/rove/pkg/rove/config"
	"github.com/ovrishq/rove/pkg/rove/confirm"
	"github.com/ovrishq/rove/pkg/rove/daemon"
	"github.com/ovrishq/rove/pkg/rove/extension"
	"github.com/ovrishq/rove/pkg/rove/fsguard"
	"github.com/ovrishq/rove/pkg/rove/metrics"
	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/ovrishq/rove/pkg/rove/ratelimit"
	"github.com/ovrishq/rove/pkg/rove/risk"
	"github.com/ovrishq/rove/pkg/rove/router"
	"github.com/ovrishq/rove/pkg/rove/sanitizer"
	"github.com/ovrishq/rove/pkg/rove/secrets"
	"github.com/ovrishq/rove/pkg/rove/store"
	"github.com/ovrishq/rove/pkg/rove/toolregistry"
	"github.com/ovrishq/rove/pkg/rove/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// newServeCmd creates the `rove serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Rove daemon",
		Long: `Start Rove as a long-running local agent daemon: opens the task
store, wires the LLM Router, Risk Classifier, Rate Limiter, Verification
Pipeline, and Extension Host, then accepts tasks until it receives a
shutdown signal.

Examples:
  rove serve
  rove serve --config ./rove.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Task Store ──
	st, err := store.Open(ctx, cfg.DataDir+"/rove.db", logger)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}

	// ── Filesystem Guard ──
	guard, err := fsguard.New(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("initializing filesystem guard: %w", err)
	}

	// ── Verification Pipeline + Extension Host ──
	manifestBytes, err := os.ReadFile(cfg.ManifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := verify.ParseManifest(manifestBytes)
	if err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}
	pipeline := verify.New(manifest, cfg.WorkspaceDir, !cfg.Production, runtime.GOOS, logger)

	eventBus := bus.New(logger)
	host := extension.New(pipeline, guard, eventBus, logger)

	// ── Risk Classifier, Rate Limiter, Router ──
	classifier := risk.NewClassifier()

	limiter := ratelimit.New(ratelimit.Config{
		Tier1Limit:        cfg.RateLimit.Tier1Limit,
		Tier1WindowMs:     cfg.RateLimit.Tier1WindowMs,
		Tier2Limit:        cfg.RateLimit.Tier2Limit,
		Tier2WindowMs:     cfg.RateLimit.Tier2WindowMs,
		BreakerThreshold:  cfg.RateLimit.BreakerThreshold,
		BreakerWindowMs:   cfg.RateLimit.BreakerWindowMs,
		BreakerCooldownMs: cfg.RateLimit.BreakerCooldownMs,
		EntryRetentionMs:  cfg.RateLimit.EntryRetentionMs,
	}, st, logger)

	resolver := secrets.NewResolver(logger)
	providers := make([]router.Provider, 0, len(cfg.Providers))
	var defaultProvider string
	for _, p := range cfg.Providers {
		key := resolver.Resolve(p.Name, p.APIKeyEnv, p.APIKey)
		providers = append(providers, router.NewHTTPProvider(p.Name, p.BaseURL, p.Model, key, p.IsLocal, p.CostPer1k))
		if p.IsDefault {
			defaultProvider = p.Name
		}
	}
	rt := router.New(router.Config{
		DefaultProvider:      defaultProvider,
		SensitivityThreshold: cfg.Router.SensitivityThreshold,
		ComplexityThreshold:  cfg.Router.ComplexityThreshold,
		TokenThreshold:       cfg.Router.TokenThreshold,
	}, providers, logger)

	// ── Tool Registry, Sanitiser, Steering, Agent Loop ──
	registry := toolregistry.NewRegistry()
	san := sanitizer.New(logger)
	steering := agent.NewSteeringStore()

	loop := agent.New(agent.Config{
		MaxIterations:       cfg.Agent.MaxIterations,
		MaxResultBytes:      cfg.Agent.MaxResultBytes,
		WorkingMemoryBudget: cfg.Agent.WorkingMemoryBudget,
	}, st, classifier, limiter, rt, registry, san, steering, eventBus, logger)
	loop.AttachConfirmGate(confirm.New())

	loadManifestEntries(ctx, host, manifest, cfg.WorkspaceDir, runtime.GOOS, loop, san, logger)

	// ── Metrics ──
	collector := metrics.New("rove", prometheus.DefaultRegisterer, logger)
	loop.AttachMetrics(collector)
	startMetricsServer(logger)

	// ── Daemon Lifecycle ──
	life := daemon.New(cfg.DataDir, st, host, logger)
	if err := life.AcquireSingleInstance(); err != nil {
		return err
	}
	loop.AttachLifecycle(life)

	if err := life.ScheduleHousekeeping("@every 5m", func() {
		gcRateLimitEntries(ctx, st, logger)
	}); err != nil {
		return fmt.Errorf("scheduling rate-limit gc: %w", err)
	}
	if err := life.ScheduleHousekeeping("@every 1h", func() {
		if err := st.Checkpoint(ctx); err != nil {
			logger.Warn("periodic wal checkpoint failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling wal checkpoint: %w", err)
	}
	life.Start()

	logger.Info("rove daemon running; submit tasks to proceed",
		"data_dir", cfg.DataDir,
		"workspace", cfg.WorkspaceDir,
		"providers", len(providers),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer shutdownCancel()
	return life.Shutdown(shutdownCtx)
}

// loadManifestEntries loads every manifest core tool whose platform tag
// matches runtimeGOOS, and every plugin (plugins carry no platform tag),
// through the Verification Pipeline the Extension Host already holds,
// skipping (and logging) core tools built for
// another OS/arch rather than failing the whole manifest — the
// platform-detection behavior recovered from original_source/engine/src/platform.
// Load failures (bad signature, hash mismatch) are logged and skipped:
// one untrusted entry must not keep the rest of the daemon from starting.
func loadManifestEntries(ctx context.Context, host *extension.Host, manifest *verify.Manifest, workspaceDir, runtimeGOOS string, loop *agent.Loop, san *sanitizer.Sanitizer, logger *slog.Logger) {
	resolvePath := func(entryPath string) string { return workspaceDir + "/" + entryPath }

	caps := extension.NativeCapabilities{
		SubmitTask: func(ctx context.Context, input string, source model.Source) (*model.TaskResult, error) {
			return loop.ProcessTask(ctx, input, source)
		},
		Scrub: san.Sanitize,
	}

	for _, tool := range manifest.CoreTools {
		if !verify.MatchesPlatform(tool.Platform, runtimeGOOS) {
			logger.Info("skipping native tool built for another platform", "name", tool.Name, "platform", tool.Platform)
			continue
		}
		if err := host.LoadNative(ctx, tool.Name, resolvePath, caps); err != nil {
			logger.Warn("native tool failed to load", "name", tool.Name, "error", err)
		}
	}

	for _, plugin := range manifest.Plugins {
		if err := host.LoadPlugin(ctx, plugin.Name, resolvePath); err != nil {
			logger.Warn("plugin failed to load", "name", plugin.Name, "error", err)
		}
	}
}

// startMetricsServer serves /metrics on localhost for scraping, matching
// the teacher's own fire-and-forget background goroutines started from
// runServe (the WhatsApp QR/connection watcher in assistant.go). Bind
// failures are logged, not fatal: metrics are diagnostic, not load-bearing.
func startMetricsServer(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe("127.0.0.1:9090", mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

// gcRateLimitEntries is the periodic housekeeping job that prunes expired
// rate-limit window entries, keeping the store's rate_limits table
// from growing unbounded (spec.md §4.8's housekeeping chores).
func gcRateLimitEntries(ctx context.Context, st *store.Store, logger *slog.Logger) {
	cutoff := time.Now().Add(-time.Hour).UnixMilli()
	if err := st.GCRateLimitEntries(ctx, cutoff); err != nil {
		logger.Warn("rate-limit gc failed", "error", err)
	}
}

// resolveConfig loads config from file or uses defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindFile(); found != "" {
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		slog.Info("config loaded", "path", found)
		return cfg, nil
	}

	slog.Info("no config file found, using defaults")
	return config.DefaultConfig(), nil
}
