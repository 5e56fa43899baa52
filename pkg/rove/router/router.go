package router

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/model"
)

const (
	localCallTimeout  = 120 * time.Second
	remoteCallTimeout = 30 * time.Second
)

// Config tunes the ranking thresholds from spec.md §4.2.
type Config struct {
	DefaultProvider      string
	SensitivityThreshold float64
	ComplexityThreshold  float64
	TokenThreshold       int
}

// Router ranks and fails over across a fixed set of providers.
type Router struct {
	cfg       Config
	providers []Provider
	logger    *slog.Logger
}

func New(cfg Config, providers []Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, providers: providers, logger: logger.With("component", "router")}
}

// HasLocalProvider reports whether any configured provider is local.
// The Agent Loop uses this to pick its own outer per-call deadline
// (300s when a local provider might serve the call, 30s otherwise),
// separate from the Router's internal 120s/30s per-attempt failover
// timeout.
func (r *Router) HasLocalProvider() bool {
	for _, p := range r.providers {
		if p.IsLocal() {
			return true
		}
	}
	return false
}

// scoredProvider pairs a provider with its rank score and original index,
// so the stable sort can fall back to insertion order on ties.
type scoredProvider struct {
	provider Provider
	score    float64
	index    int
}

// rank implements the spec.md §4.2 scoring formula and returns providers
// sorted highest-score-first, ties broken by original insertion order.
func (r *Router) rank(profile TaskProfile) []Provider {
	tokenThreshold := r.cfg.TokenThreshold
	if tokenThreshold <= 0 {
		tokenThreshold = 4000
	}
	scored := make([]scoredProvider, len(r.providers))
	for i, p := range r.providers {
		score := 0.0
		if p.Name() == r.cfg.DefaultProvider {
			score += 200
		}
		if profile.Sensitivity > r.cfg.SensitivityThreshold && p.IsLocal() {
			score += 100
		}
		if profile.Complexity > r.cfg.ComplexityThreshold && !p.IsLocal() {
			score += 100
		}
		if profile.EstimatedTokens > tokenThreshold && !p.IsLocal() {
			score += 50
		}
		score -= 1000 * p.CostPer1k(profile.EstimatedTokens) * (float64(profile.EstimatedTokens) / 1000)
		scored[i] = scoredProvider{provider: p, score: score, index: i}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := make([]Provider, len(scored))
	for i, s := range scored {
		out[i] = s.provider
	}
	return out
}

// Call ranks providers for the current message history and attempts each
// in order under a per-call timeout, failing over on any error or
// timeout. Returns the successful result along with the name of the
// provider that actually served it.
func (r *Router) Call(ctx context.Context, messages []model.Message) (*GenerateResult, string, error) {
	profile := ComputeProfile(messages)
	ranked := r.rank(profile)

	for _, p := range ranked {
		timeout := remoteCallTimeout
		if p.IsLocal() {
			timeout = localCallTimeout
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := p.Generate(callCtx, messages)
		cancel()

		if err != nil {
			if callCtx.Err() != nil {
				r.logger.Warn("provider call timed out", "provider", p.Name(), "error", err)
			} else {
				r.logger.Warn("provider call failed", "provider", p.Name(), "error", err)
			}
			continue
		}
		return result, p.Name(), nil
	}

	return nil, "", errs.New(errs.KindAllProvidersExhausted, "every ranked provider failed or timed out")
}
