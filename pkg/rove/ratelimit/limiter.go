// Package ratelimit implements the per-source sliding-window rate limiter
// and circuit breaker from spec.md §4.3. The window itself is an
// append-only log in the Task Store's rate_limits table; so is the
// breaker's tripped state, following the same tier=-1 sentinel-row
// design as _examples/original_source/engine/src/rate_limiter/mod.rs —
// this keeps both committed by the same process that holds the Task
// Store connection, observable and resettable across OS processes.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/risk"
)

// breakerTier is the sentinel tier value a tripped circuit breaker is
// recorded under, per spec.md §3's "tier value -1 is reserved to mark a
// circuit-breaker trip".
const breakerTier = -1

// store is the subset of *store.Store the limiter depends on; declared
// as an interface here so tests can supply an in-memory fake without
// standing up a real SQLite file.
type store interface {
	RecordRateLimitEntry(ctx context.Context, source string, tier int, at time.Time) error
	CountRateLimitEntries(ctx context.Context, source string, tier int, sinceMs int64) (int, error)
	GCRateLimitEntries(ctx context.Context, olderThanMs int64) error
	ClearBreakerEntries(ctx context.Context, source string) error
}

// Config mirrors config.RateLimitConfig; kept as a separate type so this
// package does not import the config package directly.
type Config struct {
	Tier1Limit        int
	Tier1WindowMs     int
	Tier2Limit        int
	Tier2WindowMs     int
	BreakerThreshold  int
	BreakerWindowMs   int
	BreakerCooldownMs int
	EntryRetentionMs  int
}

// Limiter enforces spec.md §4.3's sliding windows and circuit breaker.
type Limiter struct {
	cfg    Config
	store  store
	logger *slog.Logger
}

func New(cfg Config, st store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		cfg:    cfg,
		store:  st,
		logger: logger.With("component", "ratelimit"),
	}
}

func (l *Limiter) limitsFor(tier risk.Tier) (limit int, windowMs int) {
	if tier == risk.Tier2 {
		return l.cfg.Tier2Limit, l.cfg.Tier2WindowMs
	}
	return l.cfg.Tier1Limit, l.cfg.Tier1WindowMs
}

// Check verifies source is within its window for tier and the breaker is
// not tripped, evaluates the Tier-2 circuit-breaker rule, then records
// the call. Tier0 operations are never rate limited per spec.md §4.3.
func (l *Limiter) Check(ctx context.Context, source string, tier risk.Tier) error {
	if tier == risk.Tier0 {
		return nil
	}

	now := time.Now()

	tripped, err := l.breakerTripped(ctx, source, now)
	if err != nil {
		return err
	}
	if tripped {
		return errs.New(errs.KindCircuitBreakerTripped,
			fmt.Sprintf("circuit breaker for %s is open", source))
	}

	limit, windowMs := l.limitsFor(tier)
	since := now.Add(-time.Duration(windowMs) * time.Millisecond).UnixMilli()

	count, err := l.store.CountRateLimitEntries(ctx, source, int(tier), since)
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if count >= limit {
		return errs.New(errs.KindRateLimitExceeded,
			fmt.Sprintf("%s exceeded tier-%d limit: %d calls observed, limit %d per %dms window", source, tier, count, limit, windowMs))
	}

	// Circuit breaker rule: independent of the Tier2Limit/Tier2WindowMs
	// check above, spec.md §4.3 trips the breaker once 5 Tier-2
	// operations land inside a separate, shorter 60s window. This counts
	// the operation about to be recorded, so the 5th Tier-2 call in the
	// window is the one that trips and is denied.
	if tier == risk.Tier2 {
		breakerSince := now.Add(-time.Duration(l.cfg.BreakerWindowMs) * time.Millisecond).UnixMilli()
		recent, err := l.store.CountRateLimitEntries(ctx, source, int(risk.Tier2), breakerSince)
		if err != nil {
			return fmt.Errorf("checking circuit breaker window: %w", err)
		}
		if recent+1 >= l.cfg.BreakerThreshold {
			if err := l.store.RecordRateLimitEntry(ctx, source, breakerTier, now); err != nil {
				l.logger.Warn("failed to persist circuit breaker trip", "source", source, "error", err)
			}
			l.logger.Warn("circuit breaker tripped", "source", source, "operations", recent+1)
			return errs.New(errs.KindCircuitBreakerTripped,
				fmt.Sprintf("circuit breaker tripped for %s: %d tier-2 operations within %dms", source, recent+1, l.cfg.BreakerWindowMs))
		}
	}

	if err := l.store.RecordRateLimitEntry(ctx, source, int(tier), now); err != nil {
		return fmt.Errorf("recording rate limit entry: %w", err)
	}

	retainBefore := now.Add(-time.Duration(l.cfg.EntryRetentionMs) * time.Millisecond).UnixMilli()
	if err := l.store.GCRateLimitEntries(ctx, retainBefore); err != nil {
		l.logger.Warn("rate limit gc failed", "error", err)
	}

	return nil
}

// breakerTripped reports whether a circuit-breaker sentinel row (tier
// -1) was recorded for source within the last BreakerCooldownMs — the
// 300s window spec.md §4.3 specifies.
func (l *Limiter) breakerTripped(ctx context.Context, source string, now time.Time) (bool, error) {
	since := now.Add(-time.Duration(l.cfg.BreakerCooldownMs) * time.Millisecond).UnixMilli()
	count, err := l.store.CountRateLimitEntries(ctx, source, breakerTier, since)
	if err != nil {
		return false, fmt.Errorf("checking circuit breaker state: %w", err)
	}
	return count > 0, nil
}

// ResetBreaker clears the persisted circuit-breaker sentinel for source,
// used by the `rove reset-breaker` CLI surface. Because the trip itself
// lives in the shared Task Store rather than this process's memory, a
// reset issued from a separate CLI invocation takes effect against a
// running daemon immediately, per spec.md §4.3's "manual reset clears
// breaker entries for the source".
func (l *Limiter) ResetBreaker(ctx context.Context, source string) error {
	return l.store.ClearBreakerEntries(ctx, source)
}
