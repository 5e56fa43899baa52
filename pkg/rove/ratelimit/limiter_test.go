package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/risk"
	"github.com/stretchr/testify/require"
)

type fakeEntry struct {
	tier int
	at   time.Time
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string][]fakeEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string][]fakeEntry)}
}

func (f *fakeStore) RecordRateLimitEntry(_ context.Context, source string, tier int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[source] = append(f.entries[source], fakeEntry{tier: tier, at: at})
	return nil
}

func (f *fakeStore) CountRateLimitEntries(_ context.Context, source string, tier int, sinceMs int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries[source] {
		if e.tier == tier && e.at.UnixMilli() >= sinceMs {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) GCRateLimitEntries(_ context.Context, olderThanMs int64) error {
	return nil
}

func (f *fakeStore) ClearBreakerEntries(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.entries[source][:0]
	for _, e := range f.entries[source] {
		if e.tier != breakerTier {
			kept = append(kept, e)
		}
	}
	f.entries[source] = kept
	return nil
}

func testConfig() Config {
	return Config{
		Tier1Limit:        2,
		Tier1WindowMs:     int(time.Hour / time.Millisecond),
		Tier2Limit:        10,
		Tier2WindowMs:     int(time.Hour / time.Millisecond),
		BreakerThreshold:  5,
		BreakerWindowMs:   int(time.Minute / time.Millisecond),
		BreakerCooldownMs: int(5 * time.Minute / time.Millisecond),
		EntryRetentionMs:  int(time.Hour / time.Millisecond),
	}
}

func TestLimiter_Tier0NeverLimited(t *testing.T) {
	l := New(testConfig(), newFakeStore(), nil)
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Check(context.Background(), "local", risk.Tier0))
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	l := New(testConfig(), newFakeStore(), nil)
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "local", risk.Tier1))
	require.NoError(t, l.Check(ctx, "local", risk.Tier1))

	err := l.Check(ctx, "local", risk.Tier1)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindRateLimitExceeded, kind)
}

// TestLimiter_BreakerTripsOnFifthOperationWithinWindow exercises spec.md
// §8's boundary scenario directly: 5 Tier-2 requests from a clean source
// within the 60s breaker window, the 5th denied with the breaker tripped
// rather than a plain rate-limit denial.
func TestLimiter_BreakerTripsOnFifthOperationWithinWindow(t *testing.T) {
	l := New(testConfig(), newFakeStore(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Check(ctx, "remote", risk.Tier2), "operation %d should be allowed", i+1)
	}

	err := l.Check(ctx, "remote", risk.Tier2)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindCircuitBreakerTripped, kind)
}

func TestLimiter_BreakerStaysTrippedForSubsequentChecks(t *testing.T) {
	l := New(testConfig(), newFakeStore(), nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Check(ctx, "remote", risk.Tier2))
	}
	require.Error(t, l.Check(ctx, "remote", risk.Tier2))

	err := l.Check(ctx, "remote", risk.Tier2)
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	require.Equal(t, errs.KindCircuitBreakerTripped, kind)
}

// TestLimiter_ResetBreakerClearsTrippedStateAcrossInstances models the
// real deployment shape: `rove reset-breaker` runs in a separate OS
// process from `rove serve`, sharing only the Task Store file. A second
// Limiter instance over the same store stands in for that process.
func TestLimiter_ResetBreakerClearsTrippedStateAcrossInstances(t *testing.T) {
	st := newFakeStore()
	l := New(testConfig(), st, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Check(ctx, "remote", risk.Tier2))
	}
	require.Error(t, l.Check(ctx, "remote", risk.Tier2))

	tripped, err := l.breakerTripped(ctx, "remote", time.Now())
	require.NoError(t, err)
	require.True(t, tripped)

	other := New(testConfig(), st, nil)
	require.NoError(t, other.ResetBreaker(ctx, "remote"))

	tripped, err = l.breakerTripped(ctx, "remote", time.Now())
	require.NoError(t, err)
	require.False(t, tripped)

	// The 7th Tier-2 operation now succeeds, per spec.md §8 scenario 4.
	require.NoError(t, l.Check(ctx, "remote", risk.Tier2))
}
