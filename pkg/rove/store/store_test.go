package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rove.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_InsertAndGetTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "t1", Input: "do a thing", Status: model.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "do a thing", got.Input)
	require.Equal(t, model.TaskPending, got.Status)
}

func TestStore_UpdateTaskStatusSetsCompletion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "t2", Input: "x", Status: model.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, "t2", model.TaskCompleted, "openai", 1234))

	got, err := s.GetTask(ctx, "t2")
	require.NoError(t, err)
	require.Equal(t, model.TaskCompleted, got.Status)
	require.Equal(t, "openai", got.ProviderUsed)
	require.NotNil(t, got.DurationMs)
	require.Equal(t, int64(1234), *got.DurationMs)
	require.NotNil(t, got.CompletedAt)
}

func TestStore_UpdateTaskStatusLeavesCompletionNullForRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "t2b", Input: "x", Status: model.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task))
	require.NoError(t, s.UpdateTaskStatus(ctx, "t2b", model.TaskRunning, "", 0))

	got, err := s.GetTask(ctx, "t2b")
	require.NoError(t, err)
	require.Equal(t, model.TaskRunning, got.Status)
	require.Nil(t, got.CompletedAt)
	require.Nil(t, got.DurationMs)
}

func TestStore_StepOrderingIsStrictlyIncreasing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "t3", Input: "x", Status: model.TaskRunning, CreatedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task))

	for i := 0; i < 3; i++ {
		order, err := s.NextStepOrder(ctx, "t3")
		require.NoError(t, err)
		require.Equal(t, i, order)

		step := &model.TaskStep{TaskID: "t3", StepOrder: order, Kind: model.StepAssistantMessage, Content: "step", CreatedAt: time.Now()}
		require.NoError(t, s.AppendStep(ctx, step))
	}

	steps, err := s.ListSteps(ctx, "t3")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, st := range steps {
		require.Equal(t, i, st.StepOrder)
	}
}

func TestStore_CascadeDeletesStepsWithTask(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &model.Task{ID: "t4", Input: "x", Status: model.TaskRunning, CreatedAt: time.Now()}
	require.NoError(t, s.InsertTask(ctx, task))
	require.NoError(t, s.AppendStep(ctx, &model.TaskStep{TaskID: "t4", StepOrder: 0, Kind: model.StepUserMessage, Content: "hi", CreatedAt: time.Now()}))

	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, "t4")
	require.NoError(t, err)

	steps, err := s.ListSteps(ctx, "t4")
	require.NoError(t, err)
	require.Empty(t, steps)
}

func TestStore_RateLimitCountRespectsWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.RecordRateLimitEntry(ctx, "local", 1, now.Add(-2*time.Hour)))
	require.NoError(t, s.RecordRateLimitEntry(ctx, "local", 1, now))

	count, err := s.CountRateLimitEntries(ctx, "local", 1, now.Add(-time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStore_PluginCrashRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertPluginCrash(ctx, "weather", "1.0.0", 3, true))
	require.NoError(t, s.ResetPluginCrash(ctx, "weather"))
}
