package agent

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ovrishq/rove/pkg/rove/bus"
	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/ovrishq/rove/pkg/rove/ratelimit"
	"github.com/ovrishq/rove/pkg/rove/risk"
	"github.com/ovrishq/rove/pkg/rove/router"
	"github.com/ovrishq/rove/pkg/rove/sanitizer"
	"github.com/ovrishq/rove/pkg/rove/toolregistry"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[string]*model.Task
	steps map[string][]*model.TaskStep
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*model.Task), steps: make(map[string][]*model.TaskStep)}
}

func (m *memStore) InsertTask(_ context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.ID] = t
	return nil
}

func (m *memStore) UpdateTaskStatus(_ context.Context, taskID string, status model.TaskStatus, providerUsed string, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[taskID].Status = status
	m.tasks[taskID].ProviderUsed = providerUsed
	return nil
}

func (m *memStore) NextStepOrder(_ context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps[taskID]), nil
}

func (m *memStore) AppendStep(_ context.Context, step *model.TaskStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[step.TaskID] = append(m.steps[step.TaskID], step)
	return nil
}

type fakeRateLimitStore struct{}

func (fakeRateLimitStore) RecordRateLimitEntry(context.Context, string, int, time.Time) error { return nil }
func (fakeRateLimitStore) CountRateLimitEntries(context.Context, string, int, int64) (int, error) {
	return 0, nil
}
func (fakeRateLimitStore) GCRateLimitEntries(context.Context, int64) error        { return nil }
func (fakeRateLimitStore) ClearBreakerEntries(context.Context, string) error      { return nil }

type scriptedProvider struct {
	name  string
	calls int
	steps []*router.GenerateResult
}

func (p *scriptedProvider) Name() string                 { return p.name }
func (p *scriptedProvider) IsLocal() bool                 { return true }
func (p *scriptedProvider) CostPer1k(int) float64         { return 0 }
func (p *scriptedProvider) Health(context.Context) bool   { return true }
func (p *scriptedProvider) Generate(context.Context, []model.Message) (*router.GenerateResult, error) {
	result := p.steps[p.calls]
	p.calls++
	return result, nil
}

func buildLoop(t *testing.T, provider *scriptedProvider) (*Loop, *memStore) {
	t.Helper()
	st := newMemStore()
	classifier := risk.NewClassifier()
	limiter := ratelimit.New(ratelimit.Config{
		Tier1Limit: 1000, Tier1WindowMs: int(time.Hour / time.Millisecond),
		Tier2Limit: 1000, Tier2WindowMs: int(time.Hour / time.Millisecond),
		BreakerThreshold: 1000, BreakerWindowMs: int(time.Minute / time.Millisecond),
		BreakerCooldownMs: int(time.Minute / time.Millisecond), EntryRetentionMs: int(time.Hour / time.Millisecond),
	}, fakeRateLimitStore{}, nil)
	rt := router.New(router.Config{DefaultProvider: provider.name}, []router.Provider{provider}, nil)
	registry := toolregistry.NewRegistry()
	registry.Register(toolregistry.NewTool("read_file", "reads a file", func(ctx context.Context, args map[string]any) (string, error) {
		return "file contents", nil
	}))
	san := sanitizer.New(nil)
	steering := NewSteeringStore()
	eventBus := bus.New(nil)

	loop := New(DefaultConfig(), st, classifier, limiter, rt, registry, san, steering, eventBus, nil)
	return loop, st
}

func TestLoop_FinalAnswerOnFirstIteration(t *testing.T) {
	provider := &scriptedProvider{name: "local", steps: []*router.GenerateResult{
		{FinalAnswer: &router.FinalAnswer{Content: "42"}},
	}}
	loop, st := buildLoop(t, provider)

	result, err := loop.ProcessTask(context.Background(), "what is the answer", model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, "42", result.Answer)
	require.Equal(t, 1, result.Iterations)

	require.Equal(t, model.TaskCompleted, st.tasks[result.TaskID].Status)
	steps := st.steps[result.TaskID]
	require.Len(t, steps, 2) // user_message, assistant_message
	require.Equal(t, model.StepUserMessage, steps[0].Kind)
	require.Equal(t, model.StepAssistantMessage, steps[1].Kind)
}

func TestLoop_ToolCallThenFinalAnswer(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"path": "a.txt"})
	provider := &scriptedProvider{name: "local", steps: []*router.GenerateResult{
		{ToolCall: &model.ToolCall{ID: "c1", Name: "read_file", Arguments: string(args)}},
		{FinalAnswer: &router.FinalAnswer{Content: "done"}},
	}}
	loop, st := buildLoop(t, provider)

	result, err := loop.ProcessTask(context.Background(), "read a.txt", model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, "done", result.Answer)
	require.Equal(t, 2, result.Iterations)

	steps := st.steps[result.TaskID]
	require.Len(t, steps, 4)
	require.Equal(t, model.StepUserMessage, steps[0].Kind)
	require.Equal(t, model.StepToolCall, steps[1].Kind)
	require.Equal(t, model.StepToolResult, steps[2].Kind)
	require.Equal(t, model.StepAssistantMessage, steps[3].Kind)
	require.Equal(t, 0, steps[0].StepOrder)
	require.Equal(t, 1, steps[1].StepOrder)
	require.Equal(t, 2, steps[2].StepOrder)
	require.Equal(t, 3, steps[3].StepOrder)
}

type fakeLifecycle struct {
	shuttingDown bool
	began, ended int
}

func (f *fakeLifecycle) BeginTask() bool {
	if f.shuttingDown {
		return false
	}
	f.began++
	return true
}

func (f *fakeLifecycle) EndTask() { f.ended++ }

func TestLoop_ProcessTaskRegistersWithLifecycle(t *testing.T) {
	provider := &scriptedProvider{name: "local", steps: []*router.GenerateResult{
		{FinalAnswer: &router.FinalAnswer{Content: "42"}},
	}}
	loop, _ := buildLoop(t, provider)
	life := &fakeLifecycle{}
	loop.AttachLifecycle(life)

	_, err := loop.ProcessTask(context.Background(), "what is the answer", model.SourceLocal)
	require.NoError(t, err)
	require.Equal(t, 1, life.began)
	require.Equal(t, 1, life.ended)
}

func TestLoop_ProcessTaskRejectedWhileShuttingDown(t *testing.T) {
	provider := &scriptedProvider{name: "local", steps: []*router.GenerateResult{
		{FinalAnswer: &router.FinalAnswer{Content: "42"}},
	}}
	loop, st := buildLoop(t, provider)
	life := &fakeLifecycle{shuttingDown: true}
	loop.AttachLifecycle(life)

	_, err := loop.ProcessTask(context.Background(), "what is the answer", model.SourceLocal)
	require.Error(t, err)
	require.Equal(t, 0, life.began)
	require.Equal(t, 0, life.ended)
	require.Empty(t, st.tasks)
}

type refusingGate struct{ prompted int }

func (g *refusingGate) Confirm(string) (bool, error) {
	g.prompted++
	return false, nil
}

func TestLoop_Tier2ToolCallDeniedByConfirmGate(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"path": "a.txt"})
	provider := &scriptedProvider{name: "local", steps: []*router.GenerateResult{
		{ToolCall: &model.ToolCall{ID: "c1", Name: "delete_file", Arguments: string(args)}},
	}}
	loop, st := buildLoop(t, provider)
	loop.registry.Register(toolregistry.NewTool("delete_file", "deletes a file", func(ctx context.Context, args map[string]any) (string, error) {
		return "deleted", nil
	}))
	gate := &refusingGate{}
	loop.AttachConfirmGate(gate)

	_, err := loop.ProcessTask(context.Background(), "delete a.txt", model.SourceLocal)
	require.Error(t, err)
	require.Equal(t, 1, gate.prompted)

	require.Len(t, st.tasks, 1)
	for _, task := range st.tasks {
		require.Equal(t, model.TaskFailed, task.Status)
	}
}

func TestLoop_MaxIterationsExceeded(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"path": "a.txt"})
	steps := make([]*router.GenerateResult, 0, 21)
	for i := 0; i < 21; i++ {
		steps = append(steps, &router.GenerateResult{ToolCall: &model.ToolCall{ID: "c", Name: "read_file", Arguments: string(args)}})
	}
	provider := &scriptedProvider{name: "local", steps: steps}
	loop, _ := buildLoop(t, provider)

	_, err := loop.ProcessTask(context.Background(), "loop forever", model.SourceLocal)
	require.Error(t, err)
}
