package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ovrishq/rove/pkg/rove/bus"
	"github.com/ovrishq/rove/pkg/rove/errs"
	"github.com/ovrishq/rove/pkg/rove/metrics"
	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/ovrishq/rove/pkg/rove/ratelimit"
	"github.com/ovrishq/rove/pkg/rove/risk"
	"github.com/ovrishq/rove/pkg/rove/router"
	"github.com/ovrishq/rove/pkg/rove/sanitizer"
	"github.com/ovrishq/rove/pkg/rove/toolregistry"
)

// confirmGate is the subset of *confirm.Gate the loop depends on, kept
// as an interface so tests can stub it without a TTY.
type confirmGate interface {
	Confirm(description string) (bool, error)
}

// lifecycleGate is the subset of *daemon.Lifecycle the loop depends on,
// kept as an interface to avoid agent importing daemon directly.
type lifecycleGate interface {
	BeginTask() bool
	EndTask()
}

const maxResultBytesDefault = 5 * 1024 * 1024

const (
	localLoopCallTimeout  = 300 * time.Second
	remoteLoopCallTimeout = 30 * time.Second
)

// taskStore is the subset of *store.Store the Agent Loop depends on.
type taskStore interface {
	InsertTask(ctx context.Context, task *model.Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus, providerUsed string, durationMs int64) error
	NextStepOrder(ctx context.Context, taskID string) (int, error)
	AppendStep(ctx context.Context, step *model.TaskStep) error
}

// Config tunes the loop's bounds, per spec.md §4.1.
type Config struct {
	MaxIterations       int
	MaxResultBytes      int
	WorkingMemoryBudget int
}

func DefaultConfig() Config {
	return Config{MaxIterations: 20, MaxResultBytes: maxResultBytesDefault, WorkingMemoryBudget: 8000}
}

// Loop drives one task at a time through the think/act/observe cycle.
type Loop struct {
	cfg        Config
	store      taskStore
	classifier *risk.Classifier
	limiter    *ratelimit.Limiter
	router     *router.Router
	registry   *toolregistry.Registry
	sanitizer  *sanitizer.Sanitizer
	steering   *SteeringStore
	bus        *bus.Bus
	metrics    *metrics.Collector
	confirm    confirmGate
	lifecycle  lifecycleGate
	logger     *slog.Logger
}

// AttachMetrics wires a Collector into the loop so every ProcessTask
// call records a completion and duration sample. Optional: a Loop with
// no Collector attached simply skips recording.
func (l *Loop) AttachMetrics(c *metrics.Collector) {
	l.metrics = c
}

// AttachConfirmGate wires the Tier-2 confirmation prompt into the loop
// (spec.md §1's "above a threshold requires explicit confirmation").
// Optional: with no gate attached, Tier-2 tool calls are still
// classified and rate-limited but never prompt.
func (l *Loop) AttachConfirmGate(g confirmGate) {
	l.confirm = g
}

// AttachLifecycle wires the Daemon Lifecycle into the loop so every
// ProcessTask call registers itself as in-flight work for spec.md §4.8's
// graceful shutdown ordering, and rejects new submissions once shutdown
// has begun. Optional: with none attached, ProcessTask runs unguarded.
func (l *Loop) AttachLifecycle(life lifecycleGate) {
	l.lifecycle = life
}

func New(
	cfg Config,
	st taskStore,
	classifier *risk.Classifier,
	limiter *ratelimit.Limiter,
	rt *router.Router,
	registry *toolregistry.Registry,
	san *sanitizer.Sanitizer,
	steering *SteeringStore,
	eventBus *bus.Bus,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations == 0 {
		cfg = DefaultConfig()
	}
	return &Loop{
		cfg: cfg, store: st, classifier: classifier, limiter: limiter,
		router: rt, registry: registry, sanitizer: san, steering: steering,
		bus: eventBus, logger: logger.With("component", "agent"),
	}
}

// ProcessTask implements spec.md §4.1's process_task operation.
func (l *Loop) ProcessTask(ctx context.Context, input string, source model.Source) (*model.TaskResult, error) {
	start := time.Now()
	taskID := uuid.NewString()

	tier, err := l.classifier.Classify("execute_task", nil, source)
	if err != nil {
		return nil, fmt.Errorf("classifying task: %w", err)
	}

	if err := l.limiter.Check(ctx, string(source), tier); err != nil {
		return nil, err
	}

	if l.lifecycle != nil && !l.lifecycle.BeginTask() {
		return nil, errs.New(errs.KindDaemonShuttingDown, "daemon is shutting down, new tasks are not accepted")
	}
	if l.lifecycle != nil {
		defer l.lifecycle.EndTask()
	}

	task := &model.Task{ID: taskID, Input: input, Status: model.TaskPending, CreatedAt: start}
	if err := l.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	if err := l.store.UpdateTaskStatus(ctx, taskID, model.TaskRunning, "", 0); err != nil {
		return nil, fmt.Errorf("transitioning task to running: %w", err)
	}

	result, err := l.runInnerLoop(ctx, taskID, input, source)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		if updateErr := l.store.UpdateTaskStatus(ctx, taskID, model.TaskFailed, "", durationMs); updateErr != nil {
			l.logger.Error("failed to mark task failed", "task_id", taskID, "error", updateErr)
		}
		if l.bus != nil {
			l.bus.Publish(bus.Event{Kind: bus.EventTaskProgress, Payload: fmt.Sprintf("task %s failed: %v", taskID, err)})
		}
		if l.metrics != nil {
			l.metrics.RecordTaskCompletion(string(model.TaskFailed), "", float64(durationMs)/1000, 0)
		}
		return nil, err
	}

	if updateErr := l.store.UpdateTaskStatus(ctx, taskID, model.TaskCompleted, result.Provider, durationMs); updateErr != nil {
		l.logger.Error("failed to mark task completed", "task_id", taskID, "error", updateErr)
	}
	if l.metrics != nil {
		l.metrics.RecordTaskCompletion(string(model.TaskCompleted), result.Provider, float64(durationMs)/1000, result.Iterations)
	}

	result.TaskID = taskID
	result.DurationMs = durationMs
	return result, nil
}

// runInnerLoop implements spec.md §4.1's inner-loop algorithm steps 4-6.
func (l *Loop) runInnerLoop(ctx context.Context, taskID, input string, source model.Source) (*model.TaskResult, error) {
	memory := model.NewWorkingMemory(l.cfg.WorkingMemoryBudget)
	memory.Add(model.Message{Role: model.RoleSystem, Content: composeSystemPrompt(l.registry, l.steering)})
	memory.Add(model.Message{Role: model.RoleUser, Content: input})

	if err := l.persistStep(ctx, taskID, model.StepUserMessage, input); err != nil {
		return nil, err
	}

	callTimeout := remoteLoopCallTimeout
	if l.router.HasLocalProvider() {
		callTimeout = localLoopCallTimeout
	}

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		result, provider, err := l.router.Call(callCtx, memory.Messages())
		cancel()

		if err != nil {
			if callCtx.Err() != nil {
				return nil, errs.Wrap(errs.KindLLMTimeout, "router call timed out", err)
			}
			if kind, ok := errs.KindOf(err); ok && kind == errs.KindAllProvidersExhausted {
				return nil, err
			}
			return nil, fmt.Errorf("router call failed: %w", err)
		}

		if result.ToolCall != nil {
			answer, done, err := l.handleToolCall(ctx, taskID, iteration, memory, result.ToolCall, source)
			if err != nil {
				return nil, err
			}
			if done {
				return &model.TaskResult{Answer: answer, Provider: provider, Iterations: iteration}, nil
			}
			continue
		}

		if result.FinalAnswer != nil {
			if len(result.FinalAnswer.Content) > l.cfg.MaxResultBytes {
				return nil, errs.New(errs.KindResultSizeExceeded, "final answer exceeds maximum result size")
			}
			if err := l.persistStep(ctx, taskID, model.StepAssistantMessage, result.FinalAnswer.Content); err != nil {
				return nil, err
			}
			return &model.TaskResult{Answer: result.FinalAnswer.Content, Provider: provider, Iterations: iteration}, nil
		}
	}

	return nil, errs.New(errs.KindMaxIterationsExceeded, fmt.Sprintf("exhausted %d iterations without a final answer", l.cfg.MaxIterations))
}

// handleToolCall executes spec.md §4.1 step 5b. The bool return is
// always false — tool calls never end a task directly.
func (l *Loop) handleToolCall(ctx context.Context, taskID string, iteration int, memory *model.WorkingMemory, call *model.ToolCall, source model.Source) (string, bool, error) {
	serialized, err := json.Marshal(call)
	if err != nil {
		return "", false, fmt.Errorf("serialising tool call: %w", err)
	}
	if err := l.persistStep(ctx, taskID, model.StepToolCall, string(serialized)); err != nil {
		return "", false, err
	}

	memory.Add(model.Message{
		Role:      model.RoleAssistant,
		Content:   fmt.Sprintf("calling %s", call.Name),
		ToolCalls: []model.ToolCall{*call},
	})

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", false, fmt.Errorf("parsing tool call arguments: %w", err)
		}
	}

	if err := l.gateToolCall(ctx, call.Name, args, source); err != nil {
		return "", false, err
	}

	raw, err := l.registry.Dispatch(ctx, call.Name, args)
	if err != nil {
		return "", false, fmt.Errorf("tool %q dispatch failed: %w", call.Name, err)
	}
	if len(raw) > l.cfg.MaxResultBytes {
		return "", false, errs.New(errs.KindResultSizeExceeded, fmt.Sprintf("result of %q exceeds maximum size", call.Name))
	}

	sanitized := raw
	if l.sanitizer != nil {
		sanitized = l.sanitizer.Sanitize(raw)
	}

	if err := l.persistStep(ctx, taskID, model.StepToolResult, sanitized); err != nil {
		return "", false, err
	}

	memory.Add(model.Message{Role: model.RoleTool, Content: sanitized, ToolCallID: call.ID})

	return "", false, nil
}

// gateToolCall classifies a dispatched tool call via the Risk Classifier,
// charges it against the Rate Limiter, and — for Tier-2 operations with a
// confirmation gate attached — blocks on operator approval, per spec.md
// §1's "every side effect is classified, rate-limited, and (above a
// threshold) requires explicit confirmation". This runs per tool call, in
// addition to (not instead of) the once-per-task execute_task check in
// ProcessTask. Tool names outside the fixed operation table (plugin tools
// with arbitrary names) are not classifiable and pass through unrated,
// rather than failing dispatch for a name the classifier was never told
// about.
func (l *Loop) gateToolCall(ctx context.Context, name string, args map[string]any, source model.Source) error {
	argValues := make([]string, 0, len(args))
	for _, v := range args {
		argValues = append(argValues, fmt.Sprintf("%v", v))
	}

	tier, err := l.classifier.Classify(name, argValues, source)
	if err != nil {
		return nil
	}
	if tier == risk.Tier0 {
		return nil
	}

	if tier == risk.Tier2 && l.confirm != nil {
		approved, err := l.confirm.Confirm(fmt.Sprintf("%s with arguments %v", name, args))
		if err != nil {
			return fmt.Errorf("confirmation prompt failed: %w", err)
		}
		if !approved {
			return errs.New(errs.KindConfirmationDenied, fmt.Sprintf("operator declined %q", name))
		}
	}

	if err := l.limiter.Check(ctx, string(source), tier); err != nil {
		return err
	}

	return nil
}

func (l *Loop) persistStep(ctx context.Context, taskID string, kind model.StepKind, content string) error {
	order, err := l.store.NextStepOrder(ctx, taskID)
	if err != nil {
		return fmt.Errorf("computing step order: %w", err)
	}
	step := &model.TaskStep{TaskID: taskID, StepOrder: order, Kind: kind, Content: content, CreatedAt: time.Now()}
	if err := l.store.AppendStep(ctx, step); err != nil {
		return fmt.Errorf("persisting step: %w", err)
	}
	return nil
}
