// Package model holds the durable and in-memory data types shared across
// Rove's subsystems: tasks and their steps (durable, owned by the Task
// Store per SPEC_FULL.md), and messages/working memory (in-memory, owned
// by the Agent Loop for the duration of one task).
package model

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions only ever move
// pending -> running -> {completed, failed}; terminal states are
// permanent (spec.md §3).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Source identifies where an operation originated. Remote sources
// escalate risk tier by one (spec.md §4.3).
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Task is the durable record of one user request.
type Task struct {
	ID            string
	Input         string
	Status        TaskStatus
	ProviderUsed  string
	DurationMs    *int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// StepKind identifies the role a TaskStep plays in the conversation.
type StepKind string

const (
	StepUserMessage      StepKind = "user_message"
	StepAssistantMessage StepKind = "assistant_message"
	StepToolCall         StepKind = "tool_call"
	StepToolResult       StepKind = "tool_result"
)

// TaskStep is an append-only child record of a Task. StepOrder is assigned
// by the producer (the Agent Loop) and must be unique within a task;
// spec.md §8 requires the sequence to be strictly increasing and to start
// at 0 for the first user_message.
type TaskStep struct {
	ID        int64
	TaskID    string
	StepOrder int
	Kind      StepKind
	Content   string
	CreatedAt time.Time
}

// TaskResult is the success payload returned by the Agent Loop's
// process_task operation, and is also the wire shape of the
// submitter-facing success response (spec.md §6).
type TaskResult struct {
	TaskID     string `json:"task_id"`
	Answer     string `json:"answer"`
	Provider   string `json:"provider"`
	DurationMs int64  `json:"duration_ms"`
	Iterations int    `json:"iterations"`
}
