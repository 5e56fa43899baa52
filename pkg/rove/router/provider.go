// Package router implements the LLM Router from spec.md §4.2: provider
// ranking by task profile, failover with per-call timeouts, and
// tool-call extraction from free-text model output. The provider
// capability contract and the Complete/HTTP-call shape it wraps follow
// the teacher's llm.go LLMClient, generalized from one OpenAI-compatible
// client into the spec's pluggable-capability interface so multiple
// concrete providers (OpenAI, Anthropic, Ollama, Gemini, NVIDIA NIM) can
// each implement it — those concrete clients are out of scope per
// spec.md §1's deliberate-out-of-scope list.
package router

import (
	"context"

	"github.com/ovrishq/rove/pkg/rove/model"
)

// FinalAnswer is a provider's completed response, as opposed to a
// request to invoke a tool.
type FinalAnswer struct {
	Content string
}

// GenerateResult is exactly one of ToolCall or FinalAnswer.
type GenerateResult struct {
	ToolCall    *model.ToolCall
	FinalAnswer *FinalAnswer
}

// Provider is the capability contract spec.md §4.2 requires of every
// LLM backend: name, locality, per-1k-token cost, generation, and a
// liveness probe.
type Provider interface {
	Name() string
	IsLocal() bool
	CostPer1k(tokens int) float64
	Generate(ctx context.Context, messages []model.Message) (*GenerateResult, error)
	Health(ctx context.Context) bool
}
