// Package agent implements the Agent Loop from spec.md §4.1: the
// think/act/observe iteration that drives one task from input to
// answer. Its turn structure (per-call timeout,
// tool-call dispatch-and-append, compaction under working-memory
// pressure) is grounded on the teacher's pkg/goclaw/copilot/agent.go
// AgentRun.Run/RunWithUsage loop.
package agent

import "sort"

// SteeringDirective is an operator-supplied instruction layered into the
// system prompt after the tool registry's schema description. This
// supplements spec.md's system-prompt composition with the steering
// concept from original_source/engine/src/agent/steering.rs, which the
// distilled spec.md mentions only as "any active steering directives"
// without defining their shape.
type SteeringDirective struct {
	Text     string
	Priority int // lower runs first, mirroring the teacher's PromptLayer ordering
}

// SteeringStore holds the directives active for one daemon instance.
// It is intentionally process-wide rather than per-task: directives are
// operator policy, not conversation state.
type SteeringStore struct {
	directives []SteeringDirective
}

func NewSteeringStore() *SteeringStore {
	return &SteeringStore{}
}

func (s *SteeringStore) Add(d SteeringDirective) {
	s.directives = append(s.directives, d)
}

// Ordered returns the active directives' text, sorted by Priority
// ascending, stable on ties.
func (s *SteeringStore) Ordered() []string {
	sorted := make([]SteeringDirective, len(s.directives))
	copy(sorted, s.directives)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	out := make([]string, len(sorted))
	for i, d := range sorted {
		out[i] = d.Text
	}
	return out
}
