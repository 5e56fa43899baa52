package router

import (
	"strings"

	"github.com/ovrishq/rove/pkg/rove/model"
)

// sensitivityKeywords is the fixed list from spec.md §4.2; each distinct
// occurrence in the joined lowercased content adds 0.2 to sensitivity,
// clamped to [0, 1].
var sensitivityKeywords = []string{
	"password", "credential", "secret", "token", "api_key",
	"private_key", "ssh", ".env", "ssn", "credit_card", "bank", "account",
}

// TaskProfile is computed once per Router.Call from the current message
// history, per spec.md §4.2.
type TaskProfile struct {
	Sensitivity     float64
	Complexity      float64
	EstimatedTokens int
}

// ComputeProfile implements the three spec.md §4.2 formulas.
func ComputeProfile(messages []model.Message) TaskProfile {
	joined := joinedLowercased(messages)

	sensitivity := 0.0
	for _, kw := range sensitivityKeywords {
		if strings.Contains(joined, kw) {
			sensitivity += 0.2
		}
	}
	sensitivity = clamp01(sensitivity)

	nMessages := len(messages)
	totalLen := 0
	hasCodeFence := false
	for _, m := range messages {
		totalLen += len(m.Content)
		if strings.Contains(m.Content, "```") {
			hasCodeFence = true
		}
	}
	avgLen := 0.0
	if nMessages > 0 {
		avgLen = float64(totalLen) / float64(nMessages)
	}

	complexity := minF(0.5, float64(nMessages)/10) + minF(0.3, avgLen/1000)
	if hasCodeFence {
		complexity += 0.2
	}
	complexity = clamp01(complexity)

	estimatedTokens := (totalLen + 3) / 4 // ceil(total_chars / 4)

	return TaskProfile{Sensitivity: sensitivity, Complexity: complexity, EstimatedTokens: estimatedTokens}
}

func joinedLowercased(messages []model.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte(' ')
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
