// Package confirm implements an interactive Tier-2 confirmation gate
// using charmbracelet/huh, the supplemented feature from
// original_source/engine/src/risk_assessor.rs's interactive-approval
// path that spec.md's Risk Classifier section describes only as a tier
// number. It follows the teacher's huh usage in its setup wizard:
// a single huh.Confirm bound to a bool, run only when attached to a TTY.
package confirm

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// Gate prompts for confirmation before a Tier-2 operation executes.
// Unattended daemon processes (no TTY) never block: Confirm returns true
// immediately so automated/remote tasks are not silently hung on a
// prompt nobody can see.
type Gate struct {
	attended bool
}

func New() *Gate {
	return &Gate{attended: isTTY()}
}

func isTTY() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// Confirm asks the operator to approve a described Tier-2 operation. It
// is a no-op returning true when unattended.
func (g *Gate) Confirm(description string) (bool, error) {
	if !g.attended {
		return true, nil
	}

	approved := false
	field := huh.NewConfirm().
		Title("Confirm Tier-2 operation").
		Description(fmt.Sprintf("%s\n\nThis action is destructive or irreversible.", description)).
		Affirmative("Proceed").
		Negative("Cancel").
		Value(&approved)

	if err := huh.NewForm(huh.NewGroup(field)).Run(); err != nil {
		return false, fmt.Errorf("running confirmation prompt: %w", err)
	}
	return approved, nil
}
