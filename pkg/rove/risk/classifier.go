// Package risk implements the two-level risk taxonomy that gates every
// side-effecting operation (spec.md §4.3). It is the Rove analogue of the
// teacher's tool_guard.go permission checks, generalized from named tool
// permission levels (owner/admin/user) to the spec's tier escalation
// rules.
package risk

import (
	"fmt"
	"strings"

	"github.com/ovrishq/rove/pkg/rove/model"
)

// Tier is a risk level assigned to every side-effecting operation.
type Tier int

const (
	Tier0 Tier = 0
	Tier1 Tier = 1
	Tier2 Tier = 2
)

// baseTiers is the operation-name-to-base-tier table from spec.md §4.3.
var baseTiers = map[string]Tier{
	"read_file":    Tier0,
	"list_dir":     Tier0,
	"git_status":   Tier0,
	"git_log":      Tier0,
	"execute_task": Tier0,

	"write_file": Tier1,
	"git_add":    Tier1,
	"git_commit": Tier1,
	"create_dir": Tier1,

	"delete_file":     Tier2,
	"git_push":        Tier2,
	"execute_command": Tier2,
	"git_reset":       Tier2,
}

// dangerousSubstrings escalate any operation to Tier2 when present in any
// argument, per spec.md §4.3 rule 1.
var dangerousSubstrings = []string{"--force", "-rf", "--delete", "--hard"}

// Classifier assigns a Tier to a named operation.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the tier for operation name, given its string
// arguments and source. Unknown operation names are an error, not a
// default, per spec.md §4.3 rule 3.
func (c *Classifier) Classify(name string, args []string, source model.Source) (Tier, error) {
	base, ok := baseTiers[name]
	if !ok {
		return 0, fmt.Errorf("unknown operation %q: refusing to guess a risk tier", name)
	}

	tier := base

	// Rule 1: dangerous substrings escalate to Tier2 outright.
	for _, arg := range args {
		for _, bad := range dangerousSubstrings {
			if strings.Contains(arg, bad) {
				tier = Tier2
			}
		}
	}

	// Rule 2: remote source escalates by one, capped at Tier2.
	if source == model.SourceRemote {
		tier = escalate(tier)
	}

	return tier, nil
}

func escalate(t Tier) Tier {
	if t >= Tier2 {
		return Tier2
	}
	return t + 1
}
