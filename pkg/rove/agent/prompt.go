package agent

import (
	"strings"

	"github.com/ovrishq/rove/pkg/rove/toolregistry"
)

// composeSystemPrompt builds the system message per spec.md §4.1 step 4:
// the tool registry's schema description plus any active steering
// directives. Mirrors the teacher's PromptComposer.Compose in spirit
// (layered sections, deterministic order) without reusing its layer
// constants, since Rove has exactly two sections rather than the
// teacher's eleven.
func composeSystemPrompt(registry *toolregistry.Registry, steering *SteeringStore) string {
	var b strings.Builder
	b.WriteString("You are Rove, a local agent daemon. Use the following tools when needed:\n")
	b.WriteString(registry.SchemaDescription())

	if steering != nil {
		for _, directive := range steering.Ordered() {
			b.WriteString("\n")
			b.WriteString(directive)
		}
	}

	return b.String()
}
