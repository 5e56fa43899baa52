package commands

import (
	"context"
	"fmt"

	"github.com/ovrishq/rove/pkg/rove/store"
	"github.com/spf13/cobra"
)

// newResetBreakerCmd creates `rove reset-breaker <source>`, the manual
// circuit-breaker reset surface from SPEC_FULL.md §C.5. The breaker's
// tripped state is a row in the shared Task Store (tier = -1, per
// spec.md §3/§4.3), not in-process memory, so deleting it from this
// short-lived CLI invocation takes effect against a running `rove serve`
// daemon immediately — the next Tier-2 check it runs queries the same
// table and finds the sentinel gone.
func newResetBreakerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-breaker <source>",
		Short: "Manually reset a tripped circuit breaker for a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := args[0]
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := store.Open(ctx, cfg.DataDir+"/rove.db", nil)
			if err != nil {
				return fmt.Errorf("opening task store: %w", err)
			}

			if err := st.ClearBreakerEntries(ctx, source); err != nil {
				return fmt.Errorf("resetting breaker for %s: %w", source, err)
			}

			fmt.Printf("Circuit breaker reset for source %q.\n", source)
			return nil
		},
	}
}
