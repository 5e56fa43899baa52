package commands

import (
	"context"
	"fmt"

	"github.com/ovrishq/rove/pkg/rove/model"
	"github.com/ovrishq/rove/pkg/rove/store"
	"github.com/spf13/cobra"
)

// newStatusCmd creates `rove status`, a read-only summary of the task
// store's recent activity — the operator-facing view onto state the
// running daemon owns, since spec.md §1 scopes out a control socket.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show recent task activity from the task store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			st, err := store.Open(ctx, cfg.DataDir+"/rove.db", nil)
			if err != nil {
				return fmt.Errorf("opening task store: %w", err)
			}

			fmt.Printf("Config: %s\n\n", path)
			for _, status := range []model.TaskStatus{model.TaskRunning, model.TaskPending, model.TaskFailed, model.TaskCompleted} {
				tasks, err := st.ListTasksByStatus(ctx, status, 20)
				if err != nil {
					return fmt.Errorf("listing %s tasks: %w", status, err)
				}
				fmt.Printf("%-10s %d\n", status, len(tasks))
				for _, t := range tasks {
					if status == model.TaskRunning || status == model.TaskPending {
						fmt.Printf("  - %s: %.80q\n", t.ID, t.Input)
					}
				}
			}
			return nil
		},
	}
}
