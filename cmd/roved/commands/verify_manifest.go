package commands

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ovrishq/rove/pkg/rove/verify"
	"github.com/spf13/cobra"
)

// newVerifyManifestCmd creates `rove verify-manifest`, an operator-facing
// run of the Verification Pipeline against a manifest file without
// starting the daemon or loading anything into an Extension Host. A gate
// failure deletes the referenced file exactly as it does at daemon load.
func newVerifyManifestCmd() *cobra.Command {
	var devMode bool

	cmd := &cobra.Command{
		Use:   "verify-manifest <path>",
		Short: "Run the Verification Pipeline's gates against a manifest file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := args[0]
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}
			manifest, err := verify.ParseManifest(data)
			if err != nil {
				return fmt.Errorf("parsing manifest: %w", err)
			}

			dir := dirOf(path)
			pipeline := verify.New(manifest, dir, devMode, runtime.GOOS, nil)

			failures := 0
			for _, tool := range manifest.CoreTools {
				if _, err := pipeline.VerifyNativeTool(tool.Name); err != nil {
					failures++
					fmt.Printf("[FAIL] native tool %-20s %v\n", tool.Name, err)
					continue
				}
				fmt.Printf("[ OK ] native tool %-20s\n", tool.Name)
			}
			for _, plugin := range manifest.Plugins {
				if _, err := pipeline.VerifyPlugin(plugin.Name); err != nil {
					failures++
					fmt.Printf("[FAIL] plugin      %-20s %v\n", plugin.Name, err)
					continue
				}
				fmt.Printf("[ OK ] plugin      %-20s\n", plugin.Name)
			}

			if failures > 0 {
				return fmt.Errorf("%d manifest entries failed verification", failures)
			}
			fmt.Println("\nAll manifest entries passed verification.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&devMode, "dev", false, "accept LOCAL_DEV/PLACEHOLDER signatures (non-production only)")
	return cmd
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
