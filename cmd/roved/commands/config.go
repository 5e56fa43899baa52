package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/ovrishq/rove/pkg/rove/config"
	"github.com/ovrishq/rove/pkg/rove/secrets"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `rove config` command.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage daemon configuration",
		Long: `Manage Rove daemon configuration.

Examples:
  rove config init
  rove config show
  rove config validate`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigValidateCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
		newConfigKeyStatusCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default rove.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			target := "rove.yaml"

			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("rove.yaml already exists. Remove it first or edit it directly")
			}

			cfg := config.DefaultConfig()
			if err := config.SaveToFile(cfg, target); err != nil {
				return err
			}

			fmt.Printf("Created %s with default configuration.\n", target)
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Edit rove.yaml and add at least one LLM provider")
			fmt.Println("  2. Store its API key: rove config set-key <provider>")
			fmt.Println("  3. Run: rove serve")
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("# Loaded from: %s\n\n", path)

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("Config: %s\n", path)
			fmt.Printf("  Data dir:      %s\n", cfg.DataDir)
			fmt.Printf("  Workspace dir: %s\n", cfg.WorkspaceDir)
			fmt.Printf("  Manifest path: %s\n", cfg.ManifestPath)
			fmt.Printf("  Production:    %v\n", cfg.Production)
			fmt.Printf("  Providers:     %d\n", len(cfg.Providers))

			hasDefault := false
			for _, p := range cfg.Providers {
				marker := ""
				if p.IsDefault {
					marker = " (default)"
					hasDefault = true
				}
				fmt.Printf("    - %s%s: local=%v cost/1k=%.4f\n", p.Name, marker, p.IsLocal, p.CostPer1k)
			}
			if len(cfg.Providers) == 0 {
				fmt.Println("    (none configured — the Router will have nothing to call)")
			} else if !hasDefault {
				fmt.Println("  Warning: no provider marked is_default; the Router falls back to plain ranking")
			}

			fmt.Println("\nConfiguration is valid.")
			return nil
		},
	}
}

// providerKeyEnvVar derives the environment variable name set_key should
// suggest for a provider, following the teacher's single api_key_env
// convention from loader.go.
func providerKeyEnvVar(provider string) string {
	return "ROVE_" + strings.ToUpper(provider) + "_API_KEY"
}

// newConfigSetKeyCmd stores a provider's API key in the OS keyring.
func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key <provider>",
		Short: "Store a provider API key in the OS keyring (encrypted)",
		Long: `Securely stores a provider's API key in the operating system's native
keyring. This is the most secure option - the key is encrypted by the OS
and never stored as plaintext on disk.

Linux:   GNOME Keyring / KDE Wallet / Secret Service
macOS:   Keychain
Windows: Credential Manager

Examples:
  rove config set-key openai`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			provider := args[0]
			resolver := secrets.NewResolver(nil)

			if !resolver.Available() {
				fmt.Println("OS keyring is not available on this system.")
				fmt.Println("Make sure you have a keyring service running:")
				fmt.Println("  Linux:   gnome-keyring-daemon or kwallet")
				fmt.Println("  macOS:   Keychain (built-in)")
				fmt.Println("  Windows: Credential Manager (built-in)")
				return fmt.Errorf("keyring not available")
			}

			fmt.Printf("Enter API key for %s: ", provider)
			keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			key := strings.TrimSpace(string(keyBytes))
			if key == "" {
				return fmt.Errorf("no key provided")
			}

			if err := resolver.Store(provider, key); err != nil {
				return err
			}

			fmt.Println()
			fmt.Printf("API key for %q stored in OS keyring (encrypted).\n", provider)
			fmt.Println()
			fmt.Println("You can now safely leave api_key empty in rove.yaml; the keyring")
			fmt.Printf("is checked before the %s environment variable or the config value.\n", providerKeyEnvVar(provider))

			return nil
		},
	}
}

// newConfigDeleteKeyCmd removes a provider's API key from the OS keyring.
func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key <provider>",
		Short: "Remove a provider API key from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			resolver := secrets.NewResolver(nil)
			if err := resolver.DeleteStored(args[0]); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Printf("API key for %q removed from OS keyring.\n", args[0])
			return nil
		},
	}
}

// newConfigKeyStatusCmd shows where a provider's API key resolves from.
func newConfigKeyStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key-status <provider>",
		Short: "Show where a provider's API key is loaded from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			resolver := secrets.NewResolver(nil)
			envVar := providerKeyEnvVar(provider)

			var configured string
			if cfg, _, err := loadConfig(cmd); err == nil {
				for _, p := range cfg.Providers {
					if p.Name == provider {
						configured = p.APIKey
					}
				}
			}

			fmt.Printf("Key resolution order for %q:\n\n", provider)

			if resolver.Available() {
				if val := resolver.Resolve(provider, "", ""); val != "" {
					fmt.Printf("  1. [OK] OS keyring:    %s\n", maskKey(val))
				} else {
					fmt.Println("  1. [--] OS keyring:    (not set)")
				}
			} else {
				fmt.Println("  1. [!!] OS keyring:    (not available)")
			}

			if val := os.Getenv(envVar); val != "" {
				fmt.Printf("  2. [OK] %s: %s\n", envVar, maskKey(val))
			} else {
				fmt.Printf("  2. [--] %s: (not set)\n", envVar)
			}

			if configured != "" {
				fmt.Printf("  3. [OK] rove.yaml api_key: %s\n", maskKey(configured))
			} else {
				fmt.Println("  3. [--] rove.yaml api_key: (not set)")
			}

			fmt.Println()
			fmt.Println("Recommendation: use 'rove config set-key <provider>' for maximum security.")

			return nil
		},
	}
}

func maskKey(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	head := val[:min(4, len(val))]
	return head + "****" + val[max(0, len(val)-4):]
}

// loadConfig loads the config from the --config flag or auto-discovers it.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath == "" {
		configPath = config.FindFile()
	}

	if configPath == "" {
		return nil, "", fmt.Errorf("no config file found.\nRun 'rove config init' to create one, or use --config <path>")
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	return cfg, configPath, nil
}
