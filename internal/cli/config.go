package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const rule = "═══════════════════════════════════════════════════════════"

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage verifier configuration",
		Long: `Manage verifier configuration files and settings.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (VERIFIER_*)
  3. Config file
  4. Defaults`,
	}
	cmd.AddCommand(a.newConfigShowCommand(), a.newConfigInitCommand())
	return cmd
}

func (a *app) newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}

			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(a.errOut, "Configuration file: %s\n\n", used)
			} else {
				fmt.Fprintf(a.errOut, "No configuration file found (using defaults)\n\n")
			}

			data, err := yaml.Marshal(cfg.Redacted())
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}

			fmt.Fprintln(a.out, rule)
			fmt.Fprintln(a.out, "  Current Configuration")
			fmt.Fprintln(a.out, rule)
			fmt.Fprintln(a.out)
			fmt.Fprint(a.out, string(data))
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, rule)
			fmt.Fprintln(a.out, "Configuration hierarchy (highest to lowest priority):")
			fmt.Fprintln(a.out, "  1. CLI flags")
			fmt.Fprintln(a.out, "  2. Environment variables (VERIFIER_*, ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY)")
			fmt.Fprintln(a.out, "  3. Config file (./verifier.yaml, $HOME/.verifier/verifier.yaml)")
			fmt.Fprintln(a.out, "  4. Defaults")
			return nil
		},
	}
}

func (a *app) newConfigInitCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long:  `Write the default configuration, with every option, to $HOME/.verifier/verifier.yaml or the given path.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("find home directory: %w", err)
				}
				path = filepath.Join(home, ".verifier", ConfigFileName)
			}

			created, err := writeConfigTemplate(path, force)
			if err != nil {
				return err
			}
			if !created {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
			}
			fmt.Fprintf(a.out, "Created configuration file: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "file to write (default: $HOME/.verifier/verifier.yaml)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
