package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-verifier/internal/config"
)

// ConfigFileName is the file init and config init write.
const ConfigFileName = "verifier.yaml"

const configHeader = `# verifier configuration.
#
# Every key can be overridden with a VERIFIER_* environment variable, for
# example VERIFIER_LLM_MODEL or VERIFIER_PIPELINE_CONCURRENCY, and most of
# them with a flag of the verify command.
#
# Provider credentials are read from the environment: ANTHROPIC_API_KEY,
# OPENAI_API_KEY, GOOGLE_API_KEY, or the AWS default chain for Bedrock
# (aws.profile and aws.region below).
#
# Tracing to Arize: set telemetry.space_id and telemetry.api_key.

`

// projectDirs are the directories init creates.
var projectDirs = []string{"source", "target", "results", "traces"}

func (a *app) newInitCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the project directories and a config template",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, name := range projectDirs {
				if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", name, err)
				}
				fmt.Fprintf(a.out, "Created directory: %s/\n", name)
			}

			path := filepath.Join(dir, ConfigFileName)
			created, err := writeConfigTemplate(path, false)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(a.out, "Created %s\n", ConfigFileName)
			} else {
				fmt.Fprintf(a.out, "%s already exists, left unchanged\n", ConfigFileName)
			}

			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, "Project initialized. Next steps:")
			fmt.Fprintln(a.out, "  1. Add .txt source documents to source/")
			fmt.Fprintln(a.out, "  2. Add the .txt document to verify to target/")
			fmt.Fprintln(a.out, "  3. Configure provider credentials")
			fmt.Fprintln(a.out, "  4. Run: verifier verify")
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	return cmd
}

// writeConfigTemplate writes the default configuration to path. An existing
// file is kept unless force is set; created reports whether it was written.
func writeConfigTemplate(path string, force bool) (created bool, err error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o600); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
