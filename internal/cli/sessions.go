package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-verifier/infrastructure/storage"
	"github.com/ahrav/go-verifier/internal/config"
)

func (a *app) newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List the reports in the results store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			store, err := storage.Open(cmd.Context(), cfg.ResultsDir, newLogger(a.errOut, cfg.Log))
			if err != nil {
				return fmt.Errorf("open results store: %w", err)
			}
			defer store.Close()

			keys, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintf(a.out, "No reports in %s\n", store.Location())
				return nil
			}

			fmt.Fprintf(a.out, "Reports in %s:\n", store.Location())
			for _, key := range keys {
				if storage.IsErrorKey(key) {
					fmt.Fprintf(a.out, "  %-48s failed\n", strings.TrimSuffix(key, ".json"))
					continue
				}
				fmt.Fprintf(a.out, "  %s\n", strings.TrimSuffix(key, ".json"))
			}
			return nil
		},
	}
	cmd.Flags().String("results-dir", config.Default().ResultsDir, "results store to list")
	bindFlag(cmd.Flags(), "results-dir", "results_dir")
	return cmd
}
