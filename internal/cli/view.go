package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-verifier/infrastructure/storage"
	"github.com/ahrav/go-verifier/internal/config"
	"github.com/ahrav/go-verifier/internal/ports"
	"github.com/ahrav/go-verifier/internal/viewer"
)

func (a *app) newViewTableCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "view-table RESULT",
		Short: "Render a saved report as tables",
		Long: `view-table prints a report as a claims table followed by summary and
performance statistics. RESULT is a path to a report file, or a session id
looked up in the results store.`,
		Example: `  verifier view-table results/sess-2025-01-15-1a2b3c4d.json
  verifier view-table sess-2025-01-15-1a2b3c4d`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			ref := args[0]

			var store ports.ReportStore
			if info, err := os.Stat(ref); err != nil || !info.Mode().IsRegular() {
				store, err = storage.Open(cmd.Context(), cfg.ResultsDir, newLogger(a.errOut, cfg.Log))
				if err != nil {
					return fmt.Errorf("open results store: %w", err)
				}
				defer store.Close()
			}

			result, err := viewer.Load(cmd.Context(), store, ref)
			switch {
			case errors.Is(err, viewer.ErrErrorReport):
				return fmt.Errorf("%s is the error report of a failed run: %w", ref, err)
			case errors.Is(err, ports.ErrReportNotFound):
				return fmt.Errorf("no report %q in %s: %w", ref, cfg.ResultsDir, ports.ErrReportNotFound)
			case err != nil:
				return err
			}

			color := !plain && viewer.IsTerminal(a.out)
			return viewer.Render(a.out, result, viewer.Options{Color: color})
		},
	}

	cmd.Flags().BoolVar(&plain, "no-color", false, "disable colors")
	cmd.Flags().String("results-dir", config.Default().ResultsDir, "results store to resolve session ids in")
	bindFlag(cmd.Flags(), "results-dir", "results_dir")
	return cmd
}
