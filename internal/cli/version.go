package cli

import (
	"fmt"
	goruntime "runtime"

	"github.com/spf13/cobra"
)

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// Printing the version must work without a readable config.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "verifier %s (%s %s/%s)\n", Version, goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
		},
	}
}
