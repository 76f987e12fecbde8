// Package cli implements the verifier command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ahrav/go-verifier/infrastructure/llm"
	"github.com/ahrav/go-verifier/internal/config"
	"github.com/ahrav/go-verifier/internal/ports"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// configKeyAnnotation marks a flag with the configuration key it overrides.
const configKeyAnnotation = "config_key"

// ClientFactory builds the LLM client for a run. The middleware chain is
// already assembled from the configuration, outermost first.
type ClientFactory func(cfg *config.Config, middleware []llm.Middleware) (ports.LLMClient, error)

// Option customizes the root command.
type Option func(*app)

// WithClientFactory replaces the provider registry as the source of LLM
// clients.
func WithClientFactory(f ClientFactory) Option {
	return func(a *app) { a.newClient = f }
}

// WithOutput redirects command output and diagnostics.
func WithOutput(out, errOut io.Writer) Option {
	return func(a *app) {
		a.out = out
		a.errOut = errOut
	}
}

// app holds the state shared by every command of one invocation.
type app struct {
	cfgFile string
	verbose bool

	v         *viper.Viper
	out       io.Writer
	errOut    io.Writer
	newClient ClientFactory
}

// NewRootCommand returns the verifier command tree.
func NewRootCommand(opts ...Option) *cobra.Command {
	a := &app{out: os.Stdout, errOut: os.Stderr, newClient: registryClient}
	for _, opt := range opts {
		opt(a)
	}

	root := &cobra.Command{
		Use:   "verifier",
		Short: "Verify the claims of a document against source documents",
		Long: `verifier extracts the factual claims of a target document, searches a set
of source documents for evidence, judges every claim and attaches
citations. Reports are written as JSON to the results store.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (VERIFIER_*)
  3. Config file (./verifier.yaml or $HOME/.verifier/verifier.yaml)
  4. Defaults`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./verifier.yaml, then $HOME/.verifier/verifier.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging and per-stage progress")

	root.AddCommand(
		a.newVerifyCommand(),
		a.newViewTableCommand(),
		a.newInitCommand(),
		a.newConfigCommand(),
		a.newSessionsCommand(),
		a.newBenchmarkCommand(),
		a.newVersionCommand(),
	)
	return root
}

// Execute runs the command tree against os.Args and returns the process
// exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if !errors.As(err, &exit) {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// exitError signals a failure that has already been reported to the user.
type exitError struct{ err error }

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// initConfig reads the config file and environment, then layers the flags
// of the running command on top.
func (a *app) initConfig(cmd *cobra.Command) error {
	v, err := config.NewViper(a.cfgFile)
	if err != nil {
		return err
	}
	if err := bindFlags(cmd.Flags(), v); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("no-cache"); f != nil && f.Changed {
		v.Set("caching.enabled", false)
	}
	if a.verbose {
		v.Set("log.level", "debug")
	}
	a.v = v
	return nil
}

// config decodes and validates the effective configuration.
func (a *app) config() (*config.Config, error) {
	if a.v == nil {
		return nil, errors.New("configuration not initialized")
	}
	return config.Load(a.v)
}

// bindFlag ties flag name to a configuration key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Sprintf("bind flag %q: %v", name, err))
	}
}

func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		keys := f.Annotations[configKeyAnnotation]
		if len(keys) == 0 {
			return
		}
		if err := v.BindPFlag(keys[0], f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// newLogger builds the process logger from the log.level and log.format
// settings.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
