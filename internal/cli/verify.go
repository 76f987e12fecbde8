package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-verifier/internal/application"
	"github.com/ahrav/go-verifier/internal/config"
	"github.com/ahrav/go-verifier/internal/ports"
	"github.com/ahrav/go-verifier/internal/viewer"
)

func (a *app) newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the claims of the target document",
		Long: `Verify extracts the claims of the first .txt file in the target directory,
checks each one against every .txt file in the source directory and writes
the report to the results store as {session}.json. A failed run writes
{session}_error.json instead and exits with status 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			progress := viewer.NewProgress(a.out, viewer.Options{Color: viewer.IsTerminal(a.out)}, a.verbose)
			outcome, err := a.verify(cmd.Context(), cfg, progress)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Results saved to: %s\n", outcome.Location)
			return nil
		},
	}

	d := config.Default()
	fs := cmd.Flags()
	fs.String("source-dir", d.SourceDir, "directory of source documents")
	fs.String("target-dir", d.TargetDir, "directory holding the target document")
	fs.String("results-dir", d.ResultsDir, "results store: a directory, gs://bucket/prefix or badger://path")
	fs.String("session-id", "", "session id (default: generated)")
	fs.String("aws-profile", "", "AWS shared config profile for Bedrock")
	fs.String("aws-region", d.AWS.Region, "AWS region for Bedrock")
	fs.String("provider", d.LLM.Provider, "LLM provider: bedrock, anthropic, openai or google")
	fs.String("model", d.LLM.Model, "model id")
	fs.Int("concurrency", d.Pipeline.Concurrency, "claims processed in parallel")
	fs.String("failure-policy", string(d.Pipeline.FailurePolicy), "isolate or abort on claim failures")
	fs.String("space-id", "", "Arize space id for tracing")
	fs.String("api-key", "", "Arize API key for tracing")
	fs.Bool("no-cache", false, "disable prompt caching")

	for name, key := range map[string]string{
		"source-dir":     "source_dir",
		"target-dir":     "target_dir",
		"results-dir":    "results_dir",
		"session-id":     "session_id",
		"aws-profile":    "aws.profile",
		"aws-region":     "aws.region",
		"provider":       "llm.provider",
		"model":          "llm.model",
		"concurrency":    "pipeline.concurrency",
		"failure-policy": "pipeline.failure_policy",
		"space-id":       "telemetry.space_id",
		"api-key":        "telemetry.api_key",
	} {
		bindFlag(fs, name, key)
	}
	return cmd
}

// verify runs one session. A run that failed after it started has already
// been reported to the observers and comes back as *exitError.
func (a *app) verify(ctx context.Context, cfg *config.Config, observers ...ports.PipelineObserver) (*application.Outcome, error) {
	rt, err := a.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			rt.logger.Warn("shutdown failed", "error", err)
		}
	}()

	p, err := rt.pipeline(observers...)
	if err != nil {
		return nil, err
	}

	outcome, err := p.Verify(ctx, application.Request{
		SessionID: cfg.SessionID,
		TargetDir: cfg.TargetDir,
		SourceDir: cfg.SourceDir,
	})
	if err != nil {
		var runErr *application.RunError
		if errors.As(err, &runErr) {
			if runErr.Location != "" {
				fmt.Fprintf(a.errOut, "Error report saved to: %s\n", runErr.Location)
			}
			return nil, &exitError{err: err}
		}
		return nil, err
	}
	return outcome, nil
}
