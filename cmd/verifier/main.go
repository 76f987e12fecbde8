// Command verifier checks the claims of a document against source documents
// with a multi-stage LLM pipeline.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahrav/go-verifier/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}
