// Package main is the entry point for the Konnektr Graph MCP gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/konnektr-io/graph-mcp/cmd/graph-mcp/app"
	"github.com/konnektr-io/graph-mcp/pkg/logger"
)

func main() {
	// Create a context that will be canceled on signal
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
