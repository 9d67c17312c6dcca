// Package main is the entry point for the vgateway command-line
// application.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/vgateway/cmd/vgateway/app"
	"github.com/stacklok/vgateway/pkg/vglog"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	err := app.NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		vglog.Errorf("error executing command: %v", err)
	}
	os.Exit(app.ExitCode(err))
}
