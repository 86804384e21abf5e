package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vk/datakiln/internal/cmd"
)

// main is the entrypoint for the datakiln binary.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(cmd.Execute(ctx))
}
