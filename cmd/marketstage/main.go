// File: cmd/marketstage/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Hawhaz/marketstage/cmd"
)

func main() {
	// Interrupts cancel the run context so in-flight sessions shut down
	// cleanly instead of leaving half-filled forms behind.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
