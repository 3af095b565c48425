package cliapp

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// withGracefulShutdown derives a context canceled on the first SIGINT
// or SIGTERM, so an in-flight checkpoint gets to finish before the run
// actually stops rather than the process dying mid-write. Adapted from
// the teacher's emergency.Controller signal handling, trimmed to the
// one thing a solver run needs: Ctrl-C maps to context cancellation,
// not process termination or a registered-callback fan-out.
func withGracefulShutdown(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
