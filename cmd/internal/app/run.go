package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Serve builds the App from cfg and runs it until SIGINT or SIGTERM.
func Serve(ctx context.Context, cfg Config, log Logger) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
