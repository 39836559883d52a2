package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run loads config, wires the App, and serves until SIGINT/SIGTERM.
// Errors come back to the caller so deferred cleanup still runs; nothing in
// this package calls os.Exit.
func Run() error {
	// Arm signal handling first so an interrupt during a slow store init
	// still lands as a clean cancellation once serving starts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("startup.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
