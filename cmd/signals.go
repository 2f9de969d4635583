package cmd

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"
)

// runControl is the part of the coordinator the signal handlers drive.
type runControl interface {
	Pause() bool
	Resume() bool
	Cancel() bool
}

// watchSignals routes controlSignals to ctl until the returned stop func is
// called. Interrupts cancel the run; where the platform has SIGUSR1/SIGUSR2
// they pause and resume it.
func watchSignals(ctx context.Context, ctl runControl, logger *zap.Logger) (stop func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, controlSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				ctl.Cancel()
				return
			case sig := <-ch:
				handleSignal(sig, ctl, logger)
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func handleSignal(sig os.Signal, ctl runControl, logger *zap.Logger) {
	applied := applySignal(sig, ctl)
	logger.Info("signal received", zap.String("signal", sig.String()), zap.Bool("applied", applied))
}
