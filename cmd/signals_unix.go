//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

var controlSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2}

func applySignal(sig os.Signal, ctl runControl) bool {
	switch sig {
	case syscall.SIGUSR1:
		return ctl.Pause()
	case syscall.SIGUSR2:
		return ctl.Resume()
	default:
		return ctl.Cancel()
	}
}
