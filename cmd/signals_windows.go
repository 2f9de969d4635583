//go:build windows

package cmd

import (
	"os"
	"syscall"
)

// Windows has no user signals; pause and resume go through the HTTP API.
var controlSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func applySignal(_ os.Signal, ctl runControl) bool {
	return ctl.Cancel()
}
