//go:build unix

package crash

import (
	"os"
	"syscall"
)

// monitorSignals lists the termination signals hooked on this platform.
func monitorSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGABRT}
}

// exitCodeFor follows shell convention for deaths by signal.
func exitCodeFor(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}
