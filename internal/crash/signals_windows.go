//go:build windows

package crash

import (
	"os"
	"syscall"
)

// monitorSignals lists the termination signals hooked on this platform.
// Windows only delivers interrupt (ctrl-c, ctrl-break) and terminate.
func monitorSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

func exitCodeFor(os.Signal) int {
	return 1
}
