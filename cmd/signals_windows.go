//go:build windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals returns the OS signals that interrupt a running benchmark.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// sigINT falls back to a kill on Windows, where interrupts cannot be sent to
// another process. The next run marks the orphaned history entry as ended.
func sigINT() syscall.Signal { return syscall.SIGKILL }
