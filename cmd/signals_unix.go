//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals returns the OS signals that interrupt a running benchmark.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// sigINT is what `stop` sends; the benchmark cleans up on it.
func sigINT() syscall.Signal { return syscall.SIGINT }
