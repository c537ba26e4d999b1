//go:build !linux

package benchmark

import (
	"fmt"
	"runtime"
)

func pinProcess(pid, core int) error {
	return fmt.Errorf("CPU affinity is not supported on %s", runtime.GOOS)
}
