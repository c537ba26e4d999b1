//go:build linux

package benchmark

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pinProcess restricts pid to a single CPU core.
func pinProcess(pid, core int) error {
	if core < 0 || core >= runtime.NumCPU() {
		return fmt.Errorf("invalid core %d: system has %d cores (0-%d)", core, runtime.NumCPU(), runtime.NumCPU()-1)
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(core)
	return unix.SchedSetaffinity(pid, &set)
}
