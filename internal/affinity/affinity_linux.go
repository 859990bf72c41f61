//go:build linux

// File: internal/affinity/affinity_linux.go
// Package affinity pins worker threads to CPUs.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Pin binds the calling thread to one CPU. The caller must already hold
// runtime.LockOSThread.
func Pin(cpu int) error {
	cpu = cpu % runtime.NumCPU()
	if cpu < 0 {
		cpu += runtime.NumCPU()
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu %d: %w", cpu, err)
	}
	return nil
}
