//go:build !linux

package thermal

import "errors"

// DefaultTickSource returns the platform's preferred tick source.
func DefaultTickSource() TickSource { return NewMonotonicTickSource() }

// DefaultSyscallProbe returns nil: there is no per-thread syscall counter,
// so Hot tier runs fail closed on this platform.
func DefaultSyscallProbe() SyscallProbe { return nil }

func rawTickSource() (TickSource, error) {
	return nil, errors.New("CLOCK_MONOTONIC_RAW is only available on linux")
}
