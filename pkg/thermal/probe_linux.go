//go:build linux

package thermal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// RawMonotonicTickSource reads CLOCK_MONOTONIC_RAW, which is immune to NTP
// slewing. Each read is a real clock_gettime syscall; its cost is calibrated
// out, but its jitter usually exceeds the Hot budget.
type RawMonotonicTickSource struct{}

func (RawMonotonicTickSource) Ticks() (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime: %w", err)
	}
	return uint64(ts.Sec)*1e9 + uint64(ts.Nsec), nil
}

// DefaultTickSource returns the runtime monotonic clock, which reads through
// the vDSO without entering the kernel.
func DefaultTickSource() TickSource { return NewMonotonicTickSource() }

var sysEnterIDPaths = []string{
	"/sys/kernel/tracing/events/raw_syscalls/sys_enter/id",
	"/sys/kernel/debug/tracing/events/raw_syscalls/sys_enter/id",
}

// PerfSyscallProbe counts every syscall entry of the calling OS thread with
// the raw_syscalls:sys_enter tracepoint. One perf counter is opened per OS
// thread on first use. Opening needs tracefs access and CAP_PERFMON or
// kernel.perf_event_paranoid <= -1.
type PerfSyscallProbe struct {
	tracepoint uint64

	mu  sync.Mutex
	fds map[int]int
}

// NewPerfSyscallProbe resolves the tracepoint and opens a counter on the
// calling thread to prove the host allows it.
func NewPerfSyscallProbe() (*PerfSyscallProbe, error) {
	id, err := sysEnterTracepoint()
	if err != nil {
		return nil, err
	}
	p := &PerfSyscallProbe{tracepoint: id, fds: make(map[int]int)}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if _, err := p.Syscalls(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func sysEnterTracepoint() (uint64, error) {
	var errs []error
	for _, path := range sysEnterIDPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", path, err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("sys_enter tracepoint: %w", errors.Join(errs...))
}

func (p *PerfSyscallProbe) counter(tid int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fd, ok := p.fds[tid]; ok {
		return fd, nil
	}
	attr := unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_TRACEPOINT,
		Config: p.tracepoint,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
	}
	fd, err := unix.PerfEventOpen(&attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return -1, fmt.Errorf("perf_event_open sys_enter: %w", err)
	}
	p.fds[tid] = fd
	return fd, nil
}

// Syscalls returns the calling thread's syscall count. Callers must hold
// runtime.LockOSThread between paired reads.
func (p *PerfSyscallProbe) Syscalls() (uint64, error) {
	fd, err := p.counter(unix.Gettid())
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, fmt.Errorf("read perf counter: %w", err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("read perf counter: short read of %d bytes", n)
	}
	return binary.NativeEndian.Uint64(buf[:]), nil
}

// Close releases every per-thread counter.
func (p *PerfSyscallProbe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for tid, fd := range p.fds {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, err)
		}
		delete(p.fds, tid)
	}
	return errors.Join(errs...)
}

var defaultSyscallProbe = sync.OnceValue(func() SyscallProbe {
	p, err := NewPerfSyscallProbe()
	if err != nil {
		return nil
	}
	return p
})

// DefaultSyscallProbe returns the process-wide PerfSyscallProbe, or nil when
// the host does not allow one. With nil, tiers that forbid syscalls fail
// closed.
func DefaultSyscallProbe() SyscallProbe { return defaultSyscallProbe() }

func rawTickSource() (TickSource, error) { return RawMonotonicTickSource{}, nil }
