package thermal

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// TickSource is a monotonic counter. Ticks must never decrease.
type TickSource interface {
	Ticks() (uint64, error)
}

// AllocProbe reports a cumulative heap allocation count.
type AllocProbe interface {
	Allocs() (uint64, error)
}

// SyscallProbe reports a cumulative syscall count for the calling OS thread.
// It must count every syscall, not a subset such as I/O calls; a partial
// count would let a no-syscall tier pass unseen.
type SyscallProbe interface {
	Syscalls() (uint64, error)
}

// TickFunc adapts a function to TickSource.
type TickFunc func() (uint64, error)

func (f TickFunc) Ticks() (uint64, error) { return f() }

// MonotonicTickSource counts nanoseconds on the runtime monotonic clock.
// On linux the clock is read through the vDSO.
type MonotonicTickSource struct {
	base time.Time
}

func NewMonotonicTickSource() *MonotonicTickSource {
	return &MonotonicTickSource{base: time.Now()}
}

func (s *MonotonicTickSource) Ticks() (uint64, error) {
	return uint64(time.Since(s.base)), nil
}

// MemStatsAllocProbe counts heap objects via runtime.ReadMemStats, which
// flushes per-P caches and so sees every allocation. The count is process
// wide: allocations on other goroutines during a window are attributed to
// the operation under test.
type MemStatsAllocProbe struct {
	mu sync.Mutex
	ms runtime.MemStats
}

func NewMemStatsAllocProbe() *MemStatsAllocProbe {
	return &MemStatsAllocProbe{}
}

// Allocs reuses one MemStats buffer so the probe itself never allocates.
func (p *MemStatsAllocProbe) Allocs() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	runtime.ReadMemStats(&p.ms)
	return p.ms.Mallocs, nil
}

// TickSourceByName resolves a configured tick source: "auto" (or empty) for
// the platform default, "raw" for CLOCK_MONOTONIC_RAW, or "monotonic" for
// the runtime clock.
func TickSourceByName(name string) (TickSource, error) {
	switch name {
	case "", "auto":
		return DefaultTickSource(), nil
	case "raw":
		return rawTickSource()
	case "monotonic":
		return NewMonotonicTickSource(), nil
	}
	return nil, fmt.Errorf("unknown tick source %q", name)
}
