package thermal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// seqTicks replays fixed tick values.
type seqTicks struct {
	vals []uint64
	i    int
	err  error
}

func (s *seqTicks) Ticks() (uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v, nil
}

func ticks(vals ...uint64) *seqTicks { return &seqTicks{vals: vals} }

type fixedAllocs struct{ n uint64 }

func (f *fixedAllocs) Allocs() (uint64, error) { return f.n, nil }

// steppingSyscalls costs step per read, like a real /proc probe.
type steppingSyscalls struct {
	n    uint64
	step uint64
}

func (s *steppingSyscalls) Syscalls() (uint64, error) {
	v := s.n
	s.n += s.step
	return v, nil
}

func quiet(t *testing.T, tick TickSource) (*Classifier, *fixedAllocs, *steppingSyscalls) {
	t.Helper()
	a := &fixedAllocs{}
	s := &steppingSyscalls{step: 2}
	return New(WithTickSource(tick), WithTickOverhead(0), WithAllocProbe(a), WithSyscallProbe(s)), a, s
}

// steppingTicks advances by step on every read.
type steppingTicks struct {
	n    uint64
	step uint64
}

func (s *steppingTicks) Ticks() (uint64, error) {
	v := s.n
	s.n += s.step
	return v, nil
}

func TestRun_HotWithinBudget(t *testing.T) {
	c, _, _ := quiet(t, ticks(100, 106))

	v, m, err := Run(c, TierFor(contracts.ThermalHot), func() int { return 42 })
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, uint64(6), m.Ticks)
	require.Equal(t, uint64(8), m.Budget)
	require.Equal(t, uint64(1), m.Iterations)
	require.Equal(t, contracts.ThermalHot, m.ThermalClass)
	require.True(t, m.MeetsBudget)
}

func TestRun_HotOverBudget(t *testing.T) {
	c, _, _ := quiet(t, ticks(100, 112))

	v, m, err := Run(c, TierFor(contracts.ThermalHot), func() string { return "done" })
	require.Error(t, err)

	var be *BudgetExceededError
	require.True(t, errors.As(err, &be))
	require.Equal(t, uint64(12), be.Actual)
	require.Equal(t, uint64(8), be.Budget)
	require.Equal(t, contracts.ErrBudgetExceeded, contracts.CodeOf(err))

	require.Equal(t, "done", v, "value is returned alongside the violation")
	require.Equal(t, uint64(12), m.Ticks)
	require.False(t, m.MeetsBudget)
}

func TestRun_TierBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		class contracts.ThermalClass
		delta uint64
		ok    bool
	}{
		{"hot at ceiling", contracts.ThermalHot, 8, true},
		{"hot one over", contracts.ThermalHot, 9, false},
		{"warm at ceiling", contracts.ThermalWarm, 100, true},
		{"warm one over", contracts.ThermalWarm, 101, false},
		{"cold unbounded", contracts.ThermalCold, 1 << 40, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _, _ := quiet(t, ticks(1000, 1000+tc.delta))
			_, m, err := Run(c, TierFor(tc.class), func() struct{} { return struct{}{} })
			require.Equal(t, tc.ok, err == nil, "err=%v", err)
			require.Equal(t, tc.ok, m.MeetsBudget)
			require.Equal(t, tc.delta, m.Ticks)
		})
	}
}

func TestRun_ClockWentBackwards(t *testing.T) {
	c, _, _ := quiet(t, ticks(500, 400))

	_, m, err := Run(c, TierFor(contracts.ThermalCold), func() int { return 1 })
	var fault *MeasurementFaultError
	require.True(t, errors.As(err, &fault))
	require.Equal(t, contracts.TimingMeasurement{}, m, "no tick value on a fault")
}

func TestRun_AllocationDetected(t *testing.T) {
	c, allocs, _ := quiet(t, ticks(0, 3))

	_, m, err := Run(c, TierFor(contracts.ThermalHot), func() int {
		allocs.n += 2
		return 0
	})
	var ae *AllocationDetectedError
	require.True(t, errors.As(err, &ae))
	require.Equal(t, uint64(2), ae.Allocs)
	require.False(t, m.MeetsBudget)

	// Warm tier permits allocation.
	c, allocs, _ = quiet(t, ticks(0, 3))
	_, _, err = Run(c, TierFor(contracts.ThermalWarm), func() int {
		allocs.n += 2
		return 0
	})
	require.NoError(t, err)
}

func TestRun_SyscallDetectedAfterCalibration(t *testing.T) {
	c, _, sys := quiet(t, ticks(0, 3))
	require.Equal(t, uint64(2), c.syscallOverhead)

	_, _, err := Run(c, TierFor(contracts.ThermalHot), func() int { return 0 })
	require.NoError(t, err, "probe overhead must not count as a syscall")

	_, _, err = Run(c, TierFor(contracts.ThermalHot), func() int {
		sys.n += 3
		return 0
	})
	var se *SyscallDetectedError
	require.True(t, errors.As(err, &se))
	require.Equal(t, uint64(3), se.Syscalls)
}

func TestRun_TickOverheadCalibratedOut(t *testing.T) {
	src := &steppingTicks{step: 5}
	c := New(WithTickSource(src), WithAllocProbe(&fixedAllocs{}), WithSyscallProbe(&steppingSyscalls{step: 2}))
	require.Equal(t, uint64(5), c.TickOverhead())

	_, m, err := Run(c, TierFor(contracts.ThermalHot), func() int { return 0 })
	require.NoError(t, err)
	require.Equal(t, uint64(0), m.Ticks, "an empty body costs nothing")

	_, m, err = Run(c, TierFor(contracts.ThermalHot), func() int {
		src.n += 8
		return 0
	})
	require.NoError(t, err)
	require.Equal(t, uint64(8), m.Ticks)

	_, m, err = Run(c, TierFor(contracts.ThermalHot), func() int {
		src.n += 9
		return 0
	})
	require.True(t, contracts.IsCode(err, contracts.ErrBudgetExceeded))
	require.Equal(t, uint64(9), m.Ticks)

	// Overhead is paid once per window, not per iteration.
	m, err = c.Measure(TierFor(contracts.ThermalWarm), 4, func() { src.n += 10 })
	require.NoError(t, err)
	require.Equal(t, uint64(10), m.Ticks)
}

func TestWithTickOverhead_SkipsCalibration(t *testing.T) {
	src := &steppingTicks{step: 5}
	c := New(WithTickSource(src), WithTickOverhead(2), WithSyscallProbe(nil))
	require.Equal(t, uint64(2), c.TickOverhead())
	require.Equal(t, uint64(0), src.n, "no reads before the first run")

	_, m, err := Run(c, TierFor(contracts.ThermalWarm), func() int { return 0 })
	require.NoError(t, err)
	require.Equal(t, uint64(3), m.Ticks)
}

func TestRun_HotReachableOnDefaultClock(t *testing.T) {
	c := New(WithSyscallProbe(nil))
	cfg := TierFor(contracts.ThermalHot)
	cfg.EnforceNoSyscall = false

	met := 0
	for i := 0; i < 200; i++ {
		_, m, err := Run(c, cfg, func() int { return 1 })
		if err == nil {
			require.True(t, m.MeetsBudget)
			met++
		}
	}
	t.Logf("tick overhead %d, %d/200 runs within the Hot budget", c.TickOverhead(), met)
	require.Positive(t, met, "a trivial body must be able to meet the Hot budget")
}

func TestRun_HotNeverPassesSilentlyWithoutSyscallCounter(t *testing.T) {
	c := New(WithSyscallProbe(nil))
	_, _, err := Run(c, TierFor(contracts.ThermalHot), func() int { return 1 })
	require.True(t, contracts.IsCode(err, contracts.ErrCannotMeasureThermal), "got %v", err)
}

func TestRun_MultipleViolationsJoined(t *testing.T) {
	c, allocs, _ := quiet(t, ticks(0, 50))

	_, _, err := Run(c, TierFor(contracts.ThermalHot), func() int {
		allocs.n++
		return 0
	})
	require.True(t, contracts.IsCode(err, contracts.ErrAllocationDetected))
	require.True(t, contracts.IsCode(err, contracts.ErrBudgetExceeded))
}

func TestRun_FailsClosed(t *testing.T) {
	t.Run("nil classifier", func(t *testing.T) {
		_, _, err := Run((*Classifier)(nil), TierFor(contracts.ThermalCold), func() int { return 0 })
		require.True(t, contracts.IsCode(err, contracts.ErrCannotMeasureThermal))
	})
	t.Run("no tick source", func(t *testing.T) {
		c := New(WithTickSource(nil))
		_, _, err := Run(c, TierFor(contracts.ThermalCold), func() int { return 0 })
		require.True(t, contracts.IsCode(err, contracts.ErrCannotMeasureThermal))
	})
	t.Run("tick source error", func(t *testing.T) {
		c, _, _ := quiet(t, &seqTicks{err: errors.New("counter unavailable")})
		_, _, err := Run(c, TierFor(contracts.ThermalWarm), func() int { return 0 })
		require.True(t, contracts.IsCode(err, contracts.ErrCannotMeasureThermal))
	})
	t.Run("hot without syscall probe", func(t *testing.T) {
		c := New(WithTickSource(ticks(0, 1)), WithAllocProbe(&fixedAllocs{}), WithSyscallProbe(nil))
		_, _, err := Run(c, TierFor(contracts.ThermalHot), func() int { return 0 })
		require.True(t, contracts.IsCode(err, contracts.ErrCannotMeasureThermal))

		// Warm does not need the probe.
		_, _, err = Run(c, TierFor(contracts.ThermalWarm), func() int { return 0 })
		require.NoError(t, err)
	})
}

func TestMeasure_PerIterationCeil(t *testing.T) {
	c, _, _ := quiet(t, ticks(0, 25))

	calls := 0
	m, err := c.Measure(TierFor(contracts.ThermalHot), 4, func() { calls++ })
	require.NoError(t, err)
	require.Equal(t, 4, calls)
	require.Equal(t, uint64(7), m.Ticks)
	require.Equal(t, uint64(4), m.Iterations)
}

func TestForContract(t *testing.T) {
	c, _, _ := quiet(t, ticks(0, 1))
	cfg := c.ForContract(contracts.TestContract{Name: "t_warm", ThermalClass: contracts.ThermalWarm})
	require.Equal(t, "t_warm", cfg.Contract)
	require.Equal(t, uint64(100), cfg.BudgetTicks)
	require.False(t, cfg.EnforceNoAlloc)

	// Unknown classes never relax enforcement.
	cfg = TierFor(contracts.ThermalClass("?"))
	require.True(t, cfg.EnforceNoAlloc)
	require.True(t, cfg.EnforceNoSyscall)
	require.Equal(t, ChatmanConstant, cfg.BudgetTicks)
}

var sink []byte

func TestMemStatsAllocProbe_SeesAllocation(t *testing.T) {
	c := New(WithTickSource(ticks(0, 1)), WithSyscallProbe(nil))
	cfg := TierConfig{Class: contracts.ThermalHot, EnforceNoAlloc: true}

	_, _, err := Run(c, cfg, func() int {
		sink = make([]byte, 4096)
		return len(sink)
	})
	require.True(t, contracts.IsCode(err, contracts.ErrAllocationDetected), "got %v", err)
}
