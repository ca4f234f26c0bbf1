package thermal

import (
	"context"
	"errors"
	"log/slog"
	"runtime"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
)

// Classifier measures operations with a tick source and optional allocation
// and syscall probes. It holds no per-run state, so concurrent runs are safe.
type Classifier struct {
	ticks       TickSource
	allocs      AllocProbe
	syscalls    SyscallProbe
	syscallsSet bool
	// syscallOverhead is what a paired probe read costs on its own.
	syscallOverhead uint64
	// tickOverhead is the tick delta of an empty window.
	tickOverhead    uint64
	tickOverheadSet bool
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTickSource replaces DefaultTickSource. A nil source makes every run
// fail with CannotMeasureError.
func WithTickSource(s TickSource) Option {
	return func(c *Classifier) { c.ticks = s }
}

// WithTickOverhead fixes the empty-window cost instead of calibrating it.
func WithTickOverhead(ticks uint64) Option {
	return func(c *Classifier) {
		c.tickOverhead = ticks
		c.tickOverheadSet = true
	}
}

// WithAllocProbe replaces the MemStats probe; nil disables no-alloc tiers.
func WithAllocProbe(p AllocProbe) Option {
	return func(c *Classifier) { c.allocs = p }
}

// WithSyscallProbe replaces DefaultSyscallProbe; nil disables no-syscall tiers.
func WithSyscallProbe(p SyscallProbe) Option {
	return func(c *Classifier) {
		c.syscalls = p
		c.syscallsSet = true
	}
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithMetrics records one thermal run per measurement.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// New returns a classifier using the platform defaults unless overridden.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		ticks:  DefaultTickSource(),
		allocs: NewMemStatsAllocProbe(),
		logger: slog.Default().With("component", "thermal"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.syscallsSet {
		c.syscalls = DefaultSyscallProbe()
	}
	c.calibrate()
	return c
}

const tickCalibrationRounds = 64

// calibrate records the smallest tick and syscall deltas seen across empty
// windows.
func (c *Classifier) calibrate() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.ticks != nil && !c.tickOverheadSet {
		c.tickOverhead = c.calibrateTicks()
	}
	if c.syscalls == nil {
		return
	}

	var best uint64
	for i := 0; i < 3; i++ {
		before, err := c.syscalls.Syscalls()
		if err != nil {
			return
		}
		after, err := c.syscalls.Syscalls()
		if err != nil || after < before {
			return
		}
		if d := after - before; i == 0 || d < best {
			best = d
		}
	}
	c.syscallOverhead = best
}

func (c *Classifier) calibrateTicks() uint64 {
	var best uint64
	seen := false
	for i := 0; i < tickCalibrationRounds; i++ {
		start, err := c.ticks.Ticks()
		if err != nil {
			return 0
		}
		end, err := c.ticks.Ticks()
		if err != nil {
			return 0
		}
		if end < start {
			continue
		}
		if d := end - start; !seen || d < best {
			best, seen = d, true
		}
	}
	return best
}

// TickOverhead is the empty-window cost subtracted from every measurement.
func (c *Classifier) TickOverhead() uint64 { return c.tickOverhead }

// ForContract returns the enforcement profile of contract.
func (c *Classifier) ForContract(contract contracts.TestContract) TierConfig {
	cfg := TierFor(contract.ThermalClass)
	cfg.Contract = contract.Name
	return cfg
}

// Run executes op once and classifies it against cfg. On a tier violation
// the op result and the measurement are still returned alongside the error,
// with MeetsBudget false. On a fault or unmeasurable run the measurement is
// the zero value.
func Run[T any](c *Classifier, cfg TierConfig, op func() T) (T, contracts.TimingMeasurement, error) {
	var result T
	m, err := c.measure(cfg, 1, func() { result = op() })
	return result, m, err
}

// Measure executes op iterations times inside one window and reports the
// per-iteration cost, rounded up.
func (c *Classifier) Measure(cfg TierConfig, iterations uint64, op func()) (contracts.TimingMeasurement, error) {
	if iterations == 0 {
		iterations = 1
	}
	return c.measure(cfg, iterations, func() {
		for i := uint64(0); i < iterations; i++ {
			op()
		}
	})
}

type window struct {
	startTicks, endTicks uint64
	allocDelta           uint64
	syscallDelta         uint64
}

func (c *Classifier) measure(cfg TierConfig, iterations uint64, body func()) (contracts.TimingMeasurement, error) {
	if c == nil || c.ticks == nil {
		return contracts.TimingMeasurement{}, &CannotMeasureError{Reason: "no tick source"}
	}
	if cfg.EnforceNoAlloc && c.allocs == nil {
		return contracts.TimingMeasurement{}, &CannotMeasureError{Reason: "no allocation probe"}
	}
	if cfg.EnforceNoSyscall && c.syscalls == nil {
		return contracts.TimingMeasurement{}, &CannotMeasureError{Reason: "no syscall probe"}
	}

	w, err := c.observe(cfg, body)
	if err != nil {
		c.logger.Error("thermal measurement failed", "contract", cfg.Contract, "class", cfg.Class, "error", err)
		return contracts.TimingMeasurement{}, err
	}

	total := w.endTicks - w.startTicks
	if total > c.tickOverhead {
		total -= c.tickOverhead
	} else {
		total = 0
	}
	perIter := total / iterations
	if total%iterations != 0 {
		perIter++
	}
	m := contracts.TimingMeasurement{
		Ticks:        perIter,
		Iterations:   iterations,
		ThermalClass: cfg.Class,
		Budget:       cfg.BudgetTicks,
		MeetsBudget:  cfg.within(perIter),
	}

	var violations []error
	if cfg.EnforceNoAlloc && w.allocDelta > 0 {
		violations = append(violations, &AllocationDetectedError{Contract: cfg.Contract, Allocs: w.allocDelta})
	}
	if cfg.EnforceNoSyscall && w.syscallDelta > 0 {
		violations = append(violations, &SyscallDetectedError{Contract: cfg.Contract, Syscalls: w.syscallDelta})
	}
	if !m.MeetsBudget {
		violations = append(violations, &BudgetExceededError{
			Contract: cfg.Contract,
			Class:    cfg.Class,
			Actual:   perIter,
			Budget:   cfg.BudgetTicks,
		})
	}
	m.MeetsBudget = len(violations) == 0
	c.metrics.RecordThermalRun(context.Background(), string(cfg.Class), m.MeetsBudget)

	switch len(violations) {
	case 0:
		return m, nil
	case 1:
		c.logger.Warn("thermal violation", "contract", cfg.Contract, "class", cfg.Class, "ticks", perIter, "error", violations[0])
		return m, violations[0]
	default:
		err := errors.Join(violations...)
		c.logger.Warn("thermal violation", "contract", cfg.Contract, "class", cfg.Class, "ticks", perIter, "error", err)
		return m, err
	}
}

// observe runs body between paired probe reads on a locked OS thread. Reads
// nest outward (syscall, alloc, ticks) so each probe's own cost stays out of
// the windows inside it.
func (c *Classifier) observe(cfg TierConfig, body func()) (window, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var w window
	var sysBefore, allocBefore uint64
	var err error

	if cfg.EnforceNoSyscall {
		if sysBefore, err = c.syscalls.Syscalls(); err != nil {
			return w, &CannotMeasureError{Reason: "syscall probe", Err: err}
		}
	}
	if cfg.EnforceNoAlloc {
		if allocBefore, err = c.allocs.Allocs(); err != nil {
			return w, &CannotMeasureError{Reason: "allocation probe", Err: err}
		}
	}
	if w.startTicks, err = c.ticks.Ticks(); err != nil {
		return w, &CannotMeasureError{Reason: "tick source", Err: err}
	}

	body()

	if w.endTicks, err = c.ticks.Ticks(); err != nil {
		return w, &CannotMeasureError{Reason: "tick source", Err: err}
	}
	if w.endTicks < w.startTicks {
		return w, &MeasurementFaultError{Start: w.startTicks, End: w.endTicks}
	}
	if cfg.EnforceNoAlloc {
		after, err := c.allocs.Allocs()
		if err != nil {
			return w, &CannotMeasureError{Reason: "allocation probe", Err: err}
		}
		if after > allocBefore {
			w.allocDelta = after - allocBefore
		}
	}
	if cfg.EnforceNoSyscall {
		after, err := c.syscalls.Syscalls()
		if err != nil {
			return w, &CannotMeasureError{Reason: "syscall probe", Err: err}
		}
		if d := after - sysBefore; after > sysBefore && d > c.syscallOverhead {
			w.syscallDelta = d - c.syscallOverhead
		}
	}
	return w, nil
}
