// Package orchestrator schedules test plans by QoS and priority, with
// max-skip aging so no pending plan waits forever.
package orchestrator

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
	"github.com/Mindburn-Labs/helm/testgov/pkg/receipts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/registry"
)

// PlanIDMetadataKey tags receipts produced while executing a plan.
const PlanIDMetadataKey = "plan_id"

// DefaultRetention is how many finished plans keep their status and ID.
const DefaultRetention = 4096

var planValidate = validator.New(validator.WithRequiredStructEnabled())

// DefaultCeilings is the system ceiling used when none is configured.
func DefaultCeilings() contracts.ResourceBudget {
	return contracts.ResourceBudget{
		MaxCores:            8,
		MaxMemoryBytes:      8 << 30,
		MaxWallClockSeconds: 3600,
		AllowNetwork:        false,
		AllowStorage:        true,
	}
}

// PlanStatus is a point-in-time view of one submitted plan.
type PlanStatus struct {
	Plan        contracts.TestPlan
	State       contracts.PlanState
	Skips       int
	Starving    bool
	SubmittedAt time.Time
	ScheduledAt time.Time
	FinishedAt  time.Time
}

type planRecord struct {
	status PlanStatus
	item   *queuedPlan
}

// Orchestrator holds all plan state under one mutex. SubmitPlan may be
// called concurrently; Next hands each plan out exactly once.
type Orchestrator struct {
	registry     *registry.Registry
	ledger       *ledger.Ledger
	ceilings     contracts.ResourceBudget
	maxSkips     int
	limiter      LimiterStore
	backpressure BackpressurePolicy
	provider     *observability.Provider
	logger       *slog.Logger
	metrics      *observability.Metrics
	clock        func() time.Time
	onFinish     func(PlanStatus)
	retention    int

	mu    sync.Mutex
	sched *scheduler
	plans map[string]*planRecord
	// terminal lists finished plan IDs, oldest first.
	terminal []string
	// ready is closed and replaced whenever a plan is enqueued.
	ready chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCeilings replaces DefaultCeilings.
func WithCeilings(c contracts.ResourceBudget) Option {
	return func(o *Orchestrator) { o.ceilings = c }
}

// WithLedger enables PlanReceipts.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithMaxSkips sets how many dispatches a plan may be passed over before it
// is starving.
func WithMaxSkips(n int) Option {
	return func(o *Orchestrator) { o.maxSkips = n }
}

// WithLimiter throttles submissions per requester.
func WithLimiter(store LimiterStore, policy BackpressurePolicy) Option {
	return func(o *Orchestrator) {
		o.limiter = store
		o.backpressure = policy
	}
}

// WithProvider traces each plan execution in Run.
func WithProvider(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics records submissions and dispatches.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFinishHook calls fn, outside the orchestrator lock, each time a
// Scheduled plan reaches Completed or TimedOut.
func WithFinishHook(fn func(PlanStatus)) Option {
	return func(o *Orchestrator) { o.onFinish = fn }
}

// WithClock sets the clock for status timestamps. Wall-clock limits in Run
// always use real time.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithRetention caps how many Completed, TimedOut, Withdrawn or Rejected
// plans are remembered. Once forgotten, a plan's status is gone and its ID
// may be submitted again. Pending and Scheduled plans are always kept.
func WithRetention(n int) Option {
	return func(o *Orchestrator) { o.retention = n }
}

func New(reg *registry.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		ceilings:  DefaultCeilings(),
		maxSkips:  DefaultMaxSkips,
		retention: DefaultRetention,
		logger:    slog.Default().With("component", "orchestrator"),
		clock:     time.Now,
		plans:     make(map[string]*planRecord),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retention < 0 {
		o.retention = 0
	}
	o.sched = newScheduler(o.maxSkips)
	return o
}

// SubmitPlan validates plan and enqueues it as Pending. Checks run in order:
// structure, ceilings, contract names, plan ID uniqueness, requester limit.
// Plans refused for their budget or contracts are remembered as Rejected.
func (o *Orchestrator) SubmitPlan(ctx context.Context, plan contracts.TestPlan) error {
	qos := string(plan.QoS)
	if err := planValidate.Struct(plan); err != nil {
		o.metrics.RecordPlanSubmitted(ctx, qos, "invalid")
		return &InvalidPlanError{PlanID: plan.PlanID, Err: err}
	}

	plan = clonePlan(plan)
	var rejection error
	if over := plan.ResourceBudget.Exceeds(o.ceilings); len(over) > 0 {
		rejection = &ResourceBudgetExceededError{PlanID: plan.PlanID, Dimensions: over}
	} else if unknown := o.unknownContracts(plan.Contracts); len(unknown) > 0 {
		rejection = &UnknownContractError{PlanID: plan.PlanID, Names: unknown}
	}

	o.mu.Lock()
	if rec, ok := o.plans[plan.PlanID]; ok {
		state := rec.status.State
		o.mu.Unlock()
		o.metrics.RecordPlanSubmitted(ctx, qos, "duplicate")
		return &DuplicateExecutionError{PlanID: plan.PlanID, State: state}
	}
	if rejection != nil {
		o.plans[plan.PlanID] = &planRecord{status: PlanStatus{
			Plan:        plan,
			State:       contracts.PlanRejected,
			SubmittedAt: o.clock(),
			FinishedAt:  o.clock(),
		}}
		o.retireLocked(plan.PlanID)
		o.mu.Unlock()
		o.logger.Warn("plan rejected", "plan_id", plan.PlanID, "error", rejection)
		o.metrics.RecordPlanSubmitted(ctx, qos, "rejected")
		return rejection
	}
	o.mu.Unlock()

	if o.limiter != nil {
		allowed, err := o.limiter.Allow(ctx, plan.Requester, o.backpressure, 1)
		if err != nil || !allowed {
			o.logger.Warn("plan throttled", "plan_id", plan.PlanID, "requester", plan.Requester, "error", err)
			o.metrics.RecordPlanSubmitted(ctx, qos, "throttled")
			return &SubmissionThrottledError{Requester: plan.Requester, Err: err}
		}
	}

	o.mu.Lock()
	// A concurrent submission of the same ID may have won while the limiter ran.
	if rec, ok := o.plans[plan.PlanID]; ok {
		state := rec.status.State
		o.mu.Unlock()
		o.metrics.RecordPlanSubmitted(ctx, qos, "duplicate")
		return &DuplicateExecutionError{PlanID: plan.PlanID, State: state}
	}
	item := o.sched.push(plan)
	o.plans[plan.PlanID] = &planRecord{
		status: PlanStatus{Plan: plan, State: contracts.PlanPending, SubmittedAt: o.clock()},
		item:   item,
	}
	close(o.ready)
	o.ready = make(chan struct{})
	o.mu.Unlock()

	o.logger.Info("plan submitted", "plan_id", plan.PlanID, "qos", plan.QoS, "priority", plan.Priority)
	o.metrics.RecordPlanSubmitted(ctx, qos, "accepted")
	return nil
}

func (o *Orchestrator) unknownContracts(names []string) []string {
	var unknown []string
	for _, n := range names {
		if _, ok := o.registry.Lookup(n); !ok && !slices.Contains(unknown, n) {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

func clonePlan(p contracts.TestPlan) contracts.TestPlan {
	p.Contracts = slices.Clone(p.Contracts)
	p.Metadata = maps.Clone(p.Metadata)
	return p
}

// Next blocks until a plan is available or ctx is done, then marks the
// plan Scheduled and returns it.
func (o *Orchestrator) Next(ctx context.Context) (contracts.TestPlan, error) {
	for {
		o.mu.Lock()
		if item, ok := o.sched.pop(); ok {
			rec := o.plans[item.plan.PlanID]
			rec.item = nil
			rec.status.State = contracts.PlanScheduled
			rec.status.Skips = item.skips
			rec.status.Starving = item.starving()
			rec.status.ScheduledAt = o.clock()
			o.refreshAging()
			o.mu.Unlock()

			o.logger.Info("plan scheduled", "plan_id", item.plan.PlanID, "skips", item.skips, "starving", item.starving())
			o.metrics.RecordPlanDispatched(ctx, string(item.plan.QoS), item.starving())
			return clonePlan(item.plan), nil
		}
		ready := o.ready
		o.mu.Unlock()

		select {
		case <-ctx.Done():
			return contracts.TestPlan{}, ctx.Err()
		case <-ready:
		}
	}
}

// refreshAging copies queue counters into the pending plans' status.
// Caller holds o.mu.
func (o *Orchestrator) refreshAging() {
	for _, q := range o.sched.queue {
		rec := o.plans[q.plan.PlanID]
		rec.status.Skips = q.skips
		rec.status.Starving = q.starving()
	}
}

// Complete moves a Scheduled plan to Completed.
func (o *Orchestrator) Complete(planID string) error {
	return o.finish(planID, contracts.PlanCompleted)
}

func (o *Orchestrator) timeOut(planID string) error {
	return o.finish(planID, contracts.PlanTimedOut)
}

func (o *Orchestrator) finish(planID string, to contracts.PlanState) error {
	o.mu.Lock()
	rec, ok := o.plans[planID]
	if !ok {
		o.mu.Unlock()
		return &PlanNotFoundError{PlanID: planID}
	}
	if rec.status.State != contracts.PlanScheduled {
		from := rec.status.State
		o.mu.Unlock()
		return &InvalidTransitionError{PlanID: planID, From: from, To: to}
	}
	rec.status.State = to
	rec.status.FinishedAt = o.clock()
	st := rec.status
	st.Plan = clonePlan(st.Plan)
	o.retireLocked(planID)
	o.mu.Unlock()

	o.logger.Info("plan finished", "plan_id", planID, "state", to)
	if o.onFinish != nil {
		o.onFinish(st)
	}
	return nil
}

// Withdraw removes a Pending plan from the queue. Scheduled plans cannot be
// withdrawn.
func (o *Orchestrator) Withdraw(planID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.plans[planID]
	if !ok {
		return &PlanNotFoundError{PlanID: planID}
	}
	if rec.status.State != contracts.PlanPending {
		return &InvalidTransitionError{PlanID: planID, From: rec.status.State, To: contracts.PlanWithdrawn}
	}
	o.sched.remove(rec.item)
	rec.item = nil
	rec.status.State = contracts.PlanWithdrawn
	rec.status.FinishedAt = o.clock()
	o.retireLocked(planID)
	o.logger.Info("plan withdrawn", "plan_id", planID)
	return nil
}

// retireLocked records planID as finished and forgets the oldest finished
// plans beyond the retention limit. Caller holds o.mu.
func (o *Orchestrator) retireLocked(planID string) {
	o.terminal = append(o.terminal, planID)
	if excess := len(o.terminal) - o.retention; excess > 0 {
		for _, id := range o.terminal[:excess] {
			delete(o.plans, id)
		}
		o.terminal = slices.Delete(o.terminal, 0, excess)
	}
}

func (o *Orchestrator) State(planID string) (contracts.PlanState, error) {
	st, err := o.Status(planID)
	if err != nil {
		return "", err
	}
	return st.State, nil
}

func (o *Orchestrator) Status(planID string) (PlanStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.plans[planID]
	if !ok {
		return PlanStatus{}, &PlanNotFoundError{PlanID: planID}
	}
	st := rec.status
	st.Plan = clonePlan(st.Plan)
	return st, nil
}

// PendingCount is the number of queued plans.
func (o *Orchestrator) PendingCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sched.len()
}

// Pending returns the queued plans in the order they would dispatch if no
// further aging happened.
func (o *Orchestrator) Pending() []contracts.TestPlan {
	o.mu.Lock()
	defer o.mu.Unlock()

	items := slices.Clone(o.sched.queue)
	slices.SortFunc(items, func(a, b *queuedPlan) int {
		switch {
		case dispatchesBefore(a, b):
			return -1
		case dispatchesBefore(b, a):
			return 1
		}
		return 0
	})
	out := make([]contracts.TestPlan, 0, len(items))
	for _, it := range items {
		out = append(out, clonePlan(it.plan))
	}
	return out
}

// PlanReceipts returns the ledger receipts tagged with planID. It is empty
// when no ledger is configured.
func (o *Orchestrator) PlanReceipts(planID string) []*receipts.Receipt {
	if o.ledger == nil {
		return []*receipts.Receipt{}
	}
	return o.ledger.QueryByMetadata(PlanIDMetadataKey, planID)
}
