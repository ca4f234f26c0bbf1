package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// Executor runs one scheduled plan. It must honor ctx: the context carries
// the plan's wall-clock deadline.
type Executor func(ctx context.Context, plan contracts.TestPlan) error

// Run is the scheduling loop. It dispatches plans to exec with at most
// concurrency executions in flight until ctx is done, then waits for the
// in-flight executions and returns ctx's error. Each wait is bounded by the
// plan's own wall clock, so Run returns within the longest remaining
// MaxWallClockSeconds of the plans in flight.
//
// A plan whose execution outlives MaxWallClockSeconds is marked TimedOut
// and its slot is released, even when the executor ignores ctx; otherwise
// it ends Completed whatever exec returns. Executor errors are logged, not
// retried.
func (o *Orchestrator) Run(ctx context.Context, exec Executor, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)

	for {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		plan, err := o.Next(gctx)
		if err != nil {
			sem.Release(1)
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return o.execute(gctx, exec, plan)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

type execResult struct{ err error }

func (o *Orchestrator) execute(ctx context.Context, exec Executor, plan contracts.TestPlan) (err error) {
	if o.provider != nil {
		var end func(error)
		ctx, end = o.provider.TrackOperation(ctx, "orchestrator.execute",
			attribute.String("plan_id", plan.PlanID),
			attribute.String("qos", string(plan.QoS)),
		)
		defer func() { end(err) }()
	}
	return o.supervise(ctx, exec, plan)
}

// supervise returns only state-machine failures; those abort Run. The wall
// clock runs on its own timer so that shutdown cannot extend it.
func (o *Orchestrator) supervise(ctx context.Context, exec Executor, plan contracts.TestPlan) error {
	limit := plan.ResourceBudget.WallClock()
	wall := time.NewTimer(limit)
	defer wall.Stop()
	execCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan execResult, 1)
	go func() { done <- execResult{err: exec(execCtx, plan)} }()

	select {
	case res := <-done:
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return o.markTimedOut(plan)
		}
		return o.completeExecution(plan, res, "plan execution failed")
	case <-wall.C:
		return o.markTimedOut(plan)
	case <-ctx.Done():
	}

	// Shutdown: the executor has seen the cancellation and keeps its slot
	// until it returns or the original wall clock runs out.
	select {
	case res := <-done:
		return o.completeExecution(plan, res, "plan execution interrupted")
	case <-wall.C:
		return o.markTimedOut(plan)
	}
}

func (o *Orchestrator) completeExecution(plan contracts.TestPlan, res execResult, msg string) error {
	if res.err != nil {
		o.logger.Warn(msg, "plan_id", plan.PlanID, "error", res.err)
	}
	if err := o.Complete(plan.PlanID); err != nil {
		return fmt.Errorf("complete %s: %w", plan.PlanID, err)
	}
	return nil
}

func (o *Orchestrator) markTimedOut(plan contracts.TestPlan) error {
	o.logger.Warn("plan exceeded wall clock", "plan_id", plan.PlanID, "limit", plan.ResourceBudget.WallClock())
	if err := o.timeOut(plan.PlanID); err != nil {
		return fmt.Errorf("time out %s: %w", plan.PlanID, err)
	}
	return nil
}
