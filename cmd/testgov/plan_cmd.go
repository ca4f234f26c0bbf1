package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/orchestrator"
)

func (c *cli) newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Test plan admission and scheduling",
	}
	cmd.AddCommand(c.newPlanScheduleCmd(), c.newPlanRunCmd())
	return cmd
}

func (c *cli) limiter() orchestrator.LimiterStore {
	lc := c.cfg.Orchestrator.Limiter
	if lc.Backend == "redis" {
		return orchestrator.NewRedisLimiterStoreFromAddr(lc.RedisAddr, lc.RedisPassword, lc.RedisDB)
	}
	return orchestrator.NewInMemoryLimiterStore()
}

type planOutcome struct {
	PlanID string              `json:"plan_id"`
	Order  int                 `json:"order,omitempty"`
	State  contracts.PlanState `json:"state"`
	Code   contracts.Code      `json:"code,omitempty"`
	Error  string              `json:"error,omitempty"`
}

func readPlans(path string) ([]contracts.TestPlan, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied plan file
	if err != nil {
		return nil, err
	}
	var plans []contracts.TestPlan
	if err := json.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plans, nil
}

func (c *cli) newOrchestrator(catalog string, extra ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	reg, err := c.loadCatalog(catalog)
	if err != nil {
		return nil, err
	}
	oc := c.cfg.Orchestrator
	opts := []orchestrator.Option{
		orchestrator.WithCeilings(oc.Ceilings),
		orchestrator.WithMaxSkips(oc.MaxSkips),
		orchestrator.WithLimiter(c.limiter(), oc.Limiter.Policy()),
		orchestrator.WithProvider(c.provider),
		orchestrator.WithLogger(c.logger.With("component", "orchestrator")),
		orchestrator.WithMetrics(c.metrics()),
	}
	return orchestrator.New(reg, append(opts, extra...)...), nil
}

// submitAll submits plans in order and returns the refused ones.
func submitAll(ctx context.Context, o *orchestrator.Orchestrator, plans []contracts.TestPlan) []planOutcome {
	refused := []planOutcome{}
	for _, p := range plans {
		if err := o.SubmitPlan(ctx, p); err != nil {
			state, _ := o.State(p.PlanID)
			refused = append(refused, planOutcome{
				PlanID: p.PlanID,
				State:  state,
				Code:   contracts.CodeOf(err),
				Error:  err.Error(),
			})
		}
	}
	return refused
}

func (c *cli) printPlanOutcomes(dispatched, refused []planOutcome) error {
	if c.jsonOutput {
		return c.outputJSON(struct {
			Dispatched []planOutcome `json:"dispatched"`
			Refused    []planOutcome `json:"refused"`
		}{dispatched, refused})
	}
	for _, d := range dispatched {
		line := fmt.Sprintf("%3d %s %s", d.Order, d.PlanID, d.State)
		if d.Error != "" {
			line += ": " + d.Error
		}
		c.printf("%s\n", line)
	}
	for _, r := range refused {
		c.printf("  - %s refused: %s\n", r.PlanID, r.Error)
	}
	return nil
}

// newPlanScheduleCmd admits the plans in a JSON file against the configured
// ceilings and limiter, then prints the order the scheduler dispatches them
// in. Nothing is executed.
func (c *cli) newPlanScheduleCmd() *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "schedule <plans.json>",
		Short: "Dry-run admission and dispatch order for a list of plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			plans, err := readPlans(args[0])
			if err != nil {
				return err
			}
			o, err := c.newOrchestrator(catalog)
			if err != nil {
				return err
			}
			refused := submitAll(ctx, o, plans)

			dispatched := []planOutcome{}
			for o.PendingCount() > 0 {
				p, err := o.Next(ctx)
				if err != nil {
					return err
				}
				if err := o.Complete(p.PlanID); err != nil {
					return err
				}
				dispatched = append(dispatched, planOutcome{PlanID: p.PlanID, Order: len(dispatched) + 1, State: contracts.PlanScheduled})
			}

			if err := c.printPlanOutcomes(dispatched, refused); err != nil {
				return err
			}
			if len(refused) > 0 {
				return failed("%d of %d plans refused", len(refused), len(plans))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog file (default catalog.path from config)")
	return cmd
}

// newPlanRunCmd executes every admitted plan with an external command,
// orchestrator.max_concurrent at a time. The command sees the plan through
// TESTGOV_PLAN_ID and TESTGOV_PLAN_CONTRACTS and is killed at the plan's
// wall-clock limit.
func (c *cli) newPlanRunCmd() *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "run <plans.json> -- <command> [args...]",
		Short: "Execute plans through the scheduler with an external test command",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.ArgsLenAtDash() != 1 {
				return errors.New("usage: plan run <plans.json> -- <command> [args...]")
			}
			plans, err := readPlans(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			var (
				mu         sync.Mutex
				dispatched []planOutcome
				finished   int
				admitted   int
			)
			failures := map[string]error{}
			index := map[string]int{}
			o, err := c.newOrchestrator(catalog, orchestrator.WithFinishHook(func(st orchestrator.PlanStatus) {
				mu.Lock()
				defer mu.Unlock()
				dispatched[index[st.Plan.PlanID]].State = st.State
				finished++
				if finished == admitted {
					cancel()
				}
			}))
			if err != nil {
				return err
			}

			refused := submitAll(ctx, o, plans)
			mu.Lock()
			admitted = len(plans) - len(refused)
			mu.Unlock()

			argv := args[1:]
			executor := func(execCtx context.Context, plan contracts.TestPlan) error {
				mu.Lock()
				index[plan.PlanID] = len(dispatched)
				dispatched = append(dispatched, planOutcome{PlanID: plan.PlanID, Order: len(dispatched) + 1, State: contracts.PlanScheduled})
				mu.Unlock()

				runErr := runPlanCommand(execCtx, plan, argv, c.stderr)
				if runErr != nil {
					mu.Lock()
					failures[plan.PlanID] = runErr
					mu.Unlock()
				}
				return runErr
			}

			if admitted > 0 {
				if err := o.Run(ctx, executor, c.cfg.Orchestrator.MaxConcurrent); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
			}

			mu.Lock()
			defer mu.Unlock()
			bad := 0
			for i := range dispatched {
				d := &dispatched[i]
				if ferr, ok := failures[d.PlanID]; ok {
					d.Error = ferr.Error()
				}
				if d.Error != "" || d.State != contracts.PlanCompleted {
					bad++
				}
			}
			if err := c.printPlanOutcomes(dispatched, refused); err != nil {
				return err
			}
			if bad > 0 || len(refused) > 0 {
				return failed("%d plans failed, %d refused", bad, len(refused))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog file (default catalog.path from config)")
	return cmd
}

func runPlanCommand(ctx context.Context, plan contracts.TestPlan, argv []string, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: operator-supplied test command
	cmd.Env = append(os.Environ(),
		"TESTGOV_PLAN_ID="+plan.PlanID,
		"TESTGOV_PLAN_CONTRACTS="+strings.Join(plan.Contracts, ","),
	)
	cmd.Stdout = stderr
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("plan %s: %w", plan.PlanID, err)
	}
	return nil
}
