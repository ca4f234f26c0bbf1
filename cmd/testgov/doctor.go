package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/thermal"
)

type probeCheck struct {
	Class       contracts.ThermalClass `json:"thermal_class"`
	Ticks       uint64                 `json:"ticks"`
	Budget      uint64                 `json:"budget"`
	MeetsBudget bool                   `json:"meets_budget"`
	Code        contracts.Code         `json:"code,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func formatTicks(n uint64) string {
	return fmt.Sprintf("%d ticks", n)
}

// newDoctorCmd measures an empty operation in every tier to check that the
// configured tick source and probes work on this host.
func (c *cli) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check thermal probes on this host",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ticks, err := thermal.TickSourceByName(c.cfg.Thermal.TickSource)
			if err != nil {
				return err
			}
			classifier := thermal.New(
				thermal.WithTickSource(ticks),
				thermal.WithLogger(c.logger.With("component", "thermal")),
				thermal.WithMetrics(c.metrics()),
			)

			var checks []probeCheck
			unmeasurable := 0
			for _, class := range contracts.ThermalClasses {
				tier := thermal.TierFor(class)
				tier.Contract = "doctor"
				m, err := classifier.Measure(tier, c.cfg.Thermal.Iterations, func() {})
				check := probeCheck{Class: class, Ticks: m.Ticks, Budget: tier.BudgetTicks, MeetsBudget: m.MeetsBudget}
				if err != nil {
					check.Code = contracts.CodeOf(err)
					check.Error = err.Error()
					if contracts.IsCode(err, contracts.ErrCannotMeasureThermal) || contracts.IsCode(err, contracts.ErrThermalMeasurementFault) {
						unmeasurable++
					}
				}
				checks = append(checks, check)
			}

			if c.jsonOutput {
				if err := c.outputJSON(checks); err != nil {
					return err
				}
			} else {
				for _, ch := range checks {
					status := "ok"
					if ch.Error != "" {
						status = ch.Error
					}
					c.printf("%-4s %-10s %s\n", ch.Class, formatTicks(ch.Ticks), status)
				}
			}
			if unmeasurable > 0 {
				return failed("%d tiers cannot be measured on this host", unmeasurable)
			}
			return nil
		},
	}
}
