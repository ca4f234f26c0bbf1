package main

import (
	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/orchestrator"
	"github.com/Mindburn-Labs/helm/testgov/pkg/registry"
	"github.com/Mindburn-Labs/helm/testgov/pkg/thermal"
)

type contractRow struct {
	Name        string   `json:"name"`
	Class       string   `json:"thermal_class"`
	BudgetTicks uint64   `json:"budget_ticks"`
	Modules     []string `json:"modules"`
	Invariants  []string `json:"invariants"`
}

type coverageReport struct {
	CatalogVersion      string        `json:"catalog_version"`
	Contracts           []contractRow `json:"contracts"`
	UncoveredModules    []string      `json:"uncovered_modules"`
	UncoveredInvariants []string      `json:"uncovered_invariants"`
}

func (c *cli) loadCatalog(path string) (*registry.Registry, error) {
	if path == "" {
		path = c.cfg.Catalog.Path
	}
	reg, err := registry.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("catalog loaded", "path", path, "contracts", reg.Len(), "version", reg.Version())
	return reg, nil
}

func (c *cli) newCoverageCmd() *cobra.Command {
	var (
		catalog    string
		modules    []string
		invariants []string
		failOnGaps bool
	)
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "List catalog contracts and report uncovered modules and invariants",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			reg, err := c.loadCatalog(catalog)
			if err != nil {
				return err
			}
			report := coverageReport{
				CatalogVersion:      reg.Version(),
				Contracts:           []contractRow{},
				UncoveredModules:    reg.UncoveredModules(modules),
				UncoveredInvariants: reg.UncoveredInvariants(invariants),
			}
			for _, tc := range reg.Contracts() {
				tier := thermal.TierFor(tc.ThermalClass)
				report.Contracts = append(report.Contracts, contractRow{
					Name:        tc.Name,
					Class:       string(tc.ThermalClass),
					BudgetTicks: tier.BudgetTicks,
					Modules:     tc.RequiredModules,
					Invariants:  tc.RequiredInvariants,
				})
			}

			if c.jsonOutput {
				if err := c.outputJSON(report); err != nil {
					return err
				}
			} else {
				c.printCoverage(report)
			}

			gaps := len(report.UncoveredModules) + len(report.UncoveredInvariants)
			if failOnGaps && gaps > 0 {
				return failed("%d coverage gaps", gaps)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog file (default catalog.path from config)")
	cmd.Flags().StringSliceVar(&modules, "modules", nil, "modules that must be covered")
	cmd.Flags().StringSliceVar(&invariants, "invariants", nil, "invariants that must be covered")
	cmd.Flags().BoolVar(&failOnGaps, "fail-on-gaps", false, "exit 1 when anything is uncovered")
	return cmd
}

func (c *cli) printCoverage(r coverageReport) {
	c.printf("catalog %s: %d contracts\n", r.CatalogVersion, len(r.Contracts))
	for _, row := range r.Contracts {
		budget := "unbounded"
		if row.BudgetTicks > 0 {
			budget = formatTicks(row.BudgetTicks)
		}
		c.printf("  %-32s %-5s %s\n", row.Name, row.Class, budget)
	}
	for _, m := range r.UncoveredModules {
		c.printf("uncovered module: %s\n", m)
	}
	for _, inv := range r.UncoveredInvariants {
		c.printf("uncovered invariant: %s\n", inv)
	}
}

func (c *cli) newSuggestCmd() *cobra.Command {
	var catalog string
	cmd := &cobra.Command{
		Use:   "suggest <module>...",
		Short: "Suggest the contracts to run for changed modules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, changed []string) error {
			reg, err := c.loadCatalog(catalog)
			if err != nil {
				return err
			}
			o := orchestrator.New(reg, orchestrator.WithLogger(c.logger.With("component", "orchestrator")))
			s := o.SuggestTestsForChange(changed)
			if c.jsonOutput {
				return c.outputJSON(struct {
					Contracts    []string `json:"contracts"`
					CoverageGaps []string `json:"coverage_gaps"`
				}{s.Names(), s.CoverageGaps})
			}
			for _, name := range s.Names() {
				c.printf("%s\n", name)
			}
			for _, m := range s.CoverageGaps {
				c.printf("gap: %s\n", m)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "catalog file (default catalog.path from config)")
	return cmd
}
