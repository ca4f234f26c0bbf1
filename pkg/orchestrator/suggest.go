package orchestrator

import "github.com/Mindburn-Labs/helm/testgov/pkg/contracts"

// ChangeSuggestion is the test set for a change. CoverageGaps lists changed
// modules that no contract covers.
type ChangeSuggestion struct {
	Contracts    []contracts.TestContract `json:"contracts"`
	CoverageGaps []string                 `json:"coverage_gaps"`
}

// Names returns the suggested contract names in order.
func (s ChangeSuggestion) Names() []string {
	out := make([]string, 0, len(s.Contracts))
	for _, c := range s.Contracts {
		out = append(out, c.Name)
	}
	return out
}

// SuggestTestsForChange returns the union of contracts covering any changed
// module, deduplicated, in registration order.
func (o *Orchestrator) SuggestTestsForChange(changed []string) ChangeSuggestion {
	selected := make(map[string]struct{})
	for _, m := range changed {
		for _, c := range o.registry.TestsCoveringModule(m) {
			selected[c.Name] = struct{}{}
		}
	}

	out := ChangeSuggestion{Contracts: []contracts.TestContract{}}
	for _, c := range o.registry.Contracts() {
		if _, ok := selected[c.Name]; ok {
			out.Contracts = append(out.Contracts, c)
		}
	}
	out.CoverageGaps = o.registry.UncoveredModules(changed)
	if len(out.CoverageGaps) > 0 {
		o.logger.Warn("changed modules without coverage", "modules", out.CoverageGaps)
	}
	return out
}
