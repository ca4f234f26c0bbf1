// Package thermal measures test operations against their declared thermal
// tier and fails closed whenever a measurement cannot be trusted.
package thermal

import "github.com/Mindburn-Labs/helm/testgov/pkg/contracts"

// Tick ceilings per tier.
const (
	// ChatmanConstant is the Hot tier ceiling.
	ChatmanConstant uint64 = 8
	WarmBudget      uint64 = 100
)

// TierConfig is the enforcement profile for one measurement.
type TierConfig struct {
	// Contract names the contract under test in errors; optional.
	Contract string
	Class    contracts.ThermalClass
	// BudgetTicks is the inclusive ceiling; 0 disables the timing check.
	BudgetTicks      uint64
	EnforceNoAlloc   bool
	EnforceNoSyscall bool
}

// TierFor returns the fixed profile of a thermal class. Unknown classes get
// the Hot profile so that a typo can never relax enforcement.
func TierFor(class contracts.ThermalClass) TierConfig {
	switch class {
	case contracts.ThermalWarm:
		return TierConfig{Class: class, BudgetTicks: WarmBudget}
	case contracts.ThermalCold:
		return TierConfig{Class: class}
	default:
		return TierConfig{
			Class:            contracts.ThermalHot,
			BudgetTicks:      ChatmanConstant,
			EnforceNoAlloc:   true,
			EnforceNoSyscall: true,
		}
	}
}

func (c TierConfig) within(ticks uint64) bool {
	return c.BudgetTicks == 0 || ticks <= c.BudgetTicks
}
