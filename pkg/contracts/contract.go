// Package contracts defines the shared vocabulary of the test governance
// substrate: test contracts, timing measurements, plans, consensus votes and
// the stable error code taxonomy.
package contracts

import (
	"fmt"
	"strings"
)

// ThermalClass is a test's declared performance tier.
type ThermalClass string

const (
	ThermalHot  ThermalClass = "HOT"
	ThermalWarm ThermalClass = "WARM"
	ThermalCold ThermalClass = "COLD"
)

// ThermalClasses lists every tier, hottest first.
var ThermalClasses = []ThermalClass{ThermalHot, ThermalWarm, ThermalCold}

// Valid reports whether c is one of the three fixed tiers.
func (c ThermalClass) Valid() bool {
	switch c {
	case ThermalHot, ThermalWarm, ThermalCold:
		return true
	}
	return false
}

// ParseThermalClass accepts "hot", "Hot", "HOT" and so on.
func ParseThermalClass(s string) (ThermalClass, error) {
	c := ThermalClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown thermal class %q", s)
	}
	return c, nil
}

// TestContract is an immutable descriptor of one test: what it covers and
// which thermal tier it must run in.
type TestContract struct {
	Name               string       `json:"name" yaml:"name"`
	RequiredModules    []string     `json:"required_modules" yaml:"required_modules"`
	RequiredInvariants []string     `json:"required_invariants" yaml:"required_invariants"`
	ThermalClass       ThermalClass `json:"thermal_class" yaml:"thermal_class"`
}

// Clone returns a deep copy so callers can never alias registry state.
func (c TestContract) Clone() TestContract {
	out := c
	out.RequiredModules = append([]string(nil), c.RequiredModules...)
	out.RequiredInvariants = append([]string(nil), c.RequiredInvariants...)
	return out
}

// CoversModule reports whether the contract lists module among its requirements.
func (c TestContract) CoversModule(module string) bool {
	for _, m := range c.RequiredModules {
		if m == module {
			return true
		}
	}
	return false
}

// CoversInvariant reports whether the contract lists inv among its requirements.
func (c TestContract) CoversInvariant(inv string) bool {
	for _, i := range c.RequiredInvariants {
		if i == inv {
			return true
		}
	}
	return false
}

// Outcome is the verdict of one contract execution.
type Outcome string

const (
	OutcomePass          Outcome = "PASS"
	OutcomeFail          Outcome = "FAIL"
	OutcomeIndeterminate Outcome = "INDETERMINATE"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeIndeterminate:
		return true
	}
	return false
}

// TimingMeasurement is produced by the thermal classifier and never mutated.
type TimingMeasurement struct {
	Ticks        uint64       `json:"ticks"`
	Iterations   uint64       `json:"iterations"`
	ThermalClass ThermalClass `json:"thermal_class"`
	MeetsBudget  bool         `json:"meets_budget"`
	// Budget is the tick ceiling the measurement was checked against.
	// Zero means unbounded (Cold tier).
	Budget uint64 `json:"budget"`
}
