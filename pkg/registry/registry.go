// Package registry holds the static catalog of test contracts and answers
// coverage questions against it. A Registry is immutable once built, so
// reads need no locking.
package registry

import (
	"errors"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// Registry is a read-only table of uniquely named test contracts.
type Registry struct {
	contracts []contracts.TestContract
	byName    map[string]int
	version   string
}

// New builds a registry from contracts in declaration order. All duplicate
// names and invalid contracts are reported together.
func New(cs ...contracts.TestContract) (*Registry, error) {
	return build("", cs)
}

func build(version string, cs []contracts.TestContract) (*Registry, error) {
	r := &Registry{
		contracts: make([]contracts.TestContract, 0, len(cs)),
		byName:    make(map[string]int, len(cs)),
		version:   version,
	}

	var errs []error
	reported := make(map[string]bool)
	for i, c := range cs {
		c = normalize(c)
		if c.Name == "" {
			errs = append(errs, &InvalidContractError{Index: i, Reason: "name is empty"})
			continue
		}
		if !c.ThermalClass.Valid() {
			errs = append(errs, &InvalidContractError{Index: i, Name: c.Name, Reason: "unknown thermal class " + string(c.ThermalClass)})
			continue
		}
		if _, dup := r.byName[c.Name]; dup {
			if !reported[c.Name] {
				errs = append(errs, &DuplicateContractNameError{Name: c.Name})
				reported[c.Name] = true
			}
			continue
		}
		r.byName[c.Name] = len(r.contracts)
		r.contracts = append(r.contracts, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// normalize returns an NFC-normalized deep copy so visually identical names
// compare equal.
func normalize(c contracts.TestContract) contracts.TestContract {
	out := c.Clone()
	out.Name = norm.NFC.String(c.Name)
	for i, m := range out.RequiredModules {
		out.RequiredModules[i] = norm.NFC.String(m)
	}
	for i, inv := range out.RequiredInvariants {
		out.RequiredInvariants[i] = norm.NFC.String(inv)
	}
	return out
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int { return len(r.contracts) }

// Version is the catalog version, or "" for registries built in code.
func (r *Registry) Version() string { return r.version }

// Contracts returns copies of all contracts in declaration order.
func (r *Registry) Contracts() []contracts.TestContract {
	out := make([]contracts.TestContract, len(r.contracts))
	for i, c := range r.contracts {
		out[i] = c.Clone()
	}
	return out
}

// Lookup returns the contract registered under name.
func (r *Registry) Lookup(name string) (contracts.TestContract, bool) {
	i, ok := r.byName[norm.NFC.String(name)]
	if !ok {
		return contracts.TestContract{}, false
	}
	return r.contracts[i].Clone(), true
}

// UncoveredModules returns required minus every module some contract covers,
// sorted and deduplicated.
func (r *Registry) UncoveredModules(required []string) []string {
	covered := make(map[string]struct{})
	for _, c := range r.contracts {
		for _, m := range c.RequiredModules {
			covered[m] = struct{}{}
		}
	}
	return difference(required, covered)
}

// UncoveredInvariants is UncoveredModules for invariants.
func (r *Registry) UncoveredInvariants(required []string) []string {
	covered := make(map[string]struct{})
	for _, c := range r.contracts {
		for _, inv := range c.RequiredInvariants {
			covered[inv] = struct{}{}
		}
	}
	return difference(required, covered)
}

func difference(required []string, covered map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(required))
	out := []string{}
	for _, s := range required {
		s = norm.NFC.String(s)
		if _, ok := covered[s]; ok {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TestsCoveringModule returns, in declaration order, the contracts that list
// module.
func (r *Registry) TestsCoveringModule(module string) []contracts.TestContract {
	module = norm.NFC.String(module)
	out := []contracts.TestContract{}
	for _, c := range r.contracts {
		if c.CoversModule(module) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// TestsByThermalClass returns, in declaration order, the contracts of class.
func (r *Registry) TestsByThermalClass(class contracts.ThermalClass) []contracts.TestContract {
	out := []contracts.TestContract{}
	for _, c := range r.contracts {
		if c.ThermalClass == class {
			out = append(out, c.Clone())
		}
	}
	return out
}
