package registry

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// DuplicateContractNameError is returned when two contracts share a name.
type DuplicateContractNameError struct {
	Name string
}

func (e *DuplicateContractNameError) Error() string {
	return fmt.Sprintf("duplicate contract name %q", e.Name)
}

func (e *DuplicateContractNameError) Code() contracts.Code { return contracts.ErrDuplicateContractName }

// InvalidContractError reports a contract that cannot be registered.
type InvalidContractError struct {
	Index  int
	Name   string
	Reason string
}

func (e *InvalidContractError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("contract #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("contract %q: %s", e.Name, e.Reason)
}

func (e *InvalidContractError) Code() contracts.Code { return contracts.ErrInvalidContract }

// InvalidCatalogError reports a catalog document that failed to parse or
// validate.
type InvalidCatalogError struct {
	Source string
	Err    error
}

func (e *InvalidCatalogError) Error() string {
	return fmt.Sprintf("invalid catalog %s: %v", e.Source, e.Err)
}

func (e *InvalidCatalogError) Unwrap() error { return e.Err }

func (e *InvalidCatalogError) Code() contracts.Code { return contracts.ErrInvalidCatalog }
