package thermal

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// MeasurementFaultError means the tick source went backwards; no tick value
// is reported.
type MeasurementFaultError struct {
	Start uint64
	End   uint64
}

func (e *MeasurementFaultError) Error() string {
	return fmt.Sprintf("thermal measurement fault: end tick %d before start tick %d", e.End, e.Start)
}

func (e *MeasurementFaultError) Code() contracts.Code { return contracts.ErrThermalMeasurementFault }

// BudgetExceededError is a tier timing violation.
type BudgetExceededError struct {
	Contract string
	Class    contracts.ThermalClass
	Actual   uint64
	Budget   uint64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded%s: %d ticks > %d", e.Class, contractSuffix(e.Contract), e.Actual, e.Budget)
}

func (e *BudgetExceededError) Code() contracts.Code { return contracts.ErrBudgetExceeded }

// AllocationDetectedError is a heap allocation inside a no-alloc tier.
type AllocationDetectedError struct {
	Contract string
	Allocs   uint64
}

func (e *AllocationDetectedError) Error() string {
	return fmt.Sprintf("heap allocation detected%s: %d objects", contractSuffix(e.Contract), e.Allocs)
}

func (e *AllocationDetectedError) Code() contracts.Code { return contracts.ErrAllocationDetected }

// SyscallDetectedError is a syscall inside a no-syscall tier.
type SyscallDetectedError struct {
	Contract string
	Syscalls uint64
}

func (e *SyscallDetectedError) Error() string {
	return fmt.Sprintf("syscall detected%s: %d calls", contractSuffix(e.Contract), e.Syscalls)
}

func (e *SyscallDetectedError) Code() contracts.Code { return contracts.ErrSyscallDetected }

// CannotMeasureError means a required tick source or probe is missing or
// failed. The run is not trusted.
type CannotMeasureError struct {
	Reason string
	Err    error
}

func (e *CannotMeasureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot measure thermal class: %s: %v", e.Reason, e.Err)
	}
	return "cannot measure thermal class: " + e.Reason
}

func (e *CannotMeasureError) Unwrap() error { return e.Err }

func (e *CannotMeasureError) Code() contracts.Code { return contracts.ErrCannotMeasureThermal }

func contractSuffix(name string) string {
	if name == "" {
		return ""
	}
	return fmt.Sprintf(" for %q", name)
}
