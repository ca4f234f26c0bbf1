package orchestrator

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// InvalidPlanError reports a plan that failed struct validation.
type InvalidPlanError struct {
	PlanID string
	Err    error
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid plan %q: %v", e.PlanID, e.Err)
}

func (e *InvalidPlanError) Unwrap() error { return e.Err }

func (e *InvalidPlanError) Code() contracts.Code { return contracts.ErrInvalidPlan }

// ResourceBudgetExceededError lists every dimension over the system ceiling.
type ResourceBudgetExceededError struct {
	PlanID     string
	Dimensions []string
}

func (e *ResourceBudgetExceededError) Error() string {
	return fmt.Sprintf("plan %q exceeds system ceilings: %s", e.PlanID, strings.Join(e.Dimensions, ", "))
}

func (e *ResourceBudgetExceededError) Code() contracts.Code {
	return contracts.ErrResourceBudgetExceeded
}

type UnknownContractError struct {
	PlanID string
	Names  []string
}

func (e *UnknownContractError) Error() string {
	return fmt.Sprintf("plan %q requests unknown contracts: %s", e.PlanID, strings.Join(e.Names, ", "))
}

func (e *UnknownContractError) Code() contracts.Code { return contracts.ErrUnknownContract }

// DuplicateExecutionError is returned when a plan ID was already submitted.
// Plan IDs are never reused, even after the first plan is terminal.
type DuplicateExecutionError struct {
	PlanID string
	State  contracts.PlanState
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("plan %q already submitted (state %s)", e.PlanID, e.State)
}

func (e *DuplicateExecutionError) Code() contracts.Code { return contracts.ErrDuplicateExecution }

type SubmissionThrottledError struct {
	Requester string
	Err       error
}

func (e *SubmissionThrottledError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submission limiter unavailable for %q: %v", e.Requester, e.Err)
	}
	return fmt.Sprintf("submission rate exceeded for %q", e.Requester)
}

func (e *SubmissionThrottledError) Unwrap() error { return e.Err }

func (e *SubmissionThrottledError) Code() contracts.Code { return contracts.ErrSubmissionThrottled }

type PlanNotFoundError struct {
	PlanID string
}

func (e *PlanNotFoundError) Error() string { return fmt.Sprintf("plan %q not found", e.PlanID) }

func (e *PlanNotFoundError) Code() contracts.Code { return contracts.ErrPlanNotFound }

// InvalidTransitionError is returned for lifecycle moves the state machine
// does not allow, such as withdrawing a Scheduled plan.
type InvalidTransitionError struct {
	PlanID string
	From   contracts.PlanState
	To     contracts.PlanState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("plan %q: cannot move from %s to %s", e.PlanID, e.From, e.To)
}

func (e *InvalidTransitionError) Code() contracts.Code { return contracts.ErrInvalidPlanTransition }
