package contracts

import "errors"

// Code is a stable, machine-readable failure identifier. Codes are part of
// the public contract; never rename one.
type Code string

const (
	// Registry
	ErrDuplicateContractName Code = "ERR_DUPLICATE_CONTRACT_NAME"
	ErrInvalidContract       Code = "ERR_INVALID_CONTRACT"
	ErrInvalidCatalog        Code = "ERR_INVALID_CATALOG"

	// Thermal classifier
	ErrThermalMeasurementFault Code = "ERR_THERMAL_MEASUREMENT_FAULT"
	ErrBudgetExceeded          Code = "ERR_BUDGET_EXCEEDED"
	ErrAllocationDetected      Code = "ERR_ALLOCATION_DETECTED"
	ErrSyscallDetected         Code = "ERR_SYSCALL_DETECTED"
	ErrCannotMeasureThermal    Code = "ERR_CANNOT_MEASURE_THERMAL"

	// Receipts and ledger
	ErrReceiptAlreadySigned    Code = "ERR_RECEIPT_ALREADY_SIGNED"
	ErrUnsignedReceiptRejected Code = "ERR_UNSIGNED_RECEIPT_REJECTED"
	ErrReceiptSignatureInvalid Code = "ERR_RECEIPT_SIGNATURE_INVALID"
	ErrLedgerCorrupt           Code = "ERR_LEDGER_CORRUPT"

	// Orchestrator
	ErrDuplicateExecution     Code = "ERR_DUPLICATE_EXECUTION"
	ErrResourceBudgetExceeded Code = "ERR_RESOURCE_BUDGET_EXCEEDED"
	ErrInvalidPlan            Code = "ERR_INVALID_PLAN"
	ErrUnknownContract        Code = "ERR_UNKNOWN_CONTRACT"
	ErrPlanNotFound           Code = "ERR_PLAN_NOT_FOUND"
	ErrInvalidPlanTransition  Code = "ERR_INVALID_PLAN_TRANSITION"
	ErrSubmissionThrottled    Code = "ERR_SUBMISSION_THROTTLED"

	// Consensus gate
	ErrUnauthorizedVoter      Code = "ERR_UNAUTHORIZED_VOTER"
	ErrDuplicateVote          Code = "ERR_DUPLICATE_VOTE"
	ErrVoteRejected           Code = "ERR_VOTE_REJECTED"
	ErrConsensusIndeterminate Code = "ERR_CONSENSUS_INDETERMINATE"
	ErrDeploymentBlocked      Code = "ERR_DEPLOYMENT_BLOCKED"
)

// Coded is implemented by every typed failure in this module.
type Coded interface {
	error
	Code() Code
}

// CodeOf returns the code of the first Coded error in err's chain, or "".
// Joined errors are searched in order.
func CodeOf(err error) Code {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsCode reports whether any error in err's tree carries code.
func IsCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	if c, ok := err.(Coded); ok && c.Code() == code {
		return true
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if IsCode(e, code) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return IsCode(x.Unwrap(), code)
	}
	return false
}
