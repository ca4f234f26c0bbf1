package ledger

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// UnsignedReceiptError is returned for nil or unsigned receipts.
type UnsignedReceiptError struct {
	ContractName string
}

func (e *UnsignedReceiptError) Error() string {
	if e.ContractName == "" {
		return "unsigned receipt rejected: nil receipt"
	}
	return fmt.Sprintf("unsigned receipt rejected for %q", e.ContractName)
}

func (e *UnsignedReceiptError) Code() contracts.Code { return contracts.ErrUnsignedReceiptRejected }

// InvalidSignatureError is returned when a receipt's signature does not
// verify against the configured keys.
type InvalidSignatureError struct {
	ContractName string
	KeyID        string
	Err          error
}

func (e *InvalidSignatureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("receipt %q: signature by %q invalid: %v", e.ContractName, e.KeyID, e.Err)
	}
	return fmt.Sprintf("receipt %q: signature by %q invalid", e.ContractName, e.KeyID)
}

func (e *InvalidSignatureError) Unwrap() error { return e.Err }

func (e *InvalidSignatureError) Code() contracts.Code { return contracts.ErrReceiptSignatureInvalid }

// CorruptError signals a broken chain in memory or in a journal.
type CorruptError struct {
	Sequence uint64
	Reason   string
	Err      error
}

func (e *CorruptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger corrupt at entry %d: %s: %v", e.Sequence, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger corrupt at entry %d: %s", e.Sequence, e.Reason)
}

func (e *CorruptError) Unwrap() error { return e.Err }

func (e *CorruptError) Code() contracts.Code { return contracts.ErrLedgerCorrupt }
