package receipts

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// AlreadySignedError is returned when a signed receipt would change.
type AlreadySignedError struct {
	ContractName string
	KeyID        string
}

func (e *AlreadySignedError) Error() string {
	return fmt.Sprintf("receipt for %q already signed by %s", e.ContractName, e.KeyID)
}

func (e *AlreadySignedError) Code() contracts.Code { return contracts.ErrReceiptAlreadySigned }
