package receipts

import (
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

type wireReceipt struct {
	ContractName string                 `json:"contract_name"`
	ThermalClass contracts.ThermalClass `json:"thermal_class"`
	Ticks        uint64                 `json:"ticks"`
	Iterations   uint64                 `json:"iterations"`
	Budget       uint64                 `json:"budget"`
	MeetsBudget  bool                   `json:"meets_budget"`
	Outcome      contracts.Outcome      `json:"outcome"`
	Metadata     map[string]string      `json:"metadata"`
	Signature    string                 `json:"signature,omitempty"`
	KeyID        string                 `json:"key_id,omitempty"`
}

func (r *Receipt) MarshalJSON() ([]byte, error) {
	md := r.metadata
	if md == nil {
		md = map[string]string{}
	}
	return json.Marshal(wireReceipt{
		ContractName: r.contractName,
		ThermalClass: r.timing.ThermalClass,
		Ticks:        r.timing.Ticks,
		Iterations:   r.timing.Iterations,
		Budget:       r.timing.Budget,
		MeetsBudget:  r.timing.MeetsBudget,
		Outcome:      r.outcome,
		Metadata:     md,
		Signature:    r.signature,
		KeyID:        r.keyID,
	})
}

// UnmarshalJSON refuses to decode into a signed receipt.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	if r.IsSigned() {
		return &AlreadySignedError{ContractName: r.contractName, KeyID: r.keyID}
	}
	var w wireReceipt
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ContractName == "" {
		return fmt.Errorf("receipt: contract_name is required")
	}
	if !w.ThermalClass.Valid() {
		return fmt.Errorf("receipt: invalid thermal_class %q", w.ThermalClass)
	}
	if !w.Outcome.Valid() {
		return fmt.Errorf("receipt: invalid outcome %q", w.Outcome)
	}
	if (w.Signature == "") != (w.KeyID == "") {
		return fmt.Errorf("receipt: signature and key_id must appear together")
	}
	if w.Metadata == nil {
		w.Metadata = map[string]string{}
	}
	*r = Receipt{
		contractName: w.ContractName,
		timing: contracts.TimingMeasurement{
			Ticks:        w.Ticks,
			Iterations:   w.Iterations,
			ThermalClass: w.ThermalClass,
			MeetsBudget:  w.MeetsBudget,
			Budget:       w.Budget,
		},
		outcome:   w.Outcome,
		metadata:  w.Metadata,
		signature: w.Signature,
		keyID:     w.KeyID,
	}
	return nil
}

// ToJSON is MarshalJSON under a name that reads well at call sites.
func (r *Receipt) ToJSON() ([]byte, error) { return r.MarshalJSON() }

// FromJSON decodes a receipt. A decoded signed receipt is frozen.
func FromJSON(data []byte) (*Receipt, error) {
	r := &Receipt{}
	if err := r.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return r, nil
}
