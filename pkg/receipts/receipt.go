// Package receipts implements the signed evidence record of one contract
// execution. A receipt is freely mutable until it is signed and frozen
// afterwards; fields are reachable only through accessors.
package receipts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"

	"github.com/Mindburn-Labs/helm/testgov/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
)

// Receipt is not safe for concurrent mutation before it is signed. Signed
// receipts are immutable and may be shared freely.
type Receipt struct {
	contractName string
	timing       contracts.TimingMeasurement
	outcome      contracts.Outcome
	metadata     map[string]string
	signature    string
	keyID        string
}

// FromContract starts an unsigned receipt with empty metadata.
func FromContract(contract contracts.TestContract, timing contracts.TimingMeasurement, outcome contracts.Outcome) *Receipt {
	return &Receipt{
		contractName: contract.Name,
		timing:       timing,
		outcome:      outcome,
		metadata:     make(map[string]string),
	}
}

func (r *Receipt) ContractName() string { return r.contractName }

func (r *Receipt) Timing() contracts.TimingMeasurement { return r.timing }

func (r *Receipt) Outcome() contracts.Outcome { return r.outcome }

func (r *Receipt) Signature() string { return r.signature }

func (r *Receipt) KeyID() string { return r.keyID }

func (r *Receipt) IsSigned() bool { return r.signature != "" }

// TauViolation reports whether the timing missed its tier budget.
func (r *Receipt) TauViolation() bool { return !r.timing.MeetsBudget }

// Failed reports any outcome other than PASS. An INDETERMINATE receipt is
// not evidence of success.
func (r *Receipt) Failed() bool { return r.outcome != contracts.OutcomePass }

// Clone returns an independent copy, signature included.
func (r *Receipt) Clone() *Receipt {
	c := *r
	c.metadata = maps.Clone(r.metadata)
	if c.metadata == nil {
		c.metadata = make(map[string]string)
	}
	return &c
}

// Metadata returns a copy of the metadata map.
func (r *Receipt) Metadata() map[string]string { return maps.Clone(r.metadata) }

func (r *Receipt) MetadataValue(key string) (string, bool) {
	v, ok := r.metadata[key]
	return v, ok
}

// AddMetadata sets key to value; the last write wins.
func (r *Receipt) AddMetadata(key, value string) error {
	if r.IsSigned() {
		return &AlreadySignedError{ContractName: r.contractName, KeyID: r.keyID}
	}
	r.metadata[key] = value
	return nil
}

type signingPayload struct {
	ContractName string                 `json:"contract_name"`
	ThermalClass contracts.ThermalClass `json:"thermal_class"`
	Ticks        uint64                 `json:"ticks"`
	Iterations   uint64                 `json:"iterations"`
	Budget       uint64                 `json:"budget"`
	MeetsBudget  bool                   `json:"meets_budget"`
	Outcome      contracts.Outcome      `json:"outcome"`
	Metadata     map[string]string      `json:"metadata"`
}

func (r *Receipt) digestBytes() ([]byte, error) {
	canonical, err := canonicalize.JCS(signingPayload{
		ContractName: r.contractName,
		ThermalClass: r.timing.ThermalClass,
		Ticks:        r.timing.Ticks,
		Iterations:   r.timing.Iterations,
		Budget:       r.timing.Budget,
		MeetsBudget:  r.timing.MeetsBudget,
		Outcome:      r.outcome,
		Metadata:     r.metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("canonicalize receipt: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// Digest is the hex SHA-256 of the receipt's canonical content, excluding
// the signature itself.
func (r *Receipt) Digest() (string, error) {
	d, err := r.digestBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d), nil
}

// Sign signs the digest and freezes the receipt. Signing again with the same
// key is a no-op; a different key is refused.
func (r *Receipt) Sign(signer crypto.Signer) error {
	if signer == nil {
		return errors.New("signer is required")
	}
	if r.IsSigned() {
		if signer.KeyID() == r.keyID {
			return nil
		}
		return &AlreadySignedError{ContractName: r.contractName, KeyID: r.keyID}
	}
	d, err := r.digestBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(d)
	if err != nil {
		return fmt.Errorf("sign receipt %q: %w", r.contractName, err)
	}
	r.signature = sig
	r.keyID = signer.KeyID()
	return nil
}

// Verify checks the signature against the current content.
func (r *Receipt) Verify(v crypto.Verifier) (bool, error) {
	if !r.IsSigned() {
		return false, errors.New("receipt is not signed")
	}
	if v == nil {
		return false, errors.New("verifier is required")
	}
	d, err := r.digestBytes()
	if err != nil {
		return false, err
	}
	return v.Verify(r.keyID, d, r.signature)
}
