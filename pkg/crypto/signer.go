// Package crypto provides the Ed25519 signing primitives used for receipts
// and consensus votes. Signatures are hex encoded.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signer produces detached signatures over canonical payloads.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	KeyID() string
}

// Verifier checks a hex signature produced by the key named keyID.
type Verifier interface {
	Verify(keyID string, message []byte, signature string) (bool, error)
}

// Ed25519Signer signs with a single in-memory Ed25519 key. Ed25519 is
// deterministic, so signing the same payload twice yields the same signature.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh key pair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	if keyID == "" {
		return nil, errors.New("key id must not be empty")
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, keyID), nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed size: %d", len(seed))
	}
	return NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), keyID), nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.privKey, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pubKey)
}

func (s *Ed25519Signer) PublicKeyBytes() ed25519.PublicKey {
	return s.pubKey
}

func (s *Ed25519Signer) KeyID() string {
	return s.keyID
}

// Seed exposes the private seed for key derivation.
func (s *Ed25519Signer) Seed() []byte {
	return s.privKey.Seed()
}

// Verify checks a signature made by this signer's own key.
func (s *Ed25519Signer) Verify(keyID string, message []byte, signature string) (bool, error) {
	if keyID != s.keyID {
		return false, fmt.Errorf("unknown key: %s", keyID)
	}
	return VerifyHex(s.pubKey, message, signature)
}

// VerifyHex verifies a hex signature against a raw public key.
func VerifyHex(pub ed25519.PublicKey, message []byte, sigHex string) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: %d", len(pub))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(pub, message, sig), nil
}

// ParsePublicKey decodes a hex Ed25519 public key.
func ParsePublicKey(pubHex string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
