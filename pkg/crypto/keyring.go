package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "testgov-identity-kdf"

// Keyring holds the public keys trusted for verification, keyed by key ID.
// It supports rotation: old keys stay until revoked.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// AddSigner trusts the signer's public key under its key ID.
func (k *Keyring) AddSigner(s *Ed25519Signer) {
	k.AddPublicKey(s.KeyID(), s.PublicKeyBytes())
}

func (k *Keyring) AddPublicKey(keyID string, pub ed25519.PublicKey) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = append(ed25519.PublicKey(nil), pub...)
}

// RevokeKey removes a key; signatures by it no longer verify.
func (k *Keyring) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, keyID)
}

// KeyIDs returns the trusted key IDs, sorted.
func (k *Keyring) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (k *Keyring) Verify(keyID string, message []byte, signature string) (bool, error) {
	k.mu.RLock()
	pub, ok := k.keys[keyID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown or revoked key: %s", keyID)
	}
	return VerifyHex(pub, message, signature)
}

// DeriveSigner derives a deterministic per-identity signer from a master key
// using HKDF-SHA256. The master seed is the IKM and identity is the info.
func DeriveSigner(master *Ed25519Signer, identity string) (*Ed25519Signer, error) {
	if master == nil {
		return nil, errors.New("master signer is required")
	}
	if identity == "" {
		return nil, errors.New("identity must not be empty")
	}
	r := hkdf.New(sha256.New, master.Seed(), []byte(derivationSalt), []byte(identity))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromSeed(seed, identity)
}
