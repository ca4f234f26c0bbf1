package artifacts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
)

// ExportLedger stores a canonical snapshot of l and returns its address.
func ExportLedger(ctx context.Context, store Store, l *ledger.Ledger) (string, error) {
	data, err := canonicalize.JCS(l.Export())
	if err != nil {
		return "", fmt.Errorf("canonicalize snapshot: %w", err)
	}
	hash, err := store.Store(ctx, data)
	if err != nil {
		return "", fmt.Errorf("store snapshot: %w", err)
	}
	return hash, nil
}

// LoadSnapshot fetches a snapshot and checks that its bytes still match the
// address.
func LoadSnapshot(ctx context.Context, store Store, hash string) (*ledger.Snapshot, error) {
	data, err := store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if got := canonicalize.ContentHash(data); got != hash {
		return nil, fmt.Errorf("snapshot %s: content hash is %s", hash, got)
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", hash, err)
	}
	return &snap, nil
}
