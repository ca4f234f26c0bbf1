package artifacts

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/testgov/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/receipts"
)

func populatedLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	signer, err := crypto.NewEd25519SignerFromSeed(bytes.Repeat([]byte{3}, 32), "ci")
	require.NoError(t, err)

	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	l := ledger.New(ledger.WithClock(func() time.Time { return at }))
	for _, meets := range []bool{true, false} {
		r := receipts.FromContract(
			contracts.TestContract{Name: "test_settle", ThermalClass: contracts.ThermalHot},
			contracts.TimingMeasurement{Ticks: 6, Iterations: 1, ThermalClass: contracts.ThermalHot, MeetsBudget: meets, Budget: 8},
			contracts.OutcomePass,
		)
		require.NoError(t, r.Sign(signer))
		_, err := l.AddReceipt(context.Background(), r)
		require.NoError(t, err)
	}
	return l
}

func TestExportLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	l := populatedLedger(t)

	hash, err := ExportLedger(ctx, store, l)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, canonicalize.HashPrefix))

	// Same ledger, same clock: same address.
	again, err := ExportLedger(ctx, store, l)
	require.NoError(t, err)
	require.Equal(t, hash, again)

	snap, err := LoadSnapshot(ctx, store, hash)
	require.NoError(t, err)
	require.Equal(t, l.Head(), snap.Head)
	require.Len(t, snap.Entries, 2)
	require.Equal(t, 1, snap.Summary.TauViolations)
	require.Equal(t, "test_settle", snap.Entries[1].Receipt.ContractName())
	require.True(t, snap.Entries[1].Receipt.TauViolation())
}

func TestLoadSnapshot_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	hash, err := ExportLedger(ctx, store, populatedLedger(t))
	require.NoError(t, err)

	path := filepath.Join(dir, strings.TrimPrefix(hash, canonicalize.HashPrefix)+".blob")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"tau_violations":1`), []byte(`"tau_violations":0`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o640))

	_, err = LoadSnapshot(ctx, store, hash)
	require.ErrorContains(t, err, "content hash")
}
