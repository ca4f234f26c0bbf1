package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/receipts"
)

func testSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	s, err := crypto.NewEd25519Signer("runner")
	require.NoError(t, err)
	return s
}

func TestDefault(t *testing.T) {
	ctx := context.Background()
	p := Default()
	require.Equal(t, DefaultExpression, p.Expression())

	ok, err := p.Allows(ctx, ledger.Summary{Receipts: 3}, "prod")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Allows(ctx, ledger.Summary{Receipts: 3, TauViolations: 1}, "prod")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Allows(ctx, ledger.Summary{Receipts: 3, Failures: 2}, "prod")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = p.Allows(ctx, ledger.Summary{Receipts: 3, Unsigned: 1}, "prod")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDefault_BlocksIndeterminateLedger(t *testing.T) {
	ctx := context.Background()
	s := testSigner(t)
	l := ledger.New()
	for _, outcome := range []contracts.Outcome{contracts.OutcomePass, contracts.OutcomeIndeterminate} {
		r := receipts.FromContract(
			contracts.TestContract{Name: "t_" + string(outcome), ThermalClass: contracts.ThermalCold},
			contracts.TimingMeasurement{Ticks: 1, Iterations: 1, ThermalClass: contracts.ThermalCold, MeetsBudget: true},
			outcome,
		)
		require.NoError(t, r.Sign(s))
		_, err := l.AddReceipt(ctx, r)
		require.NoError(t, err)
	}

	ok, err := Default().Allows(ctx, l.Summary(), "prod")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, l.CanDeploy(), ok)
}

func TestCustomExpression(t *testing.T) {
	ctx := context.Background()
	p, err := Compile(`ledger.receipts >= 2 && (target != "prod" || ledger.indeterminate == 0)`)
	require.NoError(t, err)

	cases := []struct {
		summary ledger.Summary
		target  string
		want    bool
	}{
		{ledger.Summary{Receipts: 1}, "staging", false},
		{ledger.Summary{Receipts: 2}, "staging", true},
		{ledger.Summary{Receipts: 2, Indeterminate: 1}, "staging", true},
		{ledger.Summary{Receipts: 2, Indeterminate: 1}, "prod", false},
	}
	for _, tc := range cases {
		got, err := p.Allows(ctx, tc.summary, tc.target)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "%+v %s", tc.summary, tc.target)
	}
}

func TestCompile_Rejects(t *testing.T) {
	_, err := Compile(`ledger.failures ==`)
	require.ErrorContains(t, err, "compile deploy policy")

	_, err = Compile(`target`)
	require.ErrorContains(t, err, "must return bool")

	_, err = Compile(`unknown_var == 1`)
	require.Error(t, err)
}

func TestAllows_EvaluationErrorDenies(t *testing.T) {
	p, err := Compile(`ledger.missing_key == 0`)
	require.NoError(t, err)

	ok, err := p.Allows(context.Background(), ledger.Summary{}, "prod")
	require.Error(t, err)
	require.False(t, ok)
}

func TestAllows_HonorsHead(t *testing.T) {
	p, err := Compile(`ledger.head != "genesis"`)
	require.NoError(t, err)

	ok, err := p.Allows(context.Background(), ledger.Summary{Head: ledger.GenesisHash}, "prod")
	require.NoError(t, err)
	require.False(t, ok)
}
