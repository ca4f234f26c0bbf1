package receipts

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
)

var paymentContract = contracts.TestContract{
	Name:            "test_payment_basic",
	RequiredModules: []string{"payment"},
	ThermalClass:    contracts.ThermalHot,
}

var hotTiming = contracts.TimingMeasurement{
	Ticks:        6,
	Iterations:   1,
	ThermalClass: contracts.ThermalHot,
	MeetsBudget:  true,
	Budget:       8,
}

func fixedSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	s, err := crypto.NewEd25519SignerFromSeed(bytes.Repeat([]byte{42}, 32), "ci-runner")
	require.NoError(t, err)
	return s
}

func sampleReceipt(t *testing.T) *Receipt {
	t.Helper()
	r := FromContract(paymentContract, hotTiming, contracts.OutcomePass)
	require.NoError(t, r.AddMetadata("commit", "abc123"))
	require.NoError(t, r.AddMetadata("plan_id", "plan-1"))
	return r
}

func TestFromContract(t *testing.T) {
	r := FromContract(paymentContract, hotTiming, contracts.OutcomePass)
	require.Equal(t, "test_payment_basic", r.ContractName())
	require.Equal(t, hotTiming, r.Timing())
	require.Equal(t, contracts.OutcomePass, r.Outcome())
	require.Empty(t, r.Metadata())
	require.False(t, r.IsSigned())
	require.False(t, r.TauViolation())
}

func TestAddMetadata_LastWriteWins(t *testing.T) {
	r := FromContract(paymentContract, hotTiming, contracts.OutcomePass)
	require.NoError(t, r.AddMetadata("commit", "a"))
	require.NoError(t, r.AddMetadata("commit", "b"))
	v, ok := r.MetadataValue("commit")
	require.True(t, ok)
	require.Equal(t, "b", v)

	// Metadata returns a copy.
	r.Metadata()["commit"] = "c"
	v, _ = r.MetadataValue("commit")
	require.Equal(t, "b", v)
}

func TestSign_FreezesReceipt(t *testing.T) {
	r := sampleReceipt(t)
	signer := fixedSigner(t)
	require.NoError(t, r.Sign(signer))
	require.True(t, r.IsSigned())
	require.Equal(t, "ci-runner", r.KeyID())

	err := r.AddMetadata("commit", "tampered")
	require.Error(t, err)
	require.Equal(t, contracts.ErrReceiptAlreadySigned, contracts.CodeOf(err))
	v, _ := r.MetadataValue("commit")
	require.Equal(t, "abc123", v)
}

func TestSign_Idempotent(t *testing.T) {
	r := sampleReceipt(t)
	signer := fixedSigner(t)
	require.NoError(t, r.Sign(signer))
	first := r.Signature()
	require.NoError(t, r.Sign(signer))
	require.Equal(t, first, r.Signature())

	other, err := crypto.NewEd25519Signer("someone-else")
	require.NoError(t, err)
	err = r.Sign(other)
	require.True(t, contracts.IsCode(err, contracts.ErrReceiptAlreadySigned))
	require.Equal(t, first, r.Signature())
}

func TestVerify(t *testing.T) {
	r := sampleReceipt(t)
	signer := fixedSigner(t)

	_, err := r.Verify(signer)
	require.Error(t, err, "unsigned receipts do not verify")

	require.NoError(t, r.Sign(signer))
	ok, err := r.Verify(signer)
	require.NoError(t, err)
	require.True(t, ok)

	kr := crypto.NewKeyring()
	kr.AddSigner(signer)
	ok, err = r.Verify(kr)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerify_DetectsTamperedJSON(t *testing.T) {
	r := sampleReceipt(t)
	signer := fixedSigner(t)
	require.NoError(t, r.Sign(signer))

	data, err := r.ToJSON()
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"ticks":6`), []byte(`"ticks":5`), 1)
	require.NotEqual(t, data, tampered)

	back, err := FromJSON(tampered)
	require.NoError(t, err)
	ok, err := back.Verify(signer)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDigest_KnownValue(t *testing.T) {
	d, err := sampleReceipt(t).Digest()
	require.NoError(t, err)
	require.Equal(t, "e3b4c0147f05125ac2eccbd97c2ad14286685750852e21dfbdc277cabb499853", d)
}

func TestJSON_Golden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	r := sampleReceipt(t)
	unsigned, err := json.MarshalIndent(r, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "unsigned_receipt", unsigned)

	require.NoError(t, r.Sign(fixedSigner(t)))
	signed, err := json.MarshalIndent(r, "", "  ")
	require.NoError(t, err)
	g.Assert(t, "signed_receipt", signed)
}

func TestFromJSON_SignedIsFrozen(t *testing.T) {
	r := sampleReceipt(t)
	require.NoError(t, r.Sign(fixedSigner(t)))
	data, err := r.ToJSON()
	require.NoError(t, err)

	back, err := FromJSON(data)
	require.NoError(t, err)
	require.True(t, back.IsSigned())
	require.True(t, contracts.IsCode(back.AddMetadata("x", "y"), contracts.ErrReceiptAlreadySigned))
}

func TestUnmarshalJSON_RefusesSignedTarget(t *testing.T) {
	r := sampleReceipt(t)
	require.NoError(t, r.Sign(fixedSigner(t)))
	before, err := r.ToJSON()
	require.NoError(t, err)

	forged := FromContract(
		contracts.TestContract{Name: r.ContractName(), ThermalClass: contracts.ThermalHot},
		r.Timing(),
		contracts.OutcomePass,
	)
	data, err := forged.ToJSON()
	require.NoError(t, err)

	err = json.Unmarshal(data, r)
	require.True(t, contracts.IsCode(err, contracts.ErrReceiptAlreadySigned))
	after, err := r.ToJSON()
	require.NoError(t, err)
	require.JSONEq(t, string(before), string(after))

	// Unsigned receipts still decode in place.
	var fresh Receipt
	require.NoError(t, json.Unmarshal(data, &fresh))
	require.Equal(t, contracts.OutcomePass, fresh.Outcome())
}

func TestClone_IsIndependent(t *testing.T) {
	r := sampleReceipt(t)
	c := r.Clone()
	require.NoError(t, c.AddMetadata("extra", "1"))
	_, ok := r.MetadataValue("extra")
	require.False(t, ok)

	require.NoError(t, r.Sign(fixedSigner(t)))
	signed := r.Clone()
	require.True(t, signed.IsSigned())
	require.Equal(t, r.Signature(), signed.Signature())
	ok, err := signed.Verify(fixedSigner(t))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFailed(t *testing.T) {
	for outcome, want := range map[contracts.Outcome]bool{
		contracts.OutcomePass:          false,
		contracts.OutcomeFail:          true,
		contracts.OutcomeIndeterminate: true,
	} {
		r := FromContract(contracts.TestContract{Name: "x", ThermalClass: contracts.ThermalCold}, contracts.TimingMeasurement{}, outcome)
		require.Equal(t, want, r.Failed(), outcome)
	}
}

func TestFromJSON_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad json":          `{`,
		"no name":           `{"thermal_class":"HOT","outcome":"PASS"}`,
		"bad class":         `{"contract_name":"a","thermal_class":"TEPID","outcome":"PASS"}`,
		"bad outcome":       `{"contract_name":"a","thermal_class":"HOT","outcome":"MAYBE"}`,
		"signature, no key": `{"contract_name":"a","thermal_class":"HOT","outcome":"PASS","signature":"ab"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromJSON([]byte(doc))
			require.Error(t, err)
		})
	}
}
