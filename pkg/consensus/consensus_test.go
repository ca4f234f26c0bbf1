package consensus

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/policy"
	"github.com/Mindburn-Labs/helm/testgov/pkg/receipts"
)

type fixture struct {
	signers map[string]*crypto.Ed25519Signer
	voters  []Voter
	ledger  *ledger.Ledger
	runner  *crypto.Ed25519Signer
}

func newFixture(t *testing.T, ids ...string) *fixture {
	t.Helper()
	f := &fixture{signers: map[string]*crypto.Ed25519Signer{}, ledger: ledger.New()}
	for i, id := range ids {
		s, err := crypto.NewEd25519SignerFromSeed(bytes.Repeat([]byte{byte(i + 1)}, 32), id)
		require.NoError(t, err)
		f.signers[id] = s
		f.voters = append(f.voters, Voter{ID: id, PublicKey: s.PublicKeyBytes()})
	}
	runner, err := crypto.NewEd25519SignerFromSeed(bytes.Repeat([]byte{99}, 32), "runner")
	require.NoError(t, err)
	f.runner = runner
	return f
}

func (f *fixture) addReceipt(t *testing.T, meets bool, outcome contracts.Outcome) {
	t.Helper()
	r := receipts.FromContract(
		contracts.TestContract{Name: "pay", ThermalClass: contracts.ThermalHot},
		contracts.TimingMeasurement{Ticks: 5, Iterations: 1, ThermalClass: contracts.ThermalHot, MeetsBudget: meets, Budget: 8},
		outcome,
	)
	require.NoError(t, r.Sign(f.runner))
	_, err := f.ledger.AddReceipt(context.Background(), r)
	require.NoError(t, err)
}

func (f *fixture) vote(t *testing.T, r *Round, voter string, d contracts.VoteDecision) contracts.ConsensusVote {
	t.Helper()
	v, err := SignVote(f.signers[voter], contracts.ConsensusVote{
		Voter: voter, Decision: d, Target: r.Target(), RoundID: r.ID(),
	})
	require.NoError(t, err)
	return v
}

func TestTwoOfThreeApproves(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	f.addReceipt(t, true, contracts.OutcomePass)
	g, err := NewGate(f.voters, WithLedger(f.ledger))
	require.NoError(t, err)

	r, err := g.Propose(context.Background(), "release-42")
	require.NoError(t, err)

	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))
	require.Equal(t, contracts.RoundIndeterminate, r.Outcome())
	require.False(t, r.Closed())
	require.NoError(t, r.Cast(f.vote(t, r, "v2", contracts.VoteApprove)))

	outcome, err := r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, contracts.RoundApproved, outcome)
	require.Equal(t, Tally{Approvals: 2, Registered: 3}, r.Tally())

	// Late votes are refused once the round is closed.
	err = r.Cast(f.vote(t, r, "v3", contracts.VoteReject))
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(err))
	require.Len(t, r.Votes(), 2)
}

func TestTwoOfThreeRejects(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	g, err := NewGate(f.voters, WithLedger(f.ledger))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "release-42")
	require.NoError(t, err)

	require.NoError(t, g.Cast(f.vote(t, r, "v3", contracts.VoteReject)))
	require.NoError(t, g.Cast(f.vote(t, r, "v1", contracts.VoteReject)))
	outcome, err := r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, contracts.RoundRejected, outcome)
}

func TestSplitVoteIsIndeterminateEarly(t *testing.T) {
	f := newFixture(t, "v1", "v2")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)

	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))
	require.NoError(t, r.Cast(f.vote(t, r, "v2", contracts.VoteReject)))

	outcome, err := r.Await(context.Background())
	require.Equal(t, contracts.RoundIndeterminate, outcome)
	var ind *IndeterminateError
	require.ErrorAs(t, err, &ind)
	require.False(t, ind.TimedOut)
	require.Equal(t, 1, ind.Approvals)
	require.Equal(t, 1, ind.Rejections)
}

func TestRoundTimesOut(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(30*time.Millisecond))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)
	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))

	outcome, err := r.Await(context.Background())
	require.Equal(t, contracts.RoundIndeterminate, outcome)
	require.Equal(t, contracts.ErrConsensusIndeterminate, contracts.CodeOf(err))
	var ind *IndeterminateError
	require.ErrorAs(t, err, &ind)
	require.True(t, ind.TimedOut)
	require.True(t, r.Closed())
}

func TestAwaitHonorsContext(t *testing.T) {
	f := newFixture(t, "v1")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = r.Await(ctx)
	require.Equal(t, contracts.ErrConsensusIndeterminate, contracts.CodeOf(err))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, r.Closed())
}

func TestCast_Rejections(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)
	t.Cleanup(r.Close)

	mallory, err := crypto.NewEd25519SignerFromSeed(bytes.Repeat([]byte{77}, 32), "mallory")
	require.NoError(t, err)
	outsider, err := SignVote(mallory, contracts.ConsensusVote{Voter: "mallory", Decision: contracts.VoteApprove, Target: "t", RoundID: r.ID()})
	require.NoError(t, err)
	err = r.Cast(outsider)
	var unauthorized *UnauthorizedVoterError
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, "mallory", unauthorized.Voter)

	wrongTarget := f.vote(t, r, "v1", contracts.VoteApprove)
	wrongTarget.Target = "other"
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(wrongTarget)))

	wrongRound := f.vote(t, r, "v1", contracts.VoteApprove)
	wrongRound.RoundID = "nope"
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(wrongRound)))

	abstain := contracts.ConsensusVote{Voter: "v1", Decision: "ABSTAIN", Target: "t", RoundID: r.ID()}
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(abstain)))

	unsigned := contracts.ConsensusVote{Voter: "v1", Decision: contracts.VoteApprove, Target: "t", RoundID: r.ID()}
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(unsigned)))

	// v2 signing as v1.
	forged, err := SignVote(f.signers["v2"], unsigned)
	require.NoError(t, err)
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(forged)))

	// Flipping the decision after signing breaks the signature.
	flipped := f.vote(t, r, "v1", contracts.VoteApprove)
	flipped.Decision = contracts.VoteReject
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(r.Cast(flipped)))

	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))
	err = r.Cast(f.vote(t, r, "v1", contracts.VoteReject))
	require.Equal(t, contracts.ErrDuplicateVote, contracts.CodeOf(err))

	require.Equal(t, Tally{Approvals: 1, Registered: 3}, r.Tally())

	err = g.Cast(contracts.ConsensusVote{Voter: "v2", RoundID: "missing"})
	require.Equal(t, contracts.ErrVoteRejected, contracts.CodeOf(err))
	err = g.Cast(contracts.ConsensusVote{Voter: "ghost", RoundID: "missing"})
	require.Equal(t, contracts.ErrUnauthorizedVoter, contracts.CodeOf(err))
}

func TestCast_Concurrent(t *testing.T) {
	ids := make([]string, 9)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	f := newFixture(t, ids...)
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)

	votes := make([]contracts.ConsensusVote, 0, len(ids))
	for _, id := range ids {
		votes = append(votes, f.vote(t, r, id, contracts.VoteApprove))
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(votes)*2)
	for _, v := range votes {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- r.Cast(v)
			}()
		}
	}
	wg.Wait()
	close(errs)

	counted := 0
	for err := range errs {
		if err == nil {
			counted++
		}
	}
	outcome, err := r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, contracts.RoundApproved, outcome)
	// Six approvals of nine close the round; later votes are refused.
	require.Equal(t, 6, counted)
	require.Equal(t, 6, r.Tally().Approvals)
}

func TestPropose_BlockedByLedger(t *testing.T) {
	f := newFixture(t, "v1")
	f.addReceipt(t, false, contracts.OutcomePass)
	g, err := NewGate(f.voters, WithLedger(f.ledger))
	require.NoError(t, err)

	_, err = g.Propose(context.Background(), "t")
	var blocked *DeploymentBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Contains(t, blocked.Reason, "1 tau violations")

	noLedger, err := NewGate(f.voters)
	require.NoError(t, err)
	_, err = noLedger.Propose(context.Background(), "t")
	require.Equal(t, contracts.ErrDeploymentBlocked, contracts.CodeOf(err))
}

func TestPropose_BlockedByPolicy(t *testing.T) {
	f := newFixture(t, "v1")
	p, err := policy.Compile(`ledger.receipts >= 1`)
	require.NoError(t, err)
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithPolicy(p), WithTimeout(time.Hour))
	require.NoError(t, err)

	// The ledger is empty, so CanDeploy holds but the policy wants evidence.
	_, err = g.Propose(context.Background(), "t")
	require.Equal(t, contracts.ErrDeploymentBlocked, contracts.CodeOf(err))

	f.addReceipt(t, true, contracts.OutcomePass)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)
	r.Close()
}

func TestCheck_OpensNoRound(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	f.addReceipt(t, true, contracts.OutcomePass)
	g, err := NewGate(f.voters, WithLedger(f.ledger))
	require.NoError(t, err)

	s, err := g.Check(context.Background(), "svc")
	require.NoError(t, err)
	require.Equal(t, 1, s.Receipts)
	require.Equal(t, f.ledger.Head(), s.Head)
	require.Empty(t, g.rounds)

	f.addReceipt(t, true, contracts.OutcomeFail)
	s, err = g.Check(context.Background(), "svc")
	require.Equal(t, contracts.ErrDeploymentBlocked, contracts.CodeOf(err))
	require.Equal(t, 1, s.Failures)
}

func TestApprovalWithheldWhenLedgerChangesMidRound(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	f.addReceipt(t, true, contracts.OutcomePass)
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)

	r, err := g.Propose(context.Background(), "release-43")
	require.NoError(t, err)
	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))

	f.addReceipt(t, true, contracts.OutcomeFail)
	require.False(t, f.ledger.CanDeploy())

	require.NoError(t, r.Cast(f.vote(t, r, "v2", contracts.VoteApprove)))
	require.True(t, r.Closed())

	outcome, err := r.Await(context.Background())
	require.Equal(t, contracts.RoundIndeterminate, outcome)
	require.Equal(t, contracts.ErrConsensusIndeterminate, contracts.CodeOf(err))
	var blocked *DeploymentBlockedError
	require.ErrorAs(t, err, &blocked)
	require.Equal(t, "release-43", blocked.Target)
	require.Equal(t, contracts.RoundIndeterminate, r.Outcome())
}

func TestApprovalWithheldWhenPolicyStopsAllowing(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	p, err := policy.Compile(`ledger.receipts <= 1`)
	require.NoError(t, err)
	f.addReceipt(t, true, contracts.OutcomePass)
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithPolicy(p), WithTimeout(time.Hour))
	require.NoError(t, err)

	r, err := g.Propose(context.Background(), "svc")
	require.NoError(t, err)
	f.addReceipt(t, true, contracts.OutcomePass)

	require.NoError(t, g.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))
	require.NoError(t, g.Cast(f.vote(t, r, "v3", contracts.VoteApprove)))
	outcome, err := r.Await(context.Background())
	require.Equal(t, contracts.RoundIndeterminate, outcome)
	require.True(t, contracts.IsCode(err, contracts.ErrDeploymentBlocked))
}

func TestRejectionUnaffectedByLedgerChanges(t *testing.T) {
	f := newFixture(t, "v1", "v2", "v3")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour))
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "svc")
	require.NoError(t, err)

	f.addReceipt(t, false, contracts.OutcomeFail)
	require.NoError(t, r.Cast(f.vote(t, r, "v1", contracts.VoteReject)))
	require.NoError(t, r.Cast(f.vote(t, r, "v2", contracts.VoteReject)))
	outcome, err := r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, contracts.RoundRejected, outcome)
}

func TestClosedRoundsAreRetired(t *testing.T) {
	f := newFixture(t, "v1")
	g, err := NewGate(f.voters, WithLedger(f.ledger), WithTimeout(time.Hour), WithRoundRetention(2))
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 4; i++ {
		r, err := g.Propose(context.Background(), "svc")
		require.NoError(t, err)
		ids = append(ids, r.ID())
	}
	open, err := g.Propose(context.Background(), "svc")
	require.NoError(t, err)

	for _, id := range ids {
		r, ok := g.Round(id)
		require.True(t, ok)
		require.NoError(t, g.Cast(f.vote(t, r, "v1", contracts.VoteApprove)))
	}

	g.mu.Lock()
	require.Len(t, g.rounds, 3, "two retained closed rounds plus the open one")
	require.Len(t, g.closed, 2)
	g.mu.Unlock()

	for i, id := range ids {
		_, ok := g.Round(id)
		require.Equal(t, i >= 2, ok, id)
	}
	_, ok := g.Round(open.ID())
	require.True(t, ok, "open rounds are never retired")

	// A vote for a retired round is refused, not lost silently.
	err = g.Cast(contracts.ConsensusVote{Voter: "v1", Decision: contracts.VoteApprove, Target: "svc", RoundID: ids[0]})
	var rejected *VoteRejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "unknown round", rejected.Reason)
	open.Close()
}

func TestNewGate_Validation(t *testing.T) {
	f := newFixture(t, "v1")
	_, err := NewGate(nil)
	require.Error(t, err)

	_, err = NewGate([]Voter{f.voters[0], f.voters[0], {ID: ""}, {ID: "keyless"}})
	require.ErrorContains(t, err, `voter "v1" registered twice`)
	require.ErrorContains(t, err, "empty id")
	require.ErrorContains(t, err, `voter "keyless": public key required`)

	g, err := NewGate([]Voter{{ID: "b"}, {ID: "a"}}, WithUnsignedVotes())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, g.Voters())
}

func TestUnsignedVotesWhenAllowed(t *testing.T) {
	f := newFixture(t)
	g, err := NewGate([]Voter{{ID: "a"}, {ID: "b"}, {ID: "c"}}, WithLedger(f.ledger), WithUnsignedVotes())
	require.NoError(t, err)
	r, err := g.Propose(context.Background(), "t")
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		require.NoError(t, r.Cast(contracts.ConsensusVote{Voter: id, Decision: contracts.VoteApprove, Target: "t", RoundID: r.ID()}))
	}
	outcome, err := r.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, contracts.RoundApproved, outcome)
}
