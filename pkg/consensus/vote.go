package consensus

import (
	"github.com/Mindburn-Labs/helm/testgov/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
)

// voteMessage is the signed form of a vote: everything but the signature.
func voteMessage(v contracts.ConsensusVote) ([]byte, error) {
	return canonicalize.JCS(struct {
		Voter    string                 `json:"voter"`
		Decision contracts.VoteDecision `json:"decision"`
		Target   string                 `json:"target"`
		RoundID  string                 `json:"round_id"`
	}{v.Voter, v.Decision, v.Target, v.RoundID})
}

// SignVote returns vote with Signature set by signer.
func SignVote(signer crypto.Signer, vote contracts.ConsensusVote) (contracts.ConsensusVote, error) {
	msg, err := voteMessage(vote)
	if err != nil {
		return vote, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return vote, err
	}
	vote.Signature = sig
	return vote, nil
}

// Tally counts a round's votes. Approved iff 3·approvals ≥ 2·registered,
// Rejected iff 3·rejections ≥ 2·registered. Both cannot hold at once since
// approvals + rejections ≤ registered.
type Tally struct {
	Approvals  int
	Rejections int
	Registered int
}

func (t Tally) Outcome() contracts.RoundOutcome {
	switch {
	case reachesQuorum(t.Approvals, t.Registered):
		return contracts.RoundApproved
	case reachesQuorum(t.Rejections, t.Registered):
		return contracts.RoundRejected
	}
	return contracts.RoundIndeterminate
}

// Decidable reports whether the outstanding votes could still produce a
// quorum either way.
func (t Tally) Decidable() bool {
	outstanding := t.Registered - t.Approvals - t.Rejections
	return reachesQuorum(t.Approvals+outstanding, t.Registered) ||
		reachesQuorum(t.Rejections+outstanding, t.Registered)
}

func reachesQuorum(votes, registered int) bool {
	return registered > 0 && 3*votes >= 2*registered
}
