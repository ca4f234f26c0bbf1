package consensus

import (
	"fmt"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

type UnauthorizedVoterError struct {
	Voter string
}

func (e *UnauthorizedVoterError) Error() string {
	return fmt.Sprintf("voter %q is not registered", e.Voter)
}

func (e *UnauthorizedVoterError) Code() contracts.Code { return contracts.ErrUnauthorizedVoter }

type DuplicateVoteError struct {
	Voter   string
	RoundID string
}

func (e *DuplicateVoteError) Error() string {
	return fmt.Sprintf("voter %q already voted in round %s", e.Voter, e.RoundID)
}

func (e *DuplicateVoteError) Code() contracts.Code { return contracts.ErrDuplicateVote }

// VoteRejectedError covers malformed, misdirected, unsigned or late votes.
type VoteRejectedError struct {
	Voter   string
	RoundID string
	Reason  string
	Err     error
}

func (e *VoteRejectedError) Error() string {
	msg := fmt.Sprintf("vote from %q rejected in round %s: %s", e.Voter, e.RoundID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VoteRejectedError) Unwrap() error { return e.Err }

func (e *VoteRejectedError) Code() contracts.Code { return contracts.ErrVoteRejected }

// IndeterminateError is returned by Await when a round ends without quorum,
// either because quorum became unreachable or the round timed out.
type IndeterminateError struct {
	RoundID    string
	Target     string
	Approvals  int
	Rejections int
	Registered int
	TimedOut   bool
	Err        error
}

func (e *IndeterminateError) Error() string {
	cause := "quorum unreachable"
	switch {
	case e.TimedOut:
		cause = "round timed out"
	case e.Err != nil:
		cause = e.Err.Error()
	}
	return fmt.Sprintf("consensus on %q indeterminate (%s): %d approve, %d reject of %d voters",
		e.Target, cause, e.Approvals, e.Rejections, e.Registered)
}

func (e *IndeterminateError) Unwrap() error { return e.Err }

func (e *IndeterminateError) Code() contracts.Code { return contracts.ErrConsensusIndeterminate }

// DeploymentBlockedError means the evidence does not permit deployment:
// a round could not open, or an approving quorum was withheld.
type DeploymentBlockedError struct {
	Target string
	Reason string
	Err    error
}

func (e *DeploymentBlockedError) Error() string {
	msg := fmt.Sprintf("deployment of %q blocked: %s", e.Target, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeploymentBlockedError) Unwrap() error { return e.Err }

func (e *DeploymentBlockedError) Code() contracts.Code { return contracts.ErrDeploymentBlocked }
