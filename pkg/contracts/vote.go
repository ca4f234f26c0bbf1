package contracts

// VoteDecision is a single voter's position on a deployment target.
type VoteDecision string

const (
	VoteApprove VoteDecision = "APPROVE"
	VoteReject  VoteDecision = "REJECT"
)

// Valid reports whether d is APPROVE or REJECT.
func (d VoteDecision) Valid() bool {
	return d == VoteApprove || d == VoteReject
}

// ConsensusVote is transient per round and retained for audit only.
type ConsensusVote struct {
	Voter     string       `json:"voter"`
	Decision  VoteDecision `json:"decision"`
	Target    string       `json:"target"`
	RoundID   string       `json:"round_id"`
	Signature string       `json:"signature,omitempty"`
}

// RoundOutcome is the resolution of a consensus round.
type RoundOutcome string

const (
	RoundApproved      RoundOutcome = "APPROVED"
	RoundRejected      RoundOutcome = "REJECTED"
	RoundIndeterminate RoundOutcome = "INDETERMINATE"
)
