package consensus

import (
	"context"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
)

// Round collects votes for one target. Cast is safe for concurrent use.
// A round closes once decisive, once quorum is unreachable, or at its
// timeout; it never reopens.
type Round struct {
	gate     *Gate
	id       string
	target   string
	openedAt time.Time

	mu       sync.Mutex
	votes    map[string]contracts.ConsensusVote
	order    []string
	tally    Tally
	outcome  contracts.RoundOutcome
	closed   bool
	timedOut bool
	// blocked is set when an approving quorum met a ledger or policy that
	// no longer allowed the deployment.
	blocked error
	done    chan struct{}
	timer   *time.Timer
}

func newRound(g *Gate, id, target string) *Round {
	r := &Round{
		gate:     g,
		id:       id,
		target:   target,
		openedAt: g.clock(),
		votes:    make(map[string]contracts.ConsensusVote),
		tally:    Tally{Registered: len(g.voters)},
		outcome:  contracts.RoundIndeterminate,
		done:     make(chan struct{}),
	}
	r.mu.Lock()
	r.timer = time.AfterFunc(g.timeout, r.expire)
	r.mu.Unlock()
	return r
}

func (r *Round) ID() string { return r.id }

func (r *Round) Target() string { return r.target }

// Cast records one vote. Checks run in order: voter registration, round
// and target match, decision, signature, round open, first vote.
func (r *Round) Cast(vote contracts.ConsensusVote) error {
	g := r.gate
	if !g.registered(vote.Voter) {
		g.logger.Warn("vote from unregistered voter", "round_id", r.id, "voter", vote.Voter)
		return &UnauthorizedVoterError{Voter: vote.Voter}
	}
	reject := func(reason string, err error) error {
		g.logger.Warn("vote rejected", "round_id", r.id, "voter", vote.Voter, "reason", reason, "error", err)
		return &VoteRejectedError{Voter: vote.Voter, RoundID: r.id, Reason: reason, Err: err}
	}
	switch {
	case vote.RoundID != r.id:
		return reject("round mismatch", nil)
	case vote.Target != r.target:
		return reject("target mismatch", nil)
	case !vote.Decision.Valid():
		return reject("invalid decision "+string(vote.Decision), nil)
	}
	if err := g.verify(vote); err != nil {
		return reject("bad signature", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return reject("round closed", nil)
	}
	if _, ok := r.votes[vote.Voter]; ok {
		r.mu.Unlock()
		return &DuplicateVoteError{Voter: vote.Voter, RoundID: r.id}
	}
	r.votes[vote.Voter] = vote
	r.order = append(r.order, vote.Voter)
	if vote.Decision == contracts.VoteApprove {
		r.tally.Approvals++
	} else {
		r.tally.Rejections++
	}
	outcome := r.tally.Outcome()
	closing := outcome != contracts.RoundIndeterminate || !r.tally.Decidable()
	if outcome == contracts.RoundApproved {
		// The evidence may have changed since the round opened.
		if _, err := g.Check(context.Background(), r.target); err != nil {
			r.blocked = err
			outcome = contracts.RoundIndeterminate
		}
	}
	if closing {
		r.closeLocked(outcome, false)
	}
	blocked := r.blocked
	r.mu.Unlock()

	g.logger.Info("vote counted", "round_id", r.id, "voter", vote.Voter, "decision", vote.Decision)
	if blocked != nil {
		g.logger.Warn("approval withheld", "round_id", r.id, "target", r.target, "error", blocked)
	}
	if closing {
		r.recordClose(outcome, false)
	}
	return nil
}

// closeLocked must be called with r.mu held.
func (r *Round) closeLocked(outcome contracts.RoundOutcome, timedOut bool) {
	r.closed = true
	r.outcome = outcome
	r.timedOut = timedOut
	r.timer.Stop()
	close(r.done)
}

func (r *Round) recordClose(outcome contracts.RoundOutcome, timedOut bool) {
	r.gate.logger.Info("consensus round closed", "round_id", r.id, "target", r.target,
		"outcome", outcome, "timed_out", timedOut,
		"duration", r.gate.clock().Sub(r.openedAt))
	r.gate.metrics.RecordConsensusRound(context.Background(), string(outcome))
	r.gate.retire(r.id)
}

func (r *Round) expire() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closeLocked(contracts.RoundIndeterminate, true)
	r.mu.Unlock()
	r.recordClose(contracts.RoundIndeterminate, true)
}

// Close ends the round early as Indeterminate, e.g. when the caller stops
// waiting. Closing a closed round does nothing.
func (r *Round) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closeLocked(contracts.RoundIndeterminate, false)
	r.mu.Unlock()
	r.recordClose(contracts.RoundIndeterminate, false)
}

// Await blocks until the round closes or ctx is done. Approved and Rejected
// return a nil error; anything else returns *IndeterminateError. When an
// approving quorum was withheld because Check failed at closing time, the
// error wraps the *DeploymentBlockedError.
func (r *Round) Await(ctx context.Context) (contracts.RoundOutcome, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.mu.Lock()
		t := r.tally
		r.mu.Unlock()
		return contracts.RoundIndeterminate, r.indeterminate(t, false, ctx.Err())
	}

	r.mu.Lock()
	outcome, t, timedOut, blocked := r.outcome, r.tally, r.timedOut, r.blocked
	r.mu.Unlock()
	if outcome == contracts.RoundIndeterminate {
		return outcome, r.indeterminate(t, timedOut, blocked)
	}
	return outcome, nil
}

func (r *Round) indeterminate(t Tally, timedOut bool, err error) error {
	return &IndeterminateError{
		RoundID:    r.id,
		Target:     r.target,
		Approvals:  t.Approvals,
		Rejections: t.Rejections,
		Registered: t.Registered,
		TimedOut:   timedOut,
		Err:        err,
	}
}

// Tally returns the current counts.
func (r *Round) Tally() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tally
}

// Outcome is Indeterminate until the round closes decisively.
func (r *Round) Outcome() contracts.RoundOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

func (r *Round) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Votes returns the counted votes in arrival order, for audit.
func (r *Round) Votes() []contracts.ConsensusVote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]contracts.ConsensusVote, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.votes[id])
	}
	return out
}
