// Package consensus is the deployment gate: a round per target in which
// registered voters approve or reject, decided by a two-thirds quorum of
// all registered voters.
package consensus

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm/testgov/pkg/contracts"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/observability"
	"github.com/Mindburn-Labs/helm/testgov/pkg/policy"
)

// DefaultRoundTimeout bounds every round.
const DefaultRoundTimeout = 30 * time.Second

// DefaultRoundRetention is how many closed rounds stay reachable by ID.
const DefaultRoundRetention = 1024

// Voter is a registered identity. PublicKey verifies the voter's signed
// votes and may be nil only when the gate accepts unsigned votes.
type Voter struct {
	ID        string
	PublicKey ed25519.PublicKey
}

// Gate opens consensus rounds. A round only opens when the ledger permits
// deployment; approval of the round is still required.
type Gate struct {
	voters        []string
	keyring       *crypto.Keyring
	ledger        *ledger.Ledger
	policy        *policy.DeployPolicy
	timeout       time.Duration
	allowUnsigned bool
	logger        *slog.Logger
	metrics       *observability.Metrics
	clock         func() time.Time

	retention     int

	mu     sync.Mutex
	rounds map[string]*Round
	// closed holds IDs of closed rounds, oldest first.
	closed []string
}

// Option configures a Gate.
type Option func(*Gate)

// WithLedger sets the evidence a round requires. Without a ledger every
// proposal is blocked.
func WithLedger(l *ledger.Ledger) Option {
	return func(g *Gate) { g.ledger = l }
}

// WithPolicy adds a CEL rule evaluated after the ledger's own check.
func WithPolicy(p *policy.DeployPolicy) Option {
	return func(g *Gate) { g.policy = p }
}

// WithTimeout bounds each round; zero or negative means DefaultRoundTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithUnsignedVotes accepts votes without signatures.
func WithUnsignedVotes() Option {
	return func(g *Gate) { g.allowUnsigned = true }
}

// WithRoundRetention caps how many closed rounds Round and Cast can still
// find. Older closed rounds are forgotten; open rounds are always kept.
func WithRoundRetention(n int) Option {
	return func(g *Gate) { g.retention = n }
}

// WithLogger replaces the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics records each closed round.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithClock sets the clock used for round durations.
func WithClock(clock func() time.Time) Option {
	return func(g *Gate) { g.clock = clock }
}

// NewGate registers voters. Empty, duplicate or keyless voters (unless
// unsigned votes are allowed) are reported together.
func NewGate(voters []Voter, opts ...Option) (*Gate, error) {
	g := &Gate{
		keyring:   crypto.NewKeyring(),
		timeout:   DefaultRoundTimeout,
		retention: DefaultRoundRetention,
		logger:    slog.Default().With("component", "consensus"),
		clock:     time.Now,
		rounds:    make(map[string]*Round),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.timeout <= 0 {
		g.timeout = DefaultRoundTimeout
	}
	if g.retention < 0 {
		g.retention = 0
	}

	var errs []error
	if len(voters) == 0 {
		errs = append(errs, errors.New("at least one voter is required"))
	}
	seen := make(map[string]bool, len(voters))
	for i, v := range voters {
		switch {
		case v.ID == "":
			errs = append(errs, fmt.Errorf("voter %d: empty id", i))
			continue
		case seen[v.ID]:
			errs = append(errs, fmt.Errorf("voter %q registered twice", v.ID))
			continue
		case v.PublicKey == nil && !g.allowUnsigned:
			errs = append(errs, fmt.Errorf("voter %q: public key required", v.ID))
			continue
		case v.PublicKey != nil && len(v.PublicKey) != ed25519.PublicKeySize:
			errs = append(errs, fmt.Errorf("voter %q: invalid public key size %d", v.ID, len(v.PublicKey)))
			continue
		}
		seen[v.ID] = true
		g.voters = append(g.voters, v.ID)
		if v.PublicKey != nil {
			g.keyring.AddPublicKey(v.ID, v.PublicKey)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	sort.Strings(g.voters)
	return g, nil
}

// Voters returns the registered voter IDs, sorted.
func (g *Gate) Voters() []string {
	return append([]string(nil), g.voters...)
}

func (g *Gate) registered(id string) bool {
	i := sort.SearchStrings(g.voters, id)
	return i < len(g.voters) && g.voters[i] == id
}

// Check reports whether the ledger and policy currently allow a deployment
// of target, returning the summary that was evaluated.
func (g *Gate) Check(ctx context.Context, target string) (ledger.Summary, error) {
	if target == "" {
		return ledger.Summary{}, &DeploymentBlockedError{Reason: "empty target"}
	}
	if g.ledger == nil {
		return ledger.Summary{}, &DeploymentBlockedError{Target: target, Reason: "no ledger configured"}
	}
	summary := g.ledger.Summary()
	if !g.ledger.CanDeploy() {
		g.logger.Warn("deployment blocked by ledger", "target", target,
			"tau_violations", summary.TauViolations, "failures", summary.Failures, "unsigned", summary.Unsigned)
		return summary, &DeploymentBlockedError{
			Target: target,
			Reason: fmt.Sprintf("ledger has %d tau violations, %d failures, %d unsigned receipts",
				summary.TauViolations, summary.Failures, summary.Unsigned),
		}
	}
	if g.policy != nil {
		allowed, err := g.policy.Allows(ctx, summary, target)
		if err != nil {
			return summary, &DeploymentBlockedError{Target: target, Reason: "deploy policy failed", Err: err}
		}
		if !allowed {
			return summary, &DeploymentBlockedError{Target: target, Reason: "deploy policy denied: " + g.policy.Expression()}
		}
	}
	return summary, nil
}

// Propose opens a round for target if Check allows it.
func (g *Gate) Propose(ctx context.Context, target string) (*Round, error) {
	summary, err := g.Check(ctx, target)
	if err != nil {
		return nil, err
	}

	r := newRound(g, uuid.New().String(), target)
	g.mu.Lock()
	g.rounds[r.id] = r
	g.mu.Unlock()

	g.logger.Info("consensus round opened", "round_id", r.id, "target", target,
		"voters", len(g.voters), "timeout", g.timeout, "ledger_head", summary.Head)
	return r, nil
}

// retire forgets the oldest closed rounds beyond the retention limit.
func (g *Gate) retire(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, id)
	if excess := len(g.closed) - g.retention; excess > 0 {
		for _, old := range g.closed[:excess] {
			delete(g.rounds, old)
		}
		g.closed = slices.Delete(g.closed, 0, excess)
	}
}

// Round returns an open round, or a closed one still within retention.
func (g *Gate) Round(id string) (*Round, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rounds[id]
	return r, ok
}

// Cast routes vote to its round.
func (g *Gate) Cast(vote contracts.ConsensusVote) error {
	r, ok := g.Round(vote.RoundID)
	if !ok {
		if !g.registered(vote.Voter) {
			return &UnauthorizedVoterError{Voter: vote.Voter}
		}
		return &VoteRejectedError{Voter: vote.Voter, RoundID: vote.RoundID, Reason: "unknown round"}
	}
	return r.Cast(vote)
}

func (g *Gate) verify(vote contracts.ConsensusVote) error {
	if vote.Signature == "" {
		if g.allowUnsigned {
			return nil
		}
		return errors.New("vote is unsigned")
	}
	msg, err := voteMessage(vote)
	if err != nil {
		return err
	}
	ok, err := g.keyring.Verify(vote.Voter, msg, vote.Signature)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature does not verify")
	}
	return nil
}
