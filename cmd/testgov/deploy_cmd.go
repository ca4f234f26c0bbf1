package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/helm/testgov/pkg/consensus"
	"github.com/Mindburn-Labs/helm/testgov/pkg/crypto"
	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
	"github.com/Mindburn-Labs/helm/testgov/pkg/policy"
)

func (c *cli) newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deployment gate checks",
	}
	cmd.AddCommand(c.newDeployCheckCmd())
	return cmd
}

func (c *cli) deployPolicy() (*policy.DeployPolicy, error) {
	if c.cfg.Consensus.Policy == "" {
		return policy.Default(), nil
	}
	p, err := policy.Compile(c.cfg.Consensus.Policy)
	if err != nil {
		return nil, fmt.Errorf("consensus.policy: %w", err)
	}
	return p, nil
}

func (c *cli) newGate(l *ledger.Ledger, p *policy.DeployPolicy) (*consensus.Gate, error) {
	voters := make([]consensus.Voter, 0, len(c.cfg.Consensus.Voters))
	for i, vc := range c.cfg.Consensus.Voters {
		pub, err := crypto.ParsePublicKey(vc.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("consensus.voters[%d]: %w", i, err)
		}
		voters = append(voters, consensus.Voter{ID: vc.ID, PublicKey: pub})
	}
	return consensus.NewGate(voters,
		consensus.WithLedger(l),
		consensus.WithPolicy(p),
		consensus.WithTimeout(c.cfg.Consensus.Timeout),
		consensus.WithLogger(c.logger.With("component", "consensus")),
		consensus.WithMetrics(c.metrics()),
	)
}

type deployCheck struct {
	Target  string         `json:"target"`
	Allowed bool           `json:"allowed"`
	Voters  []string       `json:"voters"`
	Policy  string         `json:"policy"`
	Summary ledger.Summary `json:"summary"`
	Reason  string         `json:"reason,omitempty"`
}

// newDeployCheckCmd evaluates the gate's preconditions for a target without
// opening a round.
func (c *cli) newDeployCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <target>",
		Short: "Check whether the ledger and deploy policy allow a consensus round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, closeLedger, err := c.openLedger(ctx)
			if err != nil {
				return err
			}
			defer closeLedger()

			p, err := c.deployPolicy()
			if err != nil {
				return err
			}
			g, err := c.newGate(l, p)
			if err != nil {
				return err
			}

			summary, checkErr := g.Check(ctx, args[0])
			res := deployCheck{
				Target:  args[0],
				Allowed: checkErr == nil,
				Voters:  g.Voters(),
				Policy:  p.Expression(),
				Summary: summary,
			}
			if checkErr != nil {
				res.Reason = checkErr.Error()
			}

			if c.jsonOutput {
				if err := c.outputJSON(res); err != nil {
					return err
				}
			} else if res.Allowed {
				c.printf("%s: allowed (%d voters, quorum %d)\n", res.Target, len(res.Voters), quorum(len(res.Voters)))
			} else {
				c.printf("%s: blocked\n", res.Target)
			}
			if checkErr != nil {
				return &checkFailed{err: checkErr}
			}
			return nil
		},
	}
}

// quorum is the smallest vote count v with 3v >= 2n.
func quorum(n int) int {
	return (2*n + 2) / 3
}
