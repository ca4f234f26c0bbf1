// Package policy evaluates deploy-readiness rules written in CEL over a
// ledger summary.
package policy

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/helm/testgov/pkg/ledger"
)

// DefaultExpression mirrors the ledger's own CanDeploy rule. failures
// includes INDETERMINATE receipts.
const DefaultExpression = `ledger.tau_violations == 0 && ledger.failures == 0 && ledger.unsigned == 0`

const (
	costLimit               = 10000
	interruptCheckFrequency = 100
)

// DeployPolicy is a compiled CEL expression. It is safe for concurrent use.
//
// Variables:
//
//	ledger  map: receipts, tau_violations, failures, indeterminate, unsigned (int), head (string)
//	target  string: the deployment target under vote
type DeployPolicy struct {
	expr string
	prg  cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("ledger", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("target", cel.StringType),
	)
}

// Compile parses and type-checks expr. The expression must yield a bool.
func Compile(expr string) (*DeployPolicy, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile deploy policy: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("deploy policy must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(interruptCheckFrequency),
		cel.CostLimit(costLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program deploy policy: %w", err)
	}
	return &DeployPolicy{expr: expr, prg: prg}, nil
}

// Default returns the policy for DefaultExpression.
func Default() *DeployPolicy {
	p, err := Compile(DefaultExpression)
	if err != nil {
		panic(fmt.Sprintf("default deploy policy does not compile: %v", err))
	}
	return p
}

func (p *DeployPolicy) Expression() string { return p.expr }

// Allows evaluates the policy. Any evaluation error denies.
func (p *DeployPolicy) Allows(ctx context.Context, summary ledger.Summary, target string) (bool, error) {
	input := map[string]any{
		"ledger": map[string]any{
			"receipts":       int64(summary.Receipts),
			"tau_violations": int64(summary.TauViolations),
			"failures":       int64(summary.Failures),
			"indeterminate":  int64(summary.Indeterminate),
			"unsigned":       int64(summary.Unsigned),
			"head":           summary.Head,
		},
		"target": target,
	}
	out, _, err := p.prg.ContextEval(ctx, input)
	if err != nil {
		return false, fmt.Errorf("evaluate deploy policy: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("deploy policy returned %T, not bool", out.Value())
	}
	return allowed, nil
}
