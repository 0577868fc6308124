// Package cel provides a CEL-based guard condition evaluator.
package cel

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/execguard/execguard/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for guard expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single guard evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL guard conditions attached to policies.
type Evaluator struct {
	env *cel.Env
}

// NewGuardEnvironment creates a CEL environment exposing proposal attributes:
//   - scopes: list of permission scopes the proposal requires
//   - risk_tier, risk_score, reversibility: risk assessment of the plan
//   - estimated_cost, step_count, summary: proposal metadata
//   - request_time: evaluation wall-clock time
//
// plus a glob(pattern, name) helper for scope pattern matching.
func NewGuardEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("scopes", cel.ListType(cel.StringType)),
		cel.Variable("risk_tier", cel.StringType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("reversibility", cel.StringType),
		cel.Variable("estimated_cost", cel.DoubleType),
		cel.Variable("step_count", cel.IntType),
		cel.Variable("summary", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// NewEvaluator creates a new CEL evaluator with the guard environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewGuardEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create guard environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a guard expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a guard expression is syntactically valid and
// safe to evaluate. It performs compile-time validation and enforces safety
// limits (expression length, nesting depth).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("invalid guard expression: %w", err)
	}

	return nil
}

// buildActivation maps plan and proposal attributes to guard variables.
func buildActivation(plan policy.Plan, proposal policy.Proposal, now time.Time) map[string]interface{} {
	scopes := append([]string(nil), plan.RequiredScopes...)
	scopes = append(scopes, proposal.Scopes...)

	return map[string]interface{}{
		"scopes":         scopes,
		"risk_tier":      string(plan.RiskTier),
		"risk_score":     proposal.RiskScore,
		"reversibility":  string(proposal.Reversibility),
		"estimated_cost": proposal.EstimatedCost,
		"step_count":     proposal.StepCount,
		"summary":        proposal.Summary,
		"request_time":   now,
	}
}

// Evaluate runs a compiled guard program against the given plan and proposal.
// Returns true only when the expression evaluates to true. Evaluation errors
// and non-boolean results are returned as errors so callers can fail closed.
func (e *Evaluator) Evaluate(prg cel.Program, plan policy.Plan, proposal policy.Proposal, now time.Time) (bool, error) {
	activation := buildActivation(plan, proposal, now)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
