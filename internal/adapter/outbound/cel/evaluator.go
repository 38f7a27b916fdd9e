// Package cel compiles and runs the CEL conditions of policy rules.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/sentinel-bridge/internal/domain/policy"
)

// Limits applied to rule conditions loaded from a policy file.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 100_000

	// defaultEvalTimeout caps one evaluation when ctx has no deadline.
	defaultEvalTimeout = 5 * time.Second
	// interruptEvery is the comprehension iteration count between cancellation checks.
	interruptEvery = 100
)

// ErrEmptyExpression is returned for a blank condition.
var ErrEmptyExpression = errors.New("expression is empty")

// Condition is a compiled rule condition.
type Condition struct {
	source string
	prg    cel.Program
}

// String returns the expression the condition was compiled from.
func (c *Condition) String() string { return c.source }

// Evaluator builds Conditions against the rule environment.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator over the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create policy environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile checks the expression against the limits, type-checks it and
// plans it. The expression must yield a bool, or dyn resolved at runtime.
func (e *Evaluator) Compile(expr string) (*Condition, error) {
	if err := checkLimits(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("invalid CEL expression: must return bool, got %s", out)
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptEvery),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return &Condition{source: expr, prg: prg}, nil
}

// ValidateExpression reports whether expr would compile.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.Compile(expr)
	return err
}

// Matches runs the condition against one call. Cancelling ctx interrupts
// long comprehensions.
func (c *Condition) Matches(ctx context.Context, evalCtx policy.EvaluationContext) (bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultEvalTimeout)
		defer cancel()
	}

	val, _, err := c.prg.ContextEval(ctx, BuildActivation(evalCtx))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", val.Value())
	}
	return matched, nil
}

func checkLimits(expr string) error {
	if expr == "" {
		return ErrEmptyExpression
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	depth := 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxNestingDepth {
				return fmt.Errorf("expression nesting too deep: more than %d levels", maxNestingDepth)
			}
		case ')', ']', '}':
			depth--
		}
	}
	return nil
}
