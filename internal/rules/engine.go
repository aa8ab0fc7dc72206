// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/aura/internal/domain"
)

// Check is one deterministic rule: a CEL predicate over the transaction and
// the current thresholds, plus the reason reported when it fires.
type Check struct {
	Name       string
	Expression string
	Reason     func(features map[string]float64, t *domain.Thresholds) string
}

// compiledCheck holds a pre-compiled CEL program.
type compiledCheck struct {
	check   Check
	program cel.Program
}

// Engine evaluates the rule checks in a fixed order. It is safe for
// concurrent use; compiled programs are never mutated after NewEngine.
type Engine struct {
	env    *cel.Env
	checks []compiledCheck
}

var printer = message.NewPrinter(language.English)

// DefaultChecks are the business-ceiling and outlier checks, in evaluation
// order. The first match wins.
func DefaultChecks() []Check {
	return []Check{
		{
			Name:       "amount_ceiling",
			Expression: "amount > amount_upper",
			Reason: func(f map[string]float64, t *domain.Thresholds) string {
				return fmt.Sprintf("Transaction amount of $%s exceeds the business limit of $%s.",
					printer.Sprintf("%.2f", f[domain.ColumnAmount]), formatLimit(t.AmountUpper))
			},
		},
		{
			Name:       "v4_outlier",
			Expression: "v4 > v4_upper",
			Reason: func(f map[string]float64, t *domain.Thresholds) string {
				return fmt.Sprintf("Feature V4 value of %.2f is an extreme outlier (limit: %.2f).", f["V4"], t.V4Upper)
			},
		},
		{
			Name:       "v14_outlier",
			Expression: "v14 < v14_lower",
			Reason: func(f map[string]float64, t *domain.Thresholds) string {
				return fmt.Sprintf("Feature V14 value of %.2f is an extreme outlier (limit: %.2f).", f["V14"], t.V14Lower)
			},
		},
	}
}

func formatLimit(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.2f", v)
}

// NewEngine compiles the given checks. With no checks, DefaultChecks is used.
func NewEngine(checks ...Check) (*Engine, error) {
	if len(checks) == 0 {
		checks = DefaultChecks()
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("v4", cel.DoubleType),
		cel.Variable("v14", cel.DoubleType),
		cel.Variable("amount_upper", cel.DoubleType),
		cel.Variable("v4_upper", cel.DoubleType),
		cel.Variable("v14_lower", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	for _, c := range checks {
		compiled, err := e.compile(c)
		if err != nil {
			return nil, err
		}
		e.checks = append(e.checks, compiled)
	}
	return e, nil
}

func (e *Engine) compile(c Check) (compiledCheck, error) {
	ast, issues := e.env.Compile(c.Expression)
	if issues != nil && issues.Err() != nil {
		return compiledCheck{}, fmt.Errorf("failed to compile check %s: %w", c.Name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return compiledCheck{}, fmt.Errorf("check %s: expression must return bool, got %s", c.Name, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return compiledCheck{}, fmt.Errorf("failed to create program for check %s: %w", c.Name, err)
	}
	return compiledCheck{check: c, program: program}, nil
}

// Evaluate runs the checks in order against features and returns the reason
// of the first one that fires. Absent features read as 0.
func (e *Engine) Evaluate(features map[string]float64, t *domain.Thresholds) (string, bool) {
	if t == nil {
		return "", false
	}

	activation := map[string]any{
		"amount":       features[domain.ColumnAmount],
		"v4":           features["V4"],
		"v14":          features["V14"],
		"amount_upper": t.AmountUpper,
		"v4_upper":     t.V4Upper,
		"v14_lower":    t.V14Lower,
	}

	for _, c := range e.checks {
		out, _, err := c.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			return c.check.Reason(features, t), true
		}
	}
	return "", false
}

// Checks returns the names of the compiled checks in evaluation order.
func (e *Engine) Checks() []string {
	names := make([]string, len(e.checks))
	for i, c := range e.checks {
		names[i] = c.check.Name
	}
	return names
}
