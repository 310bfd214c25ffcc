package matching

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// FilterEvaluator evaluates rule eligibility filters. A filter is a CEL boolean
// expression over `row`, for example `row.status != "archived"`.
type FilterEvaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewFilterEvaluator creates an evaluator with the row environment
func NewFilterEvaluator() (*FilterEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FilterEvaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Compile checks that expr compiles to a boolean program
func (f *FilterEvaluator) Compile(expr string) error {
	_, err := f.program(expr)
	return err
}

// Allows reports whether row passes the filter
func (f *FilterEvaluator) Allows(expr string, row map[string]any) (bool, error) {
	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"row": row})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter result is %T, not bool", out.Value())
	}
	return val, nil
}

func (f *FilterEvaluator) program(expr string) (cel.Program, error) {
	f.mu.RLock()
	prg, hit := f.prgCache[expr]
	f.mu.RUnlock()
	if hit {
		return prg, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if prg, hit = f.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("filter must be a boolean expression, got %s", ast.OutputType())
	}
	p, err := f.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	f.prgCache[expr] = p
	return p, nil
}
