// Package expr implements the workflow Expression Engine: a JQ-syntax
// evaluator over a layered scope of $input/$output/$context/$workflow/
// $task/$runtime/$secrets and loop bindings. It replaces the teacher's
// Starlark-backed internal/workflows/runtime/starlark_eval.go
// StarlarkEvaluator with github.com/itchyny/gojq, the one real JQ engine
// available in the retrieved example pack (jordigilh-kubernaut's go.mod),
// since the workflow DSL requires literal JQ expression syntax. The public
// shape — an Evaluator with Evaluate(expr, scope) — deliberately matches
// the teacher's evaluator so callers migrate mechanically.
package expr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/gojq"
)

// Scope is the read-only variable environment an expression evaluates
// against. Builder methods return a derived Scope, never mutate in place,
// matching NodeState's "never retroactively mutated" invariant.
type Scope struct {
	Input    any
	Output   any
	Context  map[string]any
	Workflow map[string]any
	Task     map[string]any
	Runtime  map[string]any
	Secrets  map[string]any
	// Loop holds the current loop bindings (item/index/...), exposed both
	// as the aggregate $loop object and, per spec §4.2, as first-class JQ
	// variables under their own names ($item/$index or the for task's
	// user-chosen each/at aliases) so expressions written the way the
	// spec documents (`expr(.counter + $item)`) compile and run.
	Loop  map[string]any
	Error map[string]any // exposed as $error; no scope builder sets it, so it is empty even inside a catch
}

// variableNames is the fixed set of JQ variables every compiled program
// declares, in the order Evaluate supplies their values. Loop bindings are
// additionally declared per-expression (see loopVarNames) since their
// names vary with the enclosing for task's each/at aliases.
var variableNames = []string{"$input", "$output", "$context", "$workflow", "$task", "$runtime", "$secrets", "$error", "$loop"}

// loopVarNames returns scope.Loop's keys in sorted order, the variable
// names (without the leading $) a compiled program must additionally
// declare to make loop bindings directly addressable as $item/$index/etc,
// not only via $loop.item.
func loopVarNames(loop map[string]any) []string {
	if len(loop) == 0 {
		return nil
	}
	names := make([]string, 0, len(loop))
	for k := range loop {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (s Scope) values() []any {
	return []any{
		s.Input,
		s.Output,
		orEmpty(s.Context),
		orEmpty(s.Workflow),
		orEmpty(s.Task),
		orEmpty(s.Runtime),
		orEmpty(s.Secrets),
		orEmpty(s.Error),
		orEmpty(s.Loop),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// Evaluator compiles and runs JQ expressions against a Scope. Compiled
// programs are cached by source text since a Node's expressions are
// re-evaluated on every pass through a loop iteration or retry attempt.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]*gojq.Code
	// Timeout bounds runaway expressions (infinite generators, huge
	// ranges); gojq has no native step budget so this is enforced via a
	// deadline on the evaluation context instead.
	Timeout time.Duration
}

// NewEvaluator returns an Evaluator with the default 2s per-expression
// timeout, generalizing the teacher's unbounded thread.Thread execution in
// starlark_eval.go with an explicit runaway-expression guard.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]*gojq.Code), Timeout: 2 * time.Second}
}

// Evaluate runs expr (a JQ program, compiled as written) against scope
// and returns gojq's first emitted value. JQ
// programs can emit multiple outputs (e.g. `.[]`); workflow expressions
// are defined to use only the first, matching spec §4.2's "the Expression
// Engine evaluates to a single value" contract.
func (e *Evaluator) Evaluate(expression string, scope Scope) (any, error) {
	extra := loopVarNames(scope.Loop)
	code, err := e.compile(expression, extra)
	if err != nil {
		return nil, fmt.Errorf("compile expression %q: %w", expression, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.Timeout)
	defer cancel()

	values := scope.values()
	for _, name := range extra {
		values = append(values, scope.Loop[name])
	}
	iter := code.RunWithContext(ctx, scope.Input, values...)

	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("expression %q produced no output", expression)
	}
	if errv, isErr := v.(error); isErr {
		return nil, fmt.Errorf("evaluate expression %q: %w", expression, errv)
	}
	return v, nil
}

// EvaluateBool evaluates expr and coerces the result to JQ truthiness:
// anything except `false` and `null` is true, matching `when`/`if`
// semantics in spec §4.3.3.
func (e *Evaluator) EvaluateBool(expression string, scope Scope) (bool, error) {
	v, err := e.Evaluate(expression, scope)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy applies JQ truthiness rules to an arbitrary decoded JSON value.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// compile compiles expression, declaring variableNames plus any extra
// loop-binding variables (by name, without the leading $). The cache key
// includes the extra names since the same expression text could in
// principle be evaluated under different loop-variable sets.
func (e *Evaluator) compile(expression string, extra []string) (*gojq.Code, error) {
	cacheKey := expression
	if len(extra) > 0 {
		cacheKey = expression + "|" + strings.Join(extra, ",")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[cacheKey]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, err
	}

	names := variableNames
	if len(extra) > 0 {
		names = make([]string, len(variableNames), len(variableNames)+len(extra))
		copy(names, variableNames)
		for _, n := range extra {
			names = append(names, "$"+n)
		}
	}

	compiled, err := gojq.Compile(query, gojq.WithVariables(names))
	if err != nil {
		return nil, err
	}
	e.cache[cacheKey] = compiled
	return compiled, nil
}
