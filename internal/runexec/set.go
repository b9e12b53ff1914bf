// Package runexec implements the leaf-task TaskExecutors the
// interp.Driver dispatches to for set/raise/wait/call/run/emit/listen
// tasks, grounded per-kind on the corresponding teacher executor in
// internal/workflows/runtime/.
package runexec

import (
	"context"
	"strings"

	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/node"
)

// SetExecutor implements `set` tasks: only values explicitly marked as an
// expression (prefixed "${" or wrapped with an ExprMarker) are evaluated;
// everything else is copied as a literal, per spec §4.3.5. Grounded on the
// teacher's internal/workflows/runtime/inject_executor.go SetNestedValue
// walk, generalized from a single resultPath assignment to a whole-object
// merge with selective expression evaluation.
type SetExecutor struct {
	Eval *expr.Evaluator
}

func (e *SetExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindSet} }

// ExprMarker is the prefix that marks a `set` field's string value as a JQ
// expression to evaluate, rather than a literal. The DSL convention is
// `${ <expr> }`; values without the marker are copied verbatim.
const ExprMarker = "${"

func (e *SetExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	st := rc.Instance.StateAt(n.Position)
	scope := expr.Scope{
		Input: decodeInput(st), Context: st.Context, Workflow: rc.Workflow, Runtime: rc.Runtime, Secrets: rc.Secrets,
		Loop: interp.LoopBindings(rc, n.Position),
	}

	result := make(map[string]any, len(n.Task.Set))
	for k, v := range n.Task.Set {
		resolved, err := e.resolveValue(scope, v)
		if err != nil {
			return nil, err
		}
		result[k] = resolved
	}
	return result, nil
}

func (e *SetExecutor) resolveValue(scope expr.Scope, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, ExprMarker) && strings.HasSuffix(val, "}") {
			expression := strings.TrimSuffix(strings.TrimPrefix(val, ExprMarker), "}")
			return e.Eval.Evaluate(strings.TrimSpace(expression), scope)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			resolved, err := e.resolveValue(scope, sub)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			resolved, err := e.resolveValue(scope, sub)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return val, nil
	}
}
