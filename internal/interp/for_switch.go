package interp

import (
	"context"

	"workflowcore/internal/node"
	"workflowcore/internal/position"
)

// stepFor evaluates the `for.in` iterable once (on first entry) and steps
// through the loop body, generalizing the teacher's
// internal/workflows/runtime/foreach_executor.go sequential iteration: each
// iteration's body output becomes the next iteration's input (an
// accumulator), rather than foreach_executor's "collect into an array of
// results" behavior, per spec §4.3.2's accumulator-feedback requirement.
func (d *Driver) stepFor(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	st := rc.Instance.StateAt(n.Position)
	scope := d.scopeFor(rc, n)

	items, _ := st.Variables["__for_items"].([]any)
	idx, _ := st.Variables["__for_index"].(float64)

	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	if items == nil {
		val, err := rc.Eval.Evaluate(n.Task.For.In, scope)
		if err != nil {
			return Outcome{}, nil, err
		}
		arr, ok := val.([]any)
		if !ok {
			arr = []any{val}
		}
		items = arr
		st.Variables["__for_items"] = items
		idx = 0
	}

	if int(idx) >= len(items) {
		return d.resolveThen(rc, n)
	}

	itemName := n.Task.For.Each
	if itemName == "" {
		itemName = "item"
	}
	loopScope := scope
	loopScope.Loop = map[string]any{itemName: items[int(idx)], "index": idx}
	if n.Task.For.At != "" {
		loopScope.Loop[n.Task.For.At] = idx
	}

	if n.Task.For.While != "" {
		ok, err := rc.Eval.EvaluateBool(n.Task.For.While, loopScope)
		if err != nil {
			return Outcome{}, nil, err
		}
		if !ok {
			return d.resolveThen(rc, n)
		}
	}

	st.Variables["__for_index"] = idx + 1
	// Persist this iteration's bindings so scopeFor can expose them to the
	// body's own leaf tasks as $item/$index (or their user-chosen aliases),
	// not only to this function's own `while` check.
	st.Variables["__for_loop"] = loopScope.Loop
	if len(n.Children) == 0 {
		return d.stepFor(ctx, rc, n)
	}
	first := n.Children[0].Position
	return Outcome{Kind: OutcomeCompleted}, &first, nil
}
