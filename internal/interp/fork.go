package interp

import (
	"context"

	"workflowcore/internal/node"
	"workflowcore/internal/position"
)

// stepFork runs each branch of a `fork` task to completion in declaration
// order, generalizing the teacher's
// internal/workflows/runtime/parallel_executor.go ParallelExecutor
// fan-out/fan-in shape to the DSL's `fork` task. Branches run sequentially
// rather than on separate goroutines: every branch drives the same
// node.Instance (its States map, Context, and Variables), and spec §5
// requires the interpreter never touch shared mutable state from more
// than one goroutine at a time. This is the same fork-branch-suspension
// simplification documented in DESIGN.md — branches here are expected to
// consist of synchronous leaf tasks, with no loss of branch isolation
// since each still runs to completion independently before the next
// starts.
func (d *Driver) stepFork(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	if n.Task.Fork == nil || len(n.Children) == 0 {
		return d.resolveThen(rc, n)
	}

	outputs := make([]any, 0, len(n.Children))
	for _, branch := range n.Children {
		out, err := d.runBranchToCompletion(ctx, rc, branch)
		if err != nil {
			if !n.Task.Fork.Compete {
				return Outcome{}, nil, err
			}
			continue
		}
		outputs = append(outputs, out)
		if n.Task.Fork.Compete {
			break
		}
	}

	st := rc.Instance.StateAt(n.Position)
	if err := applyOutput(rc.Eval, d.scopeFor(rc, n), n, st, outputs); err != nil {
		return Outcome{}, nil, err
	}
	return d.resolveThen(rc, n)
}

// runBranchToCompletion drives a single fork branch's do-sequence using
// the same leaf-task executors as the main Driver, synchronously.
func (d *Driver) runBranchToCompletion(ctx context.Context, rc *RunContext, branch *node.Node) (any, error) {
	cur := branch
	for {
		if cur.Task.Kind == node.KindDo && len(cur.Children) > 0 {
			cur = cur.Children[0]
			continue
		}
		if cur.Task.Kind != node.KindDo {
			exec, ok := d.executors[cur.Task.Kind]
			if !ok {
				return nil, nil
			}
			st := rc.Instance.StateAt(cur.Position)
			out, err := exec.Execute(ctx, rc, cur)
			if err != nil {
				return nil, err
			}
			if err := applyOutput(rc.Eval, d.scopeFor(rc, cur), cur, st, out); err != nil {
				return nil, err
			}
			if sib, ok := nextSiblingOf(branch, cur); ok {
				cur = sib
				continue
			}
			return out, nil
		}
		return nil, nil
	}
}

func nextSiblingOf(parent *node.Node, cur *node.Node) (*node.Node, bool) {
	for i, c := range parent.Children {
		if c.Position == cur.Position && i+1 < len(parent.Children) {
			return parent.Children[i+1], true
		}
	}
	return nil, false
}
