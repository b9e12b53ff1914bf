// Package interp is the Workflow Interpreter: the NodeInstance contract and
// the WorkflowInstance driver of spec §4.3/§4.4. It walks a compiled
// node.Graph from a node.Instance's current Position, one task at a time,
// the way the teacher's internal/workflows/runtime/trycatch_executor.go
// executeBlock walks a []StateSpec — generalized from a flat state list to
// the DSL's recursively nested do/switch/for/try/fork structure, and from
// Station's map[string]any StepResult to the spec's typed NodeState.
//
// The driver is iterative, not recursive-in-the-Go-call-stack sense across
// suspension points: every task that can suspend (wait, a scheduled retry,
// a dispatched run.workflow) returns an Outcome that unwinds the Go stack
// entirely, so the only thing that must survive a process restart is the
// node.Instance itself (spec §9, "iterative-driver coroutine-shaped
// control flow").
package interp

import (
	"context"
	"fmt"
	"time"

	"workflowcore/internal/expr"
	"workflowcore/internal/node"
	"workflowcore/internal/position"
	"workflowcore/internal/wferrors"
)

// OutcomeKind classifies what the driver should do after a Run call.
type OutcomeKind int

const (
	// OutcomeCompleted: the workflow instance reached `then: exit`, ran
	// off the end of the root do block, or finished a try's catch path.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeSuspended: a wait/retry/sub-workflow dispatch scheduled an
	// OutboxRow; the instance's Position/Status have been updated and
	// must be persisted, then the driver stops.
	OutcomeSuspended
	// OutcomeFaulted: an unrecovered WorkflowError propagated to the root.
	OutcomeFaulted
)

// Outcome is the result of driving an Instance to its next suspension
// point or completion.
type Outcome struct {
	Kind  OutcomeKind
	Fault *wferrors.WorkflowError
	// Delay is populated for OutcomeSuspended: how long until the
	// scheduler should dispatch the resuming message.
	Delay time.Duration
	// OutboxKind distinguishes a WAIT suspension from a RETRY suspension,
	// per spec §3's OutboxRow.Kind.
	OutboxKind string
}

// TaskExecutor executes the non-structural (leaf) task kinds: set, raise,
// wait, call.*, run.*, emit, listen. Structural kinds (do, switch, for,
// try, fork) are handled directly by the Driver since their control flow
// is part of the interpreter's own contract, not a pluggable concern.
type TaskExecutor interface {
	// SupportedKinds lists the node.Kind values this executor handles.
	SupportedKinds() []node.Kind
	// Execute runs task against state, returning its raw output (before
	// the Driver applies `output.from`/`export.as`) or a WorkflowError.
	Execute(ctx context.Context, rc *RunContext, n *node.Node) (any, error)
}

// RunContext bundles the per-step dependencies a Driver and its
// TaskExecutors need: the compiled graph, the live instance, the
// expression engine, and read-only ambient data ($workflow/$secrets).
type RunContext struct {
	Graph    *node.Graph
	Instance *node.Instance
	Eval     *expr.Evaluator
	Workflow map[string]any
	Secrets  map[string]any
	Runtime  map[string]any
}

// Driver walks a node.Graph against a node.Instance.
type Driver struct {
	executors map[node.Kind]TaskExecutor
}

// NewDriver builds a Driver with the given leaf TaskExecutors registered
// by the node.Kind values they declare, mirroring the teacher's
// ExecutorRegistry.Register/GetExecutor dispatch-by-type pattern in
// internal/workflows/runtime/executor.go.
func NewDriver(executors ...TaskExecutor) *Driver {
	d := &Driver{executors: make(map[node.Kind]TaskExecutor)}
	for _, e := range executors {
		for _, k := range e.SupportedKinds() {
			d.executors[k] = e
		}
	}
	return d
}

// Run drives rc.Instance forward from its current Position until it
// suspends, completes, or faults. Callers (the Consumer Loop) are
// responsible for persisting the Instance and any scheduled OutboxRow
// between calls.
func (d *Driver) Run(ctx context.Context, rc *RunContext) Outcome {
	if rc.Instance.Position == position.Root && len(rc.Graph.Root) == 0 {
		return Outcome{Kind: OutcomeCompleted}
	}

	pos := rc.Instance.Position
	if pos == position.Root {
		if len(rc.Graph.Root) == 0 {
			return Outcome{Kind: OutcomeCompleted}
		}
		pos = rc.Graph.Root[0].Position
	}

	for {
		n, ok := rc.Graph.Lookup(pos)
		if !ok {
			fault := wferrors.New(wferrors.KindConfiguration, pos, nil, "no task compiled at position %s", pos)
			return d.propagateFault(rc, fault)
		}

		rc.Instance.Position = pos
		outcome, next, err := d.step(ctx, rc, n)
		if err != nil {
			var fault *wferrors.WorkflowError
			if wf, ok := err.(*wferrors.WorkflowError); ok {
				fault = wf
			} else {
				fault = wferrors.New(wferrors.KindRuntime, pos, err, "")
			}
			return d.propagateFault(rc, fault)
		}
		if outcome.Kind != OutcomeCompleted || next == nil {
			return outcome
		}
		if *next == position.Root {
			rc.Instance.Status = node.StatusCompleted
			return Outcome{Kind: OutcomeCompleted}
		}
		pos = *next
	}
}

// propagateFault walks up the position's try-ancestry looking for an
// enclosing catch that matches, per spec §4.3.4's retry-before-catch
// ordering: a matching catch with a retry policy that still allows an
// attempt suspends for a RETRY redelivery of the try task; otherwise the
// catch's do block runs.
func (d *Driver) propagateFault(rc *RunContext, fault *wferrors.WorkflowError) Outcome {
	pos := fault.Instance
	for {
		parentTry, catch, ok := findEnclosingTry(rc.Graph, pos)
		if !ok {
			rc.Instance.Status = node.StatusFaulted
			return Outcome{Kind: OutcomeFaulted, Fault: fault}
		}
		if catch == nil || !matchesCatch(parentTry, fault) {
			pos = parentTry.Position
			continue
		}
		if policy := parentTry.Task.Catch.Retry; policy != nil {
			st := rc.Instance.StateAt(parentTry.Position)
			elapsed := timeNow().Sub(st.StartedAt)
			if retryAllowed(policy, st.AttemptCount+1, elapsed) {
				st.AttemptCount++
				delay := retryDelay(policy, st.AttemptCount)
				rc.Instance.Position = parentTry.Position
				rc.Instance.Status = node.StatusWaiting
				return Outcome{Kind: OutcomeSuspended, Delay: delay, OutboxKind: "RETRY"}
			}
		}
		rc.Instance.StateAt(catch.Position).Context["error"] = map[string]any{
			"type": fault.Type, "status": fault.Status, "title": fault.Title, "detail": fault.Detail,
		}
		if len(catch.Children) == 0 {
			return Outcome{Kind: OutcomeCompleted}
		}
		rc.Instance.Position = catch.Children[0].Position
		out := d.Run(context.Background(), rc)
		return out
	}
}

func matchesCatch(tryNode *node.Node, fault *wferrors.WorkflowError) bool {
	catchSpec := tryNode.Task.Catch
	if catchSpec == nil || catchSpec.Errors == nil {
		return true
	}
	w := catchSpec.Errors.With
	return fault.Matches(w.Type, w.Status, w.Instance)
}

func findEnclosingTry(g *node.Graph, pos position.Position) (*node.Node, *node.Node, bool) {
	cur := pos
	for {
		parent, ok := cur.Parent()
		if !ok {
			return nil, nil, false
		}
		if n, ok := g.Lookup(parent); ok && n.Task.Kind == node.KindTry {
			return n, n.Catch, true
		}
		cur = parent
	}
}

// step executes exactly one Node (structural or leaf) and returns the
// Position that should run next, or a suspending/faulting Outcome.
func (d *Driver) step(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	switch n.Task.Kind {
	case node.KindDo:
		return d.stepDo(ctx, rc, n)
	case node.KindSwitch:
		return d.stepSwitch(ctx, rc, n)
	case node.KindFor:
		return d.stepFor(ctx, rc, n)
	case node.KindTry:
		return d.stepTry(ctx, rc, n)
	case node.KindFork:
		return d.stepFork(ctx, rc, n)
	default:
		return d.stepLeaf(ctx, rc, n)
	}
}

func (d *Driver) stepDo(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	if len(n.Children) == 0 {
		return d.resolveThen(rc, n)
	}
	first := n.Children[0].Position
	return Outcome{Kind: OutcomeCompleted}, &first, nil
}

func (d *Driver) stepSwitch(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	scope := d.scopeFor(rc, n)
	for _, c := range n.Task.Switch {
		if c.When == "" {
			return d.gotoName(rc, n, c.Then)
		}
		ok, err := rc.Eval.EvaluateBool(c.When, scope)
		if err != nil {
			return Outcome{}, nil, wferrors.New(wferrors.KindExpression, n.Position, err, "")
		}
		if ok {
			return d.gotoName(rc, n, c.Then)
		}
	}
	return Outcome{}, nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "no switch case matched and no default case present")
}

// gotoName resolves a switch case's `then` directive, which per spec
// §4.3.1 rule 2 may be a control keyword (continue/end/exit) or the name
// of a sibling in the same scope to jump to. Named jumps are resolved
// through the graph's own ResolveNamed, the same index compile-time
// then-resolution uses, so a case's then: premium lands exactly where
// the premium task was compiled, not at a guessed position.
func (d *Driver) gotoName(rc *RunContext, n *node.Node, then string) (Outcome, *position.Position, error) {
	switch then {
	case "", "continue":
		return d.resolveThen(rc, n)
	case "end":
		return d.bubbleUp(rc, n)
	case "exit":
		root := position.Root
		return Outcome{Kind: OutcomeCompleted}, &root, nil
	default:
		if target, ok := rc.Graph.ResolveNamed(then); ok {
			return Outcome{Kind: OutcomeCompleted}, &target, nil
		}
		return Outcome{}, nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "then target %q not found", then)
	}
}

func (d *Driver) stepLeaf(ctx context.Context, rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	exec, ok := d.executors[n.Task.Kind]
	if !ok {
		return Outcome{}, nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "no executor registered for task kind %s", n.Task.Kind)
	}
	st := rc.Instance.StateAt(n.Position)
	if st.StartedAt.IsZero() {
		st.StartedAt = timeNow()
		if err := applyInput(rc.Eval, d.scopeFor(rc, n), n, st, d.predecessorOutput(rc, n)); err != nil {
			return Outcome{}, nil, err
		}
	}

	out, err := exec.Execute(ctx, rc, n)
	if se, ok := err.(*suspendError); ok {
		rc.Instance.Status = node.StatusWaiting
		return Outcome{Kind: OutcomeSuspended, Delay: se.Delay, OutboxKind: se.Kind}, nil, nil
	}
	if err != nil {
		st.AttemptCount++
		return Outcome{}, nil, err
	}

	if err := applyOutput(rc.Eval, d.scopeFor(rc, n), n, st, out); err != nil {
		return Outcome{}, nil, err
	}
	return d.resolveThen(rc, n)
}

func (d *Driver) resolveThen(rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	switch n.Then.Kind {
	case node.ThenExit:
		root := position.Root
		return Outcome{Kind: OutcomeCompleted}, &root, nil
	case node.ThenGoto:
		if n.Then.Target == position.Root {
			return Outcome{}, nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "then target %q not found", n.Task.Then)
		}
		return Outcome{Kind: OutcomeCompleted}, &n.Then.Target, nil
	case node.ThenEnd:
		return d.bubbleUp(rc, n)
	default: // ThenContinue
		if sib, ok := nextSibling(rc.Graph, n); ok {
			return Outcome{Kind: OutcomeCompleted}, &sib, nil
		}
		return d.bubbleUp(rc, n)
	}
}

// bubbleUp finds the parent structural node and continues after it, or
// completes the whole workflow if n is already at the root sequence.
func (d *Driver) bubbleUp(rc *RunContext, n *node.Node) (Outcome, *position.Position, error) {
	parentPos, ok := n.Position.Parent()
	if !ok {
		rc.Instance.Status = node.StatusCompleted
		return Outcome{Kind: OutcomeCompleted}, nil, nil
	}
	// Skip the structural token segments (do, for/do, try/do, try/catch/do,
	// fork) to reach the nearest compiled owning node.
	owner, ok := rc.Graph.Lookup(parentPos)
	for !ok {
		if parentPos, ok = parentPos.Parent(); !ok {
			rc.Instance.Status = node.StatusCompleted
			return Outcome{Kind: OutcomeCompleted}, nil, nil
		}
		owner, ok = rc.Graph.Lookup(parentPos)
	}
	if owner.Task.Kind == node.KindFor {
		return d.stepFor(context.Background(), rc, owner)
	}
	return d.resolveThen(rc, owner)
}

// predecessorOutput resolves a task's implicit input: the transformed
// output of the previous sibling in its do block, or the instance's
// overall workflow input if it is first, generalizing the teacher's
// internal/workflows/dataflow/resolver.go findPreviousStep lookup from a
// flat step list to a sibling-in-do-block lookup.
func (d *Driver) predecessorOutput(rc *RunContext, n *node.Node) any {
	parentPos, ok := n.Position.Parent()
	var siblings []*node.Node
	if !ok || parentPos == position.Root {
		siblings = rc.Graph.Root
	} else if parent, ok := rc.Graph.Lookup(parentPos); ok {
		siblings = parent.Children
	}
	for i, s := range siblings {
		if s.Position == n.Position {
			if i == 0 {
				var v any
				_ = jsonDecode(rc.Instance.Input, &v)
				return v
			}
			prev := rc.Instance.StateAt(siblings[i-1].Position)
			var v any
			_ = jsonDecode(prev.TransformedOutput, &v)
			return v
		}
	}
	var v any
	_ = jsonDecode(rc.Instance.Input, &v)
	return v
}

func nextSibling(g *node.Graph, n *node.Node) (position.Position, bool) {
	parentPos, ok := n.Position.Parent()
	if !ok {
		return position.Root, false
	}
	var siblings []*node.Node
	if parentPos == position.Root {
		siblings = g.Root
	} else if parent, ok := g.Lookup(parentPos); ok {
		siblings = parent.Children
	} else {
		return position.Root, false
	}
	for i, s := range siblings {
		if s.Position == n.Position && i+1 < len(siblings) {
			return siblings[i+1].Position, true
		}
	}
	return position.Root, false
}

func (d *Driver) scopeFor(rc *RunContext, n *node.Node) expr.Scope {
	st := rc.Instance.StateAt(n.Position)
	var input any
	_ = jsonDecode(st.TransformedInput, &input)
	if input == nil {
		_ = jsonDecode(st.RawInput, &input)
	}
	return expr.Scope{
		Input:    input,
		Context:  st.Context,
		Workflow: rc.Workflow,
		Runtime:  rc.Runtime,
		Secrets:  rc.Secrets,
		Task:     map[string]any{"name": n.Task.Name, "position": string(n.Position)},
		Loop:     LoopBindings(rc, n.Position),
	}
}

// LoopBindings walks up from pos looking for the nearest `for` ancestor
// and returns its current iteration's bindings, so a loop body's own
// expressions (at any nesting depth under the for's do block, including
// those evaluated by runexec's leaf TaskExecutors) can reference
// $item/$index (or the for task's each/at aliases), per spec §4.2.
// Mirrors findEnclosingTry's ancestor walk. Exported since TaskExecutors
// build their own expr.Scope outside the Driver's scopeFor.
func LoopBindings(rc *RunContext, pos position.Position) map[string]any {
	cur := pos
	for {
		parent, ok := cur.Parent()
		if !ok {
			return nil
		}
		if n, ok := rc.Graph.Lookup(parent); ok && n.Task.Kind == node.KindFor {
			st := rc.Instance.StateAt(n.Position)
			bindings, _ := st.Variables["__for_loop"].(map[string]any)
			return bindings
		}
		cur = parent
	}
}

// suspendError is a sentinel error type TaskExecutors (wait, run.workflow,
// a scheduled retry) return to signal the Driver that this step suspended
// rather than failed.
type suspendError struct {
	Kind  string
	Delay time.Duration
}

func (s *suspendError) Error() string { return fmt.Sprintf("suspended: %s", s.Kind) }

// Suspend is the constructor TaskExecutors call to request suspension.
func Suspend(kind string, delay time.Duration) error {
	return &suspendError{Kind: kind, Delay: delay}
}
