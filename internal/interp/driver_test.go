package interp

import (
	"context"
	"encoding/json"
	"testing"

	"workflowcore/internal/expr"
	"workflowcore/internal/node"
	"workflowcore/internal/position"
	"workflowcore/internal/wferrors"
)

// recordingExecutor is a minimal TaskExecutor standing in for runexec's real
// executors, letting the Driver's structural walk (do/switch/try/resolveThen)
// be exercised without depending on the runexec package.
type recordingExecutor struct {
	kinds   []node.Kind
	ran     []position.Position
	fail    map[position.Position]error
	outputs map[position.Position]any
}

func (e *recordingExecutor) SupportedKinds() []node.Kind { return e.kinds }

func (e *recordingExecutor) Execute(ctx context.Context, rc *RunContext, n *node.Node) (any, error) {
	e.ran = append(e.ran, n.Position)
	if err, ok := e.fail[n.Position]; ok {
		return nil, err
	}
	if out, ok := e.outputs[n.Position]; ok {
		return out, nil
	}
	return map[string]any{}, nil
}

func compileYAML(t *testing.T, text string) *node.Graph {
	t.Helper()
	def, err := node.ParseDefinition([]byte(text))
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	return node.Compile(def.Document.Name, def.Document.Version, def)
}

func TestDriverRunsLinearSequenceToCompletion(t *testing.T) {
	g := compileYAML(t, `
document:
  name: linear
do:
  - stepOne:
      set:
        a: 1
  - stepTwo:
      set:
        b: 2
`)
	rec := &recordingExecutor{kinds: []node.Kind{node.KindSet}}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("outcome.Kind = %v, want OutcomeCompleted", outcome.Kind)
	}
	if len(rec.ran) != 2 {
		t.Fatalf("executed %d steps, want 2", len(rec.ran))
	}
	if rc.Instance.Status != node.StatusCompleted {
		t.Errorf("Instance.Status = %v, want StatusCompleted", rc.Instance.Status)
	}
}

func TestDriverSwitchRoutesToMatchingCase(t *testing.T) {
	g := compileYAML(t, `
document:
  name: routed
do:
  - decide:
      switch:
        - highValue:
            when: "true"
            then: premium
        - default:
            then: standard
  - premium:
      set:
        tier: premium
      then: exit
  - standard:
      set:
        tier: standard
      then: exit
`)
	rec := &recordingExecutor{kinds: []node.Kind{node.KindSet}}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("outcome.Kind = %v, want OutcomeCompleted", outcome.Kind)
	}
	if len(rec.ran) != 1 || rec.ran[0] != position.Root.AppendIndex(1) {
		t.Errorf("ran = %v, want exactly the premium step at /1", rec.ran)
	}
}

func TestDriverFaultWithoutCatchReachesRoot(t *testing.T) {
	g := compileYAML(t, `
document:
  name: unguarded
do:
  - risky:
      call: http
`)
	failPos := position.Root.AppendIndex(0)
	rec := &recordingExecutor{
		kinds: []node.Kind{node.KindCallHTTP},
		fail:  map[position.Position]error{failPos: wferrors.New(wferrors.KindCommunication, failPos, nil, "connection refused")},
	}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeFaulted {
		t.Fatalf("outcome.Kind = %v, want OutcomeFaulted", outcome.Kind)
	}
	if outcome.Fault == nil {
		t.Fatal("outcome.Fault = nil, want populated WorkflowError")
	}
	if rc.Instance.Status != node.StatusFaulted {
		t.Errorf("Instance.Status = %v, want StatusFaulted", rc.Instance.Status)
	}
}

func TestDriverTryCatchRecoversFromMatchingError(t *testing.T) {
	g := compileYAML(t, `
document:
  name: guarded
do:
  - attempt:
      try:
        - risky:
            call: http
      catch:
        as: err
        do:
          - recover:
              set:
                recovered: true
`)
	riskyPos := position.Root.AppendIndex(0).AppendToken("try").AppendToken("do").AppendIndex(0)
	rec := &recordingExecutor{
		kinds: []node.Kind{node.KindCallHTTP, node.KindSet},
		fail:  map[position.Position]error{riskyPos: wferrors.New(wferrors.KindCommunication, riskyPos, nil, "connection refused")},
	}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("outcome.Kind = %v, want OutcomeCompleted (recovered by catch)", outcome.Kind)
	}
	recoverPos := position.Root.AppendIndex(0).AppendToken("try").AppendToken("catch").AppendToken("do").AppendIndex(0)
	found := false
	for _, p := range rec.ran {
		if p == recoverPos {
			found = true
		}
	}
	if !found {
		t.Errorf("ran = %v, want recover step at %q to have executed", rec.ran, recoverPos)
	}
}

func TestDriverTryCatchSchedulesRetryWhenPolicyAllows(t *testing.T) {
	g := compileYAML(t, `
document:
  name: retried
do:
  - attempt:
      try:
        - risky:
            call: http
      catch:
        as: err
        retry:
          limit:
            attempt:
              count: 3
          delay: "1s"
          backoff:
            kind: constant
        do:
          - recover:
              set:
                recovered: true
`)
	riskyPos := position.Root.AppendIndex(0).AppendToken("try").AppendToken("do").AppendIndex(0)
	rec := &recordingExecutor{
		kinds: []node.Kind{node.KindCallHTTP, node.KindSet},
		fail:  map[position.Position]error{riskyPos: wferrors.New(wferrors.KindCommunication, riskyPos, nil, "connection refused")},
	}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeSuspended {
		t.Fatalf("outcome.Kind = %v, want OutcomeSuspended (scheduled retry)", outcome.Kind)
	}
	if outcome.OutboxKind != "RETRY" {
		t.Errorf("outcome.OutboxKind = %q, want RETRY", outcome.OutboxKind)
	}
	if rc.Instance.Status != node.StatusWaiting {
		t.Errorf("Instance.Status = %v, want StatusWaiting", rc.Instance.Status)
	}
}

// loopCapturingExecutor records LoopBindings(rc, n.Position) on every
// Execute call, letting a test assert what a leaf task inside a `for`
// body actually sees without depending on runexec's SetExecutor.
type loopCapturingExecutor struct {
	kinds    []node.Kind
	captured []map[string]any
}

func (e *loopCapturingExecutor) SupportedKinds() []node.Kind { return e.kinds }

func (e *loopCapturingExecutor) Execute(ctx context.Context, rc *RunContext, n *node.Node) (any, error) {
	e.captured = append(e.captured, LoopBindings(rc, n.Position))
	return map[string]any{}, nil
}

func TestDriverForExposesLoopBindingsToBodyTasks(t *testing.T) {
	g := compileYAML(t, `
document:
  name: looped
do:
  - iterate:
      for:
        each: item
        in: "[1,2,3]"
        do:
          - body:
              set:
                doubled: "${ $item }"
`)
	exec := &loopCapturingExecutor{kinds: []node.Kind{node.KindSet}}
	d := NewDriver(exec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("outcome.Kind = %v, want OutcomeCompleted", outcome.Kind)
	}
	if len(exec.captured) != 3 {
		t.Fatalf("body ran %d times, want 3", len(exec.captured))
	}
	for i, bindings := range exec.captured {
		if bindings == nil {
			t.Fatalf("iteration %d: loop bindings = nil, want populated", i)
		}
		if _, ok := bindings["item"]; !ok {
			t.Errorf("iteration %d: bindings = %v, want an %q key", i, bindings, "item")
		}
	}
}

func TestDriverForkRunsBranchesSequentiallyInOrder(t *testing.T) {
	g := compileYAML(t, `
document:
  name: forked
do:
  - spread:
      fork:
        branches:
          - left:
              set:
                side: left
          - right:
              set:
                side: right
`)
	rec := &recordingExecutor{kinds: []node.Kind{node.KindSet}}
	d := NewDriver(rec)
	rc := &RunContext{Graph: g, Instance: &node.Instance{}, Eval: expr.NewEvaluator()}

	outcome := d.Run(context.Background(), rc)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("outcome.Kind = %v, want OutcomeCompleted", outcome.Kind)
	}
	forkPos := position.Root.AppendIndex(0).AppendToken("fork")
	wantLeft := forkPos.AppendIndex(0)
	wantRight := forkPos.AppendIndex(1)
	if len(rec.ran) != 2 || rec.ran[0] != wantLeft || rec.ran[1] != wantRight {
		t.Errorf("ran = %v, want [%s %s] in declaration order", rec.ran, wantLeft, wantRight)
	}
}

func TestDriverPassesPredecessorOutputAsNextInput(t *testing.T) {
	g := compileYAML(t, `
document:
  name: chained
do:
  - stepOne:
      set:
        value: 1
  - stepTwo:
      set:
        value: 2
`)
	firstPos := position.Root.AppendIndex(0)
	rec := &recordingExecutor{
		kinds:   []node.Kind{node.KindSet},
		outputs: map[position.Position]any{firstPos: map[string]any{"value": 42.0}},
	}
	d := NewDriver(rec)
	input := []byte(`{"initial":true}`)
	rc := &RunContext{Graph: g, Instance: &node.Instance{Input: input}, Eval: expr.NewEvaluator()}

	d.Run(context.Background(), rc)

	secondPos := position.Root.AppendIndex(1)
	secondState := rc.Instance.StateAt(secondPos)
	if len(secondState.RawInput) == 0 {
		t.Fatal("second step's RawInput not set from predecessor output")
	}
	var got map[string]any
	if err := json.Unmarshal(secondState.RawInput, &got); err != nil || got["value"] != 42.0 {
		t.Errorf("second step's RawInput = %s, want the predecessor's output {\"value\":42}", secondState.RawInput)
	}
}
