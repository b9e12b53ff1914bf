package interp

import (
	"encoding/json"
	"testing"

	"workflowcore/internal/expr"
	"workflowcore/internal/node"
)

func TestApplyInputWithoutTransform(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{}}
	st := node.NewState()

	err := applyInput(ev, expr.Scope{}, n, st, map[string]any{"amount": 10.0})
	if err != nil {
		t.Fatalf("applyInput() error = %v", err)
	}
	if len(st.TransformedInput) == 0 {
		t.Fatal("TransformedInput not set")
	}
	var got map[string]any
	if err := json.Unmarshal(st.TransformedInput, &got); err != nil {
		t.Fatalf("unmarshal TransformedInput: %v", err)
	}
	if got["amount"] != 10.0 {
		t.Errorf("TransformedInput[amount] = %v, want 10", got["amount"])
	}
}

func TestApplyInputWithFromTransform(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{Input: &node.TransformSpec{From: ".amount * 2"}}}
	st := node.NewState()

	err := applyInput(ev, expr.Scope{}, n, st, map[string]any{"amount": 10.0})
	if err != nil {
		t.Fatalf("applyInput() error = %v", err)
	}
	var got float64
	if err := json.Unmarshal(st.TransformedInput, &got); err != nil {
		t.Fatalf("unmarshal TransformedInput: %v", err)
	}
	if got != 20.0 {
		t.Errorf("TransformedInput = %v, want 20", got)
	}
}

func TestApplyInputSchemaValidationFailure(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{
		Input: &node.TransformSpec{Schema: json.RawMessage(`{"type":"object","required":["amount"]}`)},
	}}
	st := node.NewState()

	err := applyInput(ev, expr.Scope{}, n, st, map[string]any{})
	if err == nil {
		t.Fatal("applyInput() with schema-violating input error = nil, want non-nil")
	}
}

func TestApplyOutputSetsRawAndTransformed(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{}}
	st := node.NewState()

	err := applyOutput(ev, expr.Scope{}, n, st, map[string]any{"status": "ok"})
	if err != nil {
		t.Fatalf("applyOutput() error = %v", err)
	}
	if len(st.RawOutput) == 0 || len(st.TransformedOutput) == 0 {
		t.Fatal("applyOutput() left RawOutput or TransformedOutput unset")
	}
}

func TestApplyOutputExportMergesContext(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{Export: &node.Export{As: `{"lastStatus": .status}`}}}
	st := node.NewState()

	if err := applyOutput(ev, expr.Scope{}, n, st, map[string]any{"status": "ok"}); err != nil {
		t.Fatalf("applyOutput() error = %v", err)
	}
	if st.Context["lastStatus"] != "ok" {
		t.Errorf("Context[lastStatus] = %v, want ok", st.Context["lastStatus"])
	}
}

func TestApplyOutputSchemaValidationFailure(t *testing.T) {
	ev := expr.NewEvaluator()
	n := &node.Node{Task: node.Task{
		Output: &node.TransformSpec{Schema: json.RawMessage(`{"type":"object","required":["status"]}`)},
	}}
	st := node.NewState()

	err := applyOutput(ev, expr.Scope{}, n, st, map[string]any{})
	if err == nil {
		t.Fatal("applyOutput() with schema-violating output error = nil, want non-nil")
	}
}
