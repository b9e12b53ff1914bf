package runexec

import (
	"context"
	"testing"

	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/node"
)

func TestSetExecutorSupportedKinds(t *testing.T) {
	e := &SetExecutor{Eval: expr.NewEvaluator()}
	kinds := e.SupportedKinds()
	if len(kinds) != 1 || kinds[0] != node.KindSet {
		t.Errorf("SupportedKinds() = %v, want [set]", kinds)
	}
}

func TestSetExecutorCopiesLiteralsAndEvaluatesExpressions(t *testing.T) {
	e := &SetExecutor{Eval: expr.NewEvaluator()}
	n := &node.Node{Task: node.Task{Set: map[string]any{
		"literal":    "plain-value",
		"number":     42.0,
		"computed":   "${ 1 + 2 }",
		"contextual": "${ $workflow.name }",
	}}}
	rc := &interp.RunContext{
		Instance: &node.Instance{},
		Workflow: map[string]any{"name": "order-fulfillment"},
	}

	out, err := e.Execute(context.Background(), rc, n)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Execute() returned %T, want map[string]any", out)
	}

	if result["literal"] != "plain-value" {
		t.Errorf("literal = %v, want plain-value", result["literal"])
	}
	if result["number"] != 42.0 {
		t.Errorf("number = %v, want 42", result["number"])
	}
	if result["computed"] != 3.0 {
		t.Errorf("computed = %v, want 3", result["computed"])
	}
	if result["contextual"] != "order-fulfillment" {
		t.Errorf("contextual = %v, want order-fulfillment", result["contextual"])
	}
}

func TestSetExecutorResolvesNestedStructures(t *testing.T) {
	e := &SetExecutor{Eval: expr.NewEvaluator()}
	n := &node.Node{Task: node.Task{Set: map[string]any{
		"nested": map[string]any{
			"inner": "${ 2 * 3 }",
		},
		"list": []any{"a", "${ 10 }"},
	}}}
	rc := &interp.RunContext{Instance: &node.Instance{}}

	out, err := e.Execute(context.Background(), rc, n)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	result := out.(map[string]any)

	nested, ok := result["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested = %T, want map[string]any", result["nested"])
	}
	if nested["inner"] != 6.0 {
		t.Errorf("nested.inner = %v, want 6", nested["inner"])
	}

	list, ok := result["list"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("list = %v, want a 2-element slice", result["list"])
	}
	if list[1] != 10.0 {
		t.Errorf("list[1] = %v, want 10", list[1])
	}
}
