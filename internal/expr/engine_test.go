package expr

import (
	"strings"
	"testing"
)

func TestEvaluateBasic(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name string
		expr string
		in   any
		want any
	}{
		{"identity", ".", map[string]any{"a": 1.0}, map[string]any{"a": 1.0}},
		{"field access", ".amount", map[string]any{"amount": 42.0}, 42.0},
		{"arithmetic", ".a + .b", map[string]any{"a": 1.0, "b": 2.0}, 3.0},
		{"literal string", `"hello"`, nil, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, Scope{Input: tt.in})
			if err != nil {
				t.Fatalf("Evaluate(%q) error = %v", tt.expr, err)
			}
			if m, ok := tt.want.(map[string]any); ok {
				gm, ok := got.(map[string]any)
				if !ok {
					t.Fatalf("Evaluate(%q) = %T, want map", tt.expr, got)
				}
				for k, v := range m {
					if gm[k] != v {
						t.Errorf("Evaluate(%q)[%q] = %v, want %v", tt.expr, k, gm[k], v)
					}
				}
				return
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateScopeVariables(t *testing.T) {
	e := NewEvaluator()
	scope := Scope{
		Input:    map[string]any{},
		Context:  map[string]any{"env": "prod"},
		Workflow: map[string]any{"name": "order-fulfillment"},
		Secrets:  map[string]any{"token": "s3cr3t"},
	}

	got, err := e.Evaluate(`$context.env + "-" + $workflow.name`, scope)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "prod-order-fulfillment" {
		t.Errorf("Evaluate() = %v, want prod-order-fulfillment", got)
	}
}

func TestEvaluateCachesCompiledProgram(t *testing.T) {
	e := NewEvaluator()
	for i := 0; i < 3; i++ {
		if _, err := e.Evaluate(".x", Scope{Input: map[string]any{"x": 1.0}}); err != nil {
			t.Fatalf("Evaluate() iteration %d error = %v", i, err)
		}
	}
	if len(e.cache) != 1 {
		t.Errorf("cache size = %d, want 1 (single distinct expression)", len(e.cache))
	}
}

func TestEvaluateLoopBindingsAddressableByName(t *testing.T) {
	e := NewEvaluator()
	scope := Scope{
		Input: map[string]any{"counter": 1.0},
		Loop:  map[string]any{"item": 2.0, "index": 0.0},
	}

	got, err := e.Evaluate(".counter + $item", scope)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != 3.0 {
		t.Errorf("Evaluate(.counter + $item) = %v, want 3", got)
	}

	got, err = e.Evaluate("$index < 2", scope)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != true {
		t.Errorf("Evaluate($index < 2) = %v, want true", got)
	}
}

func TestEvaluateLoopBindingsUseUserChosenAlias(t *testing.T) {
	e := NewEvaluator()
	scope := Scope{
		Input: nil,
		Loop:  map[string]any{"customer": map[string]any{"id": "c-1"}, "at": 3.0},
	}

	got, err := e.Evaluate("$customer.id + \"-\" + ($at | tostring)", scope)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if got != "c-1-3" {
		t.Errorf("Evaluate() = %v, want c-1-3", got)
	}
}

func TestEvaluateCompileError(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Evaluate("not valid jq (((", Scope{})
	if err == nil {
		t.Fatal("Evaluate() with invalid syntax error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "compile expression") {
		t.Errorf("error = %v, want wrapped compile error", err)
	}
}

func TestEvaluateBool(t *testing.T) {
	e := NewEvaluator()

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"true literal", "true", true},
		{"false literal", "false", false},
		{"null is falsy", "null", false},
		{"non-empty string is truthy", `"x"`, true},
		{"zero is truthy in jq", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, Scope{})
			if err != nil {
				t.Fatalf("EvaluateBool(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("EvaluateBool(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		v    any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", true},
		{0.0, true},
		{map[string]any{}, true},
	}

	for _, tt := range tests {
		if got := Truthy(tt.v); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}
