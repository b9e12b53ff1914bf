package runexec

import (
	"context"
	"testing"
	"time"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
)

func TestWaitExecutorSuspendsOnFirstEntry(t *testing.T) {
	e := &WaitExecutor{}
	n := &node.Node{Task: node.Task{Wait: &node.WaitSpec{Duration: "5s"}}}
	rc := &interp.RunContext{Instance: &node.Instance{}}

	_, err := e.Execute(context.Background(), rc, n)
	if err == nil {
		t.Fatal("Execute() error = nil, want a suspend signal")
	}
}

func TestWaitExecutorResumesWithTransformedInputUnchanged(t *testing.T) {
	e := &WaitExecutor{}
	n := &node.Node{Task: node.Task{Wait: &node.WaitSpec{Duration: "5s"}}}
	rc := &interp.RunContext{Instance: &node.Instance{}}

	if _, err := e.Execute(context.Background(), rc, n); err == nil {
		t.Fatal("first Execute() error = nil, want suspend")
	}

	st := rc.Instance.StateAt(n.Position)
	st.TransformedInput = []byte(`{"orderId":"o-1","amount":42}`)

	out, err := e.Execute(context.Background(), rc, n)
	if err != nil {
		t.Fatalf("resumed Execute() error = %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("resumed Execute() = %T, want the decoded transformed input", out)
	}
	if result["orderId"] != "o-1" || result["amount"] != 42.0 {
		t.Errorf("resumed output = %v, want transformed input passed through unchanged", result)
	}
	if _, ok := result["waited"]; ok {
		t.Error("resumed output still carries a waited sentinel field, want pure pass-through")
	}
}

func TestParseWaitDurationGoAndISO8601(t *testing.T) {
	tests := []struct {
		name string
		spec any
		want time.Duration
	}{
		{"go duration", "250ms", 250 * time.Millisecond},
		{"iso8601 duration", "PT1M30S", 90 * time.Second},
		{"structured", map[string]any{"seconds": 5.0}, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseWaitDuration(tt.spec)
			if err != nil {
				t.Fatalf("parseWaitDuration(%v) error = %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("parseWaitDuration(%v) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}
