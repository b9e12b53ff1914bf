package message

import (
	"encoding/json"
	"testing"

	"workflowcore/internal/position"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := &Envelope{
		Name:     "order-fulfillment",
		Version:  "1",
		RunID:    "01HF0000000000000000000000",
		Position: position.Root.AppendToken("do").AppendIndex(2),
		Attempt:  1,
		States:   map[string]json.RawMessage{"/do/0": json.RawMessage(`{"status":"completed"}`)},
		Trace:    map[string]string{"traceparent": "00-aaaa-bbbb-01"},
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if got.Name != env.Name || got.RunID != env.RunID || got.Position != env.Position || got.Attempt != env.Attempt {
		t.Errorf("Decode() = %+v, want matching %+v", got, env)
	}
	if got.Trace["traceparent"] != "00-aaaa-bbbb-01" {
		t.Errorf("Trace not round-tripped: %v", got.Trace)
	}
}

func TestUnmarshalPreservesUnknownFields(t *testing.T) {
	raw := []byte(`{"n":"wf","v":"1","r":"run-1","p":"/do/0","futureField":"from-a-newer-consumer"}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	out, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("Unmarshal(out) error = %v", err)
	}

	got, ok := roundTripped["futureField"]
	if !ok {
		t.Fatal("futureField dropped on re-marshal, want preserved")
	}
	if string(got) != `"from-a-newer-consumer"` {
		t.Errorf("futureField = %s, want %q", got, "from-a-newer-consumer")
	}
}

func TestOmitsEmptyOptionalFields(t *testing.T) {
	env := &Envelope{Name: "wf", Version: "1", RunID: "run-1", Position: position.Root}
	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, field := range []string{"a", "t", "pr", "pp"} {
		if _, present := raw[field]; present {
			t.Errorf("field %q present in encoded output, want omitted when zero-valued", field)
		}
	}
}
