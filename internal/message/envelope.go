// Package message implements the compact wire envelope carried by every
// OutboxRow and broker message: enough of a WorkflowInstance's state to
// resume it on any consumer, with unknown fields round-tripped so a rolling
// deploy of mixed-version consumers never silently drops data. Modeled on
// the teacher's MarshalStepWithTrace/UnmarshalStepWithTrace in
// internal/workflows/runtime/telemetry.go, which embeds an OTel trace
// context alongside a JSON payload without polluting the logical fields.
package message

import (
	"encoding/json"
	"fmt"

	"workflowcore/internal/position"
)

// Envelope is the compact message format: short field names (n/v/s/p) per
// spec §6.1, plus a trace carrier and a bag for fields this version of the
// code does not understand.
type Envelope struct {
	Name     string                     `json:"n"`
	Version  string                     `json:"v"`
	RunID    string                     `json:"r"`
	States   map[string]json.RawMessage `json:"s"`
	Position position.Position          `json:"p"`
	Attempt  int                        `json:"a,omitempty"`

	// Trace carries an OpenTelemetry trace context so a resumed step's
	// span remains a child of the run's original trace.
	Trace map[string]string `json:"t,omitempty"`

	// ParentRunID/ParentPosition are set only on a sub-workflow instance
	// dispatched by a run.workflow task, so its completion can resume the
	// parent instance at the position that dispatched it.
	ParentRunID   string             `json:"pr,omitempty"`
	ParentPosition position.Position `json:"pp,omitempty"`

	// unknown holds any top-level field this version doesn't recognize, so
	// re-marshaling never drops data written by a newer consumer.
	unknown map[string]json.RawMessage
}

// knownFields lists every field Envelope itself owns; everything else goes
// into `unknown` on decode and is re-emitted verbatim on encode.
var knownFields = map[string]bool{
	"n": true, "v": true, "r": true, "s": true, "p": true, "a": true, "t": true,
	"pr": true, "pp": true,
}

// MarshalJSON emits known fields plus any preserved unknown ones merged in.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type alias Envelope
	base, err := json.Marshal(alias(e))
	if err != nil {
		return nil, err
	}
	if len(e.unknown) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.unknown {
		if _, known := knownFields[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes anything else in unknown.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type alias Envelope
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}
	*e = Envelope(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.unknown = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownFields[k] {
			e.unknown[k] = v
		}
	}
	return nil
}

// Encode serializes the envelope to its opaque wire form for OutboxRow.Message.
func Encode(e *Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an opaque OutboxRow.Message back into an Envelope.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
