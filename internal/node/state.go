package node

import (
	"encoding/json"
	"fmt"
	"time"

	"workflowcore/internal/position"
)

// Status is the lifecycle state of a WorkflowInstance, per spec §3.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusCompleted Status = "COMPLETED"
	StatusFaulted   Status = "FAULTED"
	StatusCancelled Status = "CANCELLED"
)

// State is the mutable, per-node slice of execution data: NodeState in
// spec §3. It is addressed by Position within a WorkflowInstance's States
// map and is written only by the NodeInstance that owns that Position
// (with the single exception of Context, which any node's `export.as`
// clause may update for every node that follows it).
type State struct {
	RawInput          json.RawMessage `json:"rawInput,omitempty"`
	TransformedInput  json.RawMessage `json:"transformedInput,omitempty"`
	RawOutput         json.RawMessage `json:"rawOutput,omitempty"`
	TransformedOutput json.RawMessage `json:"transformedOutput,omitempty"`
	Context           map[string]any  `json:"context"`
	Variables         map[string]any  `json:"variables,omitempty"`
	StartedAt         time.Time       `json:"startedAt,omitempty"`
	AttemptCount      int             `json:"attemptCount"`

	// unknown holds any field this version of State doesn't recognize, so
	// round-tripping through FromEnvelope/ToEnvelope on a resumption never
	// drops data written by a newer consumer, per spec §6.1's backward
	// compatibility requirement for NodeState. Mirrors message.Envelope's
	// own unknown/knownFields pattern.
	unknown map[string]json.RawMessage
}

// stateKnownFields lists every field State itself owns; everything else
// goes into `unknown` on decode and is re-emitted verbatim on encode.
var stateKnownFields = map[string]bool{
	"rawInput": true, "transformedInput": true, "rawOutput": true, "transformedOutput": true,
	"context": true, "variables": true, "startedAt": true, "attemptCount": true,
}

// MarshalJSON emits known fields plus any preserved unknown ones merged in.
func (s State) MarshalJSON() ([]byte, error) {
	type alias State
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	if len(s.unknown) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.unknown {
		if !stateKnownFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and stashes anything else in unknown.
func (s *State) UnmarshalJSON(data []byte) error {
	type alias State
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("unmarshal node state: %w", err)
	}
	*s = State(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.unknown = make(map[string]json.RawMessage)
	for k, v := range raw {
		if !stateKnownFields[k] {
			s.unknown[k] = v
		}
	}
	return nil
}

// NewState returns a zero-value State with its invariant fields
// initialized: Context is always a non-nil object and AttemptCount starts
// at zero, per spec §3's NodeState invariants.
func NewState() *State {
	return &State{Context: map[string]any{}}
}

// Valid reports the NodeState invariants from spec §3: TransformedOutput
// implies RawOutput is set, and AttemptCount is never negative.
func (s *State) Valid() bool {
	if s.AttemptCount < 0 {
		return false
	}
	if len(s.TransformedOutput) > 0 && len(s.RawOutput) == 0 {
		return false
	}
	return true
}

// Instance is the ephemeral, per-step reconstruction of a running
// workflow: spec §3's WorkflowInstance. It is rebuilt fresh from a
// message.Envelope on every Consumer Loop delivery and is never shared
// across goroutines — exactly one step runs against a given RunID at a
// time, enforced by the deterministic idempotency key, not by a lock.
type Instance struct {
	Name      string
	Version   string
	RunID     string
	Status    Status
	Position  position.Position
	Attempt   int
	States    map[position.Position]*State
	Input     json.RawMessage

	// CorrelationParent is set when this instance was dispatched by a
	// run.workflow task in another instance; on completion the parent is
	// resumed via its RunID rather than reported to the caller directly.
	CorrelationParent *Correlation
}

// Correlation is a back-pointer from a sub-workflow run to the parent
// WorkflowInstance awaiting its result, per spec §4.3.10/§4.5.
type Correlation struct {
	ParentRunID  string
	ParentPos    position.Position
}

// StateAt returns (creating if absent) the NodeState for pos.
func (in *Instance) StateAt(pos position.Position) *State {
	if in.States == nil {
		in.States = make(map[position.Position]*State)
	}
	s, ok := in.States[pos]
	if !ok {
		s = NewState()
		in.States[pos] = s
	}
	return s
}

// Prune drops NodeState entries for positions that are neither ancestors
// nor descendants of (nor equal to) the instance's current Position and
// are not marked for export, matching
// spec §6.1's requirement to prune terminally-completed non-exported node
// states before re-serializing the envelope.
func (in *Instance) Prune(g *Graph, exported map[position.Position]bool) {
	for pos := range in.States {
		if pos.HasPrefix(in.Position) || in.Position.HasPrefix(pos) {
			continue
		}
		if exported[pos] {
			continue
		}
		delete(in.States, pos)
	}
}
