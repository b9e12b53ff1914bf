package consumer

import (
	"encoding/json"

	"workflowcore/internal/message"
	"workflowcore/internal/node"
	"workflowcore/internal/position"
)

// ToEnvelope captures the minimum of a node.Instance needed to resume it
// elsewhere: every NodeState in the instance's States map, as is
// (Instance.Prune is not applied), per spec §6.1's message-envelope
// sizing requirement.
func ToEnvelope(in *node.Instance) (*message.Envelope, error) {
	states := make(map[string]json.RawMessage, len(in.States))
	for pos, st := range in.States {
		data, err := json.Marshal(st)
		if err != nil {
			return nil, err
		}
		states[string(pos)] = data
	}
	env := &message.Envelope{
		Name:     in.Name,
		Version:  in.Version,
		RunID:    in.RunID,
		States:   states,
		Position: in.Position,
		Attempt:  in.Attempt,
	}
	if in.CorrelationParent != nil {
		env.ParentRunID = in.CorrelationParent.ParentRunID
		env.ParentPosition = in.CorrelationParent.ParentPos
	}
	return env, nil
}

// FromEnvelope reconstructs a node.Instance from a delivered Envelope. The
// Instance is ephemeral: it lives only for the duration of one Driver.Run
// call and is re-serialized by ToEnvelope before the next dispatch.
func FromEnvelope(env *message.Envelope) (*node.Instance, error) {
	in := &node.Instance{
		Name:     env.Name,
		Version:  env.Version,
		RunID:    env.RunID,
		Status:   node.StatusRunning,
		Position: env.Position,
		Attempt:  env.Attempt,
		States:   make(map[position.Position]*node.State, len(env.States)),
	}
	for posStr, raw := range env.States {
		var st node.State
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, err
		}
		in.States[position.Position(posStr)] = &st
	}
	if env.ParentRunID != "" {
		in.CorrelationParent = &node.Correlation{ParentRunID: env.ParentRunID, ParentPos: env.ParentPosition}
	}
	return in, nil
}
