package runexec

import (
	"context"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// ListenExecutor implements `listen` tasks: suspends the instance until a
// matching event is delivered by the Consumer Loop, the same way
// WaitExecutor suspends for a timer, except the resumption is driven by an
// inbound broker message rather than the Outbox Scheduler's delay queue.
// The broker subscription/matching itself is an external collaborator
// (the Consumer Loop registers a listener keyed by (runID, position, type/
// source/subject) and re-delivers a resume message on match); this
// executor only distinguishes first-entry from resumption, the same
// pattern as WaitExecutor's `__waited` marker.
type ListenExecutor struct{}

func (e *ListenExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindListen} }

func (e *ListenExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	spec := n.Task.Listen
	if spec == nil {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "listen requires a to.one block")
	}
	st := rc.Instance.StateAt(n.Position)
	if event, ok := st.Variables["__event"]; ok {
		return event, nil
	}
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	return nil, interp.Suspend("LISTEN", 0)
}
