package runexec

import (
	"context"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// EventPublisher is the narrow broker dependency emit/listen need: publish
// a CloudEvents-shaped event, grounded on the teacher's
// internal/workflows/runtime/nats_engine.go NATSEngine.Publish, generalized
// from a step-completion subject to an arbitrary event type/subject.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source, subject string, data map[string]any) error
}

// EmitExecutor implements `emit` tasks: fire-and-forget, never suspends,
// per spec §4.3.11.
type EmitExecutor struct {
	Publisher EventPublisher
}

func (e *EmitExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindEmit} }

func (e *EmitExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	spec := n.Task.Emit
	if spec == nil || spec.Event.With.Type == "" {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "emit requires event.with.type")
	}
	with := spec.Event.With
	if err := e.Publisher.PublishEvent(ctx, with.Type, with.Source, with.Subject, with.Data); err != nil {
		return nil, wferrors.New(wferrors.KindCommunication, n.Position, err, "publish event")
	}
	return map[string]any{"type": with.Type, "subject": with.Subject}, nil
}
