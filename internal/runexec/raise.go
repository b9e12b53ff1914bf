package runexec

import (
	"context"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// RaiseExecutor implements `raise` tasks: constructs a WorkflowError from
// the task's literal error spec and returns it so the Driver's fault
// propagation path (interp.Driver.propagateFault) takes over, matching the
// teacher's StepResult.Error *string convention generalized into a typed
// error value.
type RaiseExecutor struct{}

func (e *RaiseExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindRaise} }

func (e *RaiseExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	spec := n.Task.Raise.Error
	we := wferrors.New(wferrors.KindRuntime, n.Position, nil, spec.Detail)
	if spec.Type != "" {
		we.Type = spec.Type
	}
	if spec.Title != "" {
		we.Title = spec.Title
	}
	if spec.Status != 0 {
		we.Status = spec.Status
	}
	return nil, we
}
