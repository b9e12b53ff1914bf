package runexec

import (
	"context"

	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// WorkflowDispatcher starts a new WorkflowInstance for a sub-workflow and
// records a correlation back to the parent, per spec §4.3.10/§4.5. The
// concrete dispatch mechanism (publish to the broker, insert the child's
// initial OutboxRow) lives in the engine package; this executor only
// depends on the narrow interface it needs, grounded on the teacher's
// correlation-by-subject pattern in
// internal/workflows/runtime/nats_engine.go PublishStepWithTrace and
// consumer.go's run-completion routing.
type WorkflowDispatcher interface {
	Dispatch(ctx context.Context, name, version string, input any, parentRunID string, parentPos string) error
}

// RunWorkflowExecutor implements `run.workflow` tasks: dispatches the
// sub-workflow and suspends the parent (WAITING) until the child's
// completion message resumes it.
type RunWorkflowExecutor struct {
	Dispatcher WorkflowDispatcher
}

func (e *RunWorkflowExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindRunWorkflow} }

func (e *RunWorkflowExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	st := rc.Instance.StateAt(n.Position)
	if dispatched, _ := st.Variables["__dispatched"].(bool); dispatched {
		// Resumed after the child completed; its output was written into
		// st.Variables["__childOutput"] by the engine before re-delivery.
		return st.Variables["__childOutput"], nil
	}

	spec := n.Task.Run.Workflow
	if spec == nil {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "run.workflow requires a workflow block")
	}
	if err := e.Dispatcher.Dispatch(ctx, spec.Name, spec.Version, spec.Input, rc.Instance.RunID, string(n.Position)); err != nil {
		return nil, wferrors.New(wferrors.KindCommunication, n.Position, err, "dispatch sub-workflow")
	}
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	st.Variables["__dispatched"] = true
	return nil, interp.Suspend("RUN_WORKFLOW", 0)
}
