package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"workflowcore/internal/message"
	"workflowcore/internal/node"
	"workflowcore/internal/outbox"
	"workflowcore/internal/position"
)

// InstanceDispatcher implements runexec.WorkflowDispatcher: it starts a
// brand-new WorkflowInstance for a run.workflow task's sub-workflow, the
// way the teacher's old adapter dispatched a fresh run via
// PublishStepWithTrace, generalized here to enqueue the child's initial
// envelope on the Outbox (delay zero) rather than publish it directly, so
// a single Scheduler poll cycle picks it up exactly like any other
// resumption.
type InstanceDispatcher struct {
	Outbox outbox.Store
}

func (d *InstanceDispatcher) Dispatch(ctx context.Context, name, version string, input any, parentRunID, parentPos string) error {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal run.workflow input: %w", err)
	}

	childRunID := outbox.NewID()
	childInstance := &node.Instance{
		Name:     name,
		Version:  version,
		RunID:    childRunID,
		Status:   node.StatusPending,
		Position: position.Root,
		Input:    inputJSON,
		CorrelationParent: &node.Correlation{
			ParentRunID: parentRunID,
			ParentPos:   position.Position(parentPos),
		},
	}

	env, err := ToEnvelope(childInstance)
	if err != nil {
		return err
	}
	data, err := message.Encode(env)
	if err != nil {
		return err
	}

	return d.Outbox.Enqueue(ctx, &outbox.Row{
		ID:           outbox.NewID(),
		Kind:         outbox.KindWait,
		Message:      data,
		Status:       outbox.StatusPending,
		DelayedUntil: time.Now(),
		CreatedAt:    time.Now(),
	})
}
