package consumer

import (
	"context"
	"fmt"

	"workflowcore/internal/broker"
	"workflowcore/internal/message"
	"workflowcore/internal/outbox"
)

// BrokerRedeliverer implements outbox.Dispatcher: it decodes a claimed
// Row's Message back into an Envelope and republishes it to that run's
// broker subject, closing the loop between the Outbox Scheduler's claim
// batch and the Consumer Loop's subscription.
type BrokerRedeliverer struct {
	Engine *broker.NATSEngine
}

func (r *BrokerRedeliverer) Dispatch(ctx context.Context, row *outbox.Row) error {
	env, err := message.Decode(row.Message)
	if err != nil {
		return fmt.Errorf("decode outbox row %s: %w", row.ID, err)
	}
	return r.Engine.Publish(ctx, r.Engine.RunSubject(env.RunID), env)
}
