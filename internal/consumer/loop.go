// Package consumer implements the Consumer Loop of spec §4.5: it takes a
// delivered message.Envelope, reconstructs a node.Instance, drives it
// through interp.Driver to its next suspension/completion/fault, persists
// the result, and acks. Grounded on the teacher's
// internal/workflows/runtime/consumer.go WorkflowConsumer.handleMessage/
// executeStep pair, generalized from a StepExecutor registry driving a
// flat ExecutionStep to an interp.Driver driving a compiled node.Graph.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"workflowcore/internal/broker"
	"workflowcore/internal/definitions"
	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/message"
	"workflowcore/internal/node"
	"workflowcore/internal/outbox"
	"workflowcore/internal/telemetry"
	"workflowcore/internal/wferrors"
)

// InstanceStore persists the durable fields of a WorkflowInstance between
// Consumer Loop deliveries: status and (for faulted runs) the fault detail,
// so a caller polling run status sees the outcome without replaying the
// envelope; a completed run's output is not stored. It is intentionally narrow; the envelope itself
// (not this store) carries the resumable NodeState.
type InstanceStore interface {
	UpdateStatus(ctx context.Context, runID string, status node.Status, faultDetail string) error
	SeenIdempotencyKey(ctx context.Context, key string) (bool, error)
	RecordIdempotencyKey(ctx context.Context, key string) error
}

// Loop wires the Definition Store, Outbox Store, broker Engine, and
// interp.Driver together into the durable step-at-a-time executor.
type Loop struct {
	Defs      *definitions.Store
	Outbox    outbox.Store
	Engine    broker.Engine
	Driver    *interp.Driver
	Instances InstanceStore
	Eval      *expr.Evaluator
	Telemetry *telemetry.Telemetry // nil disables tracing/metrics

	Workflow map[string]any
	Runtime  map[string]any
	Secrets  map[string]any
}

// HandleEnvelope runs exactly one Driver.Run pass for the instance an
// envelope describes, per the idempotency key spec §4.5 requires before
// any side effect: (runID, position, attempt).
func (l *Loop) HandleEnvelope(ctx context.Context, env *message.Envelope) error {
	key := IdempotencyKey(env.RunID, string(env.Position), env.Attempt)
	seen, err := l.Instances.SeenIdempotencyKey(ctx, key)
	if err != nil {
		return fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		log.Printf("consumer: skipping already-applied message run=%s pos=%s attempt=%d", env.RunID, env.Position, env.Attempt)
		return nil
	}

	instance, err := FromEnvelope(env)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	graph, err := l.Defs.Graph(ctx, env.Name, env.Version)
	if err != nil {
		return fmt.Errorf("load graph %s/%s: %w", env.Name, env.Version, err)
	}

	if l.Telemetry != nil {
		if len(env.Trace) > 0 {
			ctx = telemetry.ExtractTraceContext(ctx, telemetry.NewTraceCarrierFromHeaders(env.Trace))
		} else if env.Attempt == 0 && env.Position.IsRoot() {
			ctx = l.Telemetry.StartRunSpan(ctx, env.RunID, env.Name)
		}
	}

	var stepSpan trace.Span
	kind := node.KindDo
	if n, ok := graph.Lookup(env.Position); ok {
		kind = n.Task.Kind
	}
	if l.Telemetry != nil {
		ctx, stepSpan = l.Telemetry.StartStepSpan(ctx, env.RunID, string(env.Position), kind)
	}

	started := time.Now()
	rc := &interp.RunContext{
		Graph:    graph,
		Instance: instance,
		Eval:     l.Eval,
		Workflow: l.Workflow,
		Runtime:  l.Runtime,
		Secrets:  l.Secrets,
	}

	outcome := l.Driver.Run(ctx, rc)

	if l.Telemetry != nil {
		var stepErr error
		status := node.StatusRunning
		if outcome.Kind == interp.OutcomeFaulted && outcome.Fault != nil {
			stepErr = outcome.Fault
			status = node.StatusFaulted
		} else if outcome.Kind == interp.OutcomeCompleted {
			status = node.StatusCompleted
		}
		l.Telemetry.EndStepSpan(stepSpan, kind, status, time.Since(started), stepErr)
	}

	if err := l.Instances.RecordIdempotencyKey(ctx, key); err != nil {
		log.Printf("consumer: failed to record idempotency key %s: %v", key, err)
	}

	switch outcome.Kind {
	case interp.OutcomeCompleted:
		if err := l.Instances.UpdateStatus(ctx, env.RunID, node.StatusCompleted, ""); err != nil {
			log.Printf("consumer: failed to record completion for run %s: %v", env.RunID, err)
		}
		if l.Telemetry != nil {
			l.Telemetry.EndRunSpan(ctx, env.RunID, env.Name, node.StatusCompleted, time.Since(started), nil)
		}
		if instance.CorrelationParent != nil {
			return l.resumeParent(ctx, instance, nil)
		}
		return nil

	case interp.OutcomeFaulted:
		detail := ""
		if outcome.Fault != nil {
			detail = outcome.Fault.Error()
		}
		if err := l.Instances.UpdateStatus(ctx, env.RunID, node.StatusFaulted, detail); err != nil {
			log.Printf("consumer: failed to record fault for run %s: %v", env.RunID, err)
		}
		if l.Telemetry != nil {
			l.Telemetry.EndRunSpan(ctx, env.RunID, env.Name, node.StatusFaulted, time.Since(started), outcome.Fault)
		}
		if instance.CorrelationParent != nil {
			return l.resumeParent(ctx, instance, outcome.Fault)
		}
		return nil

	default: // OutcomeSuspended
		if err := l.Instances.UpdateStatus(ctx, env.RunID, node.StatusWaiting, ""); err != nil {
			log.Printf("consumer: failed to record waiting status for run %s: %v", env.RunID, err)
		}
		resumed, err := ToEnvelope(instance)
		if err != nil {
			return fmt.Errorf("encode resume envelope: %w", err)
		}
		resumed.Attempt++
		if l.Telemetry != nil {
			carrier := telemetry.NewTraceCarrier()
			telemetry.InjectTraceContext(ctx, carrier)
			resumed.Trace = carrier.Headers()
		}
		data, err := message.Encode(resumed)
		if err != nil {
			return err
		}

		if outcome.OutboxKind == string(outbox.KindRunWorkflow) {
			// Park the parent's own envelope rather than scheduling a
			// timed redelivery: it is woken by resumeParent when the
			// dispatched sub-workflow completes, not by the passage of time.
			return l.Outbox.Enqueue(ctx, &outbox.Row{
				ID:               outbox.NewID(),
				Kind:             outbox.KindRunWorkflow,
				Message:          data,
				Status:           outbox.StatusWaitingChild,
				DelayedUntil:     time.Now(),
				CreatedAt:        time.Now(),
				CorrelationRunID: env.RunID,
			})
		}

		row := &outbox.Row{
			ID:           outbox.NewID(),
			Kind:         kindFor(outcome.OutboxKind),
			Message:      data,
			Status:       outbox.StatusPending,
			DelayedUntil: time.Now().Add(outcome.Delay),
			CreatedAt:    time.Now(),
		}
		return l.Outbox.Enqueue(ctx, row)
	}
}

func kindFor(outboxKind string) outbox.Kind {
	if outboxKind == string(outbox.KindRetry) {
		return outbox.KindRetry
	}
	return outbox.KindWait
}

// resumeParent finds the parent instance's parked envelope (enqueued as a
// outbox.KindRunWorkflow/StatusWaitingChild row when its run.workflow task
// dispatched child), injects the child's output at the position that
// dispatched it, and redrives the parent through HandleEnvelope exactly as
// if it had been delivered by the broker — mirroring the teacher's
// "schedule next step" call at the end of consumer.go's executeStep,
// generalized to cross-instance resumption via CorrelationParent instead
// of an in-run NextStep.
func (l *Loop) resumeParent(ctx context.Context, child *node.Instance, fault *wferrors.WorkflowError) error {
	corr := child.CorrelationParent
	row, err := l.Outbox.FindByCorrelation(ctx, corr.ParentRunID)
	if err != nil {
		return fmt.Errorf("find parked parent row for run %s: %w", corr.ParentRunID, err)
	}
	parentEnv, err := message.Decode(row.Message)
	if err != nil {
		return fmt.Errorf("decode parked parent envelope: %w", err)
	}
	parentInstance, err := FromEnvelope(parentEnv)
	if err != nil {
		return fmt.Errorf("decode parent instance: %w", err)
	}

	st := parentInstance.StateAt(corr.ParentPos)
	if st.Variables == nil {
		st.Variables = map[string]any{}
	}
	if fault != nil {
		st.Variables["__childOutput"] = map[string]any{"error": fault.Error()}
	} else {
		var out any
		lastState := child.StateAt(child.Position)
		_ = json.Unmarshal(lastState.TransformedOutput, &out)
		st.Variables["__childOutput"] = out
	}

	resumedParentEnv, err := ToEnvelope(parentInstance)
	if err != nil {
		return err
	}
	resumedParentEnv.Attempt = parentEnv.Attempt + 1

	if err := l.Outbox.Delete(ctx, row.ID); err != nil {
		log.Printf("consumer: failed to delete parked row %s: %v", row.ID, err)
	}
	return l.HandleEnvelope(ctx, resumedParentEnv)
}

// Start subscribes to the broker's run-schedule subject pattern and drives
// every delivered message through HandleEnvelope, acking once it returns
// without error: a failed outbox enqueue naks the message, while a failed
// status update is only logged.
func (l *Loop) Start(ctx context.Context, subjectPattern, consumerName string) error {
	_, err := l.Engine.SubscribeDurable(subjectPattern, consumerName, func(msg *nats.Msg) {
		env, err := message.Decode(msg.Data)
		if err != nil {
			log.Printf("consumer: failed to decode message: %v", err)
			_ = msg.Nak()
			return
		}
		handleCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := l.HandleEnvelope(handleCtx, env); err != nil {
			log.Printf("consumer: handle envelope failed for run %s: %v", env.RunID, err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
	return err
}
