package consumer

import (
	"context"
	"encoding/json"
	"time"

	"workflowcore/internal/broker"
)

// BrokerPublisher adapts broker.Engine's raw subject/bytes PublishEvent
// into runexec.EventPublisher's typed CloudEvents-shaped signature, JSON
// encoding the event envelope the way the teacher's nats_engine.go
// Publish serializes a message.Envelope before handing it to nats.go.
type BrokerPublisher struct {
	Engine *broker.NATSEngine
}

type cloudEvent struct {
	Type    string         `json:"type"`
	Source  string         `json:"source,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Time    time.Time      `json:"time"`
	Data    map[string]any `json:"data,omitempty"`
}

func (p *BrokerPublisher) PublishEvent(ctx context.Context, eventType, source, subject string, data map[string]any) error {
	evt := cloudEvent{Type: eventType, Source: source, Subject: subject, Time: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Engine.PublishEvent(ctx, p.Engine.EventSubject(eventType), payload)
}
