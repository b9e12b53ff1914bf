// Package broker adapts the teacher's NATS JetStream engine
// (internal/workflows/runtime/nats_engine.go) into the reference
// implementation's only contracted broker binding, per spec §4.5/§8's
// "concrete broker bindings are out of scope beyond their abstract
// contract" note: Engine is the abstract contract, NATSEngine is this
// repo's one concrete binding, exercised by the consumer loop the way the
// spec's non-goal permits (this package has no tests of its own).
package broker

import (
	"context"
	"fmt"
	"log"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"workflowcore/internal/message"
)

// Engine is the abstract broker contract a Consumer Loop and an
// EventPublisher depend on: publish a resumption Envelope to a subject
// keyed by run ID, and subscribe durably for delivery with explicit ack.
type Engine interface {
	Publish(ctx context.Context, subject string, env *message.Envelope) error
	PublishEvent(ctx context.Context, subject string, data []byte) error
	SubscribeDurable(subject, consumer string, handler func(msg *nats.Msg)) (*nats.Subscription, error)
	Close()
}

// Options controls how Engine connects to NATS/JetStream, generalizing
// the teacher's runtime.Options from Station's fixed WORKFLOW_NATS_*
// env-var surface to values supplied by this repo's own Config (internal/config).
type Options struct {
	Enabled       bool
	URL           string
	Stream        string
	SubjectPrefix string
	ConsumerName  string
	Embedded      bool
	EmbeddedPort  int
}

type NATSEngine struct {
	opts   Options
	server *natsserver.Server
	conn   *nats.Conn
	js     nats.JetStreamContext
}

func NewEngine(opts Options) (*NATSEngine, error) {
	if !opts.Enabled {
		return nil, nil
	}

	engine := &NATSEngine{opts: opts}
	if opts.Embedded {
		srv, err := natsserver.NewServer(&natsserver.Options{Port: opts.EmbeddedPort, JetStream: true})
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		go srv.Start()
		if !srv.ReadyForConnections(5 * time.Second) {
			return nil, fmt.Errorf("embedded nats failed to start")
		}
		engine.server = srv
		engine.opts.URL = fmt.Sprintf("nats://%s", srv.Addr().String())
	}

	conn, err := nats.Connect(engine.opts.URL)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	engine.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	engine.js = js

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     opts.Stream,
		Subjects: []string{fmt.Sprintf("%s.>", opts.SubjectPrefix)},
		Storage:  nats.FileStorage,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		engine.Close()
		return nil, fmt.Errorf("create stream: %w", err)
	}

	return engine, nil
}

// RunSubject returns the subject a run's resumption envelopes are
// published/consumed on, mirroring the teacher's
// "<prefix>.run.<runID>.step.<stepID>.schedule" shape collapsed to one
// subject per run since the Position already identifies the step.
func (e *NATSEngine) RunSubject(runID string) string {
	return fmt.Sprintf("%s.run.%s.schedule", e.opts.SubjectPrefix, runID)
}

// EventSubject returns the subject `emit`/`listen` publish/subscribe on.
func (e *NATSEngine) EventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", e.opts.SubjectPrefix, eventType)
}

func (e *NATSEngine) Publish(ctx context.Context, subject string, env *message.Envelope) error {
	if e == nil || e.js == nil {
		return nil
	}
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	_, err = e.js.Publish(subject, data)
	return err
}

func (e *NATSEngine) PublishEvent(ctx context.Context, subject string, data []byte) error {
	if e == nil || e.js == nil {
		return nil
	}
	_, err := e.js.Publish(subject, data)
	return err
}

func (e *NATSEngine) SubscribeDurable(subject, consumer string, handler func(msg *nats.Msg)) (*nats.Subscription, error) {
	if e == nil || e.js == nil {
		return nil, fmt.Errorf("engine not initialized")
	}
	if consumer == "" {
		consumer = e.opts.ConsumerName
	}
	ephemeral := fmt.Sprintf("%s-%d", consumer, time.Now().UnixNano())

	_ = e.js.DeleteConsumer(e.opts.Stream, consumer)

	sub, err := e.js.PullSubscribe(
		subject,
		ephemeral,
		nats.AckExplicit(),
		nats.ManualAck(),
		nats.DeliverNew(),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream pull subscribe: %w", err)
	}

	go e.pullFetchLoop(sub, handler)
	return sub, nil
}

func (e *NATSEngine) pullFetchLoop(sub *nats.Subscription, handler func(msg *nats.Msg)) {
	for {
		if !sub.IsValid() {
			return
		}
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if err == nats.ErrTimeout {
				continue
			}
			if err == nats.ErrConnectionClosed || err == nats.ErrConsumerDeleted {
				return
			}
			log.Printf("broker: fetch error: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			handler(msg)
		}
	}
}

func (e *NATSEngine) Close() {
	if e == nil {
		return
	}
	if e.conn != nil {
		e.conn.Drain()
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
	}
}
