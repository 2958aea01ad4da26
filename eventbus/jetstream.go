package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"libranexus/eventlog"
	"libranexus/ids"
)

// JetStreamConfig configures the durable bus. Defaults mirror the pack's
// NATS JetStream transport: a single named stream carrying every tenant's
// events, durable consumer names derived from the caller-supplied group.
type JetStreamConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	AckWait       time.Duration
	MaxAckPending int
}

func (c JetStreamConfig) withDefaults() JetStreamConfig {
	if c.Stream == "" {
		c.Stream = "ENGINE_EVENTS"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "events."
	}
	if c.AckWait == 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending == 0 {
		c.MaxAckPending = 1024
	}
	return c
}

// JetStreamEventBus publishes envelopes onto a JetStream stream and supports
// both the plain EventBus contract (ephemeral subscriptions, matching the
// in-memory bus's semantics for callers that don't need durability) and
// SubscribeWithGroup for durable, acknowledged, queue-group delivery.
type JetStreamEventBus struct {
	cfg  JetStreamConfig
	conn *nats.Conn
	js   nats.JetStreamContext
}

func NewJetStreamEventBus(cfg JetStreamConfig) (*JetStreamEventBus, error) {
	cfg = cfg.withDefaults()
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire jetstream context: %w", err)
	}

	bus := &JetStreamEventBus{cfg: cfg, conn: conn, js: js}
	if err := bus.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return bus, nil
}

func (b *JetStreamEventBus) ensureStream() error {
	_, err := b.js.StreamInfo(b.cfg.Stream)
	if err == nil {
		return nil
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     b.cfg.Stream,
		Subjects: []string{b.cfg.SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", b.cfg.Stream, err)
	}
	return nil
}

func (b *JetStreamEventBus) subject(envelope eventlog.EventEnvelope) string {
	return b.cfg.SubjectPrefix + envelope.TenantID.String() + "." + envelope.AggregateType
}

func (b *JetStreamEventBus) Publish(ctx context.Context, envelope eventlog.EventEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = b.js.Publish(b.subject(envelope), data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("publish to jetstream: %w", err)
	}
	return nil
}

// Subscribe provides an ephemeral, non-durable view for callers that only
// need the EventBus contract; durable consumption should use
// SubscribeWithGroup instead.
func (b *JetStreamEventBus) Subscribe() Subscription {
	ch := make(chan eventlog.EventEnvelope, 256)
	sub, err := b.js.Subscribe(b.cfg.SubjectPrefix+">", func(msg *nats.Msg) {
		var envelope eventlog.EventEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Printf("eventbus: dropping undecodable message: %v", err)
			return
		}
		select {
		case ch <- envelope:
		default:
			log.Printf("eventbus: subscriber buffer full, dropping envelope %s", envelope.EventID)
		}
		msg.Ack()
	})
	if err != nil {
		log.Printf("eventbus: ephemeral subscribe failed: %v", err)
		close(ch)
	}
	return &jetStreamSubscription{ch: ch, sub: sub}
}

// SubscribeWithGroup creates a durable, queue-grouped consumer so that
// multiple processes sharing consumerName load-balance delivery and a
// crashed consumer resumes from its last unacknowledged message on restart.
// tenantFilter, if non-zero, restricts delivery to a single tenant's subject
// space rather than the whole stream.
func (b *JetStreamEventBus) SubscribeWithGroup(consumerName string, tenantFilter *ids.TenantId) (Subscription, error) {
	subject := b.cfg.SubjectPrefix + ">"
	if tenantFilter != nil {
		subject = b.cfg.SubjectPrefix + tenantFilter.String() + ".>"
	}

	ch := make(chan eventlog.EventEnvelope, 256)
	sub, err := b.js.QueueSubscribe(subject, consumerName, func(msg *nats.Msg) {
		var envelope eventlog.EventEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Printf("eventbus: dropping undecodable message on %s: %v", consumerName, err)
			msg.Ack()
			return
		}
		select {
		case ch <- envelope:
			msg.Ack()
		default:
			// Leave unacknowledged: JetStream will redeliver after AckWait
			// once this consumer (or another in the group) has capacity.
			log.Printf("eventbus: consumer %s buffer full, deferring ack for envelope %s", consumerName, envelope.EventID)
		}
	},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckWait(b.cfg.AckWait),
		nats.MaxAckPending(b.cfg.MaxAckPending),
	)
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("durable queue subscribe %s: %w", consumerName, err)
	}
	return &jetStreamSubscription{ch: ch, sub: sub}, nil
}

func (b *JetStreamEventBus) Close() error {
	b.conn.Close()
	return nil
}

type jetStreamSubscription struct {
	ch  chan eventlog.EventEnvelope
	sub *nats.Subscription
}

func (s *jetStreamSubscription) Envelopes() <-chan eventlog.EventEnvelope { return s.ch }
func (s *jetStreamSubscription) Close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}
