// Package eventlog defines the wire-level event shapes shared by the event
// store, event bus, projection runner and saga engine: the uncommitted form
// an aggregate produces, the stored form the event store assigns a sequence
// number to, and the envelope form handed to subscribers.
package eventlog

import (
	"encoding/json"
	"time"

	"libranexus/ids"
)

// Event is implemented by every concrete domain event payload. event_type
// and version travel on the wire so a projection or saga can deserialize the
// right Go type without consulting a schema registry.
type Event interface {
	EventType() string
	EventVersion() uint32
}

// Command is implemented by every concrete domain command. It names the
// aggregate instance the dispatcher should load before calling Handle.
type Command interface {
	TargetAggregateID() ids.AggregateId
}

// ExpectedVersion expresses the optimistic-concurrency precondition an
// append is made under.
type ExpectedVersion struct {
	kind  expectedVersionKind
	exact uint64
}

type expectedVersionKind int

const (
	expectAny expectedVersionKind = iota
	expectNoStream
	expectExact
)

func Any() ExpectedVersion      { return ExpectedVersion{kind: expectAny} }
func NoStream() ExpectedVersion { return ExpectedVersion{kind: expectNoStream} }
func Exact(v uint64) ExpectedVersion {
	return ExpectedVersion{kind: expectExact, exact: v}
}

// Matches reports whether current (the stream's current version, 0 meaning
// no stream yet) satisfies this precondition.
func (ev ExpectedVersion) Matches(current uint64) bool {
	switch ev.kind {
	case expectAny:
		return true
	case expectNoStream:
		return current == 0
	case expectExact:
		return current == ev.exact
	default:
		return false
	}
}

func (ev ExpectedVersion) String() string {
	switch ev.kind {
	case expectAny:
		return "any"
	case expectNoStream:
		return "no-stream"
	case expectExact:
		return "exact"
	default:
		return "unknown"
	}
}

// UncommittedEvent is what an aggregate's Handle method produces: a typed
// event wrapped with the identity/tenancy metadata the store needs to
// assign it a place in a stream, but with no sequence number yet.
type UncommittedEvent struct {
	EventID       ids.EventId
	TenantID      ids.TenantId
	AggregateID   ids.AggregateId
	AggregateType string
	EventType     string
	EventVersion  uint32
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// FromTyped marshals a concrete Event into an UncommittedEvent ready for
// EventStore.Append.
func FromTyped(tenantID ids.TenantId, aggregateID ids.AggregateId, aggregateType string, ev Event) (UncommittedEvent, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return UncommittedEvent{}, err
	}
	return UncommittedEvent{
		EventID:       ids.NewEventId(),
		TenantID:      tenantID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     ev.EventType(),
		EventVersion:  ev.EventVersion(),
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}, nil
}

// StoredEvent is an UncommittedEvent after the store has assigned it a
// sequence number within its stream.
type StoredEvent struct {
	UncommittedEvent
	SequenceNumber uint64
}

// StreamVersion is the version this event leaves its stream at, which by
// convention equals its sequence number (streams are 1-indexed, 0 means
// empty).
func (s StoredEvent) StreamVersion() uint64 { return s.SequenceNumber }

// ToEnvelope projects a StoredEvent into the form handed to bus subscribers.
func (s StoredEvent) ToEnvelope() EventEnvelope {
	return EventEnvelope{
		EventID:        s.EventID,
		TenantID:       s.TenantID,
		AggregateID:    s.AggregateID,
		AggregateType:  s.AggregateType,
		EventType:      s.EventType,
		EventVersion:   s.EventVersion,
		SequenceNumber: s.SequenceNumber,
		OccurredAt:     s.OccurredAt,
		Payload:        s.Payload,
	}
}

// EventEnvelope is the form delivered to bus subscribers, projections and
// sagas: self-contained enough to route and apply without a second lookup.
type EventEnvelope struct {
	EventID        ids.EventId
	TenantID       ids.TenantId
	AggregateID    ids.AggregateId
	AggregateType  string
	EventType      string
	EventVersion   uint32
	SequenceNumber uint64
	OccurredAt     time.Time
	Payload        json.RawMessage
}

// TenantScoped is implemented by anything carrying a tenant boundary;
// projection and saga runners use it to enforce isolation generically.
type TenantScoped interface {
	Tenant() ids.TenantId
}

func (e EventEnvelope) Tenant() ids.TenantId { return e.TenantID }
