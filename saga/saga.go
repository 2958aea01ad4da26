// Package saga implements cross-aggregate process coordination: a saga
// correlates incoming envelopes into a long-lived instance, folds its own
// events into an explicit state machine, and reacts to new envelopes by
// emitting further events, dispatching commands, compensating, or
// completing.
package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"libranexus/eventlog"
	"libranexus/ids"
)

// Saga is implemented by a concrete process manager. State is its own
// explicit state machine type; SagaEvent is the closed set of events the
// saga persists to its own reserved stream (aggregate_type =
// "saga.<SagaType()>"); CorrelationID is whatever key the saga extracts from
// incoming envelopes to find its instance (often an order id, invoice id,
// etc).
type Saga[State any, SagaEvent eventlog.Event, CorrelationID comparable] interface {
	SagaType() string

	// Correlate inspects an incoming envelope from the wider event stream
	// (not the saga's own stream) and returns the correlation id it belongs
	// to, or ok=false if this saga doesn't care about that envelope.
	Correlate(envelope eventlog.EventEnvelope) (id CorrelationID, ok bool)

	// InstanceID derives this saga instance's own stream identity from the
	// tenant and correlation id, so the same (tenant, correlation) always
	// maps to the same saga stream.
	InstanceID(tenantID ids.TenantId, correlation CorrelationID) ids.AggregateId

	InitialState() State

	// Apply folds one of the saga's own persisted events into State.
	Apply(state State, event SagaEvent) State

	// React decides what the saga instance should do in response to an
	// incoming envelope, given its current state.
	React(state State, tenantID ids.TenantId, correlation CorrelationID, incoming eventlog.EventEnvelope) []Action
}

// Action is the closed set of things a saga's React may request.
type Action struct {
	Kind Kind

	// Emit
	EventType string
	Payload   json.RawMessage

	// Command / Compensate
	AggregateType string
	CommandType   string
	CommandPayload json.RawMessage
}

type Kind int

const (
	KindEmit Kind = iota
	KindCommand
	KindCompensate
	KindComplete
)

func Emit(eventType string, payload json.RawMessage) Action {
	return Action{Kind: KindEmit, EventType: eventType, Payload: payload}
}

func DispatchCommand(aggregateType, commandType string, payload json.RawMessage) Action {
	return Action{Kind: KindCommand, AggregateType: aggregateType, CommandType: commandType, CommandPayload: payload}
}

func Compensate(aggregateType, commandType string, payload json.RawMessage) Action {
	return Action{Kind: KindCompensate, AggregateType: aggregateType, CommandType: commandType, CommandPayload: payload}
}

func Complete() Action { return Action{Kind: KindComplete} }

// CommandExecutor is the external collaborator a Runner dispatches
// KindCommand and KindCompensate actions through — normally
// a thin adapter over one or more dispatcher.Dispatcher instances, one per
// target aggregate type.
type CommandExecutor interface {
	Execute(ctx context.Context, tenantID ids.TenantId, aggregateType, commandType string, payload json.RawMessage) error
}

// ErrUnknownCorrelation reports that no saga instance exists yet for a
// correlation. Repository.Load does not return it: a missing stream loads as
// InitialState with version 0.
var ErrUnknownCorrelation = fmt.Errorf("saga: no instance for this correlation yet")
