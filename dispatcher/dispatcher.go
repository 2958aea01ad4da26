// Package dispatcher implements the command pipeline: load an aggregate's
// history, fold it, run the command through Handle/Apply, append the
// resulting events under the loaded version, and publish them.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"

	"libranexus/aggregate"
	"libranexus/eventlog"
	"libranexus/eventstore"
	"libranexus/ids"
)

// Codec decodes a stored event's JSON payload back into its concrete typed
// form, dispatching on the wire event_type string. Each concrete aggregate
// package provides one, since E is typically a closed interface implemented
// by several concrete event structs and there is no way to recover which
// one without a type tag.
type Codec[E eventlog.Event] func(eventType string, payload json.RawMessage) (E, error)

// Authorizer is the external, caller-owned collaborator named in the
// engine's external-interfaces boundary: given the tenant, the acting user
// and the command about to be dispatched, it decides whether the dispatch
// may proceed at all. The engine treats it as untrusted, potentially slow,
// infrastructure — see the circuit breaker in Dispatch.
type Authorizer interface {
	Authorize(ctx context.Context, tenantID ids.TenantId, userID ids.UserId, aggregateType string) error
}

// AuthorizerFunc adapts a plain function to Authorizer.
type AuthorizerFunc func(ctx context.Context, tenantID ids.TenantId, userID ids.UserId, aggregateType string) error

func (f AuthorizerFunc) Authorize(ctx context.Context, tenantID ids.TenantId, userID ids.UserId, aggregateType string) error {
	return f(ctx, tenantID, userID, aggregateType)
}

// AllowAll is the default, trivial Authorizer used when no external
// authorization collaborator is wired in (tests, the example domain).
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, ids.TenantId, ids.UserId, string) error { return nil })

// Dispatcher is generic over a concrete aggregate's command/event types.
// One Dispatcher instance is constructed per aggregate type; the dispatcher
// does not maintain a runtime registry of types the way a trait-object
// design would — each call site names its concrete aggregate.
type Dispatcher[C eventlog.Command, E eventlog.Event] struct {
	store         eventstore.EventStore
	aggregateType string
	factory       func() aggregate.Aggregate[C, E]
	decode        Codec[E]
	authorizer    *breakerAuthorizer
}

// New constructs a Dispatcher for one aggregate type. factory must return a
// fresh, zero-valued aggregate instance each call — Dispatch folds history
// into a new instance on every invocation, never reuses one across calls.
func New[C eventlog.Command, E eventlog.Event](
	store eventstore.EventStore,
	aggregateType string,
	factory func() aggregate.Aggregate[C, E],
	decode Codec[E],
	authorizer Authorizer,
	breakerCfg BreakerConfig,
) *Dispatcher[C, E] {
	if authorizer == nil {
		authorizer = AllowAll
	}
	return &Dispatcher[C, E]{
		store:         store,
		aggregateType: aggregateType,
		factory:       factory,
		decode:        decode,
		authorizer:    newBreakerAuthorizer(authorizer, breakerCfg),
	}
}

// Dispatch loads the aggregate named by cmd, authorizes the dispatch,
// executes the command, and appends+publishes the resulting events using
// the version the aggregate was loaded at as the optimistic-concurrency
// precondition. A concurrency conflict is returned to the caller unchanged
// so it can retry with a freshly loaded aggregate.
func (d *Dispatcher[C, E]) Dispatch(ctx context.Context, tenantID ids.TenantId, userID ids.UserId, cmd C) ([]eventlog.StoredEvent, error) {
	if err := d.authorizer.Authorize(ctx, tenantID, userID, d.aggregateType); err != nil {
		return nil, fmt.Errorf("authorize dispatch: %w", err)
	}

	aggregateID := cmd.TargetAggregateID()

	history, err := d.store.LoadStream(ctx, tenantID, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}

	agg := d.factory()
	var currentVersion uint64
	for _, stored := range history {
		event, err := d.decode(stored.EventType, stored.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode event %s: %w", stored.EventID, err)
		}
		agg.Apply(event)
		currentVersion = stored.SequenceNumber
	}

	newEvents, err := aggregate.Execute[C, E](agg, cmd)
	if err != nil {
		return nil, err
	}
	if len(newEvents) == 0 {
		return nil, nil
	}

	uncommitted := make([]eventlog.UncommittedEvent, len(newEvents))
	for i, e := range newEvents {
		u, err := eventlog.FromTyped(tenantID, aggregateID, d.aggregateType, e)
		if err != nil {
			return nil, fmt.Errorf("encode event %d: %w", i, err)
		}
		uncommitted[i] = u
	}

	var expected eventlog.ExpectedVersion
	if currentVersion == 0 {
		expected = eventlog.NoStream()
	} else {
		expected = eventlog.Exact(currentVersion)
	}

	return d.store.Append(ctx, uncommitted, expected)
}
