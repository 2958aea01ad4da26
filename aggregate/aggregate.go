// Package aggregate defines the generic contract every domain aggregate
// implements, and the Execute helper the dispatcher drives it through.
//
// This is deliberately a closed, compile-time-parameterized contract rather
// than a dynamic trait-object registry: an Aggregate[C, E] is instantiated
// once per concrete domain type, and there is no dispatch-by-interface{}
// inside Handle or Apply.
package aggregate

import (
	"libranexus/eventlog"
	"libranexus/ids"
)

// Aggregate is the contract a concrete domain type (a ledger, an invoice, an
// inventory item) implements. C is its command union type, E its event union
// type — both are typically small closed sets of structs wrapped in a
// one-of interface, matching the events they emit/consume.
type Aggregate[C any, E eventlog.Event] interface {
	// ID returns this instance's stream identity. The zero value before
	// any event has been applied is meaningless; callers must not read it
	// until at least one Apply has happened.
	ID() ids.AggregateId

	// Version returns the number of events folded into this aggregate so
	// far — equivalently, the stream version this instance reflects.
	Version() uint64

	// Apply folds a single historical or just-appended event into the
	// aggregate's in-memory state. Apply must be side-effect free and
	// deterministic: replaying the same events in the same order must
	// always produce the same resulting state.
	Apply(event E)

	// Handle validates a command against current state and returns the
	// events it produces, or a domain error (see ids.DomainError) if the
	// command is invalid or violates an invariant. Handle must not mutate
	// the aggregate directly — only Apply does that.
	Handle(cmd C) ([]E, error)
}

// AggregateType is implemented by aggregate factories so the dispatcher can
// record a stable string in each stored event without leaning on Go's
// reflection.
type AggregateType interface {
	AggregateType() string
}

// Execute runs a command through an aggregate: Handle produces the new
// events, then each is folded back via Apply so the aggregate's in-memory
// state reflects what it just decided to emit. This mirrors the fold the
// dispatcher performs when first loading an aggregate from history — the
// only difference is these events haven't been appended to the store yet.
func Execute[C any, E eventlog.Event](agg Aggregate[C, E], cmd C) ([]E, error) {
	events, err := agg.Handle(cmd)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		agg.Apply(e)
	}
	return events, nil
}

// Fold rebuilds an aggregate's state from scratch by applying a history of
// events in order, starting from empty. factory must return a fresh,
// zero-valued instance of the concrete aggregate type.
func Fold[C any, E eventlog.Event](factory func() Aggregate[C, E], history []E) Aggregate[C, E] {
	agg := factory()
	for _, e := range history {
		agg.Apply(e)
	}
	return agg
}
