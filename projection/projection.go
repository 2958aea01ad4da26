// Package projection implements the generic projection runner: a per-
// (tenant, aggregate) cursor tracking consumed sequence numbers, strict
// tenant-isolation and monotonic-sequence enforcement on apply, and a
// deterministic rebuild-from-scratch path.
package projection

import (
	"context"
	"fmt"
	"sort"

	"libranexus/eventlog"
	"libranexus/ids"
)

// Projection is implemented by a concrete read-model updater: given an
// envelope and its decoded payload, fold it into whatever storage the
// projection owns.
type Projection[E eventlog.Event] interface {
	Apply(ctx context.Context, envelope eventlog.EventEnvelope, event E) error
}

// Error is the projection runner's error taxonomy.
type Error struct {
	Kind     ErrorKind
	Expected ids.TenantId
	Found    ids.TenantId
	Last     uint64
	FoundSeq uint64
}

type ErrorKind int

const (
	ErrKindTenantMismatch ErrorKind = iota
	ErrKindNonMonotonicSequence
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrKindTenantMismatch:
		return fmt.Sprintf("projection: tenant mismatch: expected %s, found %s", e.Expected, e.Found)
	case ErrKindNonMonotonicSequence:
		return fmt.Sprintf("projection: non-monotonic sequence: last %d, found %d", e.Last, e.FoundSeq)
	default:
		return "projection: error"
	}
}

type cursorKey struct {
	aggregateID ids.AggregateId
}

type cursorValue struct {
	tenantID       ids.TenantId
	lastSequence   uint64
}

// Runner drives a Projection over a stream of envelopes, maintaining an
// in-process cursor per aggregate to detect tenant-isolation violations and
// gaps/replays in sequence numbers. It does not itself persist cursors —
// callers needing that durability compose cursorstore.ProjectionCursorStore
// around their own Projection implementation, as internal/projections/
// accounting does.
type Runner[E eventlog.Event] struct {
	projection Projection[E]
	decode     func(eventType string, payload []byte) (E, error)
	cursors    map[cursorKey]cursorValue
}

func NewRunner[E eventlog.Event](projection Projection[E], decode func(eventType string, payload []byte) (E, error)) *Runner[E] {
	return &Runner[E]{
		projection: projection,
		decode:     decode,
		cursors:    make(map[cursorKey]cursorValue),
	}
}

// Apply folds one envelope into the projection, enforcing: the first event
// seen for an aggregate sets its cursor unconditionally; subsequent events
// for the same aggregate must come from the same tenant and must carry
// exactly the next sequence number after the last one applied — a repeat, a
// lower number or a gap is ErrKindNonMonotonicSequence.
func (r *Runner[E]) Apply(ctx context.Context, envelope eventlog.EventEnvelope) error {
	key := cursorKey{aggregateID: envelope.AggregateID}
	cursor, seen := r.cursors[key]

	if seen {
		if cursor.tenantID != envelope.TenantID {
			return &Error{Kind: ErrKindTenantMismatch, Expected: cursor.tenantID, Found: envelope.TenantID}
		}
		if envelope.SequenceNumber != cursor.lastSequence+1 {
			return &Error{Kind: ErrKindNonMonotonicSequence, Last: cursor.lastSequence, FoundSeq: envelope.SequenceNumber}
		}
	}

	event, err := r.decode(envelope.EventType, envelope.Payload)
	if err != nil {
		return fmt.Errorf("decode event %s: %w", envelope.EventID, err)
	}

	if err := r.projection.Apply(ctx, envelope, event); err != nil {
		return err
	}

	r.cursors[key] = cursorValue{tenantID: envelope.TenantID, lastSequence: envelope.SequenceNumber}
	return nil
}

// Run applies a batch of envelopes in order, stopping at the first error.
func (r *Runner[E]) Run(ctx context.Context, envelopes []eventlog.EventEnvelope) error {
	for _, e := range envelopes {
		if err := r.Apply(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// RebuildFromScratch resets the runner's cursors and replays every supplied
// envelope sorted by (tenant, aggregate, sequence number) — the only order
// that guarantees a deterministic, reproducible result regardless of the
// order events were originally collected in.
func (r *Runner[E]) RebuildFromScratch(ctx context.Context, envelopes []eventlog.EventEnvelope) error {
	r.cursors = make(map[cursorKey]cursorValue)

	sorted := make([]eventlog.EventEnvelope, len(envelopes))
	copy(sorted, envelopes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TenantID != sorted[j].TenantID {
			return sorted[i].TenantID.String() < sorted[j].TenantID.String()
		}
		if sorted[i].AggregateID != sorted[j].AggregateID {
			return sorted[i].AggregateID.String() < sorted[j].AggregateID.String()
		}
		return sorted[i].SequenceNumber < sorted[j].SequenceNumber
	})

	return r.Run(ctx, sorted)
}
