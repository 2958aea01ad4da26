// Package accounting is the worked projection example: it maintains an
// account_balances read model over accounting.ledger events, with its own
// idempotent-redelivery and sequence-gap handling layered on top of
// cursorstore.ProjectionCursorStore — richer than the generic
// projection.Runner's strict monotonic check, because a real read model
// needs to tolerate at-least-once redelivery rather than treat every
// repeat as an error.
package accounting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"libranexus/cursorstore"
	"libranexus/eventlog"
	"libranexus/ids"
	"libranexus/internal/ledgerexample"
	"libranexus/readmodel"
)

type AccountBalance struct {
	AccountCode string                    `json:"account_code"`
	AccountName string                    `json:"account_name"`
	Kind        ledgerexample.AccountKind `json:"kind"`
	Balance     int64                     `json:"balance"`
}

// Error is returned for malformed payloads or sequence-gap detection; an
// idempotent redelivery (sequence <= the recorded cursor) is not an error —
// it is silently dropped.
type Error struct {
	Kind ErrorKind
	Last uint64
	Found uint64
}

type ErrorKind int

const (
	ErrKindDeserialize ErrorKind = iota
	ErrKindTenantIsolation
	ErrKindNonMonotonicSequence
)

func (e *Error) Error() string {
	switch e.Kind {
	case ErrKindDeserialize:
		return "accounting projection: failed to deserialize event payload"
	case ErrKindTenantIsolation:
		return "accounting projection: payload tenant does not match envelope tenant"
	case ErrKindNonMonotonicSequence:
		return fmt.Sprintf("accounting projection: sequence gap: last %d, found %d", e.Last, e.Found)
	default:
		return "accounting projection: error"
	}
}

// Projection maintains account_balances, generic over the TenantStore
// backend (in-memory or Postgres) and optionally backed by a persistent
// ProjectionCursorStore — when cursorStore is nil, cursors live only in
// process memory and a restart forces a rebuild.
type Projection struct {
	store       readmodel.TenantStore[string, AccountBalance]
	cursorStore cursorstore.ProjectionCursorStore
}

const Name = "accounting.account_balances"

func NewProjection(store readmodel.TenantStore[string, AccountBalance], cursorStore cursorstore.ProjectionCursorStore) *Projection {
	if cursorStore == nil {
		cursorStore = cursorstore.NewInMemoryCursorStore()
	}
	return &Projection{store: store, cursorStore: cursorStore}
}

// ApplyEnvelope is the projection's own apply algorithm: it only reacts to
// accounting.ledger events, tolerates redelivery of an already-applied
// sequence by returning nil, and reports a gap if a sequence arrives out of
// order relative to what this aggregate's cursor has already consumed.
func (p *Projection) ApplyEnvelope(ctx context.Context, envelope eventlog.EventEnvelope) error {
	if envelope.AggregateType != ledgerexample.AggregateType {
		return nil
	}

	cursorKey := cursorstore.CursorKey{
		TenantID:       envelope.TenantID,
		AggregateID:    envelope.AggregateID,
		ProjectionName: Name,
	}
	last, hasCursor, err := p.cursorStore.GetCursor(ctx, cursorKey)
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	if hasCursor {
		if envelope.SequenceNumber <= last {
			return nil // idempotent redelivery, already applied
		}
		if envelope.SequenceNumber != last+1 {
			return &Error{Kind: ErrKindNonMonotonicSequence, Last: last, Found: envelope.SequenceNumber}
		}
	} else if envelope.SequenceNumber == 0 {
		return &Error{Kind: ErrKindNonMonotonicSequence, Last: 0, Found: 0}
	}

	var payload struct {
		Lines []ledgerexample.JournalEntryLine `json:"lines"`
	}
	if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
		return &Error{Kind: ErrKindDeserialize}
	}

	balances, err := p.store.List(ctx, envelope.TenantID)
	if err != nil {
		return fmt.Errorf("list balances: %w", err)
	}

	for _, line := range payload.Lines {
		current, ok := balances[line.Account.Code]
		if !ok {
			current = AccountBalance{AccountCode: line.Account.Code, AccountName: line.Account.Name, Kind: line.Account.Kind}
		}
		delta := line.Amount
		if !line.IsDebit {
			delta = -delta
		}
		current.Balance += delta
		if err := p.store.Upsert(ctx, envelope.TenantID, line.Account.Code, current); err != nil {
			return fmt.Errorf("upsert balance: %w", err)
		}
		balances[line.Account.Code] = current
	}

	if err := p.cursorStore.UpdateCursor(ctx, cursorKey, envelope.SequenceNumber); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// ClearTenant wipes this tenant's balances and cursors, matching
// replay.ClearTenantFunc so a Coordinator can drive a rebuild of this
// projection directly.
func (p *Projection) ClearTenant(ctx context.Context, tenantID ids.TenantId) error {
	if err := p.store.ClearTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("clear tenant balances: %w", err)
	}
	if err := p.cursorStore.ClearCursors(ctx, tenantID, Name); err != nil {
		return fmt.Errorf("clear tenant cursors: %w", err)
	}
	return nil
}

// RebuildFromScratch clears every distinct tenant present in envelopes and
// replays them sorted by (tenant, aggregate, sequence number), matching the
// engine-wide deterministic-rebuild invariant.
func (p *Projection) RebuildFromScratch(ctx context.Context, envelopes []eventlog.EventEnvelope) error {
	tenants := make(map[ids.TenantId]bool)
	for _, e := range envelopes {
		tenants[e.TenantID] = true
	}
	for tenant := range tenants {
		if err := p.ClearTenant(ctx, tenant); err != nil {
			return err
		}
	}

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

	for _, e := range sorted {
		if err := p.ApplyEnvelope(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
