// Package salesar is the worked saga example: it orchestrates a sales order
// confirmation through invoice issuance to ledger posting, demonstrating the
// full saga.Saga contract (correlate, fold, react) against two collaborating
// aggregate types it doesn't own.
//
// Flow: sales.order confirmed -> issue invoice -> invoicing.invoice issued ->
// post ledger entry -> accounting.ledger posted -> saga complete.
package salesar

import (
	"encoding/json"
	"fmt"

	"libranexus/eventlog"
	"libranexus/ids"
	"libranexus/saga"
)

const SagaType = "sales_ar"

// State is the explicit process state machine. WaitingForLedgerPosted
// carries the invoice id so a compensating void-invoice command (issued by
// an operator, not automatically by this saga) has something to act on.
type State struct {
	Phase     Phase  `json:"phase"`
	InvoiceID string `json:"invoice_id,omitempty"`
}

type Phase string

const (
	PhaseWaitingForOrderConfirmed Phase = "waiting_for_order_confirmed"
	PhaseWaitingForInvoiceIssued  Phase = "waiting_for_invoice_issued"
	PhaseWaitingForLedgerPosted   Phase = "waiting_for_ledger_posted"
	PhaseCompleted                Phase = "completed"
	PhaseFailed                   Phase = "failed"
)

func initialState() State { return State{Phase: PhaseWaitingForOrderConfirmed} }

// --- Saga's own persisted events ---

type Event interface{ eventlog.Event }

type OrderConfirmedReceived struct{}

func (OrderConfirmedReceived) EventType() string    { return "saga.sales_ar.order_confirmed_received" }
func (OrderConfirmedReceived) EventVersion() uint32 { return 1 }

type InvoiceIssueRequested struct{}

func (InvoiceIssueRequested) EventType() string    { return "saga.sales_ar.invoice_issue_requested" }
func (InvoiceIssueRequested) EventVersion() uint32 { return 1 }

type InvoiceIssuedReceived struct {
	InvoiceID string `json:"invoice_id"`
}

func (InvoiceIssuedReceived) EventType() string    { return "saga.sales_ar.invoice_issued_received" }
func (InvoiceIssuedReceived) EventVersion() uint32 { return 1 }

type LedgerPostRequested struct{}

func (LedgerPostRequested) EventType() string    { return "saga.sales_ar.ledger_post_requested" }
func (LedgerPostRequested) EventVersion() uint32 { return 1 }

type LedgerPostedReceived struct{}

func (LedgerPostedReceived) EventType() string    { return "saga.sales_ar.ledger_posted_received" }
func (LedgerPostedReceived) EventVersion() uint32 { return 1 }

type SagaCompleted struct{}

func (SagaCompleted) EventType() string    { return "saga.sales_ar.completed" }
func (SagaCompleted) EventVersion() uint32 { return 1 }

type SagaFailed struct {
	Reason string `json:"reason"`
}

func (SagaFailed) EventType() string    { return "saga.sales_ar.failed" }
func (SagaFailed) EventVersion() uint32 { return 1 }

// DecodeEvent is the saga.Repository decode func for this saga's own events.
func DecodeEvent(eventType string, payload []byte) (Event, error) {
	switch eventType {
	case "saga.sales_ar.order_confirmed_received":
		return OrderConfirmedReceived{}, nil
	case "saga.sales_ar.invoice_issue_requested":
		return InvoiceIssueRequested{}, nil
	case "saga.sales_ar.invoice_issued_received":
		var e InvoiceIssuedReceived
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	case "saga.sales_ar.ledger_post_requested":
		return LedgerPostRequested{}, nil
	case "saga.sales_ar.ledger_posted_received":
		return LedgerPostedReceived{}, nil
	case "saga.sales_ar.completed":
		return SagaCompleted{}, nil
	case "saga.sales_ar.failed":
		var e SagaFailed
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("salesar: unknown saga event type %q", eventType)
	}
}

// OrderID is the correlation id: a sales order's aggregate id, reused
// directly as this saga instance's own aggregate id so a (tenant, order)
// pair always maps to the same saga stream.
type OrderID ids.AggregateId

// Saga is the concrete saga.Saga implementation. It inspects envelopes from
// sales.order and invoicing.invoice aggregate streams without owning either.
type Saga struct{}

func (Saga) SagaType() string { return SagaType }

func (Saga) Correlate(envelope eventlog.EventEnvelope) (OrderID, bool) {
	switch envelope.AggregateType {
	case "sales.order":
		var payload struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.OrderID == "" {
			return OrderID{}, false
		}
		id, err := ids.ParseAggregateId(payload.OrderID)
		if err != nil {
			return OrderID{}, false
		}
		return OrderID(id), true
	case "invoicing.invoice":
		var payload struct {
			SalesOrderID string `json:"sales_order_id"`
		}
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil || payload.SalesOrderID == "" {
			return OrderID{}, false
		}
		id, err := ids.ParseAggregateId(payload.SalesOrderID)
		if err != nil {
			return OrderID{}, false
		}
		return OrderID(id), true
	default:
		return OrderID{}, false
	}
}

func (Saga) InstanceID(tenantID ids.TenantId, correlation OrderID) ids.AggregateId {
	return ids.AggregateId(correlation)
}

func (Saga) InitialState() State { return initialState() }

func (Saga) Apply(state State, event Event) State {
	switch e := event.(type) {
	case OrderConfirmedReceived:
		state.Phase = PhaseWaitingForInvoiceIssued
	case InvoiceIssueRequested:
		// no state change; waiting for invoice issued
	case InvoiceIssuedReceived:
		state.Phase = PhaseWaitingForLedgerPosted
		state.InvoiceID = e.InvoiceID
	case LedgerPostRequested:
		// no state change; waiting for ledger posted
	case LedgerPostedReceived:
		state.Phase = PhaseCompleted
	case SagaCompleted:
		state.Phase = PhaseCompleted
	case SagaFailed:
		state.Phase = PhaseFailed
	}
	return state
}

func (Saga) React(state State, tenantID ids.TenantId, correlation OrderID, incoming eventlog.EventEnvelope) []saga.Action {
	switch state.Phase {
	case PhaseWaitingForOrderConfirmed:
		if incoming.AggregateType != "sales.order" || incoming.EventType != "sales.order.confirmed" {
			return nil
		}
		commandPayload, _ := json.Marshal(map[string]any{
			"sales_order_id": ids.AggregateId(correlation).String(),
		})
		return []saga.Action{
			saga.Emit("saga.sales_ar.order_confirmed_received", mustMarshal(OrderConfirmedReceived{})),
			saga.Emit("saga.sales_ar.invoice_issue_requested", mustMarshal(InvoiceIssueRequested{})),
			saga.DispatchCommand("invoicing.invoice", "issue_invoice", commandPayload),
		}

	case PhaseWaitingForInvoiceIssued:
		if incoming.AggregateType != "invoicing.invoice" || incoming.EventType != "invoicing.invoice.issued" {
			return nil
		}
		var payload struct {
			InvoiceID string `json:"invoice_id"`
		}
		if err := json.Unmarshal(incoming.Payload, &payload); err != nil || payload.InvoiceID == "" {
			return nil
		}
		journalPayload, _ := json.Marshal(map[string]any{
			"ledger_id": ids.NewAggregateId().String(),
			"lines": []map[string]any{
				{"account": map[string]any{"code": "1200", "name": "Accounts Receivable", "kind": 0}, "amount": 0, "is_debit": true},
				{"account": map[string]any{"code": "4000", "name": "Sales Revenue", "kind": 3}, "amount": 0, "is_debit": false},
			},
		})
		return []saga.Action{
			saga.Emit("saga.sales_ar.invoice_issued_received", mustMarshal(InvoiceIssuedReceived{InvoiceID: payload.InvoiceID})),
			saga.Emit("saga.sales_ar.ledger_post_requested", mustMarshal(LedgerPostRequested{})),
			saga.DispatchCommand("accounting.ledger", "post_journal_entry", journalPayload),
		}

	case PhaseWaitingForLedgerPosted:
		if incoming.AggregateType != "accounting.ledger" || incoming.EventType != "accounting.ledger.journal_entry_posted" {
			return nil
		}
		return []saga.Action{
			saga.Emit("saga.sales_ar.ledger_posted_received", mustMarshal(LedgerPostedReceived{})),
			saga.Complete(),
		}

	case PhaseCompleted, PhaseFailed:
		return nil

	default:
		return nil
	}
}

// VoidInvoiceCompensation builds the compensating action for an operator or
// monitoring process to invoke when ledger posting has failed for an
// instance stuck in PhaseWaitingForLedgerPosted: void the invoice already
// issued so it doesn't leave a dangling receivable.
func VoidInvoiceCompensation(invoiceID string) saga.Action {
	payload, _ := json.Marshal(map[string]string{"invoice_id": invoiceID})
	return saga.Compensate("invoicing.invoice", "void_invoice", payload)
}

func mustMarshal(v any) json.RawMessage {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("salesar: unmarshalable event payload: %v", err))
	}
	return payload
}
