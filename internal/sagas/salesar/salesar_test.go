package salesar

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventlog"
	"libranexus/ids"
	"libranexus/saga"
)

func orderEnvelope(tenant ids.TenantId, orderID ids.AggregateId, eventType string, payload any) eventlog.EventEnvelope {
	raw, _ := json.Marshal(payload)
	return eventlog.EventEnvelope{
		EventID:       ids.NewEventId(),
		TenantID:      tenant,
		AggregateID:   ids.NewAggregateId(),
		AggregateType: "sales.order",
		EventType:     eventType,
		Payload:       raw,
	}
}

func TestSaga_CorrelatesOnOrderID(t *testing.T) {
	s := Saga{}
	orderID := ids.NewAggregateId()
	envelope := orderEnvelope(ids.NewTenantId(), orderID, "sales.order.confirmed", map[string]string{
		"order_id": orderID.String(),
	})

	correlation, ok := s.Correlate(envelope)
	require.True(t, ok)
	assert.Equal(t, orderID, ids.AggregateId(correlation))
}

func TestSaga_CorrelatesOnInvoicePayloadSalesOrderID(t *testing.T) {
	s := Saga{}
	orderID := ids.NewAggregateId()
	envelope := eventlog.EventEnvelope{
		AggregateType: "invoicing.invoice",
		EventType:     "invoicing.invoice.issued",
		Payload:       mustJSON(map[string]string{"sales_order_id": orderID.String(), "invoice_id": "INV-1"}),
	}

	correlation, ok := s.Correlate(envelope)
	require.True(t, ok)
	assert.Equal(t, orderID, ids.AggregateId(correlation))
}

func TestSaga_IgnoresUnrelatedAggregateTypes(t *testing.T) {
	s := Saga{}
	_, ok := s.Correlate(eventlog.EventEnvelope{AggregateType: "accounting.ledger", Payload: mustJSON(map[string]string{})})
	assert.False(t, ok)
}

func TestSaga_FullHappyPathFlow(t *testing.T) {
	s := Saga{}
	tenant := ids.NewTenantId()
	orderID := ids.NewAggregateId()
	correlation := OrderID(orderID)
	state := s.InitialState()

	confirmed := orderEnvelope(tenant, orderID, "sales.order.confirmed", map[string]string{"order_id": orderID.String()})
	actions := s.React(state, tenant, correlation, confirmed)
	require.Len(t, actions, 3)
	assert.Equal(t, saga.KindEmit, actions[0].Kind)
	assert.Equal(t, saga.KindEmit, actions[1].Kind)
	assert.Equal(t, saga.KindCommand, actions[2].Kind)
	assert.Equal(t, "invoicing.invoice", actions[2].AggregateType)

	for _, a := range actions {
		if a.Kind == saga.KindEmit {
			event, err := DecodeEvent(a.EventType, a.Payload)
			require.NoError(t, err)
			state = s.Apply(state, event)
		}
	}
	assert.Equal(t, PhaseWaitingForInvoiceIssued, state.Phase)

	issued := eventlog.EventEnvelope{
		AggregateType: "invoicing.invoice",
		EventType:     "invoicing.invoice.issued",
		Payload:       mustJSON(map[string]string{"sales_order_id": orderID.String(), "invoice_id": "INV-42"}),
	}
	actions = s.React(state, tenant, correlation, issued)
	require.Len(t, actions, 3)
	assert.Equal(t, "accounting.ledger", actions[2].AggregateType)

	for _, a := range actions {
		if a.Kind == saga.KindEmit {
			event, err := DecodeEvent(a.EventType, a.Payload)
			require.NoError(t, err)
			state = s.Apply(state, event)
		}
	}
	require.Equal(t, PhaseWaitingForLedgerPosted, state.Phase)
	assert.Equal(t, "INV-42", state.InvoiceID)

	posted := eventlog.EventEnvelope{
		AggregateType: "accounting.ledger",
		EventType:     "accounting.ledger.journal_entry_posted",
	}
	actions = s.React(state, tenant, correlation, posted)
	require.Len(t, actions, 2)
	assert.Equal(t, saga.KindEmit, actions[0].Kind)
	assert.Equal(t, saga.KindComplete, actions[1].Kind)

	for _, a := range actions {
		if a.Kind == saga.KindEmit {
			event, err := DecodeEvent(a.EventType, a.Payload)
			require.NoError(t, err)
			state = s.Apply(state, event)
		}
	}
	assert.Equal(t, PhaseCompleted, state.Phase)
}

func TestSaga_CompletedPhaseReactsWithNothing(t *testing.T) {
	s := Saga{}
	state := State{Phase: PhaseCompleted}
	actions := s.React(state, ids.NewTenantId(), OrderID(ids.NewAggregateId()), eventlog.EventEnvelope{AggregateType: "sales.order"})
	assert.Empty(t, actions)
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
