package projection

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventlog"
	"libranexus/ids"
)

type countEvent struct{ N int }

func (countEvent) EventType() string    { return "counted" }
func (countEvent) EventVersion() uint32 { return 1 }

type countingProjection struct {
	applied []int
}

func (p *countingProjection) Apply(ctx context.Context, envelope eventlog.EventEnvelope, event countEvent) error {
	p.applied = append(p.applied, event.N)
	return nil
}

func decodeCountEvent(eventType string, payload []byte) (countEvent, error) {
	var e countEvent
	err := json.Unmarshal(payload, &e)
	return e, err
}

func envelopeFor(tenant ids.TenantId, aggregate ids.AggregateId, seq uint64, n int) eventlog.EventEnvelope {
	payload, _ := json.Marshal(countEvent{N: n})
	return eventlog.EventEnvelope{
		EventID:        ids.NewEventId(),
		TenantID:       tenant,
		AggregateID:    aggregate,
		EventType:      "counted",
		SequenceNumber: seq,
		Payload:        payload,
	}
}

func TestRunner_FirstEventSetsCursorUnconditionally(t *testing.T) {
	proj := &countingProjection{}
	runner := NewRunner[countEvent](proj, decodeCountEvent)
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	require.NoError(t, runner.Apply(context.Background(), envelopeFor(tenant, aggregate, 5, 1)))
	assert.Equal(t, []int{1}, proj.applied)
}

func TestRunner_NonMonotonicSequenceRejected(t *testing.T) {
	proj := &countingProjection{}
	runner := NewRunner[countEvent](proj, decodeCountEvent)
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()

	require.NoError(t, runner.Apply(context.Background(), envelopeFor(tenant, aggregate, 1, 1)))
	err := runner.Apply(context.Background(), envelopeFor(tenant, aggregate, 1, 2))
	require.Error(t, err)
	var projErr *Error
	require.ErrorAs(t, err, &projErr)
	assert.Equal(t, ErrKindNonMonotonicSequence, projErr.Kind)
}

func TestRunner_TenantMismatchRejected(t *testing.T) {
	proj := &countingProjection{}
	runner := NewRunner[countEvent](proj, decodeCountEvent)
	aggregate := ids.NewAggregateId()

	require.NoError(t, runner.Apply(context.Background(), envelopeFor(ids.NewTenantId(), aggregate, 1, 1)))
	err := runner.Apply(context.Background(), envelopeFor(ids.NewTenantId(), aggregate, 2, 2))
	require.Error(t, err)
	var projErr *Error
	require.ErrorAs(t, err, &projErr)
	assert.Equal(t, ErrKindTenantMismatch, projErr.Kind)
}

func TestRunner_RebuildFromScratchIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	tenant := ids.NewTenantId()
	aggregate := ids.NewAggregateId()
	envelopes := []eventlog.EventEnvelope{
		envelopeFor(tenant, aggregate, 3, 3),
		envelopeFor(tenant, aggregate, 1, 1),
		envelopeFor(tenant, aggregate, 2, 2),
	}

	proj1 := &countingProjection{}
	r1 := NewRunner[countEvent](proj1, decodeCountEvent)
	require.NoError(t, r1.RebuildFromScratch(context.Background(), envelopes))

	shuffled := []eventlog.EventEnvelope{envelopes[1], envelopes[2], envelopes[0]}
	proj2 := &countingProjection{}
	r2 := NewRunner[countEvent](proj2, decodeCountEvent)
	require.NoError(t, r2.RebuildFromScratch(context.Background(), shuffled))

	assert.Equal(t, proj1.applied, proj2.applied)
	assert.Equal(t, []int{1, 2, 3}, proj1.applied)
}
