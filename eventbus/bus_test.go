package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventlog"
	"libranexus/ids"
)

func TestInMemoryEventBus_FanOutToAllSubscribers(t *testing.T) {
	bus := NewInMemoryEventBus()
	subA := bus.Subscribe()
	subB := bus.Subscribe()

	envelope := eventlog.EventEnvelope{
		EventID:     ids.NewEventId(),
		TenantID:    ids.NewTenantId(),
		AggregateID: ids.NewAggregateId(),
		EventType:   "something.happened",
	}

	require.NoError(t, bus.Publish(context.Background(), envelope))

	select {
	case got := <-subA.Envelopes():
		assert.Equal(t, envelope.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("subscriber A never received the envelope")
	}

	select {
	case got := <-subB.Envelopes():
		assert.Equal(t, envelope.EventID, got.EventID)
	case <-time.After(time.Second):
		t.Fatal("subscriber B never received the envelope")
	}
}

func TestInMemoryEventBus_ClosedSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewInMemoryEventBus()
	sub := bus.Subscribe()
	sub.Close()

	done := make(chan struct{})
	go func() {
		_ = bus.Publish(context.Background(), eventlog.EventEnvelope{EventID: ids.NewEventId()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a closed subscriber")
	}
}
