package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/eventbus"
	"libranexus/eventlog"
	"libranexus/ids"
)

func TestWorker_ProcessesDeliveredEnvelopes(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus()
	sub := bus.Subscribe()

	var mu sync.Mutex
	var received []ids.EventId

	w := Spawn("test", sub, func(ctx context.Context, envelope eventlog.EventEnvelope) error {
		mu.Lock()
		received = append(received, envelope.EventID)
		mu.Unlock()
		return nil
	})
	defer w.Shutdown()

	envelope := eventlog.EventEnvelope{EventID: ids.NewEventId()}
	require.NoError(t, bus.Publish(context.Background(), envelope))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, envelope.EventID, received[0])
	mu.Unlock()
}

func TestWorker_ShutdownStopsTheLoopPromptly(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus()
	sub := bus.Subscribe()

	w := Spawn("test", sub, func(ctx context.Context, envelope eventlog.EventEnvelope) error {
		return errors.New("boom")
	})

	done := make(chan struct{})
	go func() {
		w.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete promptly")
	}
}

func TestTrigger_CoalescesBurstsIntoOneWakeup(t *testing.T) {
	trigger := NewTrigger()
	trigger.Fire()
	trigger.Fire()
	trigger.Fire()

	select {
	case <-trigger.C():
	default:
		t.Fatal("expected a pending wakeup")
	}

	select {
	case <-trigger.C():
		t.Fatal("expected no second wakeup after draining the first")
	default:
	}
}
