// Package worker provides a named background-loop primitive for driving a
// handler (such as a projection or saga runner's per-envelope method) from an
// event bus subscription: shutdown takes priority over new work, triggers
// coalesce rather than queue, and handler failures are logged rather than
// propagated. A failed envelope is not retried; consecutive failures delay
// the next delivery with bounded exponential backoff.
package worker

import (
	"context"
	"log"
	"time"

	"libranexus/eventlog"
	"libranexus/eventbus"
)

const (
	tickInterval  = 250 * time.Millisecond
	maxBackoff    = 10 * time.Second
)

// Handler processes one envelope. An error is logged by the worker loop and
// does not stop the loop — the next envelope is still attempted.
type Handler func(ctx context.Context, envelope eventlog.EventEnvelope) error

// Worker runs a named loop over a bus subscription until Shutdown is
// called. Consecutive handler failures back off exponentially
// (base*2^(n-1), capped at 10s) before the next delivery is processed, so a
// persistently failing downstream dependency doesn't spin a goroutine at
// full CPU.
type Worker struct {
	name     string
	sub      eventbus.Subscription
	handler  Handler
	shutdown chan struct{}
	done     chan struct{}
}

// Spawn starts the worker loop in a new goroutine and returns immediately.
func Spawn(name string, sub eventbus.Subscription, handler Handler) *Worker {
	w := &Worker{
		name:     name,
		sub:      sub,
		handler:  handler,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	defer w.sub.Close()

	var consecutiveFailures int

	for {
		select {
		case <-w.shutdown:
			return
		default:
		}

		select {
		case <-w.shutdown:
			return
		case envelope, ok := <-w.sub.Envelopes():
			if !ok {
				return
			}
			if consecutiveFailures > 0 {
				backoff := backoffFor(consecutiveFailures)
				select {
				case <-w.shutdown:
					return
				case <-time.After(backoff):
				}
			}
			if err := w.handler(context.Background(), envelope); err != nil {
				consecutiveFailures++
				log.Printf("worker %s: handler failed (attempt %d): %v", w.name, consecutiveFailures, err)
				continue
			}
			consecutiveFailures = 0
		case <-time.After(tickInterval):
		}
	}
}

func backoffFor(consecutiveFailures int) time.Duration {
	d := time.Second
	for i := 1; i < consecutiveFailures; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

// Shutdown signals the loop to stop and blocks until it has exited.
func (w *Worker) Shutdown() {
	close(w.shutdown)
	<-w.done
}
