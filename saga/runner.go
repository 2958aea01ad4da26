package saga

import (
	"context"
	"fmt"
	"log"

	"libranexus/eventlog"
	"libranexus/ids"
)

// Runner drives a single Saga: for each incoming envelope it correlates,
// loads (or implicitly creates) the instance, asks the saga to React, then
// executes the resulting Actions in order — persisting emitted events
// through Repository and dispatching commands/compensations through
// CommandExecutor. A failure partway through an action list is logged and
// the runner continues with the next incoming envelope; it does not retry
// automatically, matching the background worker's warn-and-continue policy.
type Runner[State any, SagaEvent eventlog.Event, CorrelationID comparable] struct {
	saga       Saga[State, SagaEvent, CorrelationID]
	repository *Repository[State, SagaEvent, CorrelationID]
	executor   CommandExecutor
}

func NewRunner[State any, SagaEvent eventlog.Event, CorrelationID comparable](
	s Saga[State, SagaEvent, CorrelationID],
	repository *Repository[State, SagaEvent, CorrelationID],
	executor CommandExecutor,
) *Runner[State, SagaEvent, CorrelationID] {
	return &Runner[State, SagaEvent, CorrelationID]{saga: s, repository: repository, executor: executor}
}

// HandleEnvelope is called once per incoming envelope from the wider event
// stream (typically wired as the handler of a worker.Worker subscribed to
// the event bus). It is a no-op if Correlate reports this envelope doesn't
// belong to this saga.
func (r *Runner[State, SagaEvent, CorrelationID]) HandleEnvelope(ctx context.Context, envelope eventlog.EventEnvelope) error {
	correlation, ok := r.saga.Correlate(envelope)
	if !ok {
		return nil
	}

	state, _, err := r.repository.Load(ctx, envelope.TenantID, correlation)
	if err != nil {
		return fmt.Errorf("load saga instance: %w", err)
	}

	actions := r.saga.React(state, envelope.TenantID, correlation, envelope)
	for _, action := range actions {
		if err := r.executeAction(ctx, envelope.TenantID, correlation, action); err != nil {
			return fmt.Errorf("execute saga action: %w", err)
		}
	}
	return nil
}

func (r *Runner[State, SagaEvent, CorrelationID]) executeAction(ctx context.Context, tenantID ids.TenantId, correlation CorrelationID, action Action) error {
	switch action.Kind {
	case KindEmit:
		event, err := r.repository.decode(action.EventType, action.Payload)
		if err != nil {
			return fmt.Errorf("decode emitted saga event: %w", err)
		}
		_, err = r.repository.AppendEmit(ctx, tenantID, correlation, event)
		return err

	case KindCommand:
		return r.executor.Execute(ctx, tenantID, action.AggregateType, action.CommandType, action.CommandPayload)

	case KindCompensate:
		if err := r.executor.Execute(ctx, tenantID, action.AggregateType, action.CommandType, action.CommandPayload); err != nil {
			log.Printf("saga %s: compensation failed for tenant %s: %v", r.saga.SagaType(), tenantID, err)
			return err
		}
		return nil

	case KindComplete:
		return nil

	default:
		return fmt.Errorf("saga: unknown action kind %d", action.Kind)
	}
}
