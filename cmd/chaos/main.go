// cmd/chaos runs a scripted game day of chaos experiments against the
// event-sourcing runtime: a concurrency-conflict injection against a
// seeded stream, and a publish-failure injection against the bus.
package main

import (
	"context"
	"log"

	"libranexus/chaos"
	"libranexus/eventstore"
	"libranexus/ids"
)

func main() {
	store := eventstore.NewInMemoryEventStore()
	tenantID := ids.NewTenantId()
	aggregateID := ids.NewAggregateId()

	engine := chaos.NewEngine()
	engine.RegisterExperiment(chaos.ConcurrencyConflictExperiment(store, tenantID, aggregateID, "chaos.gameday", 8))
	engine.RegisterExperiment(chaos.PublishFailureExperiment(store, tenantID, ids.NewAggregateId(), "chaos.gameday"))

	gameDay := chaos.GameDay{
		Name:         "weekly-chaos-game-day",
		Scenarios:    engine.Experiments(),
		Participants: []string{"on-call"},
	}

	if err := engine.ExecuteGameDay(context.Background(), gameDay); err != nil {
		log.Fatalf("chaos: game day failed: %v", err)
	}
}
