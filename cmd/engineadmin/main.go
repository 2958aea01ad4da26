// cmd/engineadmin is the admin surface's binary entrypoint: it wires
// Postgres-backed storage, the JetStream-backed bus when configured, the
// accounting example projection, and the HTTP admin router, then serves.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"libranexus/admin"
	"libranexus/config"
	"libranexus/cursorstore"
	"libranexus/eventbus"
	"libranexus/eventstore"
	"libranexus/internal/ledgerexample"
	"libranexus/internal/projections/accounting"
	"libranexus/readmodel"
	"libranexus/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		log.Printf("engineadmin: telemetry disabled: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer shutdownTelemetry(context.Background())

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	query := eventstore.NewPostgresEventQuery(db)
	cursorStore := cursorstore.NewInMemoryCursorStore()
	balances := readmodel.NewInMemoryTenantStore[string, accounting.AccountBalance]()
	projection := accounting.NewProjection(balances, cursorStore)

	bus, err := eventbus.NewJetStreamEventBus(eventbus.JetStreamConfig{URL: cfg.NATSUrl})
	if err != nil {
		log.Printf("engineadmin: jetstream bus unavailable, falling back to in-memory: %v", err)
	}
	var eventBus eventbus.EventBus = eventbus.NewInMemoryEventBus()
	if bus != nil {
		eventBus = bus
		defer bus.Close()
	}

	server := admin.NewServer(query, eventBus, cursorStore, cfg.ReplayPagesPerSec)
	server.RegisterRebuildTarget(admin.RebuildTarget{
		Name:           accounting.Name,
		AggregateTypes: []string{ledgerexample.AggregateType},
		Apply:          projection.ApplyEnvelope,
		ClearTenant:    projection.ClearTenant,
	})

	httpServer := &http.Server{
		Addr:              ":" + getPort(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("engineadmin: listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func getPort() string {
	if p := os.Getenv("ADMIN_PORT"); p != "" {
		return p
	}
	return "8090"
}
