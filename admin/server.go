// Package admin is the engine's optional delegated HTTP surface: paginated
// event queries, projection rebuild triggers with progress polling, a
// server-sent-events live tail of the bus, and cursor inspection. It is
// "delegated" in the sense the original circulation service's handler was —
// a thin HTTP shell over collaborators the caller constructs and wires, not
// a service that owns its own storage.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"libranexus/cursorstore"
	"libranexus/eventbus"
	"libranexus/eventstore"
	"libranexus/ids"
	"libranexus/replay"
)

// RebuildTarget is one projection this surface knows how to rebuild: its
// name (used in the API path), the
// aggregate types it cares about, and the apply/clear functions the replay
// coordinator drives.
type RebuildTarget struct {
	Name           string
	AggregateTypes []string
	Apply          replay.ApplyEnvelopeFunc
	ClearTenant    replay.ClearTenantFunc
}

// Server is the admin surface's collaborators and registered rebuild
// targets. Construct with NewServer, then call Router to get an
// http.Handler to mount.
type Server struct {
	query       eventstore.EventQuery
	bus         eventbus.EventBus
	cursorStore cursorstore.ProjectionCursorStore
	coordinator *replay.Coordinator

	mu      sync.Mutex
	targets map[string]RebuildTarget
	handles map[string]*replay.Handle
}

func NewServer(query eventstore.EventQuery, bus eventbus.EventBus, cursorStore cursorstore.ProjectionCursorStore, pagesPerSecond float64) *Server {
	return &Server{
		query:       query,
		bus:         bus,
		cursorStore: cursorStore,
		coordinator: replay.NewCoordinator(query, pagesPerSecond),
		targets:     make(map[string]RebuildTarget),
		handles:     make(map[string]*replay.Handle),
	}
}

// RegisterRebuildTarget makes a projection reachable through
// POST /rebuilds/{name}. Call it once per projection during wiring.
func (s *Server) RegisterRebuildTarget(target RebuildTarget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[target.Name] = target
}

// Router builds the chi mux for this surface. Every route runs behind
// PrincipalMiddleware. Event, cursor, stream and rebuild-start routes are
// scoped to the caller's tenant; rebuild progress is looked up by rebuild id
// alone, without comparing tenants.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(PrincipalMiddleware)

	r.Get("/events", s.handleQueryEvents)
	r.Get("/events/{eventID}", s.handleGetEvent)
	r.Get("/aggregates/{aggregateID}/events", s.handleGetAggregateEvents)
	r.Get("/aggregates/{aggregateID}/cursors/{projection}", s.handleGetCursor)
	r.Post("/rebuilds/{name}", s.handleStartRebuild)
	r.Get("/rebuilds/{rebuildID}", s.handleRebuildProgress)
	r.Get("/stream", s.handleEventStream)

	return r
}

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := eventstore.EventFilter{
		AggregateType: q.Get("aggregate_type"),
		EventType:     q.Get("event_type"),
	}
	page := eventstore.NewPagination(atoiOr(q.Get("limit"), 0), atoiOr(q.Get("offset"), 0))

	result, err := s.query.QueryEvents(r.Context(), principal.TenantID, filter, page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	eventID, err := ids.ParseEventId(chi.URLParam(r, "eventID"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	event, err := s.query.GetEventByID(r.Context(), principal.TenantID, eventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.Error(w, "event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleGetAggregateEvents(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	aggregateID, err := ids.ParseAggregateId(chi.URLParam(r, "aggregateID"))
	if err != nil {
		http.Error(w, "invalid aggregate id", http.StatusBadRequest)
		return
	}

	events, err := s.query.GetAggregateEvents(r.Context(), principal.TenantID, aggregateID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	aggregateID, err := ids.ParseAggregateId(chi.URLParam(r, "aggregateID"))
	if err != nil {
		http.Error(w, "invalid aggregate id", http.StatusBadRequest)
		return
	}
	projection := chi.URLParam(r, "projection")

	seq, ok, err := s.cursorStore.GetCursor(r.Context(), cursorstore.CursorKey{
		TenantID:       principal.TenantID,
		AggregateID:    aggregateID,
		ProjectionName: projection,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sequence_number": seq, "has_cursor": ok})
}

func (s *Server) handleStartRebuild(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	name := chi.URLParam(r, "name")
	s.mu.Lock()
	target, ok := s.targets[name]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("no such rebuild target %q", name), http.StatusNotFound)
		return
	}

	dryRun := r.URL.Query().Get("dry_run") == "true"
	handle := s.coordinator.Replay(r.Context(), principal.TenantID, target.AggregateTypes, dryRun, target.Apply, target.ClearTenant)

	rebuildID := ids.NewEventId().String()
	s.mu.Lock()
	s.handles[rebuildID] = handle
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"rebuild_id": rebuildID})
}

func (s *Server) handleRebuildProgress(w http.ResponseWriter, r *http.Request) {
	rebuildID := chi.URLParam(r, "rebuildID")
	s.mu.Lock()
	handle, ok := s.handles[rebuildID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "no such rebuild", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, handle.Progress())
}

// handleEventStream tails the event bus as server-sent events, scoped to
// the caller's tenant. It is a live feed, not a replay — callers wanting
// history should query /events first.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFromContext(r.Context())
	if !ok {
		http.Error(w, "missing principal", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-sub.Envelopes():
			if !ok {
				return
			}
			if envelope.TenantID != principal.TenantID {
				continue
			}
			payload, err := json.Marshal(envelope)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", envelope.EventType, payload)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
