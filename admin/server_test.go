package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/cursorstore"
	"libranexus/eventbus"
	"libranexus/eventlog"
	"libranexus/eventstore"
	"libranexus/ids"
)

func bearerTokenFor(tenantID ids.TenantId, userID ids.UserId) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID.String(),
		},
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}
	return signed
}

func newTestServer(t *testing.T) (*Server, *eventstore.InMemoryEventStore) {
	t.Helper()
	store := eventstore.NewInMemoryEventStore()
	query := eventstore.NewInMemoryEventQuery(store)
	bus := eventbus.NewInMemoryEventBus()
	cursors := cursorstore.NewInMemoryCursorStore()
	return NewServer(query, bus, cursors, 0), store
}

func TestServer_RejectsMissingBearerToken(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_QueryEventsScopedToCallerTenant(t *testing.T) {
	server, store := newTestServer(t)
	tenant := ids.NewTenantId()
	otherTenant := ids.NewTenantId()
	aggregateID := ids.NewAggregateId()

	_, err := store.Append(context.Background(), []eventlog.UncommittedEvent{
		{EventID: ids.NewEventId(), TenantID: tenant, AggregateID: aggregateID, AggregateType: "t", EventType: "e", Payload: []byte(`{}`)},
	}, eventlog.NoStream())
	require.NoError(t, err)
	_, err = store.Append(context.Background(), []eventlog.UncommittedEvent{
		{EventID: ids.NewEventId(), TenantID: otherTenant, AggregateID: ids.NewAggregateId(), AggregateType: "t", EventType: "e", Payload: []byte(`{}`)},
	}, eventlog.NoStream())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set("Authorization", "Bearer "+bearerTokenFor(tenant, ids.NewUserId()))
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result eventstore.EventQueryResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Events, 1)
	assert.Equal(t, tenant, result.Events[0].TenantID)
}

func TestServer_RebuildLifecycle(t *testing.T) {
	server, _ := newTestServer(t)
	var applied int
	server.RegisterRebuildTarget(RebuildTarget{
		Name:           "noop",
		AggregateTypes: nil,
		Apply:          func(ctx context.Context, envelope eventlog.EventEnvelope) error { applied++; return nil },
		ClearTenant:    func(ctx context.Context, tenantID ids.TenantId) error { return nil },
	})

	tenant := ids.NewTenantId()
	req := httptest.NewRequest(http.MethodPost, "/rebuilds/noop", nil)
	req.Header.Set("Authorization", "Bearer "+bearerTokenFor(tenant, ids.NewUserId()))
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var started struct {
		RebuildID string `json:"rebuild_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	require.NotEmpty(t, started.RebuildID)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/rebuilds/"+started.RebuildID, nil)
		req.Header.Set("Authorization", "Bearer "+bearerTokenFor(tenant, ids.NewUserId()))
		w := httptest.NewRecorder()
		server.Router().ServeHTTP(w, req)
		return w.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)
}

func TestServer_RebuildUnknownTargetNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/rebuilds/does-not-exist", nil)
	req.Header.Set("Authorization", "Bearer "+bearerTokenFor(ids.NewTenantId(), ids.NewUserId()))
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
