package wsserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeonia-ai/gaia-sub001/internal/aoi"
	"github.com/Aeonia-ai/gaia-sub001/internal/auth"
	"github.com/Aeonia-ai/gaia-sub001/internal/bus"
	"github.com/Aeonia-ai/gaia-sub001/internal/dispatch"
	"github.com/Aeonia-ai/gaia-sub001/internal/docstore"
	"github.com/Aeonia-ai/gaia-sub001/internal/domain"
	"github.com/Aeonia-ai/gaia-sub001/internal/handlers"
	"github.com/Aeonia-ai/gaia-sub001/internal/metrics"
	"github.com/Aeonia-ai/gaia-sub001/internal/statemanager"
	"github.com/Aeonia-ai/gaia-sub001/internal/template"
)

var testSecret = []byte("test-secret-key-for-wsserver")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	c := jwt.MapClaims{
		"user_id": userID,
		"email":   userID + "@example.com",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func seedWorld(t *testing.T, store docstore.Store, experience string) {
	t.Helper()
	world := domain.World{
		Locations: map[string]domain.Location{
			"wylding-woods": {
				Name: "Wylding Woods",
				GPS:  domain.GPS{Lat: 37.906512, Lng: -122.544217},
				Areas: map[string]domain.Area{
					"spawn_zone_1": {
						Name: "Spawn Zone 1",
						Items: []domain.Instance{
							{InstanceID: "bottle_mystery", TemplateID: "bottle", State: map[string]any{"visible": true, "collectible": true}},
						},
					},
				},
			},
		},
		NPCs:     map[string]domain.Instance{},
		Metadata: domain.WorldMetadata{Version: 1},
	}
	data, err := json.Marshal(world)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "experiences/"+experience+"/state/world.json", data))
}

func setupServer(t *testing.T) (*Server, docstore.Store, *bus.Bus) {
	t.Helper()
	root := t.TempDir()
	store, err := docstore.NewFileStore(filepath.Join(root, "docs"))
	require.NoError(t, err)

	eventBus := bus.New()
	manager := statemanager.New(store, eventBus)
	resolver := template.NewResolver(filepath.Join(root, "content"))
	nowMillis := func() int64 { return 1700000000000 }

	h := handlers.New(manager, resolver, nowMillis, nil)
	fast, admin := h.Register()
	d := dispatch.New(fast, admin, nil)

	aoiBuilder := aoi.NewBuilder(manager, resolver, nowMillis, nil)
	verifier := auth.NewVerifier(testSecret)
	m := metrics.New()

	srv := New(verifier, d, aoiBuilder, eventBus, m,
		WithOutboundBuffer(4),
		WithIdleTimeout(0), // disable eviction sweep in tests
	)
	return srv, store, eventBus
}

func dialWS(t *testing.T, ts *httptest.Server, token, experience string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/experience?token=" + token + "&experience=" + experience
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestConnectSendsConnectedMessage(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg["type"])
	assert.Equal(t, "u1", msg["user_id"])
	assert.Equal(t, "e1", msg["experience"])
}

func TestInvalidTokenClosesWithPolicyViolation(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, "not-a-real-token", "e1")
	defer conn.Close()

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected a close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestPingReceivesPong(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	var pong map[string]any
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
}

func TestUpdateLocationReturnsAreaOfInterest(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "update_location", "lat": 37.906512, "lng": -122.544217,
	}))
	var aoiMsg map[string]any
	require.NoError(t, conn.ReadJSON(&aoiMsg))
	assert.Equal(t, "area_of_interest", aoiMsg["type"])
	zone := aoiMsg["zone"].(map[string]any)
	assert.Equal(t, "wylding-woods", zone["id"])
}

func TestActionDispatchesAndReturnsResponse(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "action", "action": "collect_item", "instance_id": "bottle_mystery",
	}))
	var resp map[string]any
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "action_response", resp["type"])
	assert.Equal(t, true, resp["success"])
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "teleport"}))
	var errMsg map[string]any
	require.NoError(t, conn.ReadJSON(&errMsg))
	assert.Equal(t, "error", errMsg["type"])
	assert.Equal(t, "unknown_message_type", errMsg["code"])
}

func TestDeltaPublishedOnUserSubjectIsForwarded(t *testing.T) {
	srv, store, eventBus := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	// No wait is needed before publishing: subscribe happens synchronously
	// in handleUpgrade before the connected message is sent, so by the time
	// we read it above the subscription already exists.
	eventBus.Publish(bus.UserSubject("u1"), map[string]any{
		"type": "world_update", "experience": "e1", "user_id": "u1",
	})

	var delta map[string]any
	require.NoError(t, conn.ReadJSON(&delta))
	assert.Equal(t, "world_update", delta["type"])
}

func TestShutdownClosesOpenConnections(t *testing.T) {
	srv, store, _ := setupServer(t)
	seedWorld(t, store, "e1")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts, signToken(t, "u1"), "e1")
	defer conn.Close()

	var connected map[string]any
	require.NoError(t, conn.ReadJSON(&connected))

	require.NoError(t, srv.Shutdown(context.Background()))

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
