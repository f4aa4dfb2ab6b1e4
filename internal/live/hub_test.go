package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	RegisterRoutes(router, hub)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Status().Clients == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SnapshotThenLiveEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.OnConnect(func() []Event {
		return []Event{{Type: EventDevice, Data: map[string]any{"status": "SLEEPING"}}}
	})
	srv := setupServer(t, hub)

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	first := readEvent(t, conn)
	require.Equal(t, EventDevice, first.Type)
	require.Equal(t, map[string]any{"status": "SLEEPING"}, first.Data)

	hub.Publish(EventArm, map[string]any{"armed": true})
	next := readEvent(t, conn)
	require.Equal(t, EventArm, next.Type)
	require.Equal(t, map[string]any{"armed": true}, next.Data)
	require.False(t, next.At.IsZero())
}

func TestHub_BroadcastsToEveryViewer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := setupServer(t, hub)

	a := dial(t, srv)
	b := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.Publish(EventActivity, map[string]any{"sound_name": "Hawk"})

	require.Equal(t, EventActivity, readEvent(t, a).Type)
	require.Equal(t, EventActivity, readEvent(t, b).Type)
	require.Equal(t, int64(1), hub.Status().Published)
}

func TestHub_DisconnectRemovesViewer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := setupServer(t, hub)

	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)

	// Publishing with nobody attached is a no-op.
	hub.Publish(EventDevice, nil)
	require.Zero(t, hub.Status().Dropped)
}

func TestStatusRoute(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := setupServer(t, hub)

	resp, err := http.Get(srv.URL + "/v1/live/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "live_status", body["object"])
	require.Equal(t, float64(0), body["clients"])
}
