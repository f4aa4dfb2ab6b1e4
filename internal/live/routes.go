package live

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/agrisound-hub-go/internal/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboards are served from other origins on the farm LAN
	},
}

// RegisterRoutes wires the live feed routes to the router.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.HandleFunc("/ws/live", websocketHandler(hub))
	router.Method(http.MethodGet, "/v1/live/status", api.Handler(statusHandler(hub)))
}

func websocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		hub.Attach(conn)
	}
}

func statusHandler(hub *Hub) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		status := hub.Status()
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":    "live_status",
			"clients":   status.Clients,
			"published": status.Published,
			"dropped":   status.Dropped,
		})
	}
}
