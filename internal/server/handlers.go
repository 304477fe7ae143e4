package server

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Clients  int    `json:"clients"`
	Messages int    `json:"messages"`
}

// WebSocketHandler upgrades GET requests and registers the connection with
// hub, which replays history and starts the pumps.
func WebSocketHandler(hub *Hub, origins *OriginPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.CheckOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already answered the request.
			logrus.WithError(err).WithField("remote_addr", r.RemoteAddr).Debug("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			client.closeConn()
		}
	}
}

// HealthHandler reports liveness plus connection and history counts.
func HealthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, HealthResponse{
			Status:   "ok",
			Clients:  hub.ClientCount(),
			Messages: hub.History().Len(),
		})
	}
}
