package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles websocket upgrade requests for room sessions.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	rooms             RoomCounter
}

// RoomCounter supplies the live-room count for the stats endpoint.
type RoomCounter interface {
	ListActiveRoomIDs() []string
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, rooms RoomCounter) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		rooms:             rooms,
	}
}

// HandleConnection upgrades the request; the client's opaque id is assigned
// server-side and delivered in the welcome event.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// On failure the upgrader has already written the HTTP error
	// response, so there is nothing left to send.
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
	}
}

// HandleStats returns counts of live connections and rooms.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d}`,
		h.connectionManager.ConnectionCount(),
		len(h.rooms.ListActiveRoomIDs()))
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
