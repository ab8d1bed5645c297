package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Handler exposes the gateway's HTTP surface: the WebSocket upgrade
// endpoint, the stateless room existence check and connection stats.
type Handler struct {
	connectionManager *ConnectionManager
	store             RoomStore
}

// NewHandler creates the HTTP handler for the gateway.
func NewHandler(cm *ConnectionManager, store RoomStore) *Handler {
	return &Handler{connectionManager: cm, store: store}
}

// HandleConnection upgrades the request to a WebSocket connection. Room
// membership is established afterwards by create_room and join_room
// messages on the socket.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// HandleRoomCheck answers the stateless existence check used by clients
// before joining.
func (h *Handler) HandleRoomCheck(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]bool{"exists": h.store.Exists(roomID)}); err != nil {
		log.Error().Err(err).Msg("failed to write room check response")
	}
}

// HandleStats reports live connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	totalConnections, activeRooms := h.connectionManager.Stats()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]int{
		"total_connections": totalConnections,
		"active_rooms":      activeRooms,
	}); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers the gateway routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("GET /api/rooms/{roomID}", h.HandleRoomCheck)
	mux.HandleFunc("GET /ws/stats", h.HandleStats)
}
