package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/caseloop/caseloop/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the frontend host list is settled
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log,
	}
}

// HandleWebSocket handles WebSocket upgrade requests. The auth middleware is
// expected to have placed the caller's organization and user IDs in the
// request context.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	orgID, _ := r.Context().Value("organization_id").(uuid.UUID)
	userID, _ := r.Context().Value("user_id").(uuid.UUID)
	if orgID == uuid.Nil || userID == uuid.Nil {
		h.logger.Warn("websocket connection attempted without auth context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", logger.Err(err))
		return
	}

	client := NewClient(h.hub, conn, orgID.String(), userID.String(), h.logger)

	h.hub.register <- client
	client.Start()

	h.logger.Info("websocket connection established",
		logger.String("client_id", client.id),
		logger.String("organization_id", orgID.String()),
		logger.String("user_id", userID.String()),
		logger.String("remote_addr", r.RemoteAddr),
	)
}

// HandleStats returns WebSocket statistics
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.hub.GetStats())
}
