package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
)

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Verify(token string) (string, error)
}

// Rooms resolves who is connecting and to which session.
type Rooms interface {
	Viewer(ctx context.Context, userID string) (lot.Viewer, error)
	SessionExists(sessionID uuid.UUID) bool
	GetSessionSummary(ctx context.Context, userID string, sessionID uuid.UUID) (session.Summary, error)
}

// WebSocketHandler handles WebSocket upgrade requests for dispute rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	auth              Authenticator
	rooms             Rooms
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, auth Authenticator, rooms Rooms) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		auth:              auth,
		rooms:             rooms,
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/sessions/{id}", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleStats)
}

// HandleSessionConnection handles WebSocket connections for a dispute session.
// The token comes from the token query parameter, since browsers cannot set
// headers on the upgrade request, or from the Authorization header.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	userID, err := h.auth.Verify(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	viewer, err := h.rooms.Viewer(r.Context(), userID)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !h.rooms.SessionExists(sessionID) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	greeting, err := h.snapshot(r.Context(), userID, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to build session snapshot")
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	// Upgrade writes its own error response
	if err := h.connectionManager.UpgradeConnection(w, r, viewer, sessionID, greeting); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to upgrade WebSocket connection")
	}
}

func (h *WebSocketHandler) snapshot(ctx context.Context, userID string, sessionID uuid.UUID) ([]byte, error) {
	summary, err := h.rooms.GetSessionSummary(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{
		ID:         uuid.New(),
		Type:       SnapshotMessageType,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Payload:    summary,
	})
}

// HandleStats returns connection statistics
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}
