package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/models"
)

// Engine is the command and query surface of the dispute coordinator.
type Engine interface {
	CreateSession(ctx context.Context, userID string, req session.CreateSessionRequest) (session.Summary, error)
	GetSessionSummary(ctx context.Context, userID string, sessionID uuid.UUID) (session.Summary, error)
	ChangeMode(ctx context.Context, userID string, sessionID uuid.UUID, mode models.DisputeMode) error
	StartAllWaiting(ctx context.Context, userID string, sessionID uuid.UUID) (int, error)
	StartLot(ctx context.Context, userID string, lotID uuid.UUID) error
	SubmitBid(ctx context.Context, userID string, lotID uuid.UUID, value decimal.Decimal) (models.Bid, error)
	CancelBid(ctx context.Context, userID string, lotID, bidID uuid.UUID) (models.Bid, error)
	FinalizeLot(ctx context.Context, userID string, lotID uuid.UUID) error
	RestartLot(ctx context.Context, userID string, lotID uuid.UUID) error
	AdvancePhase(ctx context.Context, userID string, lotID uuid.UUID) error
	GetLotStatus(ctx context.Context, userID string, lotID uuid.UUID) (lot.View, error)
	GetRanking(ctx context.Context, userID string, lotID uuid.UUID) ([]lot.RankedBid, error)
	GetHistory(ctx context.Context, userID string, lotID uuid.UUID) ([]models.Bid, error)
}

var _ Engine = (*session.Coordinator)(nil)

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Verify(token string) (string, error)
}

// Handler exposes the dispute engine over JSON/HTTP.
type Handler struct {
	engine Engine
	auth   Authenticator
}

func NewHandler(engine Engine, auth Authenticator) *Handler {
	return &Handler{engine: engine, auth: auth}
}

type ChangeModeRequest struct {
	Mode models.DisputeMode `json:"mode"`
}

type SubmitBidRequest struct {
	Value decimal.Decimal `json:"value"`
}

type StartAllResponse struct {
	Started int `json:"started"`
}

// RegisterRoutes registers the API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /api/sessions", h.authenticated(h.createSession))
	mux.Handle("GET /api/sessions/{id}", h.authenticated(h.getSessionSummary))
	mux.Handle("POST /api/sessions/{id}/mode", h.authenticated(h.changeMode))
	mux.Handle("POST /api/sessions/{id}/start", h.authenticated(h.startAllWaiting))

	mux.Handle("GET /api/lots/{id}", h.authenticated(h.getLotStatus))
	mux.Handle("GET /api/lots/{id}/ranking", h.authenticated(h.getRanking))
	mux.Handle("GET /api/lots/{id}/history", h.authenticated(h.getHistory))
	mux.Handle("POST /api/lots/{id}/start", h.authenticated(h.lotCommand(h.engine.StartLot)))
	mux.Handle("POST /api/lots/{id}/finalize", h.authenticated(h.lotCommand(h.engine.FinalizeLot)))
	mux.Handle("POST /api/lots/{id}/restart", h.authenticated(h.lotCommand(h.engine.RestartLot)))
	mux.Handle("POST /api/lots/{id}/advance", h.authenticated(h.lotCommand(h.engine.AdvancePhase)))
	mux.Handle("POST /api/lots/{id}/bids", h.authenticated(h.submitBid))
	mux.Handle("POST /api/lots/{id}/bids/{bidId}/cancel", h.authenticated(h.cancelBid))
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (h *Handler) authenticated(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token", Code: "unauthorized"})
			return
		}
		userID, err := h.auth.Verify(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "invalid token", Code: "unauthorized"})
			return
		}
		next(w, r, userID)
	})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, userID string) {
	var req session.CreateSessionRequest
	if !decode(w, r, &req) {
		return
	}
	summary, err := h.engine.CreateSession(r.Context(), userID, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) getSessionSummary(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	summary, err := h.engine.GetSessionSummary(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) changeMode(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req ChangeModeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.ChangeMode(r.Context(), userID, id, req.Mode); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) startAllWaiting(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.engine.StartAllWaiting(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StartAllResponse{Started: n})
}

// lotCommand adapts an auctioneer command that only needs the lot id.
func (h *Handler) lotCommand(cmd func(ctx context.Context, userID string, lotID uuid.UUID) error) userHandler {
	return func(w http.ResponseWriter, r *http.Request, userID string) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		if err := cmd(r.Context(), userID, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) submitBid(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req SubmitBidRequest
	if !decode(w, r, &req) {
		return
	}
	bid, err := h.engine.SubmitBid(r.Context(), userID, id, req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (h *Handler) cancelBid(w http.ResponseWriter, r *http.Request, userID string) {
	lotID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bidID, ok := pathID(w, r, "bidId")
	if !ok {
		return
	}
	bid, err := h.engine.CancelBid(r.Context(), userID, lotID, bidID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *Handler) getLotStatus(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	view, err := h.engine.GetLotStatus(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getRanking(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ranking, err := h.engine.GetRanking(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request, userID string) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	history, err := h.engine.GetHistory(r.Context(), userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
