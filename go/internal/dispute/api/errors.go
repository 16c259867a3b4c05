package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// BestValue is the value a refused bid had to beat.
	BestValue *decimal.Decimal `json:"best_value,omitempty"`
}

// statusFor maps engine errors to HTTP status codes and stable error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, lot.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, lot.ErrNotParticipant):
		return http.StatusForbidden, "not_participant"
	case errors.Is(err, lot.ErrLotNotFound):
		return http.StatusNotFound, "lot_not_found"
	case errors.Is(err, lot.ErrBidNotFound):
		return http.StatusNotFound, "bid_not_found"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, lot.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, lot.ErrNotOpen):
		return http.StatusConflict, "not_open"
	case errors.Is(err, lot.ErrNotImprovement):
		return http.StatusConflict, "not_improvement"
	case errors.Is(err, lot.ErrWindowExpired):
		return http.StatusConflict, "window_expired"
	case errors.Is(err, lot.ErrDuplicateOffer):
		return http.StatusConflict, "duplicate_offer"
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict, "session_exists"
	case errors.Is(err, lot.ErrInvalidValue):
		return http.StatusUnprocessableEntity, "invalid_value"
	case errors.Is(err, lot.ErrModeNotSupported):
		return http.StatusUnprocessableEntity, "mode_not_supported"
	case errors.Is(err, session.ErrInvalidSession):
		return http.StatusBadRequest, "invalid_session"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		msg = http.StatusText(status)
	}
	resp := ErrorResponse{Error: msg, Code: code}
	var rej *lot.RejectionError
	if errors.As(err, &rej) && rej.BestValue.Valid {
		resp.BestValue = &rej.BestValue.Decimal
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
