package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/models"
)

type call struct {
	Name   string
	UserID string
	ID     uuid.UUID
}

type fakeEngine struct {
	calls []call
	err   error

	lastValue decimal.Decimal
	lastMode  models.DisputeMode
	lastReq   session.CreateSessionRequest
}

func (f *fakeEngine) record(name, userID string, id uuid.UUID) error {
	f.calls = append(f.calls, call{Name: name, UserID: userID, ID: id})
	return f.err
}

func (f *fakeEngine) CreateSession(_ context.Context, userID string, req session.CreateSessionRequest) (session.Summary, error) {
	f.lastReq = req
	return session.Summary{TenderID: req.TenderID, Total: len(req.Lots)}, f.record("CreateSession", userID, uuid.Nil)
}

func (f *fakeEngine) GetSessionSummary(_ context.Context, userID string, id uuid.UUID) (session.Summary, error) {
	return session.Summary{SessionID: id}, f.record("GetSessionSummary", userID, id)
}

func (f *fakeEngine) ChangeMode(_ context.Context, userID string, id uuid.UUID, mode models.DisputeMode) error {
	f.lastMode = mode
	return f.record("ChangeMode", userID, id)
}

func (f *fakeEngine) StartAllWaiting(_ context.Context, userID string, id uuid.UUID) (int, error) {
	return 3, f.record("StartAllWaiting", userID, id)
}

func (f *fakeEngine) StartLot(_ context.Context, userID string, id uuid.UUID) error {
	return f.record("StartLot", userID, id)
}

func (f *fakeEngine) SubmitBid(_ context.Context, userID string, id uuid.UUID, value decimal.Decimal) (models.Bid, error) {
	f.lastValue = value
	return models.Bid{ID: uuid.New(), LotID: id, SupplierID: userID, Value: value}, f.record("SubmitBid", userID, id)
}

func (f *fakeEngine) CancelBid(_ context.Context, userID string, lotID, bidID uuid.UUID) (models.Bid, error) {
	return models.Bid{ID: bidID, LotID: lotID, Status: models.BidStatusCancelled}, f.record("CancelBid", userID, bidID)
}

func (f *fakeEngine) FinalizeLot(_ context.Context, userID string, id uuid.UUID) error {
	return f.record("FinalizeLot", userID, id)
}

func (f *fakeEngine) RestartLot(_ context.Context, userID string, id uuid.UUID) error {
	return f.record("RestartLot", userID, id)
}

func (f *fakeEngine) AdvancePhase(_ context.Context, userID string, id uuid.UUID) error {
	return f.record("AdvancePhase", userID, id)
}

func (f *fakeEngine) GetLotStatus(_ context.Context, userID string, id uuid.UUID) (lot.View, error) {
	return lot.View{ID: id, Status: models.LotStatusOpen}, f.record("GetLotStatus", userID, id)
}

func (f *fakeEngine) GetRanking(_ context.Context, userID string, id uuid.UUID) ([]lot.RankedBid, error) {
	return []lot.RankedBid{{Position: 1, Value: decimal.NewFromInt(10), Own: true}}, f.record("GetRanking", userID, id)
}

func (f *fakeEngine) GetHistory(_ context.Context, userID string, id uuid.UUID) ([]models.Bid, error) {
	return []models.Bid{}, f.record("GetHistory", userID, id)
}

type fakeAuth map[string]string

func (f fakeAuth) Verify(token string) (string, error) {
	if id, ok := f[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func newTestMux(engine *fakeEngine) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(engine, fakeAuth{"tok-s1": "s1", "tok-boss": "pregoeiro"}).RegisterRoutes(mux)
	return mux
}

func do(mux http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandler_SubmitBid(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine)
	lotID := uuid.New()

	rec := do(mux, http.MethodPost, "/api/lots/"+lotID.String()+"/bids", "tok-s1", `{"value":"1234.50"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	check.True(t, decimal.RequireFromString("1234.5").Equal(engine.lastValue))
	check.Equal(t, []call{{Name: "SubmitBid", UserID: "s1", ID: lotID}}, engine.calls)

	var bid models.Bid
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bid))
	check.Equal(t, "s1", bid.SupplierID)
	check.Equal(t, lotID, bid.LotID)
}

func TestHandler_RoutesReachTheEngine(t *testing.T) {
	sessionID, lotID, bidID := uuid.New(), uuid.New(), uuid.New()
	cases := []struct {
		method string
		path   string
		body   string
		status int
		call   string
		id     uuid.UUID
	}{
		{http.MethodGet, "/api/sessions/" + sessionID.String(), "", http.StatusOK, "GetSessionSummary", sessionID},
		{http.MethodPost, "/api/sessions/" + sessionID.String() + "/mode", `{"mode":"closed"}`, http.StatusNoContent, "ChangeMode", sessionID},
		{http.MethodPost, "/api/sessions/" + sessionID.String() + "/start", "", http.StatusOK, "StartAllWaiting", sessionID},
		{http.MethodPost, "/api/lots/" + lotID.String() + "/start", "", http.StatusNoContent, "StartLot", lotID},
		{http.MethodPost, "/api/lots/" + lotID.String() + "/finalize", "", http.StatusNoContent, "FinalizeLot", lotID},
		{http.MethodPost, "/api/lots/" + lotID.String() + "/restart", "", http.StatusNoContent, "RestartLot", lotID},
		{http.MethodPost, "/api/lots/" + lotID.String() + "/advance", "", http.StatusNoContent, "AdvancePhase", lotID},
		{http.MethodPost, "/api/lots/" + lotID.String() + "/bids/" + bidID.String() + "/cancel", "", http.StatusOK, "CancelBid", bidID},
		{http.MethodGet, "/api/lots/" + lotID.String(), "", http.StatusOK, "GetLotStatus", lotID},
		{http.MethodGet, "/api/lots/" + lotID.String() + "/ranking", "", http.StatusOK, "GetRanking", lotID},
		{http.MethodGet, "/api/lots/" + lotID.String() + "/history", "", http.StatusOK, "GetHistory", lotID},
	}
	for _, tc := range cases {
		t.Run(tc.call, func(t *testing.T) {
			engine := &fakeEngine{}
			rec := do(newTestMux(engine), tc.method, tc.path, "tok-boss", tc.body)
			check.Equal(t, tc.status, rec.Code)
			check.Equal(t, []call{{Name: tc.call, UserID: "pregoeiro", ID: tc.id}}, engine.calls)
		})
	}
}

func TestHandler_CreateSession(t *testing.T) {
	engine := &fakeEngine{}
	body := `{"tender_id":"PE-90/2026","mode":"open","lots":[{"participants":["s1","s2"]},{"participants":["s2"]}]}`

	rec := do(newTestMux(engine), http.MethodPost, "/api/sessions", "tok-boss", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	check.Equal(t, "PE-90/2026", engine.lastReq.TenderID)
	check.Equal(t, models.DisputeModeOpen, engine.lastReq.Mode)
	check.Equal(t, 2, len(engine.lastReq.Lots))

	rec = do(newTestMux(engine), http.MethodPost, "/api/sessions", "tok-boss", `{"tender":"x"}`)
	check.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Authentication(t *testing.T) {
	engine := &fakeEngine{}
	mux := newTestMux(engine)
	path := "/api/lots/" + uuid.NewString()

	check.Equal(t, http.StatusUnauthorized, do(mux, http.MethodGet, path, "", "").Code)
	check.Equal(t, http.StatusUnauthorized, do(mux, http.MethodGet, path, "forged", "").Code)
	check.Equal(t, 0, len(engine.calls))

	check.Equal(t, http.StatusBadRequest, do(mux, http.MethodGet, "/api/lots/not-a-uuid", "tok-s1", "").Code)
}

func TestHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{lot.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{lot.ErrNotOpen, http.StatusConflict, "not_open"},
		{lot.ErrNotImprovement, http.StatusConflict, "not_improvement"},
		{lot.ErrWindowExpired, http.StatusConflict, "window_expired"},
		{lot.ErrDuplicateOffer, http.StatusConflict, "duplicate_offer"},
		{lot.ErrForbidden, http.StatusForbidden, "forbidden"},
		{lot.ErrNotParticipant, http.StatusForbidden, "not_participant"},
		{lot.ErrInvalidValue, http.StatusUnprocessableEntity, "invalid_value"},
		{lot.ErrModeNotSupported, http.StatusUnprocessableEntity, "mode_not_supported"},
		{lot.ErrLotNotFound, http.StatusNotFound, "lot_not_found"},
		{lot.ErrBidNotFound, http.StatusNotFound, "bid_not_found"},
		{session.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
		{session.ErrInvalidSession, http.StatusBadRequest, "invalid_session"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			engine := &fakeEngine{err: fmt.Errorf("lot 7: %w", tc.err)}
			rec := do(newTestMux(engine), http.MethodPost, "/api/lots/"+uuid.NewString()+"/bids", "tok-s1", `{"value":"10"}`)
			check.Equal(t, tc.status, rec.Code)

			var body ErrorResponse
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			check.Equal(t, tc.code, body.Code)
			if tc.status == http.StatusInternalServerError {
				check.False(t, strings.Contains(body.Error, "disk"))
			}
		})
	}
}

func TestHandler_RejectedBidCarriesBestValue(t *testing.T) {
	engine := &fakeEngine{err: &lot.RejectionError{
		Err:       lot.ErrNotImprovement,
		Reason:    "bid must be lower than the current best value",
		BestValue: decimal.NewNullDecimal(decimal.RequireFromString("99.90")),
	}}
	mux := newTestMux(engine)

	rec := do(mux, http.MethodPost, "/api/lots/"+uuid.NewString()+"/bids", "tok-s1", `{"value":"100"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body ErrorResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	check.Equal(t, "not_improvement", body.Code)
	assert.NotNil(t, body.BestValue)
	check.True(t, body.BestValue.Equal(decimal.RequireFromString("99.9")))

	// other rejections carry no value
	engine.err = fmt.Errorf("lot 7: %w", lot.ErrNotOpen)
	rec = do(mux, http.MethodPost, "/api/lots/"+uuid.NewString()+"/bids", "tok-s1", `{"value":"100"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	check.False(t, strings.Contains(rec.Body.String(), "best_value"))
}
