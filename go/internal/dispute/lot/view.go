package lot

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/shopspring/decimal"
)

// Viewer identifies who is looking at a lot. What a query returns depends on it.
type Viewer struct {
	UserID string
	Role   models.Role
}

func (v Viewer) isAuctioneer() bool {
	return v.Role == models.RoleAuctioneer
}

// View is the status of a lot as disclosed to one viewer.
type View struct {
	ID                uuid.UUID           `json:"id"`
	SessionID         uuid.UUID           `json:"session_id"`
	Number            int                 `json:"number"`
	Status            models.LotStatus    `json:"status"`
	Mode              models.DisputeMode  `json:"mode"`
	Phase             models.TimerPhase   `json:"phase,omitempty"`
	RemainingSeconds  *int                `json:"remaining_seconds"`
	Round             int                 `json:"round"`
	Participants      int                 `json:"participants"`
	BestValue         decimal.NullDecimal `json:"best_value"`
	LeaderID          string              `json:"leader_id,omitempty"`
	Shortlist         []string            `json:"shortlist,omitempty"`
	Tiebreak          *TiebreakView       `json:"tiebreak,omitempty"`
	WinnerID          string              `json:"winner_id,omitempty"`
	WinningValue      decimal.NullDecimal `json:"winning_value"`
	HiddenDurationSec *int                `json:"hidden_duration_sec,omitempty"`
	OpenedAt          *time.Time          `json:"opened_at,omitempty"`
	FinishedAt        *time.Time          `json:"finished_at,omitempty"`
}

type TiebreakView struct {
	TiedSuppliers    []string        `json:"tied_suppliers"`
	TiedValue        decimal.Decimal `json:"tied_value"`
	RemainingSeconds *int            `json:"remaining_seconds"`
}

// RankedBid is one line of the ranking as disclosed to a viewer. SupplierID is
// blank for other suppliers' bids unless the viewer is the auctioneer.
type RankedBid struct {
	Position    int             `json:"position"`
	BidID       uuid.UUID       `json:"bid_id"`
	SupplierID  string          `json:"supplier_id,omitempty"`
	Value       decimal.Decimal `json:"value"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Sealed      bool            `json:"sealed,omitempty"`
	Own         bool            `json:"own,omitempty"`
}

func (l *Lot) sealedPhase() bool {
	return l.status == models.LotStatusOpen && l.timer.Phase == models.TimerPhaseClosed
}

// disclose returns id when the viewer is allowed to see it.
func disclose(v Viewer, id string) string {
	if v.isAuctioneer() || id == v.UserID {
		return id
	}
	return ""
}

// View returns the lot status for the given viewer.
func (l *Lot) View(v Viewer) View {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := View{
		ID:           l.id,
		SessionID:    l.sessionID,
		Number:       l.number,
		Status:       l.status,
		Mode:         l.mode,
		Round:        l.ledger.Round(),
		Participants: len(l.roster),
		OpenedAt:     l.openedAt,
		FinishedAt:   l.finishedAt,
	}
	if l.status == models.LotStatusOpen {
		out.Phase = l.timer.Phase
		out.RemainingSeconds = l.timer.visibleRemaining()
	}

	if !l.sealedPhase() || v.isAuctioneer() {
		if best, ok := l.ledger.BestActive(); ok {
			out.BestValue = decimal.NewNullDecimal(best.Value)
			out.LeaderID = disclose(v, best.SupplierID)
		}
	}

	for _, id := range l.shortlistOrder {
		if s := disclose(v, id); s != "" {
			out.Shortlist = append(out.Shortlist, s)
		}
	}

	if tb := l.tiebreak; tb != nil {
		tv := &TiebreakView{
			TiedValue:        tb.value,
			RemainingSeconds: tb.timer.visibleRemaining(),
		}
		for _, id := range tb.order {
			if s := disclose(v, id); s != "" {
				tv.TiedSuppliers = append(tv.TiedSuppliers, s)
			}
		}
		out.Tiebreak = tv
	}

	if l.status == models.LotStatusFinished {
		if l.winner != nil {
			out.WinnerID = disclose(v, l.winner.SupplierID)
			out.WinningValue = decimal.NewNullDecimal(l.winner.Value)
		}
		out.HiddenDurationSec = l.hiddenDuration
	}
	return out
}

// Ranking returns the active bids ascending by value. During sealed phases
// only the auctioneer sees other suppliers' offers.
func (l *Lot) Ranking(v Viewer) []RankedBid {
	l.mu.Lock()
	defer l.mu.Unlock()

	ownOnly := l.sealedPhase() && !v.isAuctioneer()
	out := make([]RankedBid, 0)
	for i, b := range l.ledger.Rank() {
		own := b.SupplierID == v.UserID
		if ownOnly && !own {
			continue
		}
		pos := i + 1
		if ownOnly {
			pos = len(out) + 1
		}
		out = append(out, RankedBid{
			Position:    pos,
			BidID:       b.ID,
			SupplierID:  disclose(v, b.SupplierID),
			Value:       b.Value,
			SubmittedAt: b.SubmittedAt,
			Sealed:      b.Sealed,
			Own:         own,
		})
	}
	return out
}

// History returns every bid of every round, cancelled ones included.
func (l *Lot) History() []models.Bid {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ledger.History()
}

// Snapshot returns the persistable state of the lot.
func (l *Lot) Snapshot() models.LotState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot()
}

func (l *Lot) snapshot() models.LotState {
	state := models.LotState{
		ID:                l.id,
		SessionID:         l.sessionID,
		Number:            l.number,
		Participants:      append([]string(nil), l.roster...),
		Status:            l.status,
		Timer:             l.timer.TimerState,
		Round:             l.ledger.Round(),
		Shortlist:         append([]string(nil), l.shortlistOrder...),
		OpenedAt:          l.openedAt,
		FinishedAt:        l.finishedAt,
		UpdatedAt:         l.updatedAt,
		Version:           l.version,
		HiddenDurationSec: l.hiddenDuration,
	}
	if l.shortlist == nil {
		state.Shortlist = nil
	}
	if l.tiebreak != nil {
		state.Tiebreak = l.tiebreak.state()
	}
	if l.winner != nil {
		id := l.winner.ID
		state.WinnerBidID = &id
		state.WinningValue = decimal.NewNullDecimal(l.winner.Value)
	}
	return state
}

// Restore rebuilds a lot from a snapshot and its bids, e.g. after a restart of
// the process. Timers resume from the persisted remaining seconds.
func Restore(state models.LotState, bids []models.Bid, deps Deps) *Lot {
	deps = deps.withDefaults()
	l := &Lot{
		deps:           deps,
		id:             state.ID,
		sessionID:      state.SessionID,
		number:         state.Number,
		mode:           state.Timer.Mode,
		status:         state.Status,
		timer:          timer{state.Timer},
		ledger:         restoreLedger(state.Round, bids),
		openedAt:       state.OpenedAt,
		finishedAt:     state.FinishedAt,
		updatedAt:      state.UpdatedAt,
		version:        state.Version,
		hiddenDuration: state.HiddenDurationSec,
	}
	l.setParticipants(state.Participants)
	if state.Shortlist != nil {
		l.setShortlist(state.Shortlist)
	}
	if state.WinnerBidID != nil {
		if w, ok := l.ledger.Get(*state.WinnerBidID); ok {
			l.winner = &w
		}
	}
	if tb := state.Tiebreak; tb != nil && l.status == models.LotStatusTiebreak {
		var tied []models.Bid
		for _, b := range l.ledger.Active() {
			if b.Value.Equal(tb.TiedValue) && slices.Contains(tb.TiedSuppliers, b.SupplierID) {
				tied = append(tied, b)
			}
		}
		l.tiebreak = newTiebreakRound(tb.TiedValue, earliestPerSupplier(tied), timer{tb.Timer})
	}
	return l
}

func earliestPerSupplier(bids []models.Bid) []models.Bid {
	seen := make(map[string]struct{})
	var out []models.Bid
	for _, b := range bids {
		if _, ok := seen[b.SupplierID]; ok {
			continue
		}
		seen[b.SupplierID] = struct{}{}
		out = append(out, b)
	}
	return out
}
