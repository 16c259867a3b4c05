package lot

import (
	"time"

	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/shopspring/decimal"
)

// tiebreakRound is the short sub-auction among suppliers tied at the best value.
type tiebreakRound struct {
	value decimal.Decimal
	// original tied bids keyed by supplier
	tied  map[string]models.Bid
	order []string
	timer timer
}

func newTiebreakRound(value decimal.Decimal, tied []models.Bid, t timer) *tiebreakRound {
	tb := &tiebreakRound{
		value: value,
		tied:  make(map[string]models.Bid, len(tied)),
		timer: t,
	}
	for _, b := range tied {
		tb.tied[b.SupplierID] = b
		tb.order = append(tb.order, b.SupplierID)
	}
	return tb
}

func (tb *tiebreakRound) includes(supplierID string) bool {
	_, ok := tb.tied[supplierID]
	return ok
}

func (tb *tiebreakRound) suppliers() []string {
	out := make([]string, len(tb.order))
	copy(out, tb.order)
	return out
}

// earliest returns the first submitted of the original tied bids. It decides
// the round when nobody improves before the timer runs out.
func (tb *tiebreakRound) earliest() models.Bid {
	var first models.Bid
	for i, s := range tb.order {
		b := tb.tied[s]
		if i == 0 || b.SubmittedAt.Before(first.SubmittedAt) {
			first = b
		}
	}
	return first
}

func (tb *tiebreakRound) state() *models.TiebreakState {
	return &models.TiebreakState{
		TiedSuppliers: tb.suppliers(),
		TiedValue:     tb.value,
		Timer:         tb.timer.TimerState,
	}
}

func (l *Lot) startTiebreak(now time.Time, value decimal.Decimal, tied []models.Bid) events.Event {
	p := l.deps.Policy
	l.tiebreak = newTiebreakRound(value, tied, runningTimer(models.TimerPhaseInitial, p.TiebreakSeconds, l.mode))
	l.status = models.LotStatusTiebreak
	l.touch(now)

	return l.event(events.EventTypeTiebreakStarted, now, events.TiebreakStartedPayload{
		TiedSuppliers: l.tiebreak.suppliers(),
		TiedValue:     value,
		DurationSec:   p.TiebreakSeconds,
	})
}

func (l *Lot) submitTiebreakBid(now time.Time, supplierID string, value decimal.Decimal) (models.Bid, []events.Event, error) {
	tb := l.tiebreak
	if !tb.includes(supplierID) {
		return models.Bid{}, nil, reject(ErrNotParticipant, "only tied suppliers may bid during the tie-break")
	}
	if err := validateValue(value); err != nil {
		return models.Bid{}, nil, err
	}
	if !value.LessThan(tb.value) {
		return models.Bid{}, nil, &RejectionError{
			Err:       ErrNotImprovement,
			Reason:    "tie-break bids must beat the tied value",
			BestValue: decimal.NewNullDecimal(tb.value),
		}
	}

	bid := l.accept(now, supplierID, value, false)
	evs := []events.Event{l.bidAcceptedEvent(now, bid, true)}
	evs = append(evs, l.resolveTiebreak(now, bid, events.ResolvedByBid)...)
	return bid, evs, nil
}

func (l *Lot) resolveTiebreak(now time.Time, winner models.Bid, reason string) []events.Event {
	l.tiebreak.timer.stop()
	resolved := l.event(events.EventTypeTiebreakResolved, now, events.TiebreakResolvedPayload{
		WinnerID:     winner.SupplierID,
		WinningBidID: winner.ID,
		WinningValue: winner.Value,
		Reason:       reason,
	})
	l.tiebreak = nil
	return []events.Event{resolved, l.close(now, &winner, events.FinalizedByTiebreak)}
}
