package lot

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/shopspring/decimal"
)

// Ledger keeps every bid of one lot in submission order. Only active bids of
// the current round take part in ranking.
type Ledger struct {
	bids  []*models.Bid
	byID  map[uuid.UUID]*models.Bid
	round int
}

// NewLedger creates an empty ledger positioned on round 1.
func NewLedger() *Ledger {
	return &Ledger{
		byID:  make(map[uuid.UUID]*models.Bid),
		round: 1,
	}
}

// Round returns the current round number.
func (l *Ledger) Round() int {
	return l.round
}

// NextRound starts a new round. Earlier bids stay in history but stop ranking.
func (l *Ledger) NextRound() int {
	l.round++
	return l.round
}

// Append stores an accepted bid.
func (l *Ledger) Append(bid models.Bid) models.Bid {
	b := bid
	l.bids = append(l.bids, &b)
	l.byID[b.ID] = &b
	return b
}

// Get returns the bid with the given id.
func (l *Ledger) Get(id uuid.UUID) (models.Bid, bool) {
	b, ok := l.byID[id]
	if !ok {
		return models.Bid{}, false
	}
	return *b, true
}

func (l *Ledger) counts(b *models.Bid) bool {
	return b.Status == models.BidStatusActive && b.Round == l.round
}

// Active returns the ranking bids in submission order.
func (l *Ledger) Active() []models.Bid {
	var out []models.Bid
	for _, b := range l.bids {
		if l.counts(b) {
			out = append(out, *b)
		}
	}
	return out
}

// Rank returns the active bids ascending by value, earliest submission first
// among equal values.
func (l *Ledger) Rank() []models.Bid {
	ranked := l.Active()
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Value.Cmp(ranked[j].Value); c != 0 {
			return c < 0
		}
		return ranked[i].SubmittedAt.Before(ranked[j].SubmittedAt)
	})
	return ranked
}

// BestActive returns the current leader.
func (l *Ledger) BestActive() (models.Bid, bool) {
	var best *models.Bid
	for _, b := range l.bids {
		if !l.counts(b) {
			continue
		}
		if best == nil || b.Value.LessThan(best.Value) ||
			(b.Value.Equal(best.Value) && b.SubmittedAt.Before(best.SubmittedAt)) {
			best = b
		}
	}
	if best == nil {
		return models.Bid{}, false
	}
	return *best, true
}

// IsImprovement reports whether value strictly beats the current leader.
// Any value improves an empty ledger.
func (l *Ledger) IsImprovement(value decimal.Decimal) bool {
	best, ok := l.BestActive()
	if !ok {
		return true
	}
	return value.LessThan(best.Value)
}

// BestBySupplier returns the supplier's lowest active bid in the current round.
func (l *Ledger) BestBySupplier(supplierID string) (models.Bid, bool) {
	var best *models.Bid
	for _, b := range l.bids {
		if b.SupplierID != supplierID || !l.counts(b) {
			continue
		}
		if best == nil || b.Value.LessThan(best.Value) {
			best = b
		}
	}
	if best == nil {
		return models.Bid{}, false
	}
	return *best, true
}

// HasSealedOffer reports whether the supplier already holds an active sealed
// offer in the current round.
func (l *Ledger) HasSealedOffer(supplierID string) bool {
	for _, b := range l.bids {
		if b.SupplierID == supplierID && b.Sealed && l.counts(b) {
			return true
		}
	}
	return false
}

// Tied returns the bids sharing the minimum active value when they belong to
// at least two suppliers. Only the earliest bid per supplier is kept.
func (l *Ledger) Tied() (decimal.Decimal, []models.Bid) {
	ranked := l.Rank()
	if len(ranked) < 2 {
		return decimal.Zero, nil
	}
	lowest := ranked[0].Value
	seen := make(map[string]struct{})
	var tied []models.Bid
	for _, b := range ranked {
		if !b.Value.Equal(lowest) {
			break
		}
		if _, ok := seen[b.SupplierID]; ok {
			continue
		}
		seen[b.SupplierID] = struct{}{}
		tied = append(tied, b)
	}
	if len(tied) < 2 {
		return decimal.Zero, nil
	}
	return lowest, tied
}

// Cancel marks a bid as cancelled.
func (l *Ledger) Cancel(id uuid.UUID, at time.Time) (models.Bid, bool) {
	b, ok := l.byID[id]
	if !ok {
		return models.Bid{}, false
	}
	b.Status = models.BidStatusCancelled
	cancelledAt := at
	b.CancelledAt = &cancelledAt
	return *b, true
}

// CloseWindows makes every in-window bid of the supplier irrevocable as of at.
func (l *Ledger) CloseWindows(supplierID string, at time.Time) {
	for _, b := range l.bids {
		if b.SupplierID == supplierID && b.Status == models.BidStatusActive && at.Before(b.CancellableUntil) {
			b.CancellableUntil = at
		}
	}
}

// History returns every bid ever submitted, in submission order.
func (l *Ledger) History() []models.Bid {
	out := make([]models.Bid, 0, len(l.bids))
	for _, b := range l.bids {
		out = append(out, *b)
	}
	return out
}

// restoreLedger rebuilds a ledger from persisted bids.
func restoreLedger(round int, bids []models.Bid) *Ledger {
	l := NewLedger()
	if round > 0 {
		l.round = round
	}
	sorted := make([]models.Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
	})
	for _, b := range sorted {
		l.Append(b)
	}
	return l
}
