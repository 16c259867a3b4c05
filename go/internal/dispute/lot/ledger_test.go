package lot

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/peterldowns/testy/check"
)

func ledgerBid(l *Ledger, supplier, value string, at time.Time) models.Bid {
	return l.Append(models.Bid{
		ID:               uuid.New(),
		SupplierID:       supplier,
		Value:            dec(value),
		SubmittedAt:      at,
		CancellableUntil: at.Add(10 * time.Second),
		Status:           models.BidStatusActive,
		Round:            l.Round(),
	})
}

func TestLedger_RankAscendingThenEarliest(t *testing.T) {
	l := NewLedger()
	ledgerBid(l, "a", "100", t0)
	ledgerBid(l, "b", "80", t0.Add(time.Second))
	ledgerBid(l, "c", "80", t0.Add(500*time.Millisecond))
	ledgerBid(l, "d", "120", t0.Add(2*time.Second))

	var got []string
	for _, b := range l.Rank() {
		got = append(got, b.SupplierID)
	}
	check.Equal(t, []string{"c", "b", "a", "d"}, got)

	best, ok := l.BestActive()
	check.True(t, ok)
	check.Equal(t, "c", best.SupplierID)
}

func TestLedger_IsImprovement(t *testing.T) {
	l := NewLedger()
	check.True(t, l.IsImprovement(dec("1000000")))

	ledgerBid(l, "a", "100", t0)
	check.True(t, l.IsImprovement(dec("99.9999")))
	check.False(t, l.IsImprovement(dec("100")))
	check.False(t, l.IsImprovement(dec("100.01")))
}

func TestLedger_CancelReinstatesPreviousLeader(t *testing.T) {
	l := NewLedger()
	ledgerBid(l, "a", "100", t0)
	b := ledgerBid(l, "b", "90", t0.Add(time.Second))

	cancelled, ok := l.Cancel(b.ID, t0.Add(2*time.Second))
	check.True(t, ok)
	check.Equal(t, models.BidStatusCancelled, cancelled.Status)
	check.NotNil(t, cancelled.CancelledAt)

	best, _ := l.BestActive()
	check.Equal(t, "a", best.SupplierID)
	check.Equal(t, 1, len(l.Rank()))
	check.Equal(t, 2, len(l.History()))
}

func TestLedger_Tied(t *testing.T) {
	l := NewLedger()
	ledgerBid(l, "a", "100", t0)
	ledgerBid(l, "b", "110", t0)
	_, tied := l.Tied()
	check.Equal(t, 0, len(tied))

	ledgerBid(l, "c", "100", t0.Add(time.Second))
	value, tied := l.Tied()
	check.True(t, value.Equal(dec("100")))
	check.Equal(t, 2, len(tied))
	check.Equal(t, "a", tied[0].SupplierID)
	check.Equal(t, "c", tied[1].SupplierID)
}

func TestLedger_NextRoundHidesEarlierBids(t *testing.T) {
	l := NewLedger()
	ledgerBid(l, "a", "100", t0)

	check.Equal(t, 2, l.NextRound())
	_, ok := l.BestActive()
	check.False(t, ok)
	check.True(t, l.IsImprovement(dec("500")))
	check.Equal(t, 1, len(l.History()))
}

func TestLedger_CloseWindows(t *testing.T) {
	l := NewLedger()
	first := ledgerBid(l, "a", "100", t0)
	other := ledgerBid(l, "b", "95", t0)

	at := t0.Add(3 * time.Second)
	l.CloseWindows("a", at)

	got, _ := l.Get(first.ID)
	check.Equal(t, at, got.CancellableUntil)
	untouched, _ := l.Get(other.ID)
	check.Equal(t, t0.Add(10*time.Second), untouched.CancellableUntil)
}
