package lot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

var auctioneer = Viewer{UserID: "pregoeiro", Role: models.RoleAuctioneer}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLot(t *testing.T, mode models.DisputeMode, participants ...string) (*Lot, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	l := New(Config{
		SessionID:    uuid.New(),
		Number:       1,
		Participants: participants,
		Mode:         mode,
	}, Deps{Clock: clock, Rand: SeededRand(42)})
	return l, clock
}

// advance moves the clock forward one second at a time, ticking the lot.
func advance(l *Lot, clock *clockwork.FakeClock, seconds int) []events.Event {
	var evs []events.Event
	for i := 0; i < seconds; i++ {
		clock.Advance(time.Second)
		evs = append(evs, l.Tick()...)
	}
	return evs
}

func eventTypes(evs []events.Event) []events.EventType {
	out := make([]events.EventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func mustStart(t *testing.T, l *Lot) {
	t.Helper()
	_, err := l.Start()
	assert.NoError(t, err)
}

func mustBid(t *testing.T, l *Lot, supplierID, value string) models.Bid {
	t.Helper()
	bid, _, err := l.SubmitBid(supplierID, dec(value))
	assert.NoError(t, err)
	return bid
}

func TestScenarioA_OpenModeBiddingAndCancellation(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1", "s2")
	mustStart(t, l)

	advance(l, clock, 10)
	mustBid(t, l, "s1", "100")
	check.Equal(t, "s1", l.View(auctioneer).LeaderID)

	advance(l, clock, 10)
	s2bid := mustBid(t, l, "s2", "90")
	check.True(t, l.View(auctioneer).BestValue.Decimal.Equal(dec("90")))

	advance(l, clock, 1)
	_, _, err := l.SubmitBid("s1", dec("95"))
	check.True(t, errors.Is(err, ErrNotImprovement))
	var rej *RejectionError
	assert.True(t, errors.As(err, &rej))
	check.True(t, rej.BestValue.Decimal.Equal(dec("90")))
	check.True(t, strings.Contains(rej.Error(), "lower than the current best value"))

	advance(l, clock, 4)
	cancelled, evs, err := l.CancelBid(s2bid.ID, "s2")
	assert.NoError(t, err)
	check.Equal(t, models.BidStatusCancelled, cancelled.Status)
	check.Equal(t, []events.EventType{events.EventTypeBidCancelled}, eventTypes(evs))

	view := l.View(auctioneer)
	check.Equal(t, "s1", view.LeaderID)
	check.True(t, view.BestValue.Decimal.Equal(dec("100")))

	advance(l, clock, 6)
	_, _, err = l.CancelBid(s2bid.ID, "s2")
	check.True(t, errors.Is(err, ErrWindowExpired))
}

func TestCancelBid_Rules(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1", "s2")
	mustStart(t, l)
	bid := mustBid(t, l, "s1", "100")

	_, _, err := l.CancelBid(uuid.New(), "s1")
	check.True(t, errors.Is(err, ErrBidNotFound))

	_, _, err = l.CancelBid(bid.ID, "s2")
	check.True(t, errors.Is(err, ErrForbidden))

	clock.Advance(9 * time.Second)
	_, _, err = l.CancelBid(bid.ID, "s1")
	check.NoError(t, err)

	_, _, err = l.CancelBid(bid.ID, "s1")
	check.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestCancelBid_ExactlyAtWindowEnd(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)
	bid := mustBid(t, l, "s1", "100")

	clock.Advance(10 * time.Second)
	_, _, err := l.CancelBid(bid.ID, "s1")
	check.True(t, errors.Is(err, ErrWindowExpired))
	check.Equal(t, 1, len(l.Ranking(auctioneer)))
}

func TestSubmitBid_NewBidClosesPreviousWindow(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)
	first := mustBid(t, l, "s1", "100")

	clock.Advance(3 * time.Second)
	mustBid(t, l, "s1", "90")

	clock.Advance(time.Second)
	_, _, err := l.CancelBid(first.ID, "s1")
	check.True(t, errors.Is(err, ErrWindowExpired))
}

func TestSubmitBid_Rejections(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeOpen, "s1", "s2")

	_, _, err := l.SubmitBid("s1", dec("100"))
	check.True(t, errors.Is(err, ErrNotOpen))

	mustStart(t, l)

	_, _, err = l.SubmitBid("intruder", dec("100"))
	check.True(t, errors.Is(err, ErrNotParticipant))

	for _, v := range []string{"0", "-5", "10.12345"} {
		_, _, err = l.SubmitBid("s1", dec(v))
		check.True(t, errors.Is(err, ErrInvalidValue))
	}

	mustBid(t, l, "s1", "100")
	_, _, err = l.SubmitBid("s2", dec("100"))
	check.True(t, errors.Is(err, ErrNotImprovement))

	// rejected commands leave no trace
	check.Equal(t, 1, len(l.History()))
}

func TestSubmitBid_AcceptedBidCarriesReceipt(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)

	bid, evs, err := l.SubmitBid("s1", dec("123.4500"))
	assert.NoError(t, err)
	check.Equal(t, 12, len(bid.Receipt))
	check.Equal(t, 1, bid.Round)
	check.Equal(t, t0.Add(10*time.Second), bid.CancellableUntil)
	check.Equal(t, []events.EventType{events.EventTypeBidAccepted}, eventTypes(evs))
	check.False(t, evs[0].Sealed)
}

func TestStart_OnlyFromWaiting(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeOpen, "s1")

	evs, err := l.Start()
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{events.EventTypeLotOpened}, eventTypes(evs))

	_, err = l.Start()
	check.True(t, errors.Is(err, ErrInvalidTransition))

	err = l.SetMode(models.DisputeModeClosed)
	check.True(t, errors.Is(err, ErrInvalidTransition))
	check.Equal(t, models.DisputeModeOpen, l.Mode())
}

func TestTimer_InitialPhaseMovesToExtension(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)

	evs := advance(l, clock, 599)
	check.Equal(t, 0, len(evs))
	check.Equal(t, 1, *l.View(auctioneer).RemainingSeconds)

	evs = advance(l, clock, 1)
	check.Equal(t, []events.EventType{events.EventTypePhaseChanged}, eventTypes(evs))
	view := l.View(auctioneer)
	check.Equal(t, models.TimerPhaseExtension, view.Phase)
	check.Equal(t, 120, *view.RemainingSeconds)
	check.Equal(t, models.LotStatusOpen, view.Status)
}

func TestTimer_ExtensionResetsOnBid(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1", "s2")
	mustStart(t, l)
	advance(l, clock, 600)

	advance(l, clock, 119)
	mustBid(t, l, "s1", "100")
	check.Equal(t, 120, *l.View(auctioneer).RemainingSeconds)

	advance(l, clock, 119)
	check.Equal(t, models.LotStatusOpen, l.Status())

	evs := advance(l, clock, 1)
	check.Equal(t, []events.EventType{events.EventTypeLotFinalized}, eventTypes(evs))
	payload := evs[0].Payload.(events.LotFinalizedPayload)
	check.Equal(t, "s1", payload.WinnerID)
	check.Equal(t, events.FinalizedByTimeout, payload.Reason)
	check.Equal(t, models.LotStatusFinished, l.Status())
}

func TestTimer_ExtensionFinalizesExactlyAtZero(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)

	advance(l, clock, 600+119)
	check.Equal(t, models.LotStatusOpen, l.Status())

	evs := advance(l, clock, 1)
	check.Equal(t, []events.EventType{events.EventTypeLotFinalized}, eventTypes(evs))
	check.Equal(t, models.LotStatusFinished, l.Status())
	check.Equal(t, "", l.View(auctioneer).WinnerID)

	check.Equal(t, 0, len(advance(l, clock, 5)))
}

func TestFinalize_TieStartsTiebreak(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosed, "s1", "s2", "s3")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "100")
	mustBid(t, l, "s3", "120")

	evs, err := l.Finalize()
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{events.EventTypeTiebreakStarted}, eventTypes(evs))
	check.Equal(t, models.LotStatusTiebreak, l.Status())

	payload := evs[0].Payload.(events.TiebreakStartedPayload)
	check.Equal(t, []string{"s1", "s2"}, payload.TiedSuppliers)
	check.True(t, payload.TiedValue.Equal(dec("100")))
	check.Equal(t, 60, payload.DurationSec)
}

func TestTiebreak_ImprovingBidWins(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeClosed, "s1", "s2", "s3")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "100")
	mustBid(t, l, "s3", "120")
	_, err := l.Finalize()
	assert.NoError(t, err)

	advance(l, clock, 5)

	_, _, err = l.SubmitBid("s3", dec("50"))
	check.True(t, errors.Is(err, ErrNotParticipant))

	_, _, err = l.SubmitBid("s2", dec("100"))
	check.True(t, errors.Is(err, ErrNotImprovement))

	_, evs, err := l.SubmitBid("s2", dec("99.5"))
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{
		events.EventTypeBidAccepted,
		events.EventTypeTiebreakResolved,
		events.EventTypeLotFinalized,
	}, eventTypes(evs))

	view := l.View(auctioneer)
	check.Equal(t, models.LotStatusFinished, view.Status)
	check.Equal(t, "s2", view.WinnerID)
	check.True(t, view.WinningValue.Decimal.Equal(dec("99.5")))
	check.Nil(t, view.Tiebreak)
}

func TestTiebreak_TimeoutPicksEarliestTiedBid(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeClosed, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s2", "100")
	clock.Advance(time.Second)
	mustBid(t, l, "s1", "100")
	_, err := l.Finalize()
	assert.NoError(t, err)

	check.Equal(t, 0, len(advance(l, clock, 59)))
	evs := advance(l, clock, 1)
	check.Equal(t, []events.EventType{events.EventTypeTiebreakResolved, events.EventTypeLotFinalized}, eventTypes(evs))

	resolved := evs[0].Payload.(events.TiebreakResolvedPayload)
	check.Equal(t, "s2", resolved.WinnerID)
	check.Equal(t, events.ResolvedByTimeout, resolved.Reason)
	check.Equal(t, "s2", l.View(auctioneer).WinnerID)
}

func TestTiebreak_AuctioneerFinalizeUsesEarliestBid(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeClosed, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	clock.Advance(time.Second)
	mustBid(t, l, "s2", "100")
	_, err := l.Finalize()
	assert.NoError(t, err)

	evs, err := l.Finalize()
	assert.NoError(t, err)
	resolved := evs[0].Payload.(events.TiebreakResolvedPayload)
	check.Equal(t, "s1", resolved.WinnerID)
	check.Equal(t, events.ResolvedByAuctioneer, resolved.Reason)

	_, err = l.Finalize()
	check.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestTiebreak_NoCancellation(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosed, "s1", "s2")
	mustStart(t, l)
	bid := mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "100")
	_, err := l.Finalize()
	assert.NoError(t, err)

	_, _, err = l.CancelBid(bid.ID, "s1")
	check.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestScenarioB_RandomDurationIsSeedDeterministic(t *testing.T) {
	draw := func(seed int64) int {
		l := New(Config{SessionID: uuid.New(), Number: 1, Participants: []string{"s1"}, Mode: models.DisputeModeRandom},
			Deps{Clock: clockwork.NewFakeClockAt(t0), Rand: SeededRand(seed)})
		_, err := l.Start()
		assert.NoError(t, err)
		return *l.Snapshot().HiddenDurationSec
	}

	first := draw(7)
	check.Equal(t, first, draw(7))
	check.True(t, first >= 0 && first <= 1800)
}

func TestScenarioB_CryptoDrawStaysInRange(t *testing.T) {
	rnd := CryptoRand()
	seen := make(map[int]struct{})
	for i := 0; i < 200; i++ {
		v := rnd.Intn(1801)
		check.True(t, v >= 0 && v <= 1800)
		seen[v] = struct{}{}
	}
	check.True(t, len(seen) > 1)
}

func TestRandomMode_DurationHiddenUntilFinished(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeRandom, "s1")
	evs, err := l.Start()
	assert.NoError(t, err)
	check.Nil(t, evs[0].Payload.(events.LotOpenedPayload).RemainingSeconds)

	drawn := *l.Snapshot().HiddenDurationSec
	for _, v := range []Viewer{auctioneer, {UserID: "s1", Role: models.RoleSupplier}} {
		view := l.View(v)
		check.Nil(t, view.RemainingSeconds)
		check.Nil(t, view.HiddenDurationSec)
		check.Equal(t, models.TimerPhaseHidden, view.Phase)
	}

	ticks := 0
	for l.Status() == models.LotStatusOpen && ticks < 2000 {
		advance(l, clock, 1)
		ticks++
	}
	check.Equal(t, max(drawn, 1), ticks)
	check.Equal(t, models.LotStatusFinished, l.Status())
	check.Equal(t, drawn, *l.View(auctioneer).HiddenDurationSec)
}

func TestScenarioC_ClosedModeRanksWithoutPhases(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeClosed, "s1", "s2", "s3")
	mustStart(t, l)
	check.False(t, l.Ticking())

	var all []events.Event
	for _, b := range []struct{ supplier, value string }{{"s1", "120"}, {"s2", "95"}, {"s3", "101.25"}} {
		_, evs, err := l.SubmitBid(b.supplier, dec(b.value))
		assert.NoError(t, err)
		check.True(t, evs[0].Sealed)
		all = append(all, evs...)
	}
	all = append(all, advance(l, clock, 3600)...)

	_, _, err := l.SubmitBid("s1", dec("90"))
	check.True(t, errors.Is(err, ErrDuplicateOffer))

	evs, err := l.Finalize()
	assert.NoError(t, err)
	all = append(all, evs...)
	for _, e := range all {
		check.NotEqual(t, events.EventTypePhaseChanged, e.Type)
	}

	ranking := l.Ranking(auctioneer)
	assert.Equal(t, 3, len(ranking))
	check.Equal(t, "s2", ranking[0].SupplierID)
	check.Equal(t, "s3", ranking[1].SupplierID)
	check.Equal(t, "s1", ranking[2].SupplierID)
	check.Equal(t, "s2", l.View(auctioneer).WinnerID)
}

func TestClosedMode_SuppliersSeeOnlyOwnOffers(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosed, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "90")

	s1 := Viewer{UserID: "s1", Role: models.RoleSupplier}
	ranking := l.Ranking(s1)
	assert.Equal(t, 1, len(ranking))
	check.True(t, ranking[0].Own)
	check.True(t, ranking[0].Value.Equal(dec("100")))
	check.False(t, l.View(s1).BestValue.Valid)

	observer := Viewer{UserID: "obs", Role: models.RoleObserver}
	check.Equal(t, 0, len(l.Ranking(observer)))
}

func TestScenarioD_OpenRestart(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpenRestart, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")

	advance(l, clock, 600+120)
	check.Equal(t, models.LotStatusFinished, l.Status())

	evs, err := l.Restart()
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{events.EventTypeLotRestarted, events.EventTypeLotOpened}, eventTypes(evs))

	view := l.View(auctioneer)
	check.Equal(t, models.LotStatusOpen, view.Status)
	check.Equal(t, models.TimerPhaseInitial, view.Phase)
	check.Equal(t, 600, *view.RemainingSeconds)
	check.Equal(t, 2, view.Round)
	check.False(t, view.BestValue.Valid)
	check.Equal(t, 0, len(l.Ranking(auctioneer)))
	check.Equal(t, 1, len(l.History()))

	// earlier rounds do not constrain new bids
	mustBid(t, l, "s2", "150")

	_, err = l.Restart()
	check.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestRestart_RequiresOpenRestartMode(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeOpen, "s1")
	mustStart(t, l)
	_, err := l.Finalize()
	assert.NoError(t, err)

	_, err = l.Restart()
	check.True(t, errors.Is(err, ErrModeNotSupported))
}

func TestClosedOpen_AdvancePhaseShortlistsTopSuppliers(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosedOpen, "s1", "s2", "s3", "s4")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "90")
	mustBid(t, l, "s3", "95")
	mustBid(t, l, "s4", "110")

	evs, err := l.AdvancePhase()
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{events.EventTypeEnvelopesOpened, events.EventTypePhaseChanged}, eventTypes(evs))
	check.Equal(t, []string{"s2", "s3", "s1"}, evs[0].Payload.(events.EnvelopesOpenedPayload).Shortlist)

	view := l.View(auctioneer)
	check.Equal(t, models.TimerPhaseInitial, view.Phase)
	check.Equal(t, 600, *view.RemainingSeconds)

	_, _, err = l.SubmitBid("s4", dec("50"))
	check.True(t, errors.Is(err, ErrNotParticipant))

	_, _, err = l.SubmitBid("s1", dec("91"))
	check.True(t, errors.Is(err, ErrNotImprovement))

	mustBid(t, l, "s1", "85")
	check.Equal(t, "s1", l.View(auctioneer).LeaderID)

	_, err = l.AdvancePhase()
	check.True(t, errors.Is(err, ErrInvalidTransition))
}

func TestClosedOpen_NoOffersFinishesOnAdvance(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosedOpen, "s1")
	mustStart(t, l)

	evs, err := l.AdvancePhase()
	assert.NoError(t, err)
	check.Equal(t, []events.EventType{events.EventTypeEnvelopesOpened, events.EventTypeLotFinalized}, eventTypes(evs))
	check.Equal(t, models.LotStatusFinished, l.Status())
}

func TestAdvancePhase_OtherModes(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeClosed, "s1")
	mustStart(t, l)
	_, err := l.AdvancePhase()
	check.True(t, errors.Is(err, ErrModeNotSupported))
}

func TestTopSuppliers_KeepsTiesAtBoundary(t *testing.T) {
	ranked := []models.Bid{
		{SupplierID: "a", Value: dec("90")},
		{SupplierID: "b", Value: dec("95")},
		{SupplierID: "c", Value: dec("100")},
		{SupplierID: "d", Value: dec("100")},
		{SupplierID: "e", Value: dec("101")},
	}
	check.Equal(t, []string{"a", "b", "c", "d"}, topSuppliers(ranked, 3))
	check.Equal(t, []string{"a"}, topSuppliers(ranked, 1))
}

func TestOpenClosed_FinalOfferPhase(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpenClosed, "s1", "s2", "s3")
	mustStart(t, l)
	mustBid(t, l, "s3", "130")
	mustBid(t, l, "s2", "105")
	mustBid(t, l, "s1", "100")

	evs := advance(l, clock, 600+120)
	check.Equal(t, []events.EventType{events.EventTypePhaseChanged, events.EventTypePhaseChanged}, eventTypes(evs))
	changed := evs[1].Payload.(events.PhaseChangedPayload)
	check.Equal(t, models.TimerPhaseClosed, changed.To)
	check.Equal(t, []string{"s1", "s2"}, changed.Eligible)
	check.Equal(t, models.LotStatusOpen, l.Status())
	check.False(t, l.Ticking())

	_, _, err := l.SubmitBid("s3", dec("90"))
	check.True(t, errors.Is(err, ErrNotParticipant))

	_, _, err = l.SubmitBid("s2", dec("106"))
	check.True(t, errors.Is(err, ErrNotImprovement))

	bid, _, err := l.SubmitBid("s2", dec("98"))
	assert.NoError(t, err)
	check.True(t, bid.Sealed)

	_, _, err = l.SubmitBid("s2", dec("97"))
	check.True(t, errors.Is(err, ErrDuplicateOffer))

	_, err = l.Finalize()
	assert.NoError(t, err)
	view := l.View(auctioneer)
	check.Equal(t, "s2", view.WinnerID)
	check.True(t, view.WinningValue.Decimal.Equal(dec("98")))
}

func TestView_SupplierDoesNotSeeOtherIDs(t *testing.T) {
	l, _ := newTestLot(t, models.DisputeModeOpen, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "90")

	s1 := Viewer{UserID: "s1", Role: models.RoleSupplier}
	view := l.View(s1)
	check.Equal(t, "", view.LeaderID)
	check.True(t, view.BestValue.Decimal.Equal(dec("90")))

	ranking := l.Ranking(s1)
	assert.Equal(t, 2, len(ranking))
	check.Equal(t, "", ranking[0].SupplierID)
	check.Equal(t, "s1", ranking[1].SupplierID)
	check.Equal(t, 2, ranking[1].Position)
}

func TestRestore_ResumesFromSnapshot(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeOpen, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	advance(l, clock, 30)

	restored := Restore(l.Snapshot(), l.History(), Deps{Clock: clock})
	view := restored.View(auctioneer)
	check.Equal(t, models.LotStatusOpen, view.Status)
	check.Equal(t, 570, *view.RemainingSeconds)
	check.Equal(t, "s1", view.LeaderID)
	check.True(t, restored.IsParticipant("s2"))

	_, _, err := restored.SubmitBid("s2", dec("100"))
	check.True(t, errors.Is(err, ErrNotImprovement))
}

func TestRestore_Tiebreak(t *testing.T) {
	l, clock := newTestLot(t, models.DisputeModeClosed, "s1", "s2")
	mustStart(t, l)
	mustBid(t, l, "s1", "100")
	mustBid(t, l, "s2", "100")
	_, err := l.Finalize()
	assert.NoError(t, err)
	advance(l, clock, 10)

	restored := Restore(l.Snapshot(), l.History(), Deps{Clock: clock})
	check.Equal(t, models.LotStatusTiebreak, restored.Status())
	view := restored.View(auctioneer)
	assert.NotNil(t, view.Tiebreak)
	check.Equal(t, 50, *view.Tiebreak.RemainingSeconds)
	check.Equal(t, []string{"s1", "s2"}, view.Tiebreak.TiedSuppliers)
}

func TestOnChange_ReportsEveryMutationInOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	var changes []Change
	l := New(Config{
		SessionID:    uuid.New(),
		Number:       1,
		Participants: []string{"s1", "s2"},
		Mode:         models.DisputeModeOpen,
	}, Deps{Clock: clock, Rand: SeededRand(42), OnChange: func(c Change) {
		changes = append(changes, c)
	}})

	mustStart(t, l)
	advance(l, clock, 1)
	bid := mustBid(t, l, "s1", "100")
	_, _, err := l.SubmitBid("s2", dec("100"))
	check.True(t, errors.Is(err, ErrNotImprovement))
	_, _, err = l.CancelBid(bid.ID, "s1")
	assert.NoError(t, err)

	assert.Equal(t, 4, len(changes))
	check.Equal(t, []events.EventType{events.EventTypeLotOpened}, eventTypes(changes[0].Events))
	check.True(t, changes[1].Tick)
	check.Equal(t, 0, len(changes[1].Events))
	assert.NotNil(t, changes[2].Bid)
	check.Equal(t, bid.ID, changes[2].Bid.ID)
	check.Equal(t, models.LotStatusOpen, changes[2].State.Status)
	assert.NotNil(t, changes[3].Cancelled)
	check.Equal(t, bid.ID, changes[3].Cancelled.ID)
	check.NotNil(t, changes[3].Cancelled.CancelledAt)

	for i, c := range changes {
		check.Equal(t, int64(i+1), c.State.Version)
	}
	check.Equal(t, int64(4), l.Snapshot().Version)

	// a restored lot keeps counting from the persisted version
	restored := Restore(l.Snapshot(), nil, Deps{Clock: clock, Rand: SeededRand(42)})
	advance(restored, clock, 1)
	check.Equal(t, int64(5), restored.Snapshot().Version)
}
