package lot

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/shopspring/decimal"
)

// Config describes a lot at creation time.
type Config struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	Number       int
	Participants []string
	Mode         models.DisputeMode
}

// Deps are the collaborators shared by all lots of a coordinator.
type Deps struct {
	Clock   clockwork.Clock
	Policy  Policy
	Rand    RandSource
	Receipt func() string
	// OnChange, if set, is called after every successful mutation while the
	// lot mutex is still held, so calls for one lot arrive in the order the
	// lot applied them. It must not block or call back into the lot.
	OnChange func(Change)
}

// Change describes one applied mutation of a lot.
type Change struct {
	State     models.LotState
	Events    []events.Event
	Bid       *models.Bid // accepted by SubmitBid
	Cancelled *models.Bid // withdrawn by CancelBid
	Tick      bool        // countdown moved without raising events
}

func (d Deps) withDefaults() Deps {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Policy == (Policy{}) {
		d.Policy = DefaultPolicy()
	}
	if d.Rand == nil {
		d.Rand = CryptoRand()
	}
	if d.Receipt == nil {
		gen, err := ReceiptGenerator()
		if err != nil {
			gen = func() string { return uuid.NewString()[:12] }
		}
		d.Receipt = gen
	}
	return d
}

// Lot is the state machine of one disputed lot. Every exported method holds the
// lot mutex for its whole duration, so commands and ticks on the same lot never
// interleave. Commands return the events they raised; a rejected command
// mutates nothing.
type Lot struct {
	mu   sync.Mutex
	deps Deps

	id           uuid.UUID
	sessionID    uuid.UUID
	number       int
	participants map[string]struct{}
	roster       []string

	mode   models.DisputeMode
	status models.LotStatus
	timer  timer
	ledger *Ledger

	tiebreak *tiebreakRound
	// shortlist restricts bidding to a subset of participants: the top-N of a
	// closed_open sealed phase, or the suppliers allowed a final offer in
	// open_closed. nil means no restriction.
	shortlist      map[string]struct{}
	shortlistOrder []string

	winner         *models.Bid
	hiddenDuration *int
	openedAt       *time.Time
	finishedAt     *time.Time
	updatedAt      time.Time
	version        int64
}

// New creates a lot in the Waiting status.
func New(cfg Config, deps Deps) *Lot {
	deps = deps.withDefaults()
	l := &Lot{
		deps:      deps,
		id:        cfg.ID,
		sessionID: cfg.SessionID,
		number:    cfg.Number,
		mode:      cfg.Mode,
		status:    models.LotStatusWaiting,
		timer:     timer{models.TimerState{Mode: cfg.Mode}},
		ledger:    NewLedger(),
		updatedAt: deps.Clock.Now(),
	}
	if l.id == uuid.Nil {
		l.id = uuid.New()
	}
	l.setParticipants(cfg.Participants)
	return l
}

func (l *Lot) setParticipants(ids []string) {
	l.participants = make(map[string]struct{}, len(ids))
	l.roster = l.roster[:0]
	for _, id := range ids {
		if _, dup := l.participants[id]; dup {
			continue
		}
		l.participants[id] = struct{}{}
		l.roster = append(l.roster, id)
	}
}

func (l *Lot) ID() uuid.UUID {
	return l.id
}

func (l *Lot) SessionID() uuid.UUID {
	return l.sessionID
}

func (l *Lot) Number() int {
	return l.number
}

// Status returns the current lifecycle status.
func (l *Lot) Status() models.LotStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Mode returns the dispute mode the lot runs (or will run) under.
func (l *Lot) Mode() models.DisputeMode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// IsParticipant reports whether the supplier may bid on this lot.
func (l *Lot) IsParticipant(supplierID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.participants[supplierID]
	return ok
}

// SetMode changes the mode of a lot that has not started yet. Running and
// finished lots keep the mode they were started with.
func (l *Lot) SetMode(mode models.DisputeMode) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status != models.LotStatusWaiting {
		return reject(ErrInvalidTransition, "lot %d already started", l.number)
	}
	l.mode = mode
	l.timer.Mode = mode
	l.version++
	return nil
}

// Start opens a waiting lot and initializes its timer for the lot's mode.
func (l *Lot) Start() (evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			l.changed(Change{Events: evs})
		}
	}()

	if l.status != models.LotStatusWaiting {
		return nil, reject(ErrInvalidTransition, "lot %d is %s", l.number, l.status)
	}

	now := l.deps.Clock.Now()
	t, drawn := initialTimer(l.mode, l.deps.Policy, l.deps.Rand)
	l.timer = t
	if l.mode == models.DisputeModeRandom {
		l.hiddenDuration = &drawn
	}
	l.status = models.LotStatusOpen
	l.openedAt = &now
	l.touch(now)

	return []events.Event{l.openedEvent(now, false)}, nil
}

// SubmitBid validates and records a bid. Role checks are done by the caller.
func (l *Lot) SubmitBid(supplierID string, value decimal.Decimal) (bid models.Bid, evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			accepted := bid
			l.changed(Change{Events: evs, Bid: &accepted})
		}
	}()

	now := l.deps.Clock.Now()
	switch l.status {
	case models.LotStatusOpen:
	case models.LotStatusTiebreak:
		return l.submitTiebreakBid(now, supplierID, value)
	default:
		return models.Bid{}, nil, reject(ErrNotOpen, "lot %d is %s", l.number, l.status)
	}

	if _, ok := l.participants[supplierID]; !ok {
		return models.Bid{}, nil, reject(ErrNotParticipant, "supplier %s is not a participant of lot %d", supplierID, l.number)
	}
	if err := validateValue(value); err != nil {
		return models.Bid{}, nil, err
	}

	sealed := l.timer.Phase == models.TimerPhaseClosed
	switch {
	case sealed && l.mode == models.DisputeModeOpenClosed:
		// final offers after the open phase
		if !l.inShortlist(supplierID) {
			return models.Bid{}, nil, reject(ErrNotParticipant, "supplier is not eligible for a final offer")
		}
		if l.ledger.HasSealedOffer(supplierID) {
			return models.Bid{}, nil, reject(ErrDuplicateOffer, "final offer already submitted")
		}
		if own, ok := l.ledger.BestBySupplier(supplierID); ok && !value.LessThan(own.Value) {
			return models.Bid{}, nil, &RejectionError{
				Err:       ErrNotImprovement,
				Reason:    "final offer must beat your own best bid",
				BestValue: decimal.NewNullDecimal(own.Value),
			}
		}
	case sealed:
		if l.ledger.HasSealedOffer(supplierID) {
			return models.Bid{}, nil, reject(ErrDuplicateOffer, "sealed offer already submitted")
		}
	default:
		if !l.inShortlist(supplierID) {
			return models.Bid{}, nil, reject(ErrNotParticipant, "supplier was not shortlisted for the open phase")
		}
		if !l.ledger.IsImprovement(value) {
			return models.Bid{}, nil, l.notImprovement()
		}
	}

	bid = l.accept(now, supplierID, value, sealed)
	if l.timer.Phase == models.TimerPhaseExtension && l.timer.Running {
		l.timer.RemainingSeconds = l.deps.Policy.ExtensionSeconds
	}
	return bid, []events.Event{l.bidAcceptedEvent(now, bid, false)}, nil
}

// CancelBid withdraws a bid inside its cancellation window.
func (l *Lot) CancelBid(bidID uuid.UUID, requesterID string) (withdrawn models.Bid, evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			cancelled := withdrawn
			l.changed(Change{Events: evs, Cancelled: &cancelled})
		}
	}()

	now := l.deps.Clock.Now()
	bid, ok := l.ledger.Get(bidID)
	if !ok {
		return models.Bid{}, nil, reject(ErrBidNotFound, "bid %s", bidID)
	}
	if bid.SupplierID != requesterID {
		return models.Bid{}, nil, reject(ErrForbidden, "only the submitter may cancel a bid")
	}
	if !now.Before(bid.CancellableUntil) {
		return models.Bid{}, nil, reject(ErrWindowExpired, "bid became irrevocable at %s", bid.CancellableUntil.Format(time.RFC3339))
	}
	if l.status != models.LotStatusOpen {
		return models.Bid{}, nil, reject(ErrInvalidTransition, "lot %d is %s", l.number, l.status)
	}
	if bid.Status == models.BidStatusCancelled || bid.Round != l.ledger.Round() {
		return models.Bid{}, nil, reject(ErrInvalidTransition, "bid is no longer active")
	}

	cancelled, _ := l.ledger.Cancel(bidID, now)
	l.touch(now)

	payload := events.BidCancelledPayload{
		BidID:       cancelled.ID,
		SupplierID:  cancelled.SupplierID,
		CancelledAt: now,
	}
	if l.timer.Phase != models.TimerPhaseClosed {
		if leader, ok := l.ledger.BestActive(); ok {
			payload.LeaderID = leader.SupplierID
			payload.LeaderValue = decimal.NewNullDecimal(leader.Value)
		}
	}
	ev := l.event(events.EventTypeBidCancelled, now, payload)
	ev.Sealed = cancelled.Sealed
	return cancelled, []events.Event{ev}, nil
}

// Finalize ends the dispute on auctioneer request. A tie at the best value
// opens a tie-break round instead of finishing the lot.
func (l *Lot) Finalize() (evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			l.changed(Change{Events: evs})
		}
	}()

	now := l.deps.Clock.Now()
	switch l.status {
	case models.LotStatusOpen:
		return l.finish(now, events.FinalizedByAuctioneer), nil
	case models.LotStatusTiebreak:
		return l.resolveTiebreak(now, l.tiebreak.earliest(), events.ResolvedByAuctioneer), nil
	default:
		return nil, reject(ErrInvalidTransition, "lot %d is %s", l.number, l.status)
	}
}

// Restart re-opens a finished open_restart lot for a fresh round.
func (l *Lot) Restart() (evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			l.changed(Change{Events: evs})
		}
	}()

	if l.mode != models.DisputeModeOpenRestart {
		return nil, reject(ErrModeNotSupported, "restart requires %s mode, lot runs %s", models.DisputeModeOpenRestart, l.mode)
	}
	if l.status != models.LotStatusFinished {
		return nil, reject(ErrInvalidTransition, "lot %d is %s", l.number, l.status)
	}

	now := l.deps.Clock.Now()
	round := l.ledger.NextRound()
	l.winner = nil
	l.tiebreak = nil
	l.clearShortlist()
	l.timer = runningTimer(models.TimerPhaseInitial, l.deps.Policy.InitialSeconds, l.mode)
	l.status = models.LotStatusOpen
	l.openedAt = &now
	l.finishedAt = nil
	l.touch(now)

	return []events.Event{
		l.event(events.EventTypeLotRestarted, now, events.LotRestartedPayload{Round: round, RestartedAt: now}),
		l.openedEvent(now, true),
	}, nil
}

// AdvancePhase opens the sealed envelopes of a closed_open lot: the top-N
// suppliers move on to an open phase.
func (l *Lot) AdvancePhase() (evs []events.Event, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err == nil {
			l.changed(Change{Events: evs})
		}
	}()

	if l.mode != models.DisputeModeClosedOpen {
		return nil, reject(ErrModeNotSupported, "lot runs %s mode", l.mode)
	}
	if l.status != models.LotStatusOpen || l.timer.Phase != models.TimerPhaseClosed {
		return nil, reject(ErrInvalidTransition, "lot %d has no sealed phase to close", l.number)
	}

	now := l.deps.Clock.Now()
	ranked := l.ledger.Rank()
	shortlist := topSuppliers(ranked, l.deps.Policy.ShortlistSize)
	evs = []events.Event{l.event(events.EventTypeEnvelopesOpened, now, events.EnvelopesOpenedPayload{
		Shortlist: shortlist,
		Offers:    len(ranked),
	})}
	if len(shortlist) == 0 {
		return append(evs, l.finish(now, events.FinalizedByAuctioneer)...), nil
	}

	l.setShortlist(shortlist)
	l.timer = runningTimer(models.TimerPhaseInitial, l.deps.Policy.InitialSeconds, l.mode)
	l.touch(now)
	return append(evs, l.event(events.EventTypePhaseChanged, now, events.PhaseChangedPayload{
		From:             models.TimerPhaseClosed,
		To:               models.TimerPhaseInitial,
		RemainingSeconds: l.timer.visibleRemaining(),
		Eligible:         shortlist,
	})), nil
}

// Tick advances the lot's countdown by one second.
func (l *Lot) Tick() (evs []events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	moved := false
	defer func() {
		if moved {
			l.changed(Change{Events: evs, Tick: len(evs) == 0})
		}
	}()

	now := l.deps.Clock.Now()
	switch l.status {
	case models.LotStatusOpen:
		moved = l.timer.Running
		if !l.timer.tick() {
			return nil
		}
		return l.expire(now)
	case models.LotStatusTiebreak:
		moved = l.tiebreak.timer.Running
		if !l.tiebreak.timer.tick() {
			return nil
		}
		return l.resolveTiebreak(now, l.tiebreak.earliest(), events.ResolvedByTimeout)
	}
	return nil
}

// Ticking reports whether the lot currently has a running countdown.
func (l *Lot) Ticking() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.status {
	case models.LotStatusOpen:
		return l.timer.Running
	case models.LotStatusTiebreak:
		return l.tiebreak.timer.Running
	}
	return false
}

func (l *Lot) expire(now time.Time) []events.Event {
	switch l.timer.Phase {
	case models.TimerPhaseInitial:
		if !hasExtension(l.mode) {
			return l.finish(now, events.FinalizedByTimeout)
		}
		l.timer = runningTimer(models.TimerPhaseExtension, l.deps.Policy.ExtensionSeconds, l.mode)
		l.touch(now)
		return []events.Event{l.event(events.EventTypePhaseChanged, now, events.PhaseChangedPayload{
			From:             models.TimerPhaseInitial,
			To:               models.TimerPhaseExtension,
			RemainingSeconds: l.timer.visibleRemaining(),
		})}
	case models.TimerPhaseExtension:
		if l.mode == models.DisputeModeOpenClosed {
			return l.enterFinalOffers(now)
		}
		return l.finish(now, events.FinalizedByTimeout)
	default:
		return l.finish(now, events.FinalizedByTimeout)
	}
}

// enterFinalOffers closes the open phase of an open_closed lot. Suppliers whose
// best bid lies within the margin of the leader may send one sealed offer.
func (l *Lot) enterFinalOffers(now time.Time) []events.Event {
	leader, ok := l.ledger.BestActive()
	if !ok {
		return l.finish(now, events.FinalizedByTimeout)
	}
	limit := leader.Value.Mul(decimal.NewFromInt(1).Add(l.deps.Policy.FinalOfferMargin))

	var eligible []string
	seen := make(map[string]struct{})
	for _, b := range l.ledger.Rank() {
		if _, ok := seen[b.SupplierID]; ok {
			continue
		}
		seen[b.SupplierID] = struct{}{}
		if b.Value.LessThanOrEqual(limit) {
			eligible = append(eligible, b.SupplierID)
		}
	}

	l.setShortlist(eligible)
	l.timer = sealedTimer(l.mode)
	l.touch(now)
	return []events.Event{l.event(events.EventTypePhaseChanged, now, events.PhaseChangedPayload{
		From:     models.TimerPhaseExtension,
		To:       models.TimerPhaseClosed,
		Eligible: eligible,
	})}
}

// finish stops the countdown and either opens a tie-break or closes the lot.
func (l *Lot) finish(now time.Time, reason string) []events.Event {
	l.timer.stop()
	if value, tied := l.ledger.Tied(); len(tied) > 0 {
		return []events.Event{l.startTiebreak(now, value, tied)}
	}
	var winner *models.Bid
	if best, ok := l.ledger.BestActive(); ok {
		winner = &best
	}
	return []events.Event{l.close(now, winner, reason)}
}

func (l *Lot) close(now time.Time, winner *models.Bid, reason string) events.Event {
	l.status = models.LotStatusFinished
	l.winner = winner
	l.finishedAt = &now
	l.touch(now)

	payload := events.LotFinalizedPayload{
		Reason:            reason,
		FinishedAt:        now,
		HiddenDurationSec: l.hiddenDuration,
	}
	if winner != nil {
		id := winner.ID
		payload.WinnerID = winner.SupplierID
		payload.WinningBidID = &id
		payload.WinningValue = decimal.NewNullDecimal(winner.Value)
	}
	return l.event(events.EventTypeLotFinalized, now, payload)
}

func (l *Lot) accept(now time.Time, supplierID string, value decimal.Decimal, sealed bool) models.Bid {
	l.ledger.CloseWindows(supplierID, now)
	bid := l.ledger.Append(models.Bid{
		ID:               uuid.New(),
		LotID:            l.id,
		SupplierID:       supplierID,
		Value:            value,
		SubmittedAt:      now,
		CancellableUntil: now.Add(l.deps.Policy.CancelWindow),
		Status:           models.BidStatusActive,
		Round:            l.ledger.Round(),
		Sealed:           sealed,
		Receipt:          l.deps.Receipt(),
	})
	l.touch(now)
	return bid
}

func (l *Lot) notImprovement() *RejectionError {
	best, _ := l.ledger.BestActive()
	return &RejectionError{
		Err:       ErrNotImprovement,
		Reason:    "bid must be lower than the current best value",
		BestValue: decimal.NewNullDecimal(best.Value),
	}
}

func (l *Lot) inShortlist(supplierID string) bool {
	if l.shortlist == nil {
		return true
	}
	_, ok := l.shortlist[supplierID]
	return ok
}

func (l *Lot) setShortlist(ids []string) {
	l.shortlist = make(map[string]struct{}, len(ids))
	l.shortlistOrder = append([]string(nil), ids...)
	for _, id := range ids {
		l.shortlist[id] = struct{}{}
	}
}

func (l *Lot) clearShortlist() {
	l.shortlist = nil
	l.shortlistOrder = nil
}

// changed bumps the version and reports the mutation. Callers hold l.mu.
func (l *Lot) changed(c Change) {
	l.version++
	if l.deps.OnChange == nil {
		return
	}
	c.State = l.snapshot()
	l.deps.OnChange(c)
}

func (l *Lot) touch(now time.Time) {
	l.updatedAt = now
}

func (l *Lot) event(typ events.EventType, now time.Time, payload any) events.Event {
	return events.New(typ, l.sessionID, l.id, now, payload)
}

func (l *Lot) openedEvent(now time.Time, restarted bool) events.Event {
	return l.event(events.EventTypeLotOpened, now, events.LotOpenedPayload{
		LotNumber:        l.number,
		Mode:             l.mode,
		Phase:            l.timer.Phase,
		RemainingSeconds: l.timer.visibleRemaining(),
		Round:            l.ledger.Round(),
		Restarted:        restarted,
		OpenedAt:         now,
	})
}

func (l *Lot) bidAcceptedEvent(now time.Time, bid models.Bid, tiebreak bool) events.Event {
	remaining := l.timer.visibleRemaining()
	if tiebreak {
		remaining = nil
	}
	ev := l.event(events.EventTypeBidAccepted, now, events.BidAcceptedPayload{
		BidID:            bid.ID,
		SupplierID:       bid.SupplierID,
		Value:            bid.Value,
		SubmittedAt:      bid.SubmittedAt,
		CancellableUntil: bid.CancellableUntil,
		Phase:            l.timer.Phase,
		RemainingSeconds: remaining,
		Tiebreak:         tiebreak,
	})
	ev.Sealed = bid.Sealed
	return ev
}

// validateValue accepts positive amounts with at most four decimal places.
func validateValue(value decimal.Decimal) error {
	if !value.IsPositive() {
		return reject(ErrInvalidValue, "value must be positive")
	}
	if !value.Equal(value.Round(4)) {
		return reject(ErrInvalidValue, "value has more than 4 decimal places")
	}
	return nil
}

// topSuppliers returns the best n distinct suppliers of a ranking. Suppliers
// tied with the n-th value are kept as well.
func topSuppliers(ranked []models.Bid, n int) []string {
	var (
		out    []string
		cutoff decimal.Decimal
	)
	seen := make(map[string]struct{})
	for _, b := range ranked {
		if _, ok := seen[b.SupplierID]; ok {
			continue
		}
		if len(out) >= n && !b.Value.Equal(cutoff) {
			break
		}
		seen[b.SupplierID] = struct{}{}
		out = append(out, b.SupplierID)
		cutoff = b.Value
	}
	return out
}
