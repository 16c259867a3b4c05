package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/lot"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// SubmitBid places a supplier bid on a lot.
func (c *Coordinator) SubmitBid(ctx context.Context, userID string, lotID uuid.UUID, value decimal.Decimal) (models.Bid, error) {
	start := c.clock.Now()
	if _, err := c.requireRole(ctx, userID, models.RoleSupplier); err != nil {
		return models.Bid{}, err
	}
	l, _, err := c.lot(lotID)
	if err != nil {
		return models.Bid{}, err
	}

	if st := l.Status(); st != models.LotStatusOpen && st != models.LotStatusTiebreak {
		err := &lot.RejectionError{Err: lot.ErrNotOpen, Reason: "lot is " + string(st)}
		c.observe("submit_bid", start, err)
		return models.Bid{}, err
	}
	ok, err := c.auth.IsParticipant(ctx, lotID, userID)
	if err != nil {
		log.Warn().Err(err).Str("lot_id", lotID.String()).Str("supplier_id", userID).Msg("participant lookup failed")
	}
	if !ok {
		err := &lot.RejectionError{Err: lot.ErrNotParticipant, Reason: "supplier is not registered for this lot"}
		c.observe("submit_bid", start, err)
		return models.Bid{}, err
	}

	bid, _, err := l.SubmitBid(userID, value)
	c.observe("submit_bid", start, err)
	if err != nil {
		return models.Bid{}, err
	}
	c.metrics.BidAccepted(l.Mode())

	log.Info().
		Str("lot_id", lotID.String()).
		Str("bid_id", bid.ID.String()).
		Str("supplier_id", userID).
		Str("value", bid.Value.String()).
		Bool("sealed", bid.Sealed).
		Msg("bid accepted")
	return bid, nil
}

// CancelBid withdraws the caller's own bid inside its cancellation window.
func (c *Coordinator) CancelBid(ctx context.Context, userID string, lotID, bidID uuid.UUID) (models.Bid, error) {
	start := c.clock.Now()
	if _, err := c.requireRole(ctx, userID); err != nil {
		return models.Bid{}, err
	}
	l, _, err := c.lot(lotID)
	if err != nil {
		return models.Bid{}, err
	}

	bid, _, err := l.CancelBid(bidID, userID)
	c.observe("cancel_bid", start, err)
	if err != nil {
		return models.Bid{}, err
	}

	log.Info().
		Str("lot_id", lotID.String()).
		Str("bid_id", bidID.String()).
		Str("supplier_id", userID).
		Msg("bid cancelled")
	return bid, nil
}

// FinalizeLot ends a lot on auctioneer request.
func (c *Coordinator) FinalizeLot(ctx context.Context, userID string, lotID uuid.UUID) error {
	return c.auctioneerCommand(ctx, "finalize_lot", userID, lotID, (*lot.Lot).Finalize)
}

// RestartLot re-opens a finished open_restart lot.
func (c *Coordinator) RestartLot(ctx context.Context, userID string, lotID uuid.UUID) error {
	return c.auctioneerCommand(ctx, "restart_lot", userID, lotID, (*lot.Lot).Restart)
}

// AdvancePhase opens the sealed envelopes of a closed_open lot.
func (c *Coordinator) AdvancePhase(ctx context.Context, userID string, lotID uuid.UUID) error {
	return c.auctioneerCommand(ctx, "advance_phase", userID, lotID, (*lot.Lot).AdvancePhase)
}

func (c *Coordinator) auctioneerCommand(ctx context.Context, name, userID string, lotID uuid.UUID, cmd func(*lot.Lot) ([]events.Event, error)) error {
	start := c.clock.Now()
	if _, err := c.requireRole(ctx, userID, models.RoleAuctioneer); err != nil {
		return err
	}
	l, s, err := c.lot(lotID)
	if err != nil {
		return err
	}

	// ChangeMode checks lot statuses under the session lock.
	s.mu.Lock()
	_, err = cmd(l)
	s.mu.Unlock()
	c.observe(name, start, err)
	if err != nil {
		return err
	}

	log.Info().
		Str("lot_id", lotID.String()).
		Str("command", name).
		Str("status", string(l.Status())).
		Msg("auctioneer command applied")
	return nil
}

// ActiveLots returns the lots with a running countdown.
func (c *Coordinator) ActiveLots() []uuid.UUID {
	c.mu.RLock()
	lots := make([]*lot.Lot, 0, len(c.lots))
	for _, l := range c.lots {
		lots = append(lots, l)
	}
	c.mu.RUnlock()

	var out []uuid.UUID
	for _, l := range lots {
		if l.Ticking() {
			out = append(out, l.ID())
		}
	}
	return out
}

// TickLot advances one lot's countdown by a second. Whatever transition it
// causes is dispatched through record.
func (c *Coordinator) TickLot(ctx context.Context, lotID uuid.UUID) {
	l, _, err := c.lot(lotID)
	if err != nil {
		return
	}
	l.Tick()
}

// record queues the side effects of one lot mutation. Lots call it with their
// mutex held, so the queue sees each lot's changes in the order they happened.
func (c *Coordinator) record(ch lot.Change) {
	state := ch.State
	if ch.Bid != nil {
		bid := *ch.Bid
		c.dispatcher.Submit(Job{Kind: "append_bid", LotID: state.ID, Run: func(ctx context.Context) error {
			return c.repo.AppendBid(ctx, bid)
		}})
	}
	if ch.Cancelled != nil && ch.Cancelled.CancelledAt != nil {
		id, at := ch.Cancelled.ID, *ch.Cancelled.CancelledAt
		c.dispatcher.Submit(Job{Kind: "mark_bid_cancelled", LotID: state.ID, Run: func(ctx context.Context) error {
			return c.repo.MarkBidCancelled(ctx, id, at)
		}})
	}
	if ch.Tick && (!state.Timer.Running || state.Timer.RemainingSeconds%checkpointEvery != 0) {
		return
	}

	c.dispatcher.Submit(Job{Kind: "save_lot_state", LotID: state.ID, Run: func(ctx context.Context) error {
		return c.repo.SaveLotState(ctx, state)
	}})
	for _, ev := range ch.Events {
		switch ev.Type {
		case events.EventTypeLotFinalized:
			p, _ := ev.Payload.(events.LotFinalizedPayload)
			c.metrics.LotFinalized(state.Timer.Mode, p.WinnerID != "")
			log.Info().
				Str("lot_id", state.ID.String()).
				Str("winner_id", p.WinnerID).
				Str("reason", p.Reason).
				Msg("lot finalized")
		case events.EventTypeTiebreakStarted:
			c.metrics.TiebreakStarted()
			log.Info().Str("lot_id", state.ID.String()).Msg("tie detected, tie-break round started")
		}
	}
	c.emit(state.ID, ch.Events)
}

func (c *Coordinator) emit(lotID uuid.UUID, evs []events.Event) {
	for _, ev := range evs {
		ev := ev
		c.dispatcher.Submit(Job{Kind: "emit_" + string(ev.Type), LotID: lotID, Run: func(ctx context.Context) error {
			return c.emitter.Emit(ctx, ev)
		}})
	}
}

func (c *Coordinator) observe(command string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	}
	c.metrics.CommandHandled(command, outcome, c.clock.Since(start))
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, lot.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, lot.ErrNotOpen):
		return "not_open"
	case errors.Is(err, lot.ErrNotImprovement):
		return "not_improvement"
	case errors.Is(err, lot.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, lot.ErrForbidden):
		return "forbidden"
	case errors.Is(err, lot.ErrWindowExpired):
		return "window_expired"
	case errors.Is(err, lot.ErrModeNotSupported):
		return "mode_not_supported"
	case errors.Is(err, lot.ErrDuplicateOffer):
		return "duplicate_offer"
	case errors.Is(err, lot.ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, lot.ErrBidNotFound):
		return "bid_not_found"
	default:
		return "error"
	}
}
