package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/pregao/go/internal/models"
	"github.com/shopspring/decimal"
)

// Event payload types shared between the engine, the outbox and the gateway

// LotOpenedPayload is the payload for a LotOpened event. RemainingSeconds is
// nil when the phase has no visible countdown.
type LotOpenedPayload struct {
	LotNumber        int                `json:"lot_number"`
	Mode             models.DisputeMode `json:"mode"`
	Phase            models.TimerPhase  `json:"phase"`
	RemainingSeconds *int               `json:"remaining_seconds"`
	Round            int                `json:"round"`
	Restarted        bool               `json:"restarted"`
	OpenedAt         time.Time          `json:"opened_at"`
}

// BidAcceptedPayload is the payload for a BidAccepted event
type BidAcceptedPayload struct {
	BidID            uuid.UUID         `json:"bid_id"`
	SupplierID       string            `json:"supplier_id"`
	Value            decimal.Decimal   `json:"value"`
	SubmittedAt      time.Time         `json:"submitted_at"`
	CancellableUntil time.Time         `json:"cancellable_until"`
	Phase            models.TimerPhase `json:"phase"`
	RemainingSeconds *int              `json:"remaining_seconds"`
	Tiebreak         bool              `json:"tiebreak,omitempty"`
}

// BidCancelledPayload is the payload for a BidCancelled event
type BidCancelledPayload struct {
	BidID       uuid.UUID           `json:"bid_id"`
	SupplierID  string              `json:"supplier_id"`
	CancelledAt time.Time           `json:"cancelled_at"`
	LeaderID    string              `json:"leader_id,omitempty"`
	LeaderValue decimal.NullDecimal `json:"leader_value"`
}

// PhaseChangedPayload is the payload for a PhaseChanged event
type PhaseChangedPayload struct {
	From             models.TimerPhase `json:"from"`
	To               models.TimerPhase `json:"to"`
	RemainingSeconds *int              `json:"remaining_seconds"`
	Eligible         []string          `json:"eligible,omitempty"`
}

// TiebreakStartedPayload is the payload for a TiebreakStarted event
type TiebreakStartedPayload struct {
	TiedSuppliers []string        `json:"tied_suppliers"`
	TiedValue     decimal.Decimal `json:"tied_value"`
	DurationSec   int             `json:"duration_sec"`
}

// Tie-break resolution reasons
const (
	ResolvedByBid        = "bid"
	ResolvedByTimeout    = "timeout"
	ResolvedByAuctioneer = "auctioneer"
)

// TiebreakResolvedPayload is the payload for a TiebreakResolved event
type TiebreakResolvedPayload struct {
	WinnerID     string          `json:"winner_id"`
	WinningBidID uuid.UUID       `json:"winning_bid_id"`
	WinningValue decimal.Decimal `json:"winning_value"`
	Reason       string          `json:"reason"`
}

// Finalization reasons
const (
	FinalizedByTimeout    = "timeout"
	FinalizedByAuctioneer = "auctioneer"
	FinalizedByTiebreak   = "tiebreak"
)

// LotFinalizedPayload is the payload for a LotFinalized event. WinnerID is empty
// when the lot finished without active bids. HiddenDurationSec is only set for
// random-mode lots, once the duration no longer needs to be secret.
type LotFinalizedPayload struct {
	WinnerID          string              `json:"winner_id,omitempty"`
	WinningBidID      *uuid.UUID          `json:"winning_bid_id,omitempty"`
	WinningValue      decimal.NullDecimal `json:"winning_value"`
	Reason            string              `json:"reason"`
	FinishedAt        time.Time           `json:"finished_at"`
	HiddenDurationSec *int                `json:"hidden_duration_sec,omitempty"`
}

// LotRestartedPayload is the payload for a LotRestarted event
type LotRestartedPayload struct {
	Round       int       `json:"round"`
	RestartedAt time.Time `json:"restarted_at"`
}

// EnvelopesOpenedPayload is the payload for an EnvelopesOpened event
type EnvelopesOpenedPayload struct {
	Shortlist []string `json:"shortlist"`
	Offers    int      `json:"offers"`
}

// ModeChangedPayload is the payload for a ModeChanged event
type ModeChangedPayload struct {
	From models.DisputeMode `json:"from"`
	To   models.DisputeMode `json:"to"`
}
