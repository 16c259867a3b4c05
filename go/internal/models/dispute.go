package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisputeMode defines the auction protocol variant of a dispute session.
type DisputeMode string

const (
	DisputeModeOpen        DisputeMode = "open"
	DisputeModeOpenRestart DisputeMode = "open_restart"
	DisputeModeClosed      DisputeMode = "closed"
	DisputeModeOpenClosed  DisputeMode = "open_closed"
	DisputeModeClosedOpen  DisputeMode = "closed_open"
	DisputeModeRandom      DisputeMode = "random"
)

// Valid reports whether m is one of the known dispute modes.
func (m DisputeMode) Valid() bool {
	switch m {
	case DisputeModeOpen, DisputeModeOpenRestart, DisputeModeClosed,
		DisputeModeOpenClosed, DisputeModeClosedOpen, DisputeModeRandom:
		return true
	}
	return false
}

// LotStatus defines the lifecycle status of a lot.
type LotStatus string

const (
	LotStatusWaiting  LotStatus = "WAITING"
	LotStatusOpen     LotStatus = "OPEN"
	LotStatusTiebreak LotStatus = "TIEBREAK"
	LotStatusFinished LotStatus = "FINISHED"
)

// TimerPhase defines the phase of a lot timer.
type TimerPhase string

const (
	TimerPhaseInitial   TimerPhase = "INITIAL"
	TimerPhaseExtension TimerPhase = "EXTENSION"
	TimerPhaseClosed    TimerPhase = "CLOSED"
	TimerPhaseHidden    TimerPhase = "HIDDEN"
)

// Role is the role a user plays in a dispute room.
type Role string

const (
	RoleAuctioneer Role = "AUCTIONEER"
	RoleSupplier   Role = "SUPPLIER"
	RoleObserver   Role = "OBSERVER"
)

// BidStatus defines the status of a bid.
type BidStatus string

const (
	BidStatusActive    BidStatus = "ACTIVE"
	BidStatusCancelled BidStatus = "CANCELLED"
)

// Bid is a value submitted by one supplier for one lot. Lower values win.
type Bid struct {
	ID               uuid.UUID       `json:"id"`
	LotID            uuid.UUID       `json:"lot_id"`
	SupplierID       string          `json:"supplier_id"`
	Value            decimal.Decimal `json:"value"`
	SubmittedAt      time.Time       `json:"submitted_at"`
	CancellableUntil time.Time       `json:"cancellable_until"`
	Status           BidStatus       `json:"status"`
	Round            int             `json:"round"`
	Sealed           bool            `json:"sealed"`
	Receipt          string          `json:"receipt"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

// TimerState holds a lot's countdown. Running is false when no countdown applies
// (sealed phases, waiting and finished lots).
type TimerState struct {
	Phase            TimerPhase  `json:"phase"`
	RemainingSeconds int         `json:"remaining_seconds"`
	Mode             DisputeMode `json:"mode"`
	Running          bool        `json:"running"`
}

// TiebreakState is the persisted form of an active tie-break round.
type TiebreakState struct {
	TiedSuppliers []string        `json:"tied_suppliers"`
	TiedValue     decimal.Decimal `json:"tied_value"`
	Timer         TimerState      `json:"timer"`
}

// LotState is a point-in-time snapshot of a lot, used for persistence and recovery.
type LotState struct {
	ID           uuid.UUID           `json:"id"`
	SessionID    uuid.UUID           `json:"session_id"`
	Number       int                 `json:"number"`
	Participants []string            `json:"participants"`
	Status       LotStatus           `json:"status"`
	Timer        TimerState          `json:"timer"`
	Round        int                 `json:"round"`
	Shortlist    []string            `json:"shortlist,omitempty"`
	Tiebreak     *TiebreakState      `json:"tiebreak,omitempty"`
	WinnerBidID  *uuid.UUID          `json:"winner_bid_id,omitempty"`
	WinningValue decimal.NullDecimal `json:"winning_value"`
	OpenedAt     *time.Time          `json:"opened_at,omitempty"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
	UpdatedAt    time.Time           `json:"updated_at"`

	// Version grows with every change of the lot. Storage ignores writes
	// older than what it already holds.
	Version int64 `json:"version"`

	// HiddenDurationSec is the drawn duration of a random-mode run. It is
	// persisted for recovery and must never be shown before the lot finishes.
	HiddenDurationSec *int `json:"-"`
}

// DisputeSession is one tender's live auction.
type DisputeSession struct {
	ID        uuid.UUID   `json:"id"`
	TenderID  string      `json:"tender_id"`
	Mode      DisputeMode `json:"mode"`
	Lots      []LotState  `json:"lots"`
	Bids      []Bid       `json:"bids,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
