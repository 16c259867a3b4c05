package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of dispute event
type EventType string

const (
	EventTypeLotOpened        EventType = "LotOpened"
	EventTypeBidAccepted      EventType = "BidAccepted"
	EventTypeBidCancelled     EventType = "BidCancelled"
	EventTypePhaseChanged     EventType = "PhaseChanged"
	EventTypeTiebreakStarted  EventType = "TiebreakStarted"
	EventTypeTiebreakResolved EventType = "TiebreakResolved"
	EventTypeLotFinalized     EventType = "LotFinalized"
	EventTypeLotRestarted     EventType = "LotRestarted"
	EventTypeEnvelopesOpened  EventType = "EnvelopesOpened"
	EventTypeModeChanged      EventType = "ModeChanged"
)

// Event is a domain event raised by the dispute engine. LotID is uuid.Nil for
// session-wide events. Sealed marks events describing a sealed offer, which
// only the auctioneer and the submitter may see before finalization.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       EventType `json:"type"`
	SessionID  uuid.UUID `json:"session_id"`
	LotID      uuid.UUID `json:"lot_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Sealed     bool      `json:"sealed,omitempty"`
	Payload    any       `json:"payload"`
}

// New builds an event with a fresh ID.
func New(typ EventType, sessionID, lotID uuid.UUID, at time.Time, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       typ,
		SessionID:  sessionID,
		LotID:      lotID,
		OccurredAt: at,
		Payload:    payload,
	}
}

// MarshalPayload returns the JSON encoding of the event payload.
func (e Event) MarshalPayload() ([]byte, error) {
	return json.Marshal(e.Payload)
}

// Emitter receives domain events. Emit must not be relied upon for engine
// correctness: callers log failures and move on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, event Event) error

func (f EmitterFunc) Emit(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Multi fans an event out to every emitter, joining their errors.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
