package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one row of dispute_outbox. LotID is uuid.Nil for
// session-level events.
type OutboxEvent struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	LotID      uuid.UUID
	EventType  string
	Sealed     bool
	Payload    json.RawMessage
	OccurredAt time.Time
	CreatedAt  time.Time
	SentAt     *time.Time
}

// Envelope is the message body handed to the broker.
type Envelope struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	SessionID  string          `json:"sessionId"`
	LotID      string          `json:"lotId,omitempty"`
	Sealed     bool            `json:"sealed"`
	OccurredAt time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
}

func (e OutboxEvent) Envelope() Envelope {
	env := Envelope{
		EventID:    e.ID.String(),
		EventType:  e.EventType,
		SessionID:  e.SessionID.String(),
		Sealed:     e.Sealed,
		OccurredAt: e.OccurredAt.UTC(),
		Payload:    e.Payload,
	}
	if e.LotID != uuid.Nil {
		env.LotID = e.LotID.String()
	}
	return env
}

// PartitionKey orders a lot's events on partitioned brokers. Session-level
// events are keyed by the session.
func (e OutboxEvent) PartitionKey() string {
	if e.LotID != uuid.Nil {
		return e.LotID.String()
	}
	return e.SessionID.String()
}
