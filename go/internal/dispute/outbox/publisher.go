package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Publisher hands an outbox event to a broker.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}

// LogPublisher only logs events. It backs broker.kind=log for local runs.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, event OutboxEvent) error {
	data, err := encodeEnvelope(event)
	if err != nil {
		return err
	}
	log.Info().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Str("session_id", event.SessionID.String()).
		Int("size", len(data)).
		Msg("publishing event")
	return nil
}

func encodeEnvelope(event OutboxEvent) ([]byte, error) {
	data, err := json.Marshal(event.Envelope())
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}
