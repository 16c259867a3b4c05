package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pregao/go/internal/dispute/events"
)

// Emitter writes engine events to the outbox. The relay publishes them.
type Emitter struct {
	store Store
}

var _ events.Emitter = (*Emitter)(nil)

func NewEmitter(store Store) *Emitter {
	return &Emitter{store: store}
}

func (e *Emitter) Emit(ctx context.Context, ev events.Event) error {
	payload, err := ev.MarshalPayload()
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.Type, err)
	}
	if err := validateEventPayload(payload); err != nil {
		return fmt.Errorf("invalid %s payload: %w", ev.Type, err)
	}

	row := OutboxEvent{
		ID:         ev.ID,
		SessionID:  ev.SessionID,
		LotID:      ev.LotID,
		EventType:  string(ev.Type),
		Sealed:     ev.Sealed,
		Payload:    payload,
		OccurredAt: ev.OccurredAt,
	}
	if err := e.store.Insert(ctx, row); err != nil {
		return err
	}

	log.Debug().
		Str("event_id", ev.ID.String()).
		Str("event_type", string(ev.Type)).
		Str("lot_id", ev.LotID.String()).
		Msg("event written to outbox")
	return nil
}

// validateEventPayload ensures the payload is a JSON object.
func validateEventPayload(payload []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if obj == nil {
		return fmt.Errorf("payload is null")
	}
	return nil
}
