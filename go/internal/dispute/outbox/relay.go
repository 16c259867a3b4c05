package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	BatchSize  int // Max events to fetch per fallback poll
	MaxRetries int
	RetryDelay time.Duration // grows linearly with the attempt number
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:  100,
		MaxRetries: 5,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Relay moves outbox rows to the broker and marks them sent.
type Relay struct {
	store     Store
	publisher Publisher
	metrics   MetricsCollector
	clock     clockwork.Clock
	cfg       RelayConfig

	processed atomic.Uint64
	lastEvent atomic.Int64 // unix nanos
}

type RelayOption func(*Relay)

func WithRelayMetrics(m MetricsCollector) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

func WithRelayClock(c clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = c }
}

func NewRelay(store Store, publisher Publisher, cfg RelayConfig, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		metrics:   NoOpMetricsCollector{},
		clock:     clockwork.NewRealClock(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats returns how many events were published and when the last one was.
func (r *Relay) Stats() (uint64, time.Time) {
	var last time.Time
	if n := r.lastEvent.Load(); n != 0 {
		last = time.Unix(0, n).UTC()
	}
	return r.processed.Load(), last
}

// HandleNotification publishes the row named by a NOTIFY payload.
func (r *Relay) HandleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := r.store.FetchByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	if event.SentAt != nil {
		log.Debug().Str("event_id", id.String()).Msg("outbox event already sent")
		return nil
	}
	return r.deliver(ctx, event)
}

// ProcessUnsent drains one batch of rows the notifications missed and reports
// how many were delivered.
func (r *Relay) ProcessUnsent(ctx context.Context) (int, error) {
	start := r.clock.Now()
	unsent, err := r.store.FetchUnsent(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	delivered := 0
	var errs []error
	for _, event := range unsent {
		if err := r.deliver(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to deliver outbox event")
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		delivered++
	}
	r.metrics.RecordBatchProcessed(len(unsent), r.clock.Since(start))

	if pending, err := r.store.CountUnsent(ctx); err == nil {
		r.metrics.RecordOutboxLag(pending)
	}

	if len(unsent) > 0 {
		log.Info().
			Int("fetched", len(unsent)).
			Int("delivered", delivered).
			Int("errors", len(errs)).
			Msg("processed unsent outbox events")
	}
	return delivered, errors.Join(errs...)
}

func (r *Relay) deliver(ctx context.Context, event OutboxEvent) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		return err
	}
	if err := r.store.MarkSent(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark outbox event %s as sent: %w", event.ID, err)
	}
	r.processed.Add(1)
	r.lastEvent.Store(r.clock.Now().UnixNano())
	log.Debug().Str("event_id", event.ID.String()).Str("event_type", event.EventType).Msg("published and marked event as sent")
	return nil
}

// publishWithRetry tries MaxRetries+1 times, waiting RetryDelay*attempt
// between attempts.
func (r *Relay) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		err := r.publisher.Publish(ctx, event)
		r.metrics.RecordPublishAttempt(event.EventType, attempt+1, err == nil)
		if err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}
	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
