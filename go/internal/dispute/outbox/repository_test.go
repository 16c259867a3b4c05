package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/mcdev12/pregao/go/internal/dispute/events"
	"github.com/mcdev12/pregao/go/internal/dispute/repository"
	"github.com/mcdev12/pregao/go/internal/pgtest"
)

func TestRepository_NotifyWakesRelay(t *testing.T) {
	dsn := pgtest.DSN(t)
	assert.NoError(t, repository.Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := repository.NewPool(ctx, dsn, 2)
	assert.NoError(t, err)
	defer pool.Close()

	store := NewRepository(pool)
	sessionEvent := events.New(events.EventTypeModeChanged, uuid.New(), uuid.Nil, time.Now().UTC(),
		events.ModeChangedPayload{From: "open", To: "closed"})
	assert.NoError(t, NewEmitter(store).Emit(ctx, sessionEvent))

	row, err := store.FetchByID(ctx, sessionEvent.ID)
	assert.NoError(t, err)
	check.Equal(t, uuid.Nil, row.LotID)
	check.Nil(t, row.SentAt)

	pub := newFlakyPublisher(0)
	relay := NewRelay(store, pub, DefaultRelayConfig())
	cfg := DefaultListenerConfig()
	cfg.DatabaseURL = dsn
	listener, err := NewListener(relay, cfg)
	assert.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- listener.Start(runCtx) }()

	// picked up by the startup drain or the notification, whichever is first
	lotEvent := sampleEvent()
	assert.NoError(t, NewEmitter(store).Emit(ctx, lotEvent))

	deadline := time.Now().Add(10 * time.Second)
	for {
		n, err := store.CountUnsent(ctx)
		assert.NoError(t, err)
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d outbox rows still unsent", n)
		}
		time.Sleep(50 * time.Millisecond)
	}

	stop()
	check.NoError(t, <-done)

	row, err = store.FetchByID(ctx, lotEvent.ID)
	assert.NoError(t, err)
	check.NotNil(t, row.SentAt)
	check.Equal(t, lotEvent.LotID, row.LotID)

	_, err = store.FetchByID(ctx, uuid.New())
	check.Equal(t, ErrEventNotFound, err)
}
