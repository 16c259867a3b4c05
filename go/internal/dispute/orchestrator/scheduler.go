package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// LotTicker is what the scheduler drives: the set of lots with a running
// countdown and a way to advance one of them by a tick.
type LotTicker interface {
	ActiveLots() []uuid.UUID
	TickLot(ctx context.Context, lotID uuid.UUID)
}

// Metrics records scheduler activity.
type Metrics interface {
	TickDispatched(lots int)
	TickCoalesced()
}

type noOpMetrics struct{}

func (noOpMetrics) TickDispatched(int) {}
func (noOpMetrics) TickCoalesced()     {}

// Scheduler is the single logical clock loop. Once per interval it fans a
// tick out to every active lot through a worker pool. Ticks for the same lot
// never run concurrently: a tick arriving while the previous one is still in
// flight is queued behind it instead of being dropped.
type Scheduler struct {
	lots       LotTicker
	clock      clockwork.Clock
	interval   time.Duration
	instanceID string
	metrics    Metrics

	numWorkers int
	workCh     chan uuid.UUID

	// pending ticks per lot, including the one being processed
	inFlight   map[uuid.UUID]int
	inFlightMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler with the given worker pool size.
func NewScheduler(lots LotTicker, numWorkers int, opts ...Option) *Scheduler {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	s := &Scheduler{
		lots:       lots,
		clock:      clockwork.NewRealClock(),
		interval:   time.Second,
		instanceID: uuid.New().String()[:8],
		metrics:    noOpMetrics{},
		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2),
		inFlight:   make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.numWorkers).
		Dur("interval", s.interval).
		Msg("lot scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	ticker := s.clock.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		cancelWorkers()
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("lot scheduler stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			active := s.lots.ActiveLots()
			s.metrics.TickDispatched(len(active))
			for _, id := range active {
				if !s.enqueue(ctx, id) {
					return nil
				}
			}
		}
	}
}

// enqueue hands a tick to the pool, or records it behind the tick already in
// flight for the same lot. It reports false when ctx was cancelled.
func (s *Scheduler) enqueue(ctx context.Context, lotID uuid.UUID) bool {
	s.inFlightMu.Lock()
	if n, busy := s.inFlight[lotID]; busy {
		s.inFlight[lotID] = n + 1
		s.inFlightMu.Unlock()
		s.metrics.TickCoalesced()
		log.Debug().Str("lot_id", lotID.String()).Int("pending", n+1).Msg("lot tick still in flight, queued behind it")
		return true
	}
	s.inFlight[lotID] = 1
	s.inFlightMu.Unlock()

	select {
	case s.workCh <- lotID:
		return true
	case <-ctx.Done():
		return false
	}
}

// done marks one tick of the lot as processed and reports whether another
// one is waiting.
func (s *Scheduler) done(lotID uuid.UUID) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	n := s.inFlight[lotID] - 1
	if n <= 0 {
		delete(s.inFlight, lotID)
		return false
	}
	s.inFlight[lotID] = n
	return true
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Debug().
		Str("instance", s.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("instance", s.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case lotID := <-s.workCh:
			for {
				s.lots.TickLot(ctx, lotID)
				if !s.done(lotID) {
					break
				}
			}
		}
	}
}
