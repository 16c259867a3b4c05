package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const drainTimeout = 5 * time.Second

// Job is a side effect of a command: a repository write or an event emission.
type Job struct {
	Kind  string
	LotID uuid.UUID
	Run   func(ctx context.Context) error
}

// Dispatcher runs jobs in submission order on a single worker so that
// commands never wait on storage or network. Failed jobs are logged and
// dropped; nothing is retried here.
type Dispatcher struct {
	queue   chan Job
	metrics Metrics
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(size int, metrics Metrics) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	if metrics == nil {
		metrics = NoOpMetrics{}
	}
	return &Dispatcher{
		queue:   make(chan Job, size),
		metrics: metrics,
	}
}

// Submit enqueues a job without blocking. It reports false when the queue is
// full and the job was dropped.
func (d *Dispatcher) Submit(job Job) bool {
	select {
	case d.queue <- job:
		d.metrics.DispatchQueueDepth(len(d.queue))
		return true
	default:
		d.metrics.DispatchDropped()
		log.Error().
			Str("kind", job.Kind).
			Str("lot_id", job.LotID.String()).
			Msg("dispatch queue full, dropping side effect")
		return false
	}
}

// Run executes jobs until ctx is cancelled, then drains what is already
// queued using a short grace period.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Int("capacity", cap(d.queue)).Msg("side-effect dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.drain()
			log.Info().Msg("side-effect dispatcher stopped")
			return
		case job := <-d.queue:
			d.run(ctx, job)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case job := <-d.queue:
			d.run(ctx, job)
		default:
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	if err := job.Run(ctx); err != nil {
		d.metrics.SideEffectFailed(job.Kind)
		log.Error().
			Err(err).
			Str("kind", job.Kind).
			Str("lot_id", job.LotID.String()).
			Msg("side effect failed")
	}
	d.metrics.DispatchQueueDepth(len(d.queue))
}
