// Package metrics exposes the dispute engine's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcdev12/pregao/go/internal/dispute/orchestrator"
	"github.com/mcdev12/pregao/go/internal/dispute/session"
	"github.com/mcdev12/pregao/go/internal/models"
)

// EngineMetrics implements session.Metrics and orchestrator.Metrics.
type EngineMetrics struct {
	CommandsTotal      *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec
	BidsAcceptedTotal  *prometheus.CounterVec
	LotsFinalizedTotal *prometheus.CounterVec
	TiebreaksTotal     prometheus.Counter
	SideEffectErrors   *prometheus.CounterVec
	DispatchDropped    prometheus.Counter
	DispatchQueueDepth prometheus.Gauge
	TickLots           prometheus.Histogram
	TicksCoalesced     prometheus.Counter
	GatewayConnections prometheus.Gauge
}

var (
	_ session.Metrics      = sessionMetrics{}
	_ orchestrator.Metrics = schedulerMetrics{}
)

// NewEngineMetrics registers the engine collectors with reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	f := promauto.With(reg)
	return &EngineMetrics{
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_commands_total",
			Help: "Commands handled by the session coordinator, by command and outcome",
		}, []string{"command", "outcome"}),
		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispute_command_duration_seconds",
			Help:    "Time spent handling a command",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"command"}),
		BidsAcceptedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_bids_accepted_total",
			Help: "Accepted bids, by dispute mode",
		}, []string{"mode"}),
		LotsFinalizedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_lots_finalized_total",
			Help: "Finished lots, by dispute mode and whether a winner was declared",
		}, []string{"mode", "with_winner"}),
		TiebreaksTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dispute_tiebreaks_total",
			Help: "Tie-break rounds started",
		}),
		SideEffectErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dispute_side_effect_errors_total",
			Help: "Failed repository writes and emits, by kind",
		}, []string{"kind"}),
		DispatchDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "dispute_dispatch_dropped_total",
			Help: "Side effects dropped because the dispatch queue was full",
		}),
		DispatchQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispute_dispatch_queue_depth",
			Help: "Side effects waiting in the dispatch queue",
		}),
		TickLots: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispute_scheduler_tick_lots",
			Help:    "Active lots fanned out per scheduler tick",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}),
		TicksCoalesced: f.NewCounter(prometheus.CounterOpts{
			Name: "dispute_scheduler_ticks_queued_total",
			Help: "Ticks queued behind a tick still in flight for the same lot",
		}),
		GatewayConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "dispute_gateway_connections",
			Help: "Open websocket connections",
		}),
	}
}

// Session adapts the collectors to session.Metrics.
func (m *EngineMetrics) Session() session.Metrics { return m.sessionMetrics() }

// Scheduler adapts the collectors to orchestrator.Metrics.
func (m *EngineMetrics) Scheduler() orchestrator.Metrics { return m.schedulerMetrics() }

func (m *EngineMetrics) sessionMetrics() sessionMetrics { return sessionMetrics{m} }

func (m *EngineMetrics) schedulerMetrics() schedulerMetrics { return schedulerMetrics{m} }

type sessionMetrics struct{ m *EngineMetrics }

func (s sessionMetrics) CommandHandled(command, outcome string, d time.Duration) {
	s.m.CommandsTotal.WithLabelValues(command, outcome).Inc()
	s.m.CommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (s sessionMetrics) BidAccepted(mode models.DisputeMode) {
	s.m.BidsAcceptedTotal.WithLabelValues(string(mode)).Inc()
}

func (s sessionMetrics) LotFinalized(mode models.DisputeMode, withWinner bool) {
	s.m.LotsFinalizedTotal.WithLabelValues(string(mode), strconv.FormatBool(withWinner)).Inc()
}

func (s sessionMetrics) TiebreakStarted()             { s.m.TiebreaksTotal.Inc() }
func (s sessionMetrics) SideEffectFailed(kind string) { s.m.SideEffectErrors.WithLabelValues(kind).Inc() }
func (s sessionMetrics) DispatchDropped()             { s.m.DispatchDropped.Inc() }
func (s sessionMetrics) DispatchQueueDepth(depth int) { s.m.DispatchQueueDepth.Set(float64(depth)) }

type schedulerMetrics struct{ m *EngineMetrics }

func (s schedulerMetrics) TickDispatched(lots int) { s.m.TickLots.Observe(float64(lots)) }
func (s schedulerMetrics) TickCoalesced()          { s.m.TicksCoalesced.Inc() }
