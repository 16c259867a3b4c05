package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

// highPendingThreshold marks a backlog worth reporting.
const highPendingThreshold = 1000

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int       `json:"pending_events"`
	DatabaseConnected bool      `json:"database_connected"`
	BrokerConnected   bool      `json:"broker_connected"`
	ListenerActive    bool      `json:"listener_active"`
	Errors            []string  `json:"errors"`
}

// Connectivity is implemented by publishers that hold a live connection.
type Connectivity interface {
	Connected() bool
}

// HealthChecker reports on the relay, its store and its broker.
type HealthChecker struct {
	relay     *Relay
	store     Store
	listener  interface{ Active() bool }
	broker    Connectivity
	clock     clockwork.Clock
	threshold time.Duration // How long pending events may sit without progress
}

// NewHealthChecker builds a checker. broker may be nil when the publisher has
// no persistent connection.
func NewHealthChecker(relay *Relay, store Store, listener interface{ Active() bool }, broker Connectivity, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		store:     store,
		listener:  listener,
		broker:    broker,
		clock:     clockwork.NewRealClock(),
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}
	status.EventsProcessed, status.LastEventTime = h.relay.Stats()

	pending, err := h.store.CountUnsent(ctx)
	if err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database check failed: %v", err))
	} else {
		status.DatabaseConnected = true
		status.PendingEvents = pending
		if pending > highPendingThreshold {
			status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
		}
	}

	status.BrokerConnected = h.broker == nil || h.broker.Connected()
	if !status.BrokerConnected {
		status.Healthy = false
		status.Errors = append(status.Errors, "broker disconnected")
	}

	status.ListenerActive = h.listener != nil && h.listener.Active()
	if !status.ListenerActive {
		status.Healthy = false
		status.Errors = append(status.Errors, "listener not active")
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events processed for %s", since.Round(time.Second)))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
