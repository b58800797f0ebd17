// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting connector runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Internal state, the source of truth for the JSON snapshot.
var (
	connects          int64
	disconnects       int64
	noops             int64
	scopeFailures     int64
	reconcileErrors   int64
	eventsStart       int64
	eventsDie         int64
	lastEvent         int64
	trackedContainers int64
)

const counterInc int64 = 1

// Prometheus collectors.
var (
	promConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traefik_connector_connects_total",
			Help: "Total networks the proxy was connected to",
		},
	)
	promDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traefik_connector_disconnects_total",
			Help: "Total networks the proxy was disconnected from",
		},
	)
	promNoops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traefik_connector_noops_total",
			Help: "Total connect/disconnect decisions already satisfied",
		},
	)
	promScopeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traefik_connector_scope_failures_total",
			Help: "Total containers skipped because their network scope label did not resolve",
		},
	)
	promErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "traefik_connector_errors_total",
			Help: "Total transitions that failed with an unexpected error",
		},
	)
	promEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traefik_connector_events_total",
			Help: "Total container lifecycle events processed",
		},
		[]string{"action"},
	)
	promLastEvent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "traefik_connector_last_event_timestamp_seconds",
			Help: "Unix timestamp of the last processed event",
		},
	)
	promTracked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "traefik_connector_tracked_containers",
			Help: "Containers currently tracked in the registry",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promConnects,
		promDisconnects,
		promNoops,
		promScopeFailures,
		promErrors,
		promEvents,
		promLastEvent,
		promTracked,
	)
}

// IncConnect increments the counter for issued network connects.
func IncConnect() {
	atomic.AddInt64(&connects, counterInc)
	promConnects.Inc()
}

// IncDisconnect increments the counter for issued network disconnects.
func IncDisconnect() {
	atomic.AddInt64(&disconnects, counterInc)
	promDisconnects.Inc()
}

// IncNoop increments the counter for decisions that were already satisfied.
func IncNoop() {
	atomic.AddInt64(&noops, counterInc)
	promNoops.Inc()
}

// IncScopeFailure increments the counter for unresolved scope labels.
func IncScopeFailure() {
	atomic.AddInt64(&scopeFailures, counterInc)
	promScopeFailures.Inc()
}

// IncError increments the counter for failed transitions.
func IncError() {
	atomic.AddInt64(&reconcileErrors, counterInc)
	promErrors.Inc()
}

// IncEvent records a processed lifecycle event and stamps the last-event time.
func IncEvent(action string) {
	switch action {
	case "start":
		atomic.AddInt64(&eventsStart, counterInc)
	case "die":
		atomic.AddInt64(&eventsDie, counterInc)
	}
	promEvents.WithLabelValues(action).Inc()
	now := time.Now().Unix()
	atomic.StoreInt64(&lastEvent, now)
	promLastEvent.Set(float64(now))
}

// SetTrackedContainers updates the registry-size gauge.
func SetTrackedContainers(n int) {
	atomic.StoreInt64(&trackedContainers, int64(n))
	promTracked.Set(float64(n))
}

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	Connects          int64  `json:"connects"`
	Disconnects       int64  `json:"disconnects"`
	Noops             int64  `json:"noops"`
	ScopeFailures     int64  `json:"scope_failures"`
	Errors            int64  `json:"errors"`
	EventsStart       int64  `json:"events_start"`
	EventsDie         int64  `json:"events_die"`
	TrackedContainers int64  `json:"tracked_containers"`
	LastEvent         int64  `json:"last_event_timestamp"`
	LastEventHuman    string `json:"last_event_human"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastEvent)
	return StatsSnapshot{
		Connects:          atomic.LoadInt64(&connects),
		Disconnects:       atomic.LoadInt64(&disconnects),
		Noops:             atomic.LoadInt64(&noops),
		ScopeFailures:     atomic.LoadInt64(&scopeFailures),
		Errors:            atomic.LoadInt64(&reconcileErrors),
		EventsStart:       atomic.LoadInt64(&eventsStart),
		EventsDie:         atomic.LoadInt64(&eventsDie),
		TrackedContainers: atomic.LoadInt64(&trackedContainers),
		LastEvent:         ts,
		LastEventHuman:    time.Unix(ts, 0).Format(time.RFC3339),
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that exposes the JSON snapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
