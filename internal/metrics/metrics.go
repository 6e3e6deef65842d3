// Package metrics prometheus metrics of position monitoring.
//
//	exitbot_cycles_total                 - finished monitoring cycles
//	exitbot_cycle_duration_seconds       - duration of one cycle
//	exitbot_price_lookups_total{result}  - price lookups (ok|unavailable)
//	exitbot_decisions_total{kind}        - trigger decisions (stop_loss|breakeven|take_profit)
//	exitbot_executions_total{action,result} - exit executions (ok|failed|skipped)
//	exitbot_tracked_positions            - positions in last snapshot
//	exitbot_monitor_running              - 1 while monitoring loop runs
//	exitbot_events_total{type}           - published events
//	exitbot_events_dropped_total         - events dropped on slow subscribers
//	exitbot_registry_remote_updates_total - registry updates made by other instances
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mtxCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exitbot_cycles_total",
			Help: "Finished monitoring cycles",
		},
	)

	mtxCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "exitbot_cycle_duration_seconds",
			Help:    "Duration of one monitoring cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	mtxPriceLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitbot_price_lookups_total",
			Help: "Price lookups by result",
		},
		[]string{"result"},
	)

	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitbot_decisions_total",
			Help: "Trigger decisions by kind",
		},
		[]string{"kind"},
	)

	mtxExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitbot_executions_total",
			Help: "Exit executions by action and result",
		},
		[]string{"action", "result"},
	)

	mtxTrackedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exitbot_tracked_positions",
			Help: "Positions in last registry snapshot",
		},
	)

	mtxRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exitbot_monitor_running",
			Help: "1 while monitoring loop runs",
		},
	)

	mtxEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exitbot_events_total",
			Help: "Published events by type",
		},
		[]string{"type"},
	)

	mtxEventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exitbot_events_dropped_total",
			Help: "Events dropped because subscriber was slow",
		},
	)

	mtxRemoteUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exitbot_registry_remote_updates_total",
			Help: "Registry updates received from other instances",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxCycles,
		mtxCycleDuration,
		mtxPriceLookups,
		mtxDecisions,
		mtxExecutions,
		mtxTrackedPositions,
		mtxRunning,
		mtxEvents,
		mtxEventsDropped,
		mtxRemoteUpdates,
	)
}

// ObserveCycle finished cycle
func ObserveCycle(d time.Duration, positions int) {
	mtxCycles.Inc()
	mtxCycleDuration.Observe(d.Seconds())
	mtxTrackedPositions.Set(float64(positions))
}

// PriceLookup result of lookup
func PriceLookup(ok bool) {
	if ok {
		mtxPriceLookups.WithLabelValues("ok").Inc()
		return
	}
	mtxPriceLookups.WithLabelValues("unavailable").Inc()
}

// Decision trigger fired
func Decision(kind string) {
	mtxDecisions.WithLabelValues(kind).Inc()
}

// Execution exit execution result
func Execution(action, result string) {
	mtxExecutions.WithLabelValues(action, result).Inc()
}

// SetRunning monitor state
func SetRunning(running bool) {
	if running {
		mtxRunning.Set(1)
		return
	}
	mtxRunning.Set(0)
}

// EventPublished event fan out
func EventPublished(eventType string) {
	mtxEvents.WithLabelValues(eventType).Inc()
}

// EventDropped subscriber buffer was full
func EventDropped() {
	mtxEventsDropped.Inc()
}

// RemoteUpdate registry row changed by other instance
func RemoteUpdate() {
	mtxRemoteUpdates.Inc()
}
