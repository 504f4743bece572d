// Package metrics provides Prometheus instrumentation for the Agent
// Traffic Core, including the health counters spec §4.1 requires
// ("errors are logged and surfaced via health counters").
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atc_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atc_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PoolRegistry (C1) metrics.
var (
	WorkersKnown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atc_registry_workers_known",
		Help: "Number of workers currently tracked in the registry (any liveness state).",
	})

	RegistryRefreshErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atc_registry_refresh_errors_total",
		Help: "Total number of failed service-registry refresh attempts.",
	})

	WorkersRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atc_registry_workers_removed_total",
		Help: "Total number of workers transitioned to Removed after repeated unreachable observations.",
	})
)

// Placement Engine (C2) metrics.
var (
	AgentsPlaced = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atc_placement_agents_placed",
		Help: "Number of agents currently present in the placement map.",
	})

	PlacementFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atc_placement_failures_total",
		Help: "Total number of placement failures by reason.",
	}, []string{"reason"})

	RelocationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atc_placement_relocations_total",
		Help: "Total number of agent relocations performed during worker-loss reassignment.",
	})
)

// Dependency Graph (C3) metrics.
var (
	DependencyNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atc_depgraph_nodes",
		Help: "Number of agents with a declared dependency set.",
	})

	CyclesDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atc_depgraph_cycles_detected_total",
		Help: "Total number of dependency cycles detected during satisfaction evaluation.",
	})
)

// Traffic Controller (C4) metrics.
var (
	AgentsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atc_agents_by_state",
		Help: "Number of agent records currently in each lifecycle state.",
	}, []string{"state"})

	FanOutRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atc_fanout_requests_total",
		Help: "Total number of fan-out operations to workers, by operation and outcome.",
	}, []string{"operation", "outcome"})

	WorkerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atc_worker_calls_total",
		Help: "Total number of outbound calls to workers, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	WorkerCallRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atc_worker_call_retries_total",
		Help: "Total number of retried outbound worker calls (NetworkTimeout class only).",
	})
)
