// Package metrics exposes the worker's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "analyst"

// Registry holds every collector the worker exports.
var Registry = prometheus.NewRegistry()

var (
	TasksRunning = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_running",
		Help:      "Cluster processes currently registered.",
	})

	TasksTotal = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Finished executeTask calls by outcome.",
	}, []string{"outcome"})

	Reactions = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reactions_total",
		Help:      "Reactions received from pipeline scripts by type.",
	}, []string{"type"})

	MasterCallRetries = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "master_call_retries_total",
		Help:      "Retried calls to the master by method.",
	}, []string{"method"})

	RPCRequests = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rpc_requests_total",
		Help:      "Inbound RPC requests by method and exception code.",
	}, []string{"method", "code"})
)

// Task outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeKilled    = "killed"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveRPC records one inbound request. code is -1 for success.
func ObserveRPC(method string, code int) {
	label := "ok"
	if code >= 0 {
		label = strconv.Itoa(code)
	}
	RPCRequests.WithLabelValues(method, label).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
