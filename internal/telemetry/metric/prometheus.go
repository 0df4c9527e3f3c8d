package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fencevirt"

// Drop reasons.
const (
	DropRateLimited = "rate_limited"
	DropMalformed   = "malformed"
	DropVerify      = "verify"
	DropDuplicate   = "duplicate"
	DropHandshake   = "handshake"
	DropIO          = "io"
)

// Registry holds all application metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	BackendResults  *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec

	GroupMembers   prometheus.Gauge
	GroupPending   prometheus.Gauge
	OwnedVMs       *prometheus.GaugeVec
	SerialChannels prometheus.Gauge
}

// NewRegistry creates a registry with every metric registered, plus the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Fence requests read from a listener.",
		}, []string{"transport", "action"}),

		DroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Fence requests dropped before dispatch.",
		}, []string{"transport", "reason"}),

		BackendResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "results_total",
			Help:      "Backend operations by result.",
		}, []string{"backend", "action", "result"}),

		BackendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "duration_seconds",
			Help:      "Backend operation latency.",
			Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 15, 30, 60},
		}, []string{"backend", "action"}),

		GroupMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "members",
			Help:      "Members in the current process group view.",
		}),

		GroupPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "pending_requests",
			Help:      "Forwarded requests waiting for a reply.",
		}),

		OwnedVMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "group",
			Name:      "vms",
			Help:      "VMs in the ownership tables.",
		}, []string{"table"}),

		SerialChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "channels",
			Help:      "Attached serial channels.",
		}),
	}

	r.registry.MustRegister(
		r.RequestsTotal,
		r.DroppedTotal,
		r.BackendResults,
		r.BackendDuration,
		r.GroupMembers,
		r.GroupPending,
		r.OwnedVMs,
		r.SerialChannels,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// RecordRequest counts a request read by a listener.
func (r *Registry) RecordRequest(transport, action string) {
	r.RequestsTotal.WithLabelValues(transport, action).Inc()
}

// RecordDrop counts a request dropped before dispatch.
func (r *Registry) RecordDrop(transport, reason string) {
	r.DroppedTotal.WithLabelValues(transport, reason).Inc()
}

// ObserveBackend records one backend call.
func (r *Registry) ObserveBackend(backend, action, result string, elapsed time.Duration) {
	r.BackendResults.WithLabelValues(backend, action, result).Inc()
	r.BackendDuration.WithLabelValues(backend, action).Observe(elapsed.Seconds())
}

// SetGroupMembers sets the size of the current group view.
func (r *Registry) SetGroupMembers(n int) {
	r.GroupMembers.Set(float64(n))
}

// SetGroupPending sets the number of forwarded requests awaiting replies.
func (r *Registry) SetGroupPending(n int) {
	r.GroupPending.Set(float64(n))
}

// SetOwnedVMs sets the size of an ownership table ("local" or "remote").
func (r *Registry) SetOwnedVMs(table string, n int) {
	r.OwnedVMs.WithLabelValues(table).Set(float64(n))
}

// SetSerialChannels sets the number of attached serial channels.
func (r *Registry) SetSerialChannels(n int) {
	r.SerialChannels.Set(float64(n))
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Handler returns the handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}
