package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every SableDB metric.
const Namespace = "sabledb"

// Registry wraps a Prometheus registry with the process-wide metrics.
type Registry struct {
	reg *prometheus.Registry

	// CommandDuration observes command latency by command name.
	CommandDuration *prometheus.HistogramVec
	// WorkerRestarts counts workers replaced after a failure, by cause.
	WorkerRestarts *prometheus.CounterVec
	// BuildInfo is always 1; labels carry version data.
	BuildInfo *prometheus.GaugeVec
}

var (
	globalOnce sync.Once
	global     *Registry
)

// NewRegistry creates a registry with the Go runtime and process
// collectors plus SableDB's own metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"command"}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "worker_restarts_total",
			Help:      "Workers replaced by the manager.",
		}, []string{"cause"}),
		BuildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information of the running server.",
		}, []string{"version", "commit", "go_version", "run_id"}),
	}
	reg.MustRegister(r.CommandDuration, r.WorkerRestarts, r.BuildInfo)
	return r
}

// Global returns the process-wide registry, creating it on first use.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Register adds collectors to the registry.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Prometheus exposes the underlying registry for components that register
// their own metrics (the badger engine does).
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// SetBuildInfo publishes the build info gauge.
func (r *Registry) SetBuildInfo(version, commit, goVersion, runID string) {
	r.BuildInfo.WithLabelValues(version, commit, goVersion, runID).Set(1)
}

// ObserveCommand records one command execution.
func (r *Registry) ObserveCommand(name string, seconds float64) {
	r.CommandDuration.WithLabelValues(name).Observe(seconds)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
