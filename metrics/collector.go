// Package metrics exports filesystem handler outcomes, node counts and
// persistence timings to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/brettbedarf/memfs/filesystem"
	"github.com/brettbedarf/memfs/internal/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "memfs"

// Collector implements [filesystem.Recorder] on a private registry.
type Collector struct {
	registry *prometheus.Registry

	operationCounter *prometheus.CounterVec
	errorCounter     *prometheus.CounterVec
	nodesGauge       *prometheus.GaugeVec
	persistDuration  prometheus.Histogram
	persistFailures  prometheus.Counter

	logger util.Logger
}

// NewCollector creates a collector with every metric registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Filesystem handler calls by operation and status.",
		}, []string{"operation", "status"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operation_errors_total",
			Help:      "Failed filesystem handler calls by operation and errno.",
		}, []string{"operation", "errno"}),
		nodesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "nodes",
			Help:      "Nodes currently in the store by kind.",
		}, []string{"kind"}),
		persistDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "persist_duration_seconds",
			Help:      "Time spent writing the state files.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_failures_total",
			Help:      "State saves that returned an error.",
		}),
		logger: util.GetLogger("Metrics"),
	}
	c.registry.MustRegister(
		c.operationCounter,
		c.errorCounter,
		c.nodesGauge,
		c.persistDuration,
		c.persistFailures,
	)
	return c
}

// Registry returns the registry every metric is registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveOp counts one handler call.
func (c *Collector) ObserveOp(op string, err error) {
	if err == nil {
		c.operationCounter.WithLabelValues(op, "success").Inc()
		return
	}
	c.operationCounter.WithLabelValues(op, "error").Inc()
	c.errorCounter.WithLabelValues(op, errnoLabel(err)).Inc()
}

// SetNodes publishes the current node count of each kind.
func (c *Collector) SetNodes(counts map[filesystem.NodeKind]int) {
	for kind, n := range counts {
		c.nodesGauge.WithLabelValues(kind.String()).Set(float64(n))
	}
}

// ObserveSave records one save of the state files. Its signature matches
// persist.Files.OnSave.
func (c *Collector) ObserveSave(took time.Duration, err error) {
	c.persistDuration.Observe(took.Seconds())
	if err != nil {
		c.persistFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve starts an HTTP server exposing /metrics on addr in the background.
// The caller shuts it down.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	c.logger.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func errnoLabel(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno.Error()
	}
	return "other"
}
