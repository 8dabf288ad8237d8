// internal/metrics/prometheus/prometheus.go
//
// Package prometheus 以 client_golang 實作 metrics.Collector。
// 指標需先以 Register 註冊到 registry 才會被 /metrics 匯出。

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	operations  *prometheus.CounterVec
	opLatency   *prometheus.HistogramVec
	saves       *prometheus.CounterVec
	saveLatency *prometheus.HistogramVec
	accounts    prometheus.Gauge
}

// NewCollector creates a Prometheus collector under the given namespace.
func NewCollector(namespace string) *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of ledger operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		opLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency, including the snapshot save",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"op"},
		),
		saves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_saves_total",
				Help:      "Total number of snapshot saves by backend and status",
			},
			[]string{"backend", "status"},
		),
		saveLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_save_duration_seconds",
				Help:      "Snapshot save latency",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"backend"},
		),
		accounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "accounts",
				Help:      "Number of accounts held by the ledger",
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (c *Collector) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.operations,
		c.opLatency,
		c.saves,
		c.saveLatency,
		c.accounts,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation records a ledger operation.
func (c *Collector) RecordOperation(op, outcome string, duration time.Duration) {
	c.operations.WithLabelValues(op, outcome).Inc()
	c.opLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordSave records a snapshot save.
func (c *Collector) RecordSave(backend string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	c.saves.WithLabelValues(backend, status).Inc()
	c.saveLatency.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetAccounts records the current number of accounts.
func (c *Collector) SetAccounts(n int) {
	c.accounts.Set(float64(n))
}
