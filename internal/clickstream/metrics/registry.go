package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clickstream/internal/clickstream"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publish metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	payloadBytes    *prometheus.HistogramVec

	// Delivery metrics
	deliveryTotal       *prometheus.CounterVec
	callbacksDispatched prometheus.Counter

	// Flush metrics
	flushTotal     prometheus.Counter
	flushDuration  prometheus.Histogram
	flushRemaining prometheus.Gauge

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickstream_publish_total",
				Help: "Total number of publish submissions",
			},
			[]string{"topic", "status"}, // status: success, buffer_full, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clickstream_publish_duration_seconds",
				Help:    "Time spent handing a message to the publish client",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"topic"},
		),

		payloadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clickstream_payload_bytes",
				Help:    "Size of submitted payloads",
				Buckets: prometheus.ExponentialBuckets(64, 2, 8),
			},
			[]string{"topic"},
		),

		deliveryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clickstream_delivery_total",
				Help: "Total number of delivery reports",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		callbacksDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clickstream_poll_dispatched_total",
				Help: "Delivery callbacks dispatched by non-blocking polls",
			},
		),

		flushTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clickstream_flush_total",
				Help: "Total number of blocking flushes",
			},
		),

		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clickstream_flush_duration_seconds",
				Help:    "Time spent in blocking flushes",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		flushRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clickstream_flush_remaining",
				Help: "Messages still outstanding after the most recent flush",
			},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "clickstream_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "driver"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clickstream_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.payloadBytes,
		r.deliveryTotal,
		r.callbacksDispatched,
		r.flushTotal,
		r.flushDuration,
		r.flushRemaining,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordPublish records one submission to the publish client.
func (r *Registry) RecordPublish(topic string, payloadSize int, duration time.Duration, err error) {
	status := "success"
	switch {
	case errors.Is(err, clickstream.ErrBufferFull):
		status = "buffer_full"
	case err != nil:
		status = "error"
	}

	r.publishTotal.WithLabelValues(topic, status).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err == nil {
		r.payloadBytes.WithLabelValues(topic).Observe(float64(payloadSize))
	}
}

// RecordDelivery records a delivery report. It only touches atomic
// counters, so it is safe inside a delivery handler.
func (r *Registry) RecordDelivery(topic string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.deliveryTotal.WithLabelValues(topic, status).Inc()
}

// RecordPoll records how many callbacks a poll dispatched.
func (r *Registry) RecordPoll(dispatched int) {
	if dispatched > 0 {
		r.callbacksDispatched.Add(float64(dispatched))
	}
}

// RecordFlush records a blocking flush and what it left behind.
func (r *Registry) RecordFlush(duration time.Duration, remaining int) {
	r.flushTotal.Inc()
	r.flushDuration.Observe(duration.Seconds())
	r.flushRemaining.Set(float64(remaining))
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, driver string) {
	r.systemInfo.WithLabelValues(version, driver).Set(1)
}
