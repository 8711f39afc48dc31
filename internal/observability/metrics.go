// Package observability — metrics.go
//
// Prometheus metrics for siemstream.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: siemstream_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Rule name and severity are used as labels (closed, small sets).
//   - source_ip is NEVER used as a label (unbounded cardinality).

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for siemstream.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ingest (C3) ──────────────────────────────────────────────────────────

	// EventsIngestedTotal counts lines successfully normalized and appended.
	// Labels: source (tailer, push).
	EventsIngestedTotal *prometheus.CounterVec

	// EventsDroppedTotal counts lines that failed to parse or append.
	// Labels: source, reason (parse_error, store_error, queue_full).
	EventsDroppedTotal *prometheus.CounterVec

	// IngestQueueDepth is the current depth of the tailer's line FIFO.
	IngestQueueDepth prometheus.Gauge

	// ─── Detector runtime (C4/C5) ─────────────────────────────────────────────

	// DetectorScanDuration records wall-clock time of one Scan call.
	// Labels: detector.
	DetectorScanDuration *prometheus.HistogramVec

	// DetectorCursorAge is the age, in seconds, of each detector's last
	// successful scan start — a liveness signal, not a correctness one.
	// Labels: detector.
	DetectorCursorAge *prometheus.GaugeVec

	// AlertsEmittedTotal counts alerts produced by detectors, pre-dedupe
	// suppression accounted for (suppressed alerts never reach this counter).
	// Labels: rule, severity.
	AlertsEmittedTotal *prometheus.CounterVec

	// ─── Alert sink (C6) ───────────────────────────────────────────────────────

	// AlertWriteLatency records BoltDB alert-batch write latency.
	AlertWriteLatency prometheus.Histogram

	// AlertBatchFailuresTotal counts batches that failed outright.
	AlertBatchFailuresTotal prometheus.Counter

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB event-append transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageEventCount is the current number of Events in the store.
	StorageEventCount prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the process started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all siemstream Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siemstream",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total events normalized and appended to the store, by source.",
		}, []string{"source"}),

		EventsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siemstream",
			Subsystem: "ingest",
			Name:      "dropped_total",
			Help:      "Total lines dropped during ingest, by source and reason.",
		}, []string{"source", "reason"}),

		IngestQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siemstream",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Current depth of the tailer's fixed-capacity line queue.",
		}),

		DetectorScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "siemstream",
			Subsystem: "detect",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of one detector Scan call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"detector"}),

		DetectorCursorAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "siemstream",
			Subsystem: "detect",
			Name:      "cursor_age_seconds",
			Help:      "Age of each detector's last successful scan start.",
		}, []string{"detector"}),

		AlertsEmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siemstream",
			Subsystem: "detect",
			Name:      "alerts_emitted_total",
			Help:      "Total alerts emitted by detectors, by rule and severity.",
		}, []string{"rule", "severity"}),

		AlertWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "siemstream",
			Subsystem: "alertsink",
			Name:      "write_latency_seconds",
			Help:      "Alert batch write latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AlertBatchFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siemstream",
			Subsystem: "alertsink",
			Name:      "batch_failures_total",
			Help:      "Total alert batches that failed to write.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "siemstream",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB event-append transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageEventCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siemstream",
			Subsystem: "storage",
			Name:      "event_count",
			Help:      "Current number of Events persisted in the store.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "siemstream",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.EventsIngestedTotal,
		m.EventsDroppedTotal,
		m.IngestQueueDepth,
		m.DetectorScanDuration,
		m.DetectorCursorAge,
		m.AlertsEmittedTotal,
		m.AlertWriteLatency,
		m.AlertBatchFailuresTotal,
		m.StorageWriteLatency,
		m.StorageEventCount,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// IncIngested counts one event successfully normalized and appended.
// Satisfies ingest.Metrics.
func (m *Metrics) IncIngested(source string) {
	m.EventsIngestedTotal.WithLabelValues(source).Inc()
}

// IncDropped counts one line dropped during ingest. Satisfies
// ingest.Metrics.
func (m *Metrics) IncDropped(source, reason string) {
	m.EventsDroppedTotal.WithLabelValues(source, reason).Inc()
}

// SetQueueDepth records the tailer's current FIFO depth. Satisfies
// ingest.Metrics.
func (m *Metrics) SetQueueDepth(depth float64) {
	m.IngestQueueDepth.Set(depth)
}

// ObserveScanDuration records one detector Scan call's wall-clock
// duration. Satisfies detectrun.ScanMetrics.
func (m *Metrics) ObserveScanDuration(detector string, seconds float64) {
	m.DetectorScanDuration.WithLabelValues(detector).Observe(seconds)
}

// SetCursorAge records a detector's last-scan-start age in seconds.
// Satisfies detectrun.ScanMetrics.
func (m *Metrics) SetCursorAge(detector string, seconds float64) {
	m.DetectorCursorAge.WithLabelValues(detector).Set(seconds)
}

// ObserveWriteLatency records one alert-batch write's latency. Satisfies
// alertsink.Metrics.
func (m *Metrics) ObserveWriteLatency(seconds float64) {
	m.AlertWriteLatency.Observe(seconds)
}

// IncBatchFailure counts one failed alert batch. Satisfies
// alertsink.Metrics.
func (m *Metrics) IncBatchFailure() {
	m.AlertBatchFailuresTotal.Inc()
}

// IncAlertEmitted counts one alert emitted by a detector, by rule and
// severity. Satisfies alertsink.Metrics.
func (m *Metrics) IncAlertEmitted(rule, severity string) {
	m.AlertsEmittedTotal.WithLabelValues(rule, severity).Inc()
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
