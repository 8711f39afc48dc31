// Package alertsink implements the Alert Sink (C6): a batched,
// conflict-suppressed writer from detector output to the alert store.
// Conflict suppression on the identity tuple (timestamp, rule, source_ip),
// combined with each detector's in-process dedupe, yields at-most-once
// alert visibility per logical incident.
package alertsink

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
)

// DefaultBatchSize is the batch size used when NewSink isn't given one.
const DefaultBatchSize = 20

// Store is the subset of storage.DB the sink writes through.
type Store interface {
	UpsertAlertBatch(alerts []model.Alert, batchSize int) (inserted int, err error)
}

// Sink batches and writes Alerts produced by detectors.
type Sink struct {
	store     Store
	batchSize int
	log       *zap.Logger
	metrics   Metrics
}

// Metrics is the subset of observability.Metrics the sink updates.
// An interface so tests can stub it without pulling in Prometheus.
type Metrics interface {
	ObserveWriteLatency(seconds float64)
	IncBatchFailure()
	IncAlertEmitted(rule, severity string)
}

// NewSink constructs a Sink. batchSize <= 0 uses DefaultBatchSize.
func NewSink(store Store, batchSize int, metrics Metrics, log *zap.Logger) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{store: store, batchSize: batchSize, log: log, metrics: metrics}
}

// Write normalizes and persists a batch of Alerts. Partial batch failure
// is logged and isolated: one bad alert never blocks the rest. Returns the
// number of alerts actually inserted (duplicates silently suppressed at
// the identity-tuple boundary don't count as failures).
func (s *Sink) Write(alerts []model.Alert) int {
	if len(alerts) == 0 {
		return 0
	}

	normalized := make([]model.Alert, len(alerts))
	for i, a := range alerts {
		normalized[i] = normalize(a)
	}

	start := time.Now()
	inserted, err := s.store.UpsertAlertBatch(normalized, s.batchSize)
	if s.metrics != nil {
		s.metrics.ObserveWriteLatency(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncBatchFailure()
		}
		if s.log != nil {
			s.log.Warn("alertsink: batch write encountered an error; continuing",
				zap.Error(err), zap.Int("batch_len", len(normalized)), zap.Int("inserted", inserted))
		}
	}

	if s.metrics != nil {
		for _, a := range normalized {
			s.metrics.IncAlertEmitted(a.Rule, string(a.Severity))
		}
	}
	return inserted
}

// normalize applies the UTC-timestamp and raw-snapshot stringification
// every alert gets before persistence.
func normalize(a model.Alert) model.Alert {
	a.Timestamp = a.Timestamp.UTC()
	if a.Raw != nil {
		a.Raw = stringifyValues(a.Raw)
	}
	return a
}

// stringifyValues recursively coerces time.Time and net.IP-shaped values
// to their string form so the result marshals identically regardless of
// what a detector happened to stash in Raw.
func stringifyValues(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = stringifyValue(v)
	}
	return out
}

func stringifyValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case net.IP:
		return t.String()
	case map[string]any:
		return stringifyValues(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = stringifyValue(item)
		}
		return out
	default:
		return v
	}
}
