// Package detectrun implements the Detector Runtime (C4): scheduling each
// detect.Detector on its own cadence, choosing full-scan vs incremental
// reads, and isolating one detector's failure from the rest. The runtime
// owns each detector's long-lived instance; ticks drive its scan cycle.
package detectrun

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/detect"
	"github.com/octoreflex/siemstream/internal/model"
)

// EventStore is the subset of storage.DB the runtime reads from.
type EventStore interface {
	Read(filter EventFilter) ([]model.Event, error)
	PutCursorTime(name string, t time.Time) error
}

// EventFilter mirrors the event store's read filter shape without
// importing the storage package directly, keeping detectrun decoupled
// from the bbolt encoding details.
type EventFilter struct {
	Since    time.Time
	Category string
	Limit    int
}

// AlertSink is the subset of alertsink.Sink the runtime writes through.
type AlertSink interface {
	Write(alerts []model.Alert) int
}

// ScanMetrics is the subset of observability.Metrics the runtime updates.
type ScanMetrics interface {
	ObserveScanDuration(detector string, seconds float64)
	SetCursorAge(detector string, seconds float64)
}

// Schedule pairs a Detector with its scan cadence.
type Schedule struct {
	Detector detect.Detector
	Interval time.Duration
}

// Runtime schedules and runs a set of detectors against an EventStore,
// writing emitted alerts to an AlertSink.
type Runtime struct {
	store   EventStore
	sink    AlertSink
	metrics ScanMetrics
	log     *zap.Logger
}

// New constructs a Runtime.
func New(store EventStore, sink AlertSink, metrics ScanMetrics, log *zap.Logger) *Runtime {
	return &Runtime{store: store, sink: sink, metrics: metrics, log: log}
}

// Run starts one goroutine per schedule entry and blocks until ctx is
// cancelled. Cancellation is cooperative: an in-flight DB write completes
// before its goroutine exits, but any alert not yet written is dropped.
//
// Each detector runs an immediate full-scan (since=zero time) before
// entering its ticker loop, so a freshly started process doesn't wait out
// a full interval before its first alert.
func (r *Runtime) Run(ctx context.Context, schedules []Schedule) {
	done := make(chan struct{}, len(schedules))
	for _, sched := range schedules {
		go func(s Schedule) {
			defer func() { done <- struct{}{} }()
			r.runOne(ctx, s)
		}(sched)
	}
	for range schedules {
		<-done
	}
}

func (r *Runtime) runOne(ctx context.Context, s Schedule) {
	name := s.Detector.Name()

	r.tick(name, s.Detector, EventFilter{}) // full-scan at bootstrap

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			since := time.Now().UTC().Add(-s.Detector.LongestWindow())
			r.tick(name, s.Detector, EventFilter{Since: since})
		}
	}
}

// tick performs one scan: reset transient state, read the window, scan,
// write alerts, record the cursor. A panic inside Scan is recovered and
// logged — one detector's bug never brings down the others.
func (r *Runtime) tick(name string, d detect.Detector, filter EventFilter) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("detectrun: detector panicked, tick skipped",
				zap.String("detector", name), zap.Any("recover", rec))
		}
	}()

	start := time.Now()
	d.Reset()

	events, err := r.store.Read(filter)
	if err != nil {
		r.log.Warn("detectrun: read failed, skipping tick",
			zap.String("detector", name), zap.Error(err))
		return
	}

	alerts := d.Scan(events)
	if len(alerts) > 0 {
		r.sink.Write(alerts)
	}

	now := time.Now().UTC()
	if err := r.store.PutCursorTime(name, now); err != nil {
		r.log.Debug("detectrun: cursor write failed (observability only)",
			zap.String("detector", name), zap.Error(err))
	}

	if r.metrics != nil {
		r.metrics.ObserveScanDuration(name, time.Since(start).Seconds())
		r.metrics.SetCursorAge(name, 0)
	}
}

// Schedules builds the default Schedule set for All(deps)'s detectors,
// applying scanInterval to every detector except those with a window wider
// than slowInterval itself, which use slowInterval instead so a wide
// window isn't scanned more often than it can produce new data.
func Schedules(detectors []detect.Detector, scanInterval, slowInterval time.Duration) []Schedule {
	out := make([]Schedule, 0, len(detectors))
	for _, d := range detectors {
		interval := scanInterval
		if d.LongestWindow() > slowInterval {
			interval = slowInterval
		}
		out = append(out, Schedule{Detector: d, Interval: interval})
	}
	return out
}
