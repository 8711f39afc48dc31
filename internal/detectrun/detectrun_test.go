package detectrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/detect"
	"github.com/octoreflex/siemstream/internal/model"
)

type stubDetector struct {
	name       string
	window     time.Duration
	resetCalls int
	scanFn     func(events []model.Event) []model.Alert
	lastEvents []model.Event
}

func (d *stubDetector) Name() string                 { return d.name }
func (d *stubDetector) LongestWindow() time.Duration { return d.window }
func (d *stubDetector) Reset()                       { d.resetCalls++ }
func (d *stubDetector) Scan(events []model.Event) []model.Alert {
	d.lastEvents = events
	if d.scanFn != nil {
		return d.scanFn(events)
	}
	return nil
}

var _ detect.Detector = (*stubDetector)(nil)

type stubEventStore struct {
	mu         sync.Mutex
	events     []model.Event
	readErr    error
	cursors    map[string]time.Time
	seenFilter EventFilter
}

func newStubEventStore(events []model.Event) *stubEventStore {
	return &stubEventStore{events: events, cursors: map[string]time.Time{}}
}

func (s *stubEventStore) Read(filter EventFilter) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenFilter = filter
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.events, nil
}

func (s *stubEventStore) PutCursorTime(name string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = t
	return nil
}

type stubAlertSink struct {
	mu      sync.Mutex
	written [][]model.Alert
}

func (s *stubAlertSink) Write(alerts []model.Alert) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, alerts)
	return len(alerts)
}

type stubScanMetrics struct {
	mu        sync.Mutex
	durations map[string]float64
}

func newStubScanMetrics() *stubScanMetrics { return &stubScanMetrics{durations: map[string]float64{}} }

func (m *stubScanMetrics) ObserveScanDuration(detector string, seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[detector] = seconds
}
func (m *stubScanMetrics) SetCursorAge(detector string, seconds float64) {}

func TestTick_ScansWritesAndRecordsCursor(t *testing.T) {
	store := newStubEventStore([]model.Event{{SourceIP: "1.1.1.1"}})
	sink := &stubAlertSink{}
	metrics := newStubScanMetrics()
	r := New(store, sink, metrics, zap.NewNop())

	d := &stubDetector{name: "test-detector", scanFn: func(events []model.Event) []model.Alert {
		return []model.Alert{{Rule: "R", SourceIP: "1.1.1.1"}}
	}}

	r.tick(d.name, d, EventFilter{})

	if d.resetCalls != 1 {
		t.Errorf("Reset calls = %d, want 1", d.resetCalls)
	}
	if len(d.lastEvents) != 1 {
		t.Errorf("detector saw %d events, want 1", len(d.lastEvents))
	}
	if len(sink.written) != 1 || len(sink.written[0]) != 1 {
		t.Errorf("sink.written = %+v, want 1 batch of 1 alert", sink.written)
	}
	if _, ok := store.cursors["test-detector"]; !ok {
		t.Error("expected a cursor write for test-detector")
	}
	if _, ok := metrics.durations["test-detector"]; !ok {
		t.Error("expected a scan-duration observation for test-detector")
	}
}

func TestTick_NoAlertsSkipsSinkWrite(t *testing.T) {
	store := newStubEventStore(nil)
	sink := &stubAlertSink{}
	r := New(store, sink, newStubScanMetrics(), zap.NewNop())
	d := &stubDetector{name: "quiet"}

	r.tick(d.name, d, EventFilter{})

	if len(sink.written) != 0 {
		t.Errorf("expected no sink writes when Scan returns nothing, got %v", sink.written)
	}
}

func TestTick_ReadErrorSkipsScanAndSink(t *testing.T) {
	store := newStubEventStore(nil)
	store.readErr = errors.New("bbolt unavailable")
	sink := &stubAlertSink{}
	r := New(store, sink, newStubScanMetrics(), zap.NewNop())
	d := &stubDetector{name: "broken-read"}

	r.tick(d.name, d, EventFilter{})

	if d.lastEvents != nil {
		t.Error("Scan must not be called when Read fails")
	}
	if len(sink.written) != 0 {
		t.Error("sink must not be written to when Read fails")
	}
}

func TestTick_PanicInScanIsContained(t *testing.T) {
	store := newStubEventStore([]model.Event{{}})
	sink := &stubAlertSink{}
	r := New(store, sink, newStubScanMetrics(), zap.NewNop())
	d := &stubDetector{name: "panicky", scanFn: func(events []model.Event) []model.Alert {
		panic("detector exploded")
	}}

	defer func() {
		if rec := recover(); rec != nil {
			t.Fatalf("tick must contain a detector panic, but it propagated: %v", rec)
		}
	}()
	r.tick(d.name, d, EventFilter{})

	if len(sink.written) != 0 {
		t.Error("a panicking Scan must not reach the sink")
	}
}

func TestRunOne_PerformsFullScanAtBootstrap(t *testing.T) {
	store := newStubEventStore([]model.Event{{}})
	sink := &stubAlertSink{}
	r := New(store, sink, newStubScanMetrics(), zap.NewNop())
	d := &stubDetector{name: "bootstrap", window: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately: runOne does its bootstrap scan, then exits on ctx.Done

	done := make(chan struct{})
	go func() {
		r.runOne(ctx, Schedule{Detector: d, Interval: time.Hour})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runOne did not return after context cancellation")
	}

	if d.resetCalls < 1 {
		t.Error("expected at least the bootstrap full-scan to have called Reset")
	}
	if !store.seenFilter.Since.IsZero() {
		t.Errorf("bootstrap scan must use a zero-value Since, got %v", store.seenFilter.Since)
	}
}

func TestRun_StopsAllSchedulesOnContextCancellation(t *testing.T) {
	store := newStubEventStore(nil)
	sink := &stubAlertSink{}
	r := New(store, sink, newStubScanMetrics(), zap.NewNop())

	schedules := []Schedule{
		{Detector: &stubDetector{name: "a", window: time.Minute}, Interval: time.Hour},
		{Detector: &stubDetector{name: "b", window: time.Minute}, Interval: time.Hour},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx, schedules)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after all schedules' contexts were cancelled")
	}
}

func TestSchedules_WideWindowDetectorUsesSlowInterval(t *testing.T) {
	fast := &stubDetector{name: "fast", window: 5 * time.Minute}
	slow := &stubDetector{name: "slow", window: time.Hour}

	scanInterval := 40 * time.Second
	slowInterval := 400 * time.Second

	scheds := Schedules([]detect.Detector{fast, slow}, scanInterval, slowInterval)
	if scheds[0].Interval != scanInterval {
		t.Errorf("fast detector interval = %v, want %v", scheds[0].Interval, scanInterval)
	}
	if scheds[1].Interval != slowInterval {
		t.Errorf("slow detector interval = %v, want %v", scheds[1].Interval, slowInterval)
	}
}
