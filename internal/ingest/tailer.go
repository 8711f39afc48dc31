// Package ingest implements the Ingest Adapters (C3): a position-tracked
// file tailer and an HTTP push endpoint, both delivering lines/records
// through a single normalize→append pipeline. The tailer uses
// golang.org/x/sys/unix inotify wakeups with a time.Ticker fallback poll
// for portability (inotify is Linux-only; the ticker keeps the tailer
// working under a container runtime without inotify support).
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/normalize"
)

// OffsetStore persists and restores each watched file's byte offset —
// the tailer's cursor, reusing the event store's cursors bucket rather
// than a second file-based cursor store.
type OffsetStore interface {
	GetCursorOffset(name string) (int64, error)
	PutCursorOffset(name string, offset int64) error
}

// EventAppender is the subset of storage.DB the tailer writes normalized
// Events to.
type EventAppender interface {
	Append(ev model.Event) error
}

// Metrics is the subset of observability.Metrics the tailer updates.
type Metrics interface {
	IncIngested(source string)
	IncDropped(source, reason string)
	SetQueueDepth(depth float64)
}

const (
	lineQueueCap  = 10000
	pollFallback  = 2 * time.Second
	inotifyEvents = unix.IN_MODIFY | unix.IN_MOVE_SELF | unix.IN_DELETE_SELF
)

// Tailer watches a set of log files, enqueuing newly-appended lines onto
// a FIFO of fixed capacity (lineQueueCap); a line read while the FIFO is
// full is dropped and counted as "queue_full". A single consumer goroutine
// drains the queue, normalizes each line, and appends the resulting Event.
type Tailer struct {
	paths     []string
	store     EventAppender
	offsets   OffsetStore
	norm      *normalize.Normalizer
	metrics   Metrics
	log       *zap.Logger
	queue     chan string
}

// NewTailer constructs a Tailer over the given log file paths.
func NewTailer(paths []string, store EventAppender, offsets OffsetStore, norm *normalize.Normalizer, metrics Metrics, log *zap.Logger) *Tailer {
	return &Tailer{
		paths:   paths,
		store:   store,
		offsets: offsets,
		norm:    norm,
		metrics: metrics,
		log:     log,
		queue:   make(chan string, lineQueueCap),
	}
}

// Run starts one watcher goroutine per file plus a single consumer
// goroutine, and blocks until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	go t.consume(ctx)

	for _, path := range t.paths {
		go t.watch(ctx, path)
	}

	<-ctx.Done()
	return nil
}

// watch follows one file, reading only bytes beyond the last recorded
// offset on each wake. Rotation/truncation (current size < stored offset)
// resets the offset to zero.
func (t *Tailer) watch(ctx context.Context, path string) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK)
	useInotify := err == nil
	var wd int
	if useInotify {
		wd, err = unix.InotifyAddWatch(fd, path, inotifyEvents)
		if err != nil {
			useInotify = false
			_ = unix.Close(fd)
		}
	}
	if useInotify {
		defer func() {
			_, _ = unix.InotifyRmWatch(fd, uint32(wd))
			_ = unix.Close(fd)
		}()
	} else if t.log != nil {
		t.log.Debug("ingest: inotify unavailable, falling back to polling", zap.String("path", path), zap.Error(err))
	}

	t.readNewBytes(path)

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	inotifyWake := make(chan struct{}, 1)
	if useInotify {
		go pollInotify(ctx, fd, inotifyWake)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.readNewBytes(path)
		case <-inotifyWake:
			t.readNewBytes(path)
		}
	}
}

// pollInotify blocks on the inotify fd in short bursts so it can observe
// ctx cancellation rather than blocking indefinitely.
func pollInotify(ctx context.Context, fd int, wake chan<- struct{}) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, 200)
		if err != nil || n == 0 {
			continue
		}
		if _, err := unix.Read(fd, buf); err != nil {
			continue
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (t *Tailer) readNewBytes(path string) {
	f, err := os.Open(path)
	if err != nil {
		if t.log != nil {
			t.log.Warn("ingest: open failed", zap.String("path", path), zap.Error(err))
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}

	offset, _ := t.offsets.GetCursorOffset(path)
	if info.Size() < offset {
		offset = 0 // rotation/truncation: start over
	}
	if info.Size() == offset {
		return // nothing new
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var consumed int64
	for scanner.Scan() {
		line := scanner.Bytes()
		consumed += int64(len(line)) + 1 // account for the newline
		t.enqueue(string(bytes.TrimRight(line, "\r")))
	}

	newOffset := offset + consumed
	if newOffset > info.Size() {
		newOffset = info.Size()
	}
	_ = t.offsets.PutCursorOffset(path, newOffset)
}

func (t *Tailer) enqueue(line string) {
	if line == "" {
		return
	}
	select {
	case t.queue <- line:
		if t.metrics != nil {
			t.metrics.SetQueueDepth(float64(len(t.queue)))
		}
	default:
		if t.metrics != nil {
			t.metrics.IncDropped("tailer", "queue_full")
		}
		if t.log != nil {
			t.log.Debug("ingest: tailer queue full, dropping line")
		}
	}
}

// consume drains the FIFO, normalizing each line and appending the
// resulting Event to the store on success.
func (t *Tailer) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-t.queue:
			t.processLine(line)
		}
	}
}

func (t *Tailer) processLine(line string) {
	ev, matched := t.norm.Normalize(line)
	if !matched {
		if t.metrics != nil {
			t.metrics.IncDropped("tailer", "parse_error")
		}
		return
	}
	if err := t.store.Append(*ev); err != nil {
		if t.metrics != nil {
			t.metrics.IncDropped("tailer", "store_error")
		}
		if t.log != nil {
			t.log.Warn("ingest: append failed", zap.Error(err))
		}
		return
	}
	if t.metrics != nil {
		t.metrics.IncIngested("tailer")
	}
}
