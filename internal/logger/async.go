package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncShared is the state every handler derived via WithAttrs/WithGroup shares.
type asyncShared struct {
	ch      chan asyncRecord
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// asyncRecord pairs a record with the handler chain that must render it, so
// derived handlers keep their attributes while sharing one queue.
type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool.
// Records are dropped, never blocked on, when the buffer is full.
type AsyncHandler struct {
	inner  slog.Handler
	shared *asyncShared
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	shared := &asyncShared{ch: make(chan asyncRecord, chanSize)}
	for range workers {
		shared.wg.Add(1)
		go shared.drain()
	}
	return &AsyncHandler{inner: inner, shared: shared}
}

func (s *asyncShared) drain() {
	defer s.wg.Done()
	for r := range s.ch {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the channel is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.shared.ch <- asyncRecord{h: h.inner, rec: rec.Clone()}:
	default:
		h.shared.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a new AsyncHandler sharing the same channel but wrapping a new inner handler.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), shared: h.shared}
}

// WithGroup returns a new AsyncHandler sharing the same channel but wrapping a new inner handler.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), shared: h.shared}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.shared.dropped.Load()
}

// Close closes the channel and waits for all workers to drain.
// Calling Close more than once is safe.
func (h *AsyncHandler) Close() {
	h.shared.once.Do(func() { close(h.shared.ch) })
	h.shared.wg.Wait()
}
