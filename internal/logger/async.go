package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a logger's background workers.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// pending is a record waiting for a worker. The request id is captured at
// enqueue time because workers run without the caller's context.
type pending struct {
	rec       slog.Record
	requestID string
}

// asyncQueue is shared by an AsyncHandler and every handler derived from it
// with WithAttrs or WithGroup.
type asyncQueue struct {
	ch      chan pending
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex // guards closed against sends racing close(ch)
	closed bool
}

// AsyncHandler hands records to a fixed pool of workers over a bounded
// buffer. Handle never blocks: when the buffer is full the record is dropped
// and counted, so a slow sink cannot stall a tree write.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers goroutines draining a buffer of size records
// into inner.
func NewAsyncHandler(inner slog.Handler, size, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	q := &asyncQueue{ch: make(chan pending, size)}
	h := &AsyncHandler{inner: inner, q: q}
	q.wg.Add(workers)
	for range workers {
		go h.work()
	}
	return h
}

func (h *AsyncHandler) work() {
	defer h.q.wg.Done()
	for p := range h.q.ch {
		ctx := context.Background()
		if p.requestID != "" {
			ctx = WithRequestID(ctx, p.requestID)
		}
		_ = h.inner.Handle(ctx, p.rec)
	}
}

func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a copy of rec. Records arriving after Close are dropped.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	defer h.q.mu.RUnlock()
	if h.q.closed {
		h.q.dropped.Add(1)
		return nil
	}
	select {
	case h.q.ch <- pending{rec: rec.Clone(), requestID: RequestID(ctx)}:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns how many records were discarded so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains the buffer and waits for the workers. If records were
// dropped a final warning reporting the count is written synchronously.
// Close is safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()

	h.q.wg.Wait()
	if n := h.q.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async logger dropped records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
