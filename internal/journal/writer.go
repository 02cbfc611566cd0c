package journal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"screenguard/internal/router"
)

// Writer records router attempts in the background. Observe never blocks
// the pointer path: when the queue is full the attempt is dropped and
// counted.
type Writer struct {
	j      *Journal
	logger *slog.Logger
	queue  chan Entry

	onError func(error)

	mu      sync.Mutex
	closed  bool
	dropped uint64
	done    chan struct{}
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithErrorHandler is called for every failed or dropped write.
func WithErrorHandler(fn func(error)) WriterOption {
	return func(w *Writer) { w.onError = fn }
}

// NewWriter starts a writer with room for queueSize pending attempts.
func NewWriter(j *Journal, queueSize int, logger *slog.Logger, opts ...WriterOption) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := &Writer{
		j:      j,
		logger: logger,
		queue:  make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Observe queues a. It satisfies router.Observer.
func (w *Writer) Observe(a router.Attempt) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- FromAttempt(a, time.Now()):
	default:
		w.dropped++
		w.logger.Warn("journal queue full, attempt dropped", "outcome", a.Outcome.String())
		if w.onError != nil {
			w.onError(errQueueFull)
		}
	}
}

// Dropped returns the number of attempts lost to a full queue.
func (w *Writer) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *Writer) run() {
	defer close(w.done)
	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := w.j.Record(ctx, e)
		cancel()
		if err != nil {
			w.logger.Error("journal write failed", "outcome", e.Outcome, "error", err)
			if w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// Close drains the queue and stops the writer. The journal stays open.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}
