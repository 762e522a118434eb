package notes

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Default batching windows.
const (
	DefaultWait    = 100 * time.Millisecond
	DefaultMaxWait = 2 * time.Second
)

// BatcherOptions configures a Batcher.
type BatcherOptions struct {
	// Wait is the quiet period: a batch flushes once no Add arrived for Wait.
	Wait time.Duration
	// MaxWait forces a flush once the oldest queued call is this old, even
	// if calls keep arriving. Zero disables the ceiling.
	MaxWait time.Duration
	// Preflush runs once before the queued calls of a flush.
	Preflush func()
	// Postflush runs once after them, also when calls failed.
	Postflush func()
	// OnError receives every per-call failure.
	OnError func(err error)
	Logger  *slog.Logger
}

// Batcher is a debounced deferred call queue. Values added with Add are
// handed to the handler in arrival order, one at a time, in flushes that
// run after a quiet period. A flush never interleaves with another flush;
// values added while a flush is running wait for the next one.
type Batcher[T any] struct {
	handler func(context.Context, T) error
	opts    BatcherOptions
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []T
	first  time.Time
	last   time.Time
	closed bool

	flushMu  sync.Mutex
	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

// NewBatcher creates a batcher that feeds queued values to handler.
func NewBatcher[T any](handler func(context.Context, T) error, opts BatcherOptions) *Batcher[T] {
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.MaxWait < 0 {
		opts.MaxWait = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher[T]{
		handler: handler,
		opts:    opts,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Add queues v and restarts the quiet period. It returns false once the
// batcher is closed; v is then dropped.
func (b *Batcher[T]) Add(v T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	now := time.Now()
	if len(b.queue) == 0 {
		b.first = now
	}
	b.last = now
	b.queue = append(b.queue, v)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of queued values.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Run owns the flush timer and blocks until ctx is done or Close is called.
// Close flushes what is already queued before Run returns; cancelling ctx
// drops it.
func (b *Batcher[T]) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("notes: batcher already running")
	}
	defer close(b.done)

	timer := time.NewTimer(b.opts.Wait)
	timer.Stop()
	defer timer.Stop()

	arm := func() {
		if due, ok := b.due(); ok {
			timer.Reset(time.Until(due))
		}
	}

	for {
		select {
		case <-ctx.Done():
			if n := b.Pending(); n > 0 {
				b.logger.Debug("batcher: dropped on cancel", slog.Int("pending", n))
			}
			return nil

		case <-b.stop:
			b.flush(ctx)
			return nil

		case <-b.wake:
			arm()

		case <-timer.C:
			due, ok := b.due()
			if !ok {
				continue
			}
			if wait := time.Until(due); wait > 0 {
				timer.Reset(wait)
				continue
			}
			b.flush(ctx)
			arm()
		}
	}
}

// due returns when the current batch should flush.
func (b *Batcher[T]) due() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return time.Time{}, false
	}
	at := b.last.Add(b.opts.Wait)
	if b.opts.MaxWait > 0 {
		if ceiling := b.first.Add(b.opts.MaxWait); ceiling.Before(at) {
			at = ceiling
		}
	}
	return at, true
}

// Close stops accepting values. If Run is active it performs a final flush
// and Close waits for it.
func (b *Batcher[T]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stop) })
	if b.started.Load() {
		<-b.done
	}
}

func (b *Batcher[T]) flush(ctx context.Context) int {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	calls := b.queue
	b.queue = nil
	b.first = time.Time{}
	b.mu.Unlock()

	if len(calls) == 0 {
		return 0
	}

	if b.opts.Preflush != nil {
		b.opts.Preflush()
	}
	if b.opts.Postflush != nil {
		defer b.opts.Postflush()
	}

	failed := 0
	for _, c := range calls {
		if err := b.invoke(ctx, c); err != nil {
			failed++
			b.logger.Warn("batcher: call failed", slog.String("error", err.Error()))
			if b.opts.OnError != nil {
				b.opts.OnError(err)
			}
		}
	}

	b.logger.Debug("batcher: flushed", slog.Int("calls", len(calls)), slog.Int("failed", failed))
	return len(calls)
}

// invoke runs one call, turning a panic into an error so the rest of the
// batch still runs.
func (b *Batcher[T]) invoke(ctx context.Context, v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notes: batched call panic: %v", r)
			if b.logger.Enabled(ctx, slog.LevelDebug) {
				b.logger.Debug("batcher: panic stack", slog.String("stack", string(debug.Stack())))
			}
		}
	}()
	return b.handler(ctx, v)
}
