package batch

import (
	"context"
	"sync"
	"time"
)

// Batcher collects items and hands them to a flush function once size
// items are pending or every interval, whichever comes first. Items are
// flushed in the order they were added.
type Batcher[T any] struct {
	size     int
	interval time.Duration
	flush    func(ctx context.Context, items []T) error
	onError  func(err error, dropped int)

	mu      sync.Mutex
	pending []T
	flushMu sync.Mutex

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New starts a batcher. size below 1 is treated as 1.
func New[T any](size int, interval time.Duration, flush func(ctx context.Context, items []T) error) *Batcher[T] {
	if size < 1 {
		size = 1
	}
	b := &Batcher[T]{
		size:     size,
		interval: interval,
		flush:    flush,
		pending:  make([]T, 0, size),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go b.run()

	return b
}

// OnError registers a callback for failed background flushes. It must be
// set before the first Add.
func (b *Batcher[T]) OnError(fn func(err error, dropped int)) {
	b.onError = fn
}

// Add queues item. It reports false once the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	select {
	case <-b.stop:
		return false
	default:
	}

	b.mu.Lock()
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.size
	b.mu.Unlock()

	if full {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush hands every pending item to the flush function now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.size)
	b.mu.Unlock()

	return b.flush(ctx, items)
}

func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.flushInBackground()
		case <-b.kick:
			b.flushInBackground()
		case <-b.stop:
			b.flushInBackground()
			return
		}
	}
}

func (b *Batcher[T]) flushInBackground() {
	dropped := b.Pending()
	if err := b.Flush(context.Background()); err != nil && b.onError != nil {
		b.onError(err, dropped)
	}
}

// Stop flushes what is pending and waits for the background loop to exit.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}
