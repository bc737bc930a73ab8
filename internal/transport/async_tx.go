package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// AsyncTx is a reusable asynchronous fan-in worker. It funnels arbitrary
// payload writes through a single goroutine (or a small fixed pool of them)
// and provides non-blocking enqueue semantics: if the internal buffer is
// full, Send invokes the configured OnDrop hook and returns its error. This
// keeps producers from blocking behind a slow or wedged consumer.
//
// Life-cycle:
//
//	a := NewAsyncTx[Job](ctx, buf, workers, sendFn, hooks)
//	a.Send(job)
//	a.Close()
//
// After Close returns no more items will be processed. Callers should not
// send after Close; doing so returns ErrClosed.
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks[T]
	closed atomic.Bool
}

// Hooks customize AsyncTx behavior.
type Hooks[T any] struct {
	// OnError is called when send returns a non-nil error.
	OnError func(T, error)
	// OnAfter is called only after a successful send.
	OnAfter func(T)
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Send. If nil, the overflow is silent.
	OnDrop func(T) error
}

// ErrClosed is returned by Send once the AsyncTx has been closed.
var ErrClosed = errors.New("transport: async tx closed")

// NewAsyncTx constructs an AsyncTx with a buffered channel of size buf and
// workers concurrent consumer goroutines (at least 1).
func NewAsyncTx[T any](parent context.Context, buf, workers int, send func(T) error, hooks Hooks[T]) *AsyncTx[T] {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.loop()
	}
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case item, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(item); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(item, err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter(item)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Send queues an item for asynchronous processing, or invokes OnDrop (and
// returns its error) if the buffer is full.
func (a *AsyncTx[T]) Send(item T) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.ch <- item:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(item)
		}
		return nil
	}
}

// Close stops the worker(s) and waits for in-flight processing to finish.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
