package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var (
	errOverflow = errors.New("overflow")
	errSendFail = errors.New("send fail")
)

func TestAsyncTxSuccess(t *testing.T) {
	var sent atomic.Int64
	var after atomic.Int64
	ax := NewAsyncTx[int](context.Background(), 4, 1, func(int) error {
		sent.Add(1)
		return nil
	}, Hooks[int]{OnAfter: func(int) { after.Add(1) }})
	defer ax.Close()
	for i := 0; i < 3; i++ {
		if err := ax.Send(i); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && sent.Load() < 3 {
		time.Sleep(5 * time.Millisecond)
	}
	if sent.Load() != 3 || after.Load() != 3 {
		t.Fatalf("expected 3 sent & after, got sent=%d after=%d", sent.Load(), after.Load())
	}
}

func TestAsyncTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var drops atomic.Int64
	ax := NewAsyncTx[int](ctx, 1, 1, func(int) error { time.Sleep(150 * time.Millisecond); return nil }, Hooks[int]{OnDrop: func(int) error { drops.Add(1); return errOverflow }})
	defer ax.Close()
	if err := ax.Send(1); err != nil {
		t.Fatalf("unexpected error enqueue first: %v", err)
	}
	if err := ax.Send(2); !errors.Is(err, errOverflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if drops.Load() != 1 {
		t.Fatalf("expected 1 drop, got %d", drops.Load())
	}
}

func TestAsyncTxSendError(t *testing.T) {
	var errs atomic.Int64
	ax := NewAsyncTx[int](context.Background(), 2, 1, func(int) error { return errSendFail }, Hooks[int]{OnError: func(int, error) { errs.Add(1) }})
	defer ax.Close()
	_ = ax.Send(1)
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && errs.Load() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if errs.Load() == 0 {
		t.Fatalf("expected error hook invocation")
	}
}

func TestAsyncTxClose(t *testing.T) {
	var sent atomic.Int64
	ax := NewAsyncTx[int](context.Background(), 2, 1, func(int) error { sent.Add(1); return nil }, Hooks[int]{})
	_ = ax.Send(1)
	ax.Close()
	countAfterClose := sent.Load()
	_ = ax.Send(2)
	time.Sleep(50 * time.Millisecond)
	if sent.Load() != countAfterClose {
		t.Fatalf("item processed after close: before=%d after=%d", countAfterClose, sent.Load())
	}
}

func TestAsyncTxSendAfterClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tx := NewAsyncTx[int](ctx, 2, 1, func(int) error { return nil }, Hooks[int]{})
	tx.Close()
	if err := tx.Send(123); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestAsyncTxCloseConcurrentSend(t *testing.T) {
	for i := 0; i < 100; i++ {
		ax := NewAsyncTx[int](context.Background(), 1, 1, func(int) error { return nil }, Hooks[int]{})
		done := make(chan error, 1)
		go func() {
			done <- ax.Send(1)
		}()
		time.Sleep(1 * time.Millisecond)
		ax.Close()
		if err := <-done; err != nil && !errors.Is(err, ErrClosed) {
			t.Fatalf("iteration %d: unexpected send error %v", i, err)
		}
	}
}
