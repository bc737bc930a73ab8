package radio

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errDialAlwaysFails = errors.New("dial always fails")

func TestRunBackoffProgressionOnDialFailure(t *testing.T) {
	origDial, origSleep := dialFn, sleepFn
	defer func() { dialFn, sleepFn = origDial, origSleep }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialFn = func(ctx context.Context, addr string) (net.Conn, error) {
		return nil, errDialAlwaysFails
	}

	var mu sync.Mutex
	var seen []time.Duration
	sleepFn = func(d time.Duration) {
		mu.Lock()
		if len(seen) < 5 {
			seen = append(seen, d)
			if len(seen) == 5 {
				cancel()
			}
		}
		mu.Unlock()
	}

	l := NewLink("fake:0", func(meshwire.Frame) {})
	var wg sync.WaitGroup
	l.Run(ctx, &wg)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 3 {
		t.Fatalf("expected at least 3 backoff samples, got %d", len(seen))
	}
	if seen[0] != backoffMin {
		t.Fatalf("expected first backoff %v, got %v", backoffMin, seen[0])
	}
	prev := backoffMin / 2
	for i, d := range seen {
		if d < prev {
			t.Fatalf("backoff decreased at %d: prev=%v cur=%v", i, prev, d)
		}
		if d > backoffMax {
			t.Fatalf("backoff exceeded max at %d: %v > %v", i, d, backoffMax)
		}
		prev = d
	}
}

func TestRunConnectsReadsFramesAndClosesReady(t *testing.T) {
	origDial := dialFn
	defer func() { dialFn = origDial }()

	serverConn, clientConn := net.Pipe()
	dialFn = func(ctx context.Context, addr string) (net.Conn, error) {
		return clientConn, nil
	}

	var mu sync.Mutex
	var got []meshwire.Frame
	frameCh := make(chan struct{}, 1)
	l := NewLink("fake:0", func(fr meshwire.Frame) {
		mu.Lock()
		got = append(got, fr)
		mu.Unlock()
		select {
		case frameCh <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	l.Run(ctx, &wg)

	select {
	case <-l.Ready():
	case <-time.After(time.Second):
		t.Fatalf("Ready() never closed")
	}

	framed, err := meshwire.Build([]byte("payload"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	go func() { _, _ = serverConn.Write(framed) }()

	select {
	case <-frameCh:
	case <-time.After(time.Second):
		t.Fatalf("frame never delivered")
	}

	mu.Lock()
	if len(got) != 1 || string(got[0].Payload) != "payload" {
		t.Fatalf("unexpected frames: %+v", got)
	}
	mu.Unlock()

	if !l.Connected() {
		t.Fatalf("expected Connected() true")
	}

	cancel()
	_ = serverConn.Close()
	wg.Wait()
}

func TestSendReturnsErrNotConnectedBeforeDial(t *testing.T) {
	l := NewLink("fake:0", func(meshwire.Frame) {})
	if err := l.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestOnConnectHookFiresWithSend(t *testing.T) {
	origDial := dialFn
	defer func() { dialFn = origDial }()

	serverConn, clientConn := net.Pipe()
	dialFn = func(ctx context.Context, addr string) (net.Conn, error) { return clientConn, nil }

	hookCh := make(chan struct{}, 1)
	l := NewLink("fake:0", func(meshwire.Frame) {}, WithOnConnect(func(send func([]byte) error) {
		_ = send([]byte("hello"))
		hookCh <- struct{}{}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	l.Run(ctx, &wg)

	buf := make([]byte, 5)
	go func() { _, _ = serverConn.Read(buf) }()

	select {
	case <-hookCh:
	case <-time.After(time.Second):
		t.Fatalf("onConnect hook never fired")
	}

	cancel()
	_ = serverConn.Close()
	wg.Wait()
}
