// Package radio manages the single upstream TCP connection to the
// Meshtastic radio: dialing, reconnecting with exponential backoff, reading
// framed bytes off the wire, and serializing writes back to it.
package radio

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/logging"
	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
)

// dialFn and sleepFn are test seams, overridden in unit tests to avoid real
// sockets and real timers.
var (
	dialFn = func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	sleepFn = time.Sleep
)

const (
	backoffMin = 1 * time.Second
	backoffMax = 30 * time.Second
	readBufSize = 4096
	dialTimeout = 10 * time.Second
)

var ErrNotConnected = errors.New("radio: not connected")

// Link owns the upstream radio connection.
type Link struct {
	addr    string
	onFrame func(meshwire.Frame)
	// onConnect runs once per successful (re)connection, before frames are
	// read, so the caller can perform a handshake (e.g. want_config_id).
	onConnect func(send func([]byte) error)
	logger    logFn

	writeMu sync.Mutex
	conn    net.Conn

	connected atomic.Bool

	readyOnce sync.Once
	readyCh   chan struct{}
}

type logFn func(msg string, args ...any)

// Option customizes a Link.
type Option func(*Link)

// WithOnConnect registers a callback invoked after each successful dial,
// given a send function to push the handshake frame.
func WithOnConnect(fn func(send func([]byte) error)) Option {
	return func(l *Link) { l.onConnect = fn }
}

// WithLogger overrides the logger used for connection lifecycle events.
func WithLogger(fn func(msg string, args ...any)) Option {
	return func(l *Link) { l.logger = fn }
}

// NewLink constructs a Link for addr. onFrame is invoked synchronously from
// the read loop for each decoded frame; it must not block for long.
func NewLink(addr string, onFrame func(meshwire.Frame), opts ...Option) *Link {
	l := &Link{
		addr:    addr,
		onFrame: onFrame,
		readyCh: make(chan struct{}),
		logger:  logging.L().Info,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Ready returns a channel closed once the first successful connection has
// been established.
func (l *Link) Ready() <-chan struct{} { return l.readyCh }

// Connected reports whether the upstream connection is currently live.
func (l *Link) Connected() bool { return l.connected.Load() }

// Send writes a fully framed byte slice to the radio connection. Returns
// ErrNotConnected if no connection is currently established.
func (l *Link) Send(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn == nil {
		return ErrNotConnected
	}
	_, err := l.conn.Write(data)
	if err != nil {
		metrics.IncError(metrics.ErrRadioWrite)
		return err
	}
	metrics.IncFramesRadioTx()
	return nil
}

// Run connects to the radio and, on disconnect, reconnects with exponential
// backoff (1s doubling to a 30s cap) until ctx is canceled.
func (l *Link) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		backoff := backoffMin
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			conn, err := dialFn(ctx, l.addr)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				metrics.IncError(metrics.ErrRadioDial)
				metrics.RadioReconnects.Inc()
				l.logger("radio_dial_error", "addr", l.addr, "error", err, "backoff", backoff)
				sleepFn(backoff)
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}

			l.logger("radio_connected", "addr", l.addr)
			l.writeMu.Lock()
			l.conn = conn
			l.writeMu.Unlock()
			l.connected.Store(true)
			metrics.RadioConnected.Set(1)
			backoff = backoffMin
			l.readyOnce.Do(func() { close(l.readyCh) })

			if l.onConnect != nil {
				l.onConnect(l.Send)
			}

			l.readLoop(ctx, conn)

			l.writeMu.Lock()
			l.conn = nil
			l.writeMu.Unlock()
			l.connected.Store(false)
			metrics.RadioConnected.Set(0)
			_ = conn.Close()

			if ctx.Err() != nil {
				return
			}
			l.logger("radio_disconnected", "addr", l.addr)
		}
	}()
}

// readLoop reads from conn until it errs out or ctx is canceled, feeding
// decoded frames to onFrame.
func (l *Link) readLoop(ctx context.Context, conn net.Conn) {
	parser := meshwire.NewParser()
	buf := make([]byte, readBufSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if dl, ok := conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = dl.SetReadDeadline(time.Now().Add(1 * time.Second))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			frames, skipped := parser.Ingest(buf[:n])
			if skipped > 0 {
				metrics.IncMalformed()
			}
			for _, fr := range frames {
				metrics.IncFramesRadioRx()
				l.onFrame(fr)
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			metrics.IncError(metrics.ErrRadioRead)
			return
		}
	}
}
