// Package server owns the client-facing TCP listener: accepting
// connections, registering them with the registry, and running a
// reader/writer goroutine pair per client that bridges client traffic to
// the radio link and the interceptor.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/intercept"
	"github.com/hlnode/meshgem-proxy/internal/logging"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
	"github.com/hlnode/meshgem-proxy/internal/radio"
	"github.com/hlnode/meshgem-proxy/internal/registry"
)

// Server owns the TCP listener and coordinates client lifecycle.
type Server struct {
	mu          sync.RWMutex
	addr        string
	Registry    *registry.Registry
	Radio       *radio.Link
	Interceptor *intercept.Interceptor

	flushInterval time.Duration
	batchSize     int
	readDeadline  time.Duration
	maxClients    int

	readyOnce sync.Once
	readyCh   chan struct{}

	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[*registry.Client]net.Conn

	wg     sync.WaitGroup
	logger *slog.Logger

	nextConnID        uint64
	totalAccepted     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
	totalRejected     atomic.Uint64
}

const (
	defaultFlushInterval = 5 * time.Millisecond
	defaultBatchSize     = 32
	defaultReadDeadline  = 60 * time.Second
)

// Option customizes a Server.
type Option func(*Server)

// New constructs a Server; the listener is not opened until Serve runs.
func New(opts ...Option) *Server {
	s := &Server{
		flushInterval: defaultFlushInterval,
		batchSize:     defaultBatchSize,
		readDeadline:  defaultReadDeadline,
		readyCh:       make(chan struct{}),
		errCh:         make(chan error, 1),
		clients:       make(map[*registry.Client]net.Conn),
		logger:        logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option             { return func(s *Server) { s.addr = a } }
func WithRegistry(r *registry.Registry) Option    { return func(s *Server) { s.Registry = r } }
func WithRadio(l *radio.Link) Option              { return func(s *Server) { s.Radio = l } }
func WithInterceptor(i *intercept.Interceptor) Option {
	return func(s *Server) { s.Interceptor = i }
}
func WithMaxClients(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}
func WithFlushInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}
func WithBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.batchSize = n
		}
	}
}
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) setAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }

// Ready returns a channel closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Errors streams non-fatal and fatal errors observed while serving.
func (s *Server) Errors() <-chan error { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

// LastError returns the most recently observed error, if any.
func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve binds the listener and accepts clients until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("tcp_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}

	s.totalAccepted.Add(1)
	metrics.ClientsAccepted.Inc()
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	if s.maxClients > 0 && s.Registry != nil && s.Registry.Count() >= s.maxClients {
		s.totalRejected.Add(1)
		metrics.ClientsRejected.Inc()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}

	cl := s.newClient()
	s.clientsMu.Lock()
	s.clients[cl] = conn
	s.clientsMu.Unlock()
	s.totalConnected.Add(1)
	connLogger.Info("client_connected")

	s.startWriter(ctx.Done(), conn, cl, connLogger)
	s.startReader(ctx.Done(), conn, cl, connLogger)
	return nil
}

func (s *Server) newClient() *registry.Client {
	if s.Registry == nil {
		return &registry.Client{Out: make(chan []byte, 512), Closed: make(chan struct{})}
	}
	cl := s.Registry.NewClient()
	s.Registry.Add(cl)
	return cl
}

// Shutdown closes the listener and all client connections, waiting up to
// ctx's deadline for in-flight reader/writer goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.clientsMu.Lock()
	for cl, conn := range s.clients {
		_ = conn.Close()
		if s.Registry != nil {
			s.Registry.Remove(cl)
		}
		delete(s.clients, cl)
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"rejected", s.totalRejected.Load(),
		)
		return nil
	}
}
