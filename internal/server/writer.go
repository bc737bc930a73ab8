package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/metrics"
	"github.com/hlnode/meshgem-proxy/internal/registry"
)

// startWriter drains a client's outbound frame channel, batching pending
// frames on a ticker before writing them to the connection.
func (s *Server) startWriter(ctxDone <-chan struct{}, conn net.Conn, cl *registry.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			_ = conn.Close()
			if s.Registry != nil {
				s.Registry.Remove(cl)
			}
			s.totalDisconnected.Add(1)
			logger.Info("client_disconnected")
		}()

		t := time.NewTicker(s.flushInterval)
		defer t.Stop()
		batch := make([][]byte, 0, s.batchSize)

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			var buf bytes.Buffer
			for _, fr := range batch {
				buf.Write(fr)
			}
			n := len(batch)
			batch = batch[:0]
			if _, err := conn.Write(buf.Bytes()); err != nil {
				wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return wrap
			}
			metrics.IncFramesClientTx(n)
			return nil
		}

		for {
			select {
			case fr := <-cl.Out:
				batch = append(batch, fr)
				if len(batch) >= s.batchSize {
					if err := flush(); err != nil {
						return
					}
				}
			case <-t.C:
				if err := flush(); err != nil {
					return
				}
			case <-cl.Closed:
				_ = flush()
				return
			case <-ctxDone:
				_ = flush()
				return
			}
		}
	}()
}
