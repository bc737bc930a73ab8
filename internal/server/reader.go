package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/hlnode/meshgem-proxy/internal/meshproto"
	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
	"github.com/hlnode/meshgem-proxy/internal/registry"
)

// startReader reads raw bytes from a client connection, forwards each
// chunk upstream to the radio verbatim (byte-chunk granularity, not
// re-framed), and separately decodes any complete frames within the chunk
// to detect /gem commands.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *registry.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()

		if s.Radio != nil {
			select {
			case <-s.Radio.Ready():
			case <-ctxDone:
				return
			}
		}

		parser := meshwire.NewParser()
		buf := make([]byte, 4096)

		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			n, err := conn.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])

				frames, skipped := parser.Ingest(chunk)
				if skipped > 0 {
					metrics.IncMalformed()
				}
				for _, fr := range frames {
					metrics.IncFramesClientRx()
					env := meshproto.DecodeEnvelope(fr.Payload)
					if sender, channel, text, ok := meshproto.TryExtractText(env); ok && s.Interceptor != nil {
						s.Interceptor.Submit(sender, channel, text)
					}
				}

				if s.Radio != nil {
					if sendErr := s.Radio.Send(chunk); sendErr != nil {
						metrics.IncError(metrics.ErrRadioWrite)
						logger.Warn("radio_forward_failed", "error", sendErr)
					}
				}
			}

			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}

			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}
