package server

import (
	"errors"

	"github.com/hlnode/meshgem-proxy/internal/metrics"
)

// Sentinel errors, wrapped so callers can classify via errors.Is.
var (
	ErrListen    = errors.New("listen")
	ErrAccept    = errors.New("accept")
	ErrConnRead  = errors.New("conn_read")
	ErrConnWrite = errors.New("conn_write")
	ErrContext   = errors.New("context_cancelled")
)

// mapErrToMetric maps a wrapped sentinel error to a bounded metrics label.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTCPWrite
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrAcceptOrLsn
	case errors.Is(err, ErrContext):
		return "context"
	default:
		return "other"
	}
}
