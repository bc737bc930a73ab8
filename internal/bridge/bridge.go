// Package bridge defines the optional chat-bridge interface: a secondary
// (sender, text) source/sink that can relay mesh text traffic to and from
// an external chat gateway (e.g. a Telegram bot). Concrete gateway
// implementations are out of scope; this package wires the pluggable
// selection shape and ships an inert default and a placeholder for
// unimplemented backends.
package bridge

import (
	"context"
	"errors"
	"fmt"
)

// Message is a single chat-bridge message in either direction.
type Message struct {
	Sender  string
	Channel uint32
	Text    string
}

// ErrBridgeUnconfigured is returned by a selected-but-not-implemented
// bridge backend.
var ErrBridgeUnconfigured = errors.New("bridge: backend selected but not configured")

// Bridge relays (sender, text) pairs to and from an external chat gateway.
type Bridge interface {
	// Send relays a mesh-originated message to the gateway.
	Send(ctx context.Context, to, text string) error
	// Recv delivers messages arriving from the gateway. The channel is
	// closed when the bridge shuts down.
	Recv() <-chan Message
	Close() error
}

// New dispatches on kind to construct a Bridge, mirroring the backend
// selection shape used for the radio transport. Unknown kinds error at
// construction; a recognized-but-unimplemented kind resolves to a stub
// that reports ErrBridgeUnconfigured at call time instead.
func New(kind string) (Bridge, error) {
	switch kind {
	case "", "none":
		return newNoneBridge(), nil
	case "telegram":
		return newStubBridge(kind), nil
	default:
		return nil, fmt.Errorf("bridge: unknown kind %q", kind)
	}
}

// noneBridge is the default: it relays nothing and never errors.
type noneBridge struct {
	recv chan Message
}

func newNoneBridge() *noneBridge {
	ch := make(chan Message)
	close(ch)
	return &noneBridge{recv: ch}
}

func (n *noneBridge) Send(ctx context.Context, to, text string) error { return nil }
func (n *noneBridge) Recv() <-chan Message                            { return n.recv }
func (n *noneBridge) Close() error                                    { return nil }

// stubBridge stands in for a chat gateway whose wire integration has not
// been implemented yet; it reports ErrBridgeUnconfigured at call time
// rather than at construction, so selecting it does not crash the process.
type stubBridge struct {
	kind string
	recv chan Message
}

func newStubBridge(kind string) *stubBridge {
	ch := make(chan Message)
	close(ch)
	return &stubBridge{kind: kind, recv: ch}
}

func (s *stubBridge) Send(ctx context.Context, to, text string) error { return ErrBridgeUnconfigured }
func (s *stubBridge) Recv() <-chan Message                            { return s.recv }
func (s *stubBridge) Close() error                                    { return nil }
