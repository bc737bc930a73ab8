package bridge

import (
	"context"
	"errors"
	"testing"
)

func TestNewDefaultsToNone(t *testing.T) {
	b, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Send(context.Background(), "dest", "hi"); err != nil {
		t.Fatalf("unexpected error from none bridge: %v", err)
	}
}

func TestNoneBridgeRecvClosedImmediately(t *testing.T) {
	b, _ := New("none")
	select {
	case _, ok := <-b.Recv():
		if ok {
			t.Fatalf("expected closed channel with no messages")
		}
	default:
		t.Fatalf("expected Recv channel to be immediately readable (closed)")
	}
}

func TestStubBridgeReportsUnconfigured(t *testing.T) {
	b, err := New("telegram")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Send(context.Background(), "dest", "hi"); !errors.Is(err, ErrBridgeUnconfigured) {
		t.Fatalf("expected ErrBridgeUnconfigured, got %v", err)
	}
}

func TestNewUnknownKindErrors(t *testing.T) {
	if _, err := New("carrier-pigeon"); err == nil {
		t.Fatalf("expected error for unknown bridge kind")
	}
}

func TestCloseIsNoopForBothImplementations(t *testing.T) {
	none, _ := New("none")
	if err := none.Close(); err != nil {
		t.Fatalf("none.Close: %v", err)
	}
	stub, _ := New("telegram")
	if err := stub.Close(); err != nil {
		t.Fatalf("stub.Close: %v", err)
	}
}
