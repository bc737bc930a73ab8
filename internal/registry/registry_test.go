package registry

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAddRemoveCount(t *testing.T) {
	r := New(4, PolicyDrop)
	c1 := r.NewClient()
	c2 := r.NewClient()
	r.Add(c1)
	r.Add(c2)
	if r.Count() != 2 {
		t.Fatalf("expected 2 clients, got %d", r.Count())
	}
	r.Remove(c1)
	if r.Count() != 1 {
		t.Fatalf("expected 1 client after remove, got %d", r.Count())
	}
	select {
	case <-c1.Closed:
	default:
		t.Fatalf("expected removed client to be closed")
	}
	r.Remove(c2)
}

func TestNewClientAssignsIncreasingIDsStartingAtOne(t *testing.T) {
	r := New(1, PolicyDrop)
	a := r.NewClient()
	b := r.NewClient()
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", a.ID, b.ID)
	}
}

func TestBroadcastDropsOnFullQueueUnderPolicyDrop(t *testing.T) {
	r := New(1, PolicyDrop)
	c := r.NewClient()
	r.Add(c)
	r.Broadcast([]byte("a"), 0)
	r.Broadcast([]byte("b"), 0) // queue already full, should be dropped not blocked
	if len(c.Out) != 1 {
		t.Fatalf("expected exactly 1 buffered frame, got %d", len(c.Out))
	}
	select {
	case <-c.Closed:
		t.Fatalf("client should not be closed under PolicyDrop")
	default:
	}
}

func TestBroadcastKicksOnFullQueueUnderPolicyKick(t *testing.T) {
	r := New(1, PolicyKick)
	c := r.NewClient()
	r.Add(c)
	r.Broadcast([]byte("a"), 0)
	r.Broadcast([]byte("b"), 0)
	select {
	case <-c.Closed:
	case <-time.After(time.Second):
		t.Fatalf("expected client to be closed under PolicyKick")
	}
}

// TestBroadcastExcludeZeroIsNoExclusion pins the documented truthiness
// behavior: a zero excludeID never excludes any client, even one whose ID
// happens to be zero (which NewClient never issues, since IDs start at 1).
func TestBroadcastExcludeZeroIsNoExclusion(t *testing.T) {
	r := New(4, PolicyDrop)
	c := r.NewClient()
	r.Add(c)
	r.Broadcast([]byte("hello"), 0)
	select {
	case got := <-c.Out:
		if string(got) != "hello" {
			t.Fatalf("unexpected frame: %q", got)
		}
	default:
		t.Fatalf("expected frame delivered since excludeID=0 never excludes")
	}
}

func TestBroadcastExcludesMatchingNonZeroID(t *testing.T) {
	r := New(4, PolicyDrop)
	target := r.NewClient()
	other := r.NewClient()
	r.Add(target)
	r.Add(other)
	r.Broadcast([]byte("x"), target.ID)
	select {
	case <-target.Out:
		t.Fatalf("expected excluded client to receive nothing")
	default:
	}
	select {
	case <-other.Out:
	default:
		t.Fatalf("expected non-excluded client to receive the frame")
	}
}
