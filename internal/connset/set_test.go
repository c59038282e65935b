package connset

import (
	"log/slog"
	"testing"

	"github.com/eternisai/chatcore/internal/wire"
)

func TestNewConnectionClampsBufferSize(t *testing.T) {
	c := NewConnection("a", 1)
	if cap(c.Out) != minBufferSize {
		t.Fatalf("expected clamped min buffer %d, got %d", minBufferSize, cap(c.Out))
	}
	c2 := NewConnection("b", 100000)
	if cap(c2.Out) != maxBufferSize {
		t.Fatalf("expected clamped max buffer %d, got %d", maxBufferSize, cap(c2.Out))
	}
}

func TestSetBroadcastDeliversToAllConnections(t *testing.T) {
	s := NewSet(slog.Default())
	a := NewConnection("a", defaultBuffer)
	b := NewConnection("b", defaultBuffer)
	s.Attach(a)
	s.Attach(b)

	s.Broadcast(wire.Outbound{Type: wire.TypeChatResponse, ID: "r1", Body: "hi"})

	select {
	case f := <-a.Out:
		if f.Body != "hi" {
			t.Fatalf("unexpected frame on a: %+v", f)
		}
	default:
		t.Fatal("expected a frame on connection a")
	}
	select {
	case f := <-b.Out:
		if f.Body != "hi" {
			t.Fatalf("unexpected frame on b: %+v", f)
		}
	default:
		t.Fatal("expected a frame on connection b")
	}
}

func TestSetDetachCancelsAndCloses(t *testing.T) {
	s := NewSet(slog.Default())
	a := NewConnection("a", defaultBuffer)
	s.Attach(a)
	s.Detach("a")

	if !a.IsDisconnected() {
		t.Fatal("expected connection to be marked disconnected after detach")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected connection to be removed from the set")
	}
}

func TestConnectionSendDropsWhenDisconnected(t *testing.T) {
	c := NewConnection("a", defaultBuffer)
	c.Cancel()
	if c.Send(wire.Outbound{Type: wire.TypeChatClear}) {
		t.Fatal("expected Send to report failure on a cancelled connection")
	}
}
