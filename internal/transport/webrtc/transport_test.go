package webrtc

import (
	"context"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

func TestLinkerLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ICE loopback in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := New(nil, nil)
	b := New(nil, nil)
	defer func() { _ = a.Close() }()
	defer func() { _ = b.Close() }()

	offers := make(chan protocol.Signal, 1)
	answers := make(chan protocol.Signal, 1)

	ca, err := a.Dial(ctx, "b", func(sig protocol.Signal) error { offers <- sig; return nil })
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	var cb transport.Conn
	select {
	case offer := <-offers:
		if offer.Type != protocol.SignalOffer || offer.SDP == "" {
			t.Fatalf("Unexpected offer %+v", offer)
		}
		cb, err = b.Answer(ctx, "a", offer, func(sig protocol.Signal) error { answers <- sig; return nil })
		if err != nil {
			t.Fatalf("Answer offer failed: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for offer")
	}

	select {
	case answer := <-answers:
		if conn, err := a.Answer(ctx, "b", answer, nil); err != nil || conn != nil {
			t.Fatalf("Answer answer = %v, %v", conn, err)
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for answer")
	}

	for _, c := range []transport.Conn{ca, cb} {
		select {
		case <-c.Opened():
		case <-ctx.Done():
			t.Fatalf("Link to %s did not open", c.PeerID())
		}
	}

	if err := ca.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case got := <-cb.Recv():
		if string(got) != "hello" {
			t.Errorf("Expected hello, got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("Timeout waiting for message")
	}
}

func TestAnswerWithoutDial(t *testing.T) {
	l := New(nil, nil)
	defer func() { _ = l.Close() }()

	_, err := l.Answer(context.Background(), "x", protocol.Signal{Type: protocol.SignalAnswer, SDP: "v=0"}, nil)
	if err == nil {
		t.Fatal("Expected error for answer without pending dial")
	}
}

func TestSendBeforeOpen(t *testing.T) {
	l := New(nil, nil)
	defer func() { _ = l.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := l.Dial(ctx, "x", func(protocol.Signal) error { return nil })
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	if err := c.Send([]byte("x")); err != transport.ErrNotOpen {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}
