package mesh

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/clock"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestRelayForwardsUnchanged(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	c := attachFake(t, s, "c", false)

	a.send(protocol.Envelope{
		Action:  protocol.ActionRegister,
		Remote:  "c",
		Payload: protocol.Signal{Type: protocol.SignalOffer, SDP: "v=0 offer"},
	})

	env := c.next(protocol.ActionRegister)
	require.Equal(t, "a", env.Local)
	require.Equal(t, "c", env.Remote)
	require.Equal(t, "b", env.Via)
	require.Equal(t, protocol.Signal{Type: protocol.SignalOffer, SDP: "v=0 offer"}, env.Payload)

	// The relay learns nothing about either end.
	_, known := s.Peer("c")
	require.False(t, known)
}

func TestRelayDropsUnreachableTarget(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)

	a.send(protocol.Envelope{
		Action:  protocol.ActionRegister,
		Remote:  "z",
		Payload: protocol.Signal{Type: protocol.SignalAnswer, SDP: "v=0"},
	})
	a.sendPayload(protocol.Ping{Index: 3})

	// The ping answer proves the register was processed first.
	require.Equal(t, 3, a.next(protocol.ActionPing).Payload.(protocol.Ping).Index)
	_, known := s.Peer("z")
	require.False(t, known)
	_, linked := s.Link("z")
	require.False(t, linked)
}

func TestRegisterWithoutLinkerCreatesPeerOnly(t *testing.T) {
	rec := &recorder{}
	s := startSession(t, Options{ID: "c", Watcher: rec})
	b := attachFake(t, s, "b", false)

	b.send(protocol.Envelope{
		Action:  protocol.ActionRegister,
		Local:   "a",
		Remote:  "c",
		Via:     "b",
		Payload: protocol.Signal{Type: protocol.SignalOffer, SDP: "v=0"},
	})

	require.Eventually(t, func() bool { _, ok := s.Peer("a"); return ok }, waitFor, 5*time.Millisecond)
	require.Equal(t, []any{"a"}, rec.named(EventPeer))
	_, linked := s.Link("a")
	require.False(t, linked)
}

func TestMeshIntroducesThroughRelay(t *testing.T) {
	net := NewNetwork(t)
	net.Join("a", Options{})
	net.Join("b", Options{})
	net.Join("c", Options{})

	net.Connect("a", "b")
	require.Eventually(t, func() bool {
		return net.Linked("a", "b") && net.Linked("b", "a")
	}, waitFor, 5*time.Millisecond)

	net.Connect("b", "c")
	require.Eventually(t, func() bool {
		return net.Linked("a", "c") && net.Linked("c", "a")
	}, waitFor, 5*time.Millisecond)

	for _, id := range []string{"a", "b", "c"} {
		require.Len(t, net.Session(id).Links(), 2, "links of %s", id)
		require.Len(t, net.Session(id).Peers(), 3, "peers of %s", id)
	}
}

func TestMeshConvergesAlongChain(t *testing.T) {
	net := NewNetwork(t)
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		net.Join(id, Options{})
	}

	for i := 0; i+1 < len(ids); i++ {
		net.Connect(ids[i], ids[i+1])
		require.Eventually(t, func() bool {
			return net.Linked(ids[i], ids[i+1]) && net.Linked(ids[i+1], ids[i])
		}, waitFor, 5*time.Millisecond)
	}

	require.Eventually(t, func() bool {
		for _, x := range ids {
			for _, y := range ids {
				if x != y && !net.Linked(x, y) {
					return false
				}
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)

	// Every pair measured latency in both directions.
	require.Eventually(t, func() bool {
		for _, id := range ids {
			for _, l := range net.Session(id).Links() {
				if !l.SetupDone() {
					return false
				}
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)
}

func TestMeshDropsDisconnectedPeer(t *testing.T) {
	net := NewNetwork(t)
	net.Join("a", Options{})
	b := net.Join("b", Options{})

	net.Connect("a", "b")
	require.Eventually(t, func() bool { return net.Linked("a", "b") }, waitFor, 5*time.Millisecond)

	link, ok := b.Link("a")
	require.True(t, ok)
	require.NoError(t, link.Close())

	require.Eventually(t, func() bool {
		_, known := net.Session("a").Peer("b")
		return !known
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, []any{"b"}, net.Events("a").named(EventDisconnect))
}

func TestPendingDialIsNotAdvertised(t *testing.T) {
	net := NewNetwork(t)
	a := net.Join("a", Options{})
	b := attachFake(t, a, "b", false)
	b.handshake(protocol.Init{List: []string{"c"}})
	b.next(protocol.ActionRegister)

	d := attachFake(t, a, "d", false)
	info := d.next(protocol.ActionInit).Payload.(protocol.Init)
	require.Equal(t, []string{"b"}, info.List)
}

func TestExpiredDialIsRetried(t *testing.T) {
	clk := clock.NewFake(time.Now())
	net := NewNetwork(t)
	a := net.Join("a", Options{Clock: clk, DialTimeout: time.Second})
	c := net.Join("c", Options{})

	// b relays between a and c by hand.
	ba := attachFake(t, a, "b", false)
	bc := attachFake(t, c, "b", false)
	bc.handshake(protocol.Init{})
	ba.handshake(protocol.Init{List: []string{"c"}})

	// The first offer never reaches c.
	lost := ba.next(protocol.ActionRegister)
	require.Equal(t, "c", lost.Remote)
	require.Eventually(t, func() bool { return clk.Pending() == 1 }, waitFor, 5*time.Millisecond)

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { _, ok := a.Link("c"); return !ok }, waitFor, 5*time.Millisecond)

	ba.sendPayload(protocol.Init{List: []string{"c"}})
	offer := ba.next(protocol.ActionRegister)
	require.NotEqual(t, lost.Payload, offer.Payload)

	offer.Via = "b"
	bc.send(offer)
	answer := bc.next(protocol.ActionRegister)
	require.Equal(t, "a", answer.Remote)
	answer.Via = "b"
	ba.send(answer)

	require.Eventually(t, func() bool {
		return net.Linked("a", "c") && net.Linked("c", "a")
	}, waitFor, 5*time.Millisecond)
}
