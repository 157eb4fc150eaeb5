package mesh

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestInitMergesPeerData(t *testing.T) {
	s := startSession(t, Options{ID: "b", Account: "acc-b", Data: map[string]any{"role": "host"}})
	a := attachFake(t, s, "a", false)

	env := a.next(protocol.ActionInit)
	sent := env.Payload.(protocol.Init)
	require.Equal(t, "acc-b", sent.Account)
	require.Equal(t, "host", sent.Data["role"])
	require.Empty(t, sent.List)

	a.sendPayload(protocol.Update{Key: "color", Value: "blue"})
	a.sendPayload(protocol.Update{Key: "keep", Value: 1})
	a.sendPayload(protocol.Init{
		Account: "acc-a",
		Time:    42,
		Data:    map[string]any{"color": "red", "score": 3},
	})

	require.Eventually(t, func() bool {
		p, ok := s.Peer("a")
		return ok && p.Account == "acc-a"
	}, waitFor, 5*time.Millisecond)

	p, _ := s.Peer("a")
	require.Equal(t, int64(42), p.Time)
	require.Equal(t, map[string]any{"color": "red", "score": float64(3), "keep": float64(1)}, p.Data)
}

func TestInitListExcludesReceiver(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{Account: "acc-a"})

	c := attachFake(t, s, "c", false)
	info := c.next(protocol.ActionInit).Payload.(protocol.Init)
	require.Equal(t, []string{"a"}, info.List)
}

func TestReadyLinkReannouncesNewcomer(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	c := attachFake(t, s, "c", false)
	c.handshake(protocol.Init{})

	again := a.next(protocol.ActionInit).Payload.(protocol.Init)
	require.Equal(t, []string{"c"}, again.List)

	// A repeated init does not announce again.
	c.sendPayload(protocol.Init{})
	a.none(protocol.ActionInit, 50*time.Millisecond)
}

func TestPingIsAnsweredWithSameIndex(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Ping{Index: 7})
	pong := a.next(protocol.ActionPing).Payload.(protocol.Ping)
	require.True(t, pong.Pong)
	require.Equal(t, 7, pong.Index)
}

func TestPongCompletesSetupOnce(t *testing.T) {
	rec := &recorder{}
	s := startSession(t, Options{ID: "a", Watcher: rec})
	b := attachFake(t, s, "b", true)
	b.handshake(protocol.Init{})

	ping := b.next(protocol.ActionPing).Payload.(protocol.Ping)
	require.False(t, ping.Pong)

	b.sendPayload(protocol.Ping{Pong: true, Index: ping.Index})
	b.sendPayload(protocol.Ping{Pong: true, Index: ping.Index})

	follow := b.next(protocol.ActionPing).Payload.(protocol.Ping)
	require.True(t, follow.RemoteSetup)

	require.Eventually(t, func() bool { return rec.count(EventSetup) == 1 }, waitFor, 5*time.Millisecond)
	b.none(protocol.ActionPing, 50*time.Millisecond)
	require.Equal(t, 1, rec.count(EventSetup))

	setup := rec.named(EventSetup)[0].(Setup)
	require.Equal(t, ping.Index, setup.Index)
	require.True(t, setup.Initiator)
	require.GreaterOrEqual(t, setup.Latency, time.Duration(0))

	link, ok := s.Link("b")
	require.True(t, ok)
	require.True(t, link.SetupDone())
}

func TestUnsolicitedPongCompletesOnce(t *testing.T) {
	rec := &recorder{}
	s := startSession(t, Options{ID: "b", Watcher: rec})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Ping{Pong: true, Index: 7})
	a.sendPayload(protocol.Ping{Pong: true, Index: 7})

	require.Eventually(t, func() bool { return rec.count(EventSetup) == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, rec.count(EventSetup))

	setup := rec.named(EventSetup)[0].(Setup)
	require.Equal(t, 7, setup.Index)
	require.Less(t, setup.Latency, time.Duration(0))
}

func TestRemoteSetupRunsMeasurement(t *testing.T) {
	rec := &recorder{}
	s := startSession(t, Options{ID: "b", Watcher: rec})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Ping{RemoteSetup: true})
	ping := a.next(protocol.ActionPing).Payload.(protocol.Ping)
	require.False(t, ping.Pong)
	require.False(t, ping.RemoteSetup)

	a.sendPayload(protocol.Ping{Pong: true, Index: ping.Index})
	require.Eventually(t, func() bool { return rec.count(EventSetup) == 1 }, waitFor, 5*time.Millisecond)

	// The non-initiator never asks back.
	a.none(protocol.ActionPing, 50*time.Millisecond)
}

func TestCloseRemovesPeer(t *testing.T) {
	rec := &recorder{}
	s := startSession(t, Options{ID: "b", Watcher: rec})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{Account: "acc-a"})

	require.Eventually(t, func() bool { _, ok := s.Peer("a"); return ok }, waitFor, 5*time.Millisecond)

	_ = a.conn.Close()

	require.Eventually(t, func() bool {
		_, known := s.Peer("a")
		_, linked := s.Link("a")
		return !known && !linked
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, []any{"a"}, rec.named(EventDisconnect))
}

// pingState counts the outstanding pings and completed setups kept by s.
func pingState(t *testing.T, s *Session) (pending, completed int) {
	t.Helper()
	require.NoError(t, s.call(func() error {
		pending, completed = len(s.pings), len(s.completed)
		return nil
	}))
	return pending, completed
}

func TestCloseForgetsPingState(t *testing.T) {
	s := startSession(t, Options{ID: "a"})
	b := attachFake(t, s, "b", true)
	b.handshake(protocol.Init{})

	first := b.next(protocol.ActionPing).Payload.(protocol.Ping)
	b.sendPayload(protocol.Ping{Pong: true, Index: first.Index})
	require.True(t, b.next(protocol.ActionPing).Payload.(protocol.Ping).RemoteSetup)

	// A second measurement is left unanswered.
	b.sendPayload(protocol.Ping{RemoteSetup: true})
	b.next(protocol.ActionPing)

	pending, completed := pingState(t, s)
	require.Equal(t, 1, pending)
	require.Equal(t, 1, completed)

	_ = b.conn.Close()
	require.Eventually(t, func() bool {
		pending, completed := pingState(t, s)
		return pending == 0 && completed == 0
	}, waitFor, 5*time.Millisecond)
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendRaw(`{{`)
	a.sendRaw(`{"action":"ping","local":"a"}`)
	a.sendRaw(`{"action":"ping","data":{"index":-3},"local":"a"}`)
	a.sendPayload(protocol.Ping{Index: 1})

	pong := a.next(protocol.ActionPing).Payload.(protocol.Ping)
	require.Equal(t, 1, pong.Index)
}
