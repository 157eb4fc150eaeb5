package mesh

import (
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/syncstate"
	"github.com/stretchr/testify/require"
)

type countingLooper struct {
	countingRoom
}

func (l *countingLooper) StartLoop() { l.Start() }

func fingerprintOf(t *testing.T, m map[string]any) string {
	t.Helper()
	st := syncstate.New()
	require.NoError(t, st.Load(m))
	fp, err := st.Fingerprint()
	require.NoError(t, err)
	return fp
}

func TestStartReleasesOnce(t *testing.T) {
	rec := &recorder{}
	room := &countingRoom{}
	s := startSession(t, Options{ID: "b", Room: room, Watcher: rec})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	fp, err := s.Fingerprint()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		a.sendPayload(protocol.Start{Sync: fp})
	}

	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, room.count())
	require.Equal(t, 1, rec.count(EventStart))
}

func TestStartWaitsForMatchingState(t *testing.T) {
	room := &countingRoom{}
	s := startSession(t, Options{ID: "b", Room: room})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Start{Sync: fingerprintOf(t, map[string]any{"level": 2})})
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, room.count())

	a.sendPayload(protocol.Sync{Key: "level", Value: 2})
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
}

func TestStartWaitsForCacheAndRoom(t *testing.T) {
	s := startSession(t, Options{ID: "b"})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	s.Cache().Block("assets")
	fp, err := s.Fingerprint()
	require.NoError(t, err)
	a.sendPayload(protocol.Start{Sync: fp})

	room := &countingRoom{}
	require.NoError(t, s.SetRoom(room))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, room.count())

	s.Cache().Unblock("assets")
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
}

func TestStaleStartDoesNotCancelMatchingOne(t *testing.T) {
	room := &countingRoom{}
	s := startSession(t, Options{ID: "b", Room: room})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	s.Cache().Block("assets")
	fp, err := s.Fingerprint()
	require.NoError(t, err)
	a.sendPayload(protocol.Start{Sync: fp})
	a.sendPayload(protocol.Start{Sync: fingerprintOf(t, map[string]any{"level": 9})})
	time.Sleep(30 * time.Millisecond)
	require.Zero(t, room.count())

	s.Cache().Unblock("assets")
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
}

func TestRequestStartSkipsLinksInSetup(t *testing.T) {
	s := startSession(t, Options{ID: "b", Room: &countingRoom{}})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})
	c := attachFake(t, s, "c", false)

	require.NoError(t, s.RequestStart(false))
	start := a.next(protocol.ActionStart).Payload.(protocol.Start)
	require.NotEmpty(t, start.Sync)
	c.none(protocol.ActionStart, 50*time.Millisecond)
}

func TestStartTimesOut(t *testing.T) {
	rec := &recorder{}
	room := &countingRoom{}
	s := startSession(t, Options{ID: "b", Room: room, Watcher: rec, MaxPollAttempts: 3})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Start{Sync: "never"})
	require.Eventually(t, func() bool { return rec.count(EventStartTimeout) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 3, rec.named(EventStartTimeout)[0])
	require.Zero(t, room.count())

	// A later request arms again.
	fp, err := s.Fingerprint()
	require.NoError(t, err)
	a.sendPayload(protocol.Start{Sync: fp})
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
}

func TestStartLoopUsesSeparateBarrier(t *testing.T) {
	rec := &recorder{}
	room := &countingRoom{}
	looper := &countingLooper{}
	s := startSession(t, Options{ID: "b", Room: room, Looper: looper, Watcher: rec})
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	fp, err := s.Fingerprint()
	require.NoError(t, err)
	a.sendPayload(protocol.Start{Sync: fp, Loop: true})
	a.sendPayload(protocol.Start{Sync: fp, Loop: true})

	require.Eventually(t, func() bool { return looper.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Zero(t, room.count())
	require.Equal(t, 1, rec.count(EventLoop))

	a.sendPayload(protocol.Start{Sync: fp})
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, looper.count())
}

func TestLateJoinRequestGetsBelatedReply(t *testing.T) {
	rec := &recorder{}
	room := &countingRoom{}
	s := startSession(t, Options{ID: "b", Room: room, Watcher: rec})
	require.NoError(t, s.Sync("level", 4))
	a := attachFake(t, s, "a", false)
	a.handshake(protocol.Init{})

	a.sendPayload(protocol.Start{Request: true})
	reply := a.next(protocol.ActionStart).Payload.(protocol.Start)

	fp, err := s.Fingerprint()
	require.NoError(t, err)
	require.True(t, reply.Belated)
	require.False(t, reply.Loop)
	require.Equal(t, fp, reply.Sync)
	require.Equal(t, map[string]any{"level": float64(4)}, reply.Snapshot)

	time.Sleep(50 * time.Millisecond)
	require.Zero(t, room.count())
	require.Zero(t, rec.count(EventStart))
}

func TestBelatedStartLoadsSnapshot(t *testing.T) {
	room := &countingRoom{}
	s := startSession(t, Options{ID: "c", Room: room})
	b := attachFake(t, s, "b", false)
	b.handshake(protocol.Init{})

	b.sendPayload(protocol.Start{Belated: true, Snapshot: map[string]any{"level": 5, "map": "docks"}})

	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, map[string]any{"level": float64(5), "map": "docks"}, s.Snapshot())
}

func TestRequestLateJoinAcrossMesh(t *testing.T) {
	net := NewNetwork(t)
	host := net.Join("a", Options{Room: &countingRoom{}})
	room := &countingRoom{}
	late := net.Join("b", Options{Room: room})
	require.NoError(t, host.Sync("seed", 42))

	net.Connect("b", "a")
	require.Eventually(t, func() bool { return net.Linked("b", "a") }, waitFor, 5*time.Millisecond)

	require.NoError(t, late.RequestLateJoin("a"))
	require.Eventually(t, func() bool { return room.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, float64(42), late.Snapshot()["seed"])
	require.Error(t, late.RequestLateJoin("nobody"))
}

func TestRequestStartAcrossMesh(t *testing.T) {
	net := NewNetwork(t)
	rooms := map[string]*countingRoom{}
	for _, id := range []string{"a", "b", "c"} {
		rooms[id] = &countingRoom{}
		net.Join(id, Options{Room: rooms[id]})
	}
	net.Connect("a", "b")
	net.Connect("a", "c")
	require.Eventually(t, func() bool {
		return net.Linked("b", "c") && net.Linked("c", "b")
	}, waitFor, 5*time.Millisecond)

	a := net.Session("a")
	require.NoError(t, a.Sync("map", "docks"))
	require.NoError(t, a.RequestStart(false))
	require.NoError(t, a.RequestStart(false))

	require.Eventually(t, func() bool {
		for _, r := range rooms {
			if r.count() != 1 {
				return false
			}
		}
		return true
	}, waitFor, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	for id, r := range rooms {
		require.Equal(t, 1, r.count(), "room of %s", id)
	}
}
