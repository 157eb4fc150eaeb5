package mesh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/logger"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport/memory"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type event struct {
	name    string
	payload any
}

// recorder is a Watcher collecting every event.
type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Emit(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{name: name, payload: payload})
}

func (r *recorder) named(name string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e.payload)
		}
	}
	return out
}

func (r *recorder) count(name string) int { return len(r.named(name)) }

type countingRoom struct {
	mu     sync.Mutex
	starts int
}

func (r *countingRoom) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *countingRoom) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// startSession runs a session until the test ends.
func startSession(t *testing.T, opts Options) *Session {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}

	s, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

// fakePeer drives one end of a pipe by hand.
type fakePeer struct {
	t     *testing.T
	id    string
	conn  transport.Conn
	codec *protocol.Codec
}

// attachFake links s to a hand-driven peer id. initiator is from the
// session's point of view.
func attachFake(t *testing.T, s *Session, id string, initiator bool) *fakePeer {
	t.Helper()
	sessionEnd, fakeEnd := memory.Pipe(s.ID(), id)
	_, err := s.Attach(sessionEnd, initiator)
	require.NoError(t, err)
	return &fakePeer{t: t, id: id, conn: fakeEnd, codec: protocol.NewCodec(nil)}
}

func (f *fakePeer) send(env protocol.Envelope) {
	f.t.Helper()
	if env.Local == "" {
		env.Local = f.id
	}
	data, err := f.codec.Encode(env)
	require.NoError(f.t, err)
	require.NoError(f.t, f.conn.Send(data))
}

func (f *fakePeer) sendPayload(p protocol.Payload) {
	f.t.Helper()
	f.send(protocol.Envelope{Action: p.Kind(), Payload: p})
}

func (f *fakePeer) sendRaw(data string) {
	f.t.Helper()
	require.NoError(f.t, f.conn.Send([]byte(data)))
}

// next returns the next envelope of the given action, skipping others.
func (f *fakePeer) next(action protocol.Action) protocol.Envelope {
	f.t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case data, ok := <-f.conn.Recv():
			require.True(f.t, ok, "link closed while waiting for %s", action)
			env, err := f.codec.Decode(data)
			require.NoError(f.t, err)
			if env.Action == action {
				return env
			}
		case <-timeout:
			f.t.Fatalf("%s: no %s envelope within %v", f.id, action, waitFor)
			return protocol.Envelope{}
		}
	}
}

// none asserts that no envelope of the given action arrives within d.
func (f *fakePeer) none(action protocol.Action, d time.Duration) {
	f.t.Helper()
	timeout := time.After(d)
	for {
		select {
		case data, ok := <-f.conn.Recv():
			if !ok {
				return
			}
			env, err := f.codec.Decode(data)
			require.NoError(f.t, err)
			require.NotEqual(f.t, action, env.Action, "unexpected %s: %+v", action, env)
		case <-timeout:
			return
		}
	}
}

// handshake completes the info exchange from the fake side.
func (f *fakePeer) handshake(info protocol.Init) {
	f.t.Helper()
	f.next(protocol.ActionInit)
	f.sendPayload(info)
}
