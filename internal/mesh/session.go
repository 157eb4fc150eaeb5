// Package mesh runs the control protocol of one peer: the handshake, relayed
// registration, shared state replication and the start barrier.
//
// A Session is an actor. Run drains a queue of closures on one goroutine;
// link pumps, barrier timers and the public methods all post into it, so
// handlers never interleave.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/barrier"
	"github.com/rudransh-shrivastava/peer-mesh/internal/clock"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/syncstate"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

var ErrClosed = errors.New("session closed")

const (
	journalTimeout     = 2 * time.Second
	defaultDialTimeout = 30 * time.Second
)

type pingKey struct {
	remote string
	index  int
}

type pingRecord struct {
	remote string
	sent   time.Time
}

type Session struct {
	id      string
	account string
	time    int64

	codec   *protocol.Codec
	logger  *slog.Logger
	clock   clock.Clock
	linker  transport.Linker
	dialTTL time.Duration
	watcher Watcher
	journal Journal

	peers *registry.Peers
	links *registry.Links
	state *syncstate.State
	flow  *syncstate.Flow
	cache *barrier.Cache

	game *barrier.Barrier
	loop *barrier.Barrier

	// Owned by the loop goroutine.
	room      Room
	looper    Looper
	media     MediaProvider
	autoOffer bool
	medias    map[string]MediaSession
	pingIndex int
	pings     map[int]pingRecord
	completed map[pingKey]bool
	builtin   map[protocol.Action]HandlerFunc

	customMu sync.RWMutex
	custom   map[string]HandlerFunc

	mu      sync.Mutex
	queue   []func()
	closed  bool
	wake    chan struct{}
	closing chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Session, error) {
	if opts.ID == "" {
		return nil, errors.New("session needs a peer id")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	dialTTL := opts.DialTimeout
	if dialTTL <= 0 {
		dialTTL = defaultDialTimeout
	}
	autoOffer := true
	if opts.MediaAutoOffer != nil {
		autoOffer = *opts.MediaAutoOffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        opts.ID,
		account:   opts.Account,
		time:      clk.Now().UnixMilli(),
		codec:     protocol.NewCodec(opts.Format),
		logger:    logger.With("self", opts.ID),
		clock:     clk,
		linker:    opts.Linker,
		dialTTL:   dialTTL,
		watcher:   opts.Watcher,
		journal:   opts.Journal,
		peers:     registry.NewPeers(),
		links:     registry.NewLinks(),
		state:     syncstate.New(),
		flow:      syncstate.NewFlow(),
		cache:     barrier.NewCache(),
		room:      opts.Room,
		looper:    opts.Looper,
		media:     opts.Media,
		autoOffer: autoOffer,
		medias:    make(map[string]MediaSession),
		pings:     make(map[int]pingRecord),
		completed: make(map[pingKey]bool),
		custom:    make(map[string]HandlerFunc),
		wake:      make(chan struct{}, 1),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := s.peers.Merge(s.id, opts.Data, s.account, s.time); err != nil {
		cancel()
		return nil, fmt.Errorf("local data: %w", err)
	}

	cfg := barrier.Config{
		Interval:    opts.PollInterval,
		MaxAttempts: opts.MaxPollAttempts,
		Clock:       clk,
		Schedule:    func(f func()) { _ = s.post(f) },
	}
	s.game = barrier.New(cfg, s.ready, s.startRoom, s.startTimeout)
	s.loop = barrier.New(cfg, s.ready, s.startLoop, s.startTimeout)
	s.builtin = s.builtinHandlers()

	return s, nil
}

func (s *Session) ID() string { return s.id }

// Run processes events until ctx is cancelled or Close is called.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("Mesh session started")
	defer s.logger.Info("Mesh session stopped")

	for {
		if f, ok := s.next(); ok {
			s.invoke(f)
			continue
		}
		select {
		case <-s.wake:
		case <-s.closing:
			return nil
		case <-ctx.Done():
			_ = s.Close()
			return ctx.Err()
		}
	}
}

func (s *Session) next() (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	f := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return f, true
}

func (s *Session) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered panic in session loop", "panic", r)
		}
	}()
	f()
}

// post queues f for the loop. It never blocks.
func (s *Session) post(f func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.queue = append(s.queue, f)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// call runs f on the loop and waits for its result. It must not be used
// from the loop itself.
func (s *Session) call(f func() error) error {
	res := make(chan error, 1)
	if err := s.post(func() { res <- f() }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-s.closing:
		return ErrClosed
	}
}

// Close stops the barrier polls, closes every link and the linker.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.closing)
		s.cancel()

		s.game.Stop()
		s.loop.Stop()
		for _, l := range s.links.All() {
			_ = l.Close()
		}
		if s.linker != nil {
			s.closeErr = s.linker.Close()
		}
	})
	return s.closeErr
}

// Attach registers conn as a link and starts reading from it. initiator
// tells whether this side opened the connection.
func (s *Session) Attach(conn transport.Conn, initiator bool) (*registry.Link, error) {
	var link *registry.Link
	err := s.call(func() error {
		l, err := s.attach(conn, initiator)
		link = l
		return err
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Session) attach(conn transport.Conn, initiator bool) (*registry.Link, error) {
	if conn.PeerID() == s.id {
		_ = conn.Close()
		return nil, errors.New("refusing link to self")
	}
	link := registry.NewLink(s.id, conn, s.codec, initiator)
	if err := s.links.Add(link); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.logger.Debug("Link attached", "peer", link.Remote(), "initiator", initiator)
	go s.pump(link)
	return link, nil
}

// pump forwards the transport events of one link into the loop. One pump
// per link keeps per-link ordering.
func (s *Session) pump(link *registry.Link) {
	conn := link.Conn()
	opened := conn.Opened()
	recv := conn.Recv()

	for {
		select {
		case <-opened:
			opened = nil
			if s.post(func() { s.handleOpen(link) }) != nil {
				return
			}
		case data, ok := <-recv:
			if !ok {
				_ = s.post(func() { s.handleClose(link) })
				return
			}
			if opened != nil {
				opened = nil
				if s.post(func() { s.handleOpen(link) }) != nil {
					return
				}
			}
			if s.post(func() { s.receive(link, data) }) != nil {
				return
			}
		case <-s.closing:
			return
		}
	}
}

func (s *Session) receive(link *registry.Link, data []byte) {
	env, err := s.codec.Decode(data)
	if err != nil {
		s.logger.Debug("Dropping malformed envelope", "peer", link.Remote(), "error", err)
		return
	}
	s.dispatch(link, env)
}

// openLinks returns the links that can carry data.
func (s *Session) openLinks() []*registry.Link {
	var out []*registry.Link
	for _, l := range s.links.All() {
		switch l.State() {
		case registry.StateOpen, registry.StateReady:
			out = append(out, l)
		}
	}
	return out
}

func (s *Session) broadcast(p protocol.Payload) {
	s.broadcastEnvelope(protocol.Envelope{Action: p.Kind(), Payload: p})
}

func (s *Session) broadcastEnvelope(env protocol.Envelope) {
	for _, l := range s.openLinks() {
		if err := l.SendEnvelope(env); err != nil {
			s.logger.Warn("Failed to broadcast", "action", env.Name(), "peer", l.Remote(), "error", err)
		}
	}
}

func (s *Session) journalCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, journalTimeout)
}

// Peers returns every known peer, the local one included.
func (s *Session) Peers() []registry.Peer { return s.peers.All() }

func (s *Session) Peer(id string) (registry.Peer, bool) { return s.peers.Get(id) }

func (s *Session) Links() []*registry.Link { return s.links.All() }

func (s *Session) Link(remote string) (*registry.Link, bool) { return s.links.Get(remote) }

// Snapshot returns a copy of the shared state.
func (s *Session) Snapshot() map[string]any { return s.state.Snapshot() }

func (s *Session) Fingerprint() (string, error) { return s.state.Fingerprint() }

// Cache is the readiness cache consulted by the start barrier.
func (s *Session) Cache() *barrier.Cache { return s.cache }
