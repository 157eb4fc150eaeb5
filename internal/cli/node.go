package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/config"
	"github.com/rudransh-shrivastava/peer-mesh/internal/mesh"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/store"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport/webrtc"
)

const joinRetryInterval = 2 * time.Second

// Node is one mesh participant: a session reachable over QUIC for
// bootstrap and over WebRTC for peers introduced through the mesh.
type Node struct {
	cfg       *config.Config
	logger    *slog.Logger
	session   *mesh.Session
	transport *transport.Transport
	journal   *store.Store
	startWhen int

	startOnce sync.Once
	started   chan struct{}

	mu        sync.Mutex
	requested bool
}

// NewNode wires a session for cfg. With startWhen > 0 the node requests a
// start once that many peers, itself included, are ready.
func NewNode(cfg *config.Config, logger *slog.Logger, startWhen int) (*Node, error) {
	format, err := protocol.FormatByName(cfg.Format)
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:       cfg,
		logger:    logger,
		startWhen: startWhen,
		started:   make(chan struct{}),
	}

	opts := mesh.Options{
		ID:              cfg.ID,
		Account:         cfg.Account,
		Format:          format,
		Linker:          webrtc.New(cfg.STUNServers, logger),
		Room:            n,
		MediaAutoOffer:  &cfg.MediaAutoOffer,
		Watcher:         mesh.WatcherFunc(n.emit),
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.MaxPollAttempts,
		Logger:          logger,
	}
	if cfg.Journal != "" {
		n.journal, err = store.Open(cfg.Journal)
		if err != nil {
			return nil, err
		}
		opts.Journal = n.journal
	}

	n.session, err = mesh.New(opts)
	if err != nil {
		n.closeJournal()
		return nil, err
	}

	n.transport, err = transport.NewTransport(cfg.ID, cfg.Listen)
	if err != nil {
		_ = n.session.Close()
		n.closeJournal()
		return nil, err
	}
	return n, nil
}

func (n *Node) Session() *mesh.Session { return n.session }

func (n *Node) Addr() net.Addr { return n.transport.LocalAddr() }

// Started is closed once the room started.
func (n *Node) Started() <-chan struct{} { return n.started }

// Ready counts the links that finished the info exchange.
func (n *Node) Ready() int {
	count := 0
	for _, l := range n.session.Links() {
		if l.State() == registry.StateReady {
			count++
		}
	}
	return count
}

// Start implements mesh.Room.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.logger.Info("Room started", "peers", len(n.session.Peers()))
		close(n.started)
	})
}

// Run serves the node until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer n.closeJournal()
	defer n.transport.Close()

	n.logger.Info("Node listening", "id", n.cfg.ID, "addr", n.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- n.session.Run(ctx) }()
	go n.acceptLoop(ctx)
	for _, addr := range n.cfg.Join {
		go n.join(ctx, addr)
	}

	err := <-errc
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) acceptLoop(ctx context.Context) {
	for {
		peer, err := n.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Warn("Failed to accept peer", "error", err)
			continue
		}
		if _, err := n.session.Attach(peer, false); err != nil {
			n.logger.Warn("Failed to attach peer", "peer", peer.PeerID(), "error", err)
		}
	}
}

// join dials addr until it succeeds or ctx ends.
func (n *Node) join(ctx context.Context, addr string) {
	for {
		peer, err := n.transport.Dial(ctx, addr)
		if err == nil {
			if _, err := n.session.Attach(peer, true); err != nil {
				n.logger.Warn("Failed to attach peer", "addr", addr, "error", err)
			}
			return
		}

		n.logger.Warn("Failed to join", "addr", addr, "error", err)
		select {
		case <-time.After(joinRetryInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (n *Node) emit(event string, payload any) {
	switch event {
	case mesh.EventReady:
		peer := payload.(registry.Peer)
		n.logger.Info("Peer joined", "peer", peer.ID, "account", peer.Account)
		n.maybeStart()
	case mesh.EventDisconnect:
		n.logger.Info("Peer left", "peer", payload)
	case mesh.EventStartTimeout:
		n.logger.Warn("Start timed out", "attempts", payload)
	case mesh.EventMessage:
		env := payload.(protocol.Envelope)
		n.logger.Info("Message", "from", env.Local, "data", fmt.Sprint(env.Payload.(protocol.Message).Data))
	}
}

// maybeStart runs on the session loop, so the request itself must not.
func (n *Node) maybeStart() {
	if n.startWhen <= 0 || n.Ready()+1 < n.startWhen {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.requested {
		return
	}
	n.requested = true
	go func() {
		if err := n.session.RequestStart(false); err != nil {
			n.logger.Warn("Failed to request start", "error", err)
		}
	}()
}

func (n *Node) closeJournal() {
	if n.journal == nil {
		return
	}
	if err := n.journal.Close(); err != nil {
		n.logger.Warn("Failed to close journal", "error", err)
	}
	n.journal = nil
}
