// Package memory provides in-process links for tests and single-process
// meshes.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

type pipe struct {
	openOnce  sync.Once
	opened    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	ends      [2]*conn
}

type conn struct {
	remote  string
	p       *pipe
	peer    *conn
	inbox   *transport.Inbox
	onClose func()
}

func newPipe(a, b string) *pipe {
	p := &pipe{
		opened: make(chan struct{}),
		done:   make(chan struct{}),
	}
	// The end held by a talks to b.
	ca := &conn{remote: b, p: p, inbox: transport.NewInbox()}
	cb := &conn{remote: a, p: p, inbox: transport.NewInbox()}
	ca.peer, cb.peer = cb, ca
	p.ends = [2]*conn{ca, cb}
	return p
}

func (p *pipe) open() {
	p.openOnce.Do(func() { close(p.opened) })
}

func (p *pipe) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		for _, c := range p.ends {
			c.inbox.Close()
			if c.onClose != nil {
				c.onClose()
			}
		}
	})
}

// Pipe returns two connected, already open ends. The first is held by a and
// reaches b, the second is held by b and reaches a.
func Pipe(a, b string) (transport.Conn, transport.Conn) {
	p := newPipe(a, b)
	p.open()
	return p.ends[0], p.ends[1]
}

func (c *conn) PeerID() string { return c.remote }

func (c *conn) Opened() <-chan struct{} { return c.p.opened }

func (c *conn) Recv() <-chan []byte { return c.inbox.C() }

func (c *conn) Send(data []byte) error {
	select {
	case <-c.p.done:
		return transport.ErrClosed
	default:
	}
	select {
	case <-c.p.opened:
	default:
		return transport.ErrNotOpen
	}
	if !c.peer.inbox.Push(append([]byte(nil), data...)) {
		return transport.ErrClosed
	}
	return nil
}

// Close tears down both ends.
func (c *conn) Close() error {
	c.p.close()
	return nil
}

// Network is a set of in-process Linkers that can reach each other.
type Network struct {
	mu     sync.Mutex
	next   int
	offers map[string]*pipe
}

func NewNetwork() *Network {
	return &Network{offers: make(map[string]*pipe)}
}

func (n *Network) offer(p *pipe) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.next++
	token := "mem-" + strconv.Itoa(n.next)
	n.offers[token] = p
	return token
}

func (n *Network) take(token string) (*pipe, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.offers[token]
	delete(n.offers, token)
	return p, ok
}

// Linker returns the Linker used by peer id.
func (n *Network) Linker(id string) *Linker {
	return &Linker{
		id:    id,
		net:   n,
		dials: make(map[string]*dial),
	}
}

type dial struct {
	token string
	p     *pipe
}

type Linker struct {
	id  string
	net *Network

	mu     sync.Mutex
	dials  map[string]*dial
	closed bool
}

func (l *Linker) Dial(_ context.Context, remote string, signal transport.SignalFunc) (transport.Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.New("linker closed")
	}
	if _, ok := l.dials[remote]; ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("dial to %s already pending", remote)
	}
	p := newPipe(l.id, remote)
	d := &dial{p: p, token: l.net.offer(p)}
	local := p.ends[0]
	local.onClose = func() { l.forget(remote, d) }
	l.dials[remote] = d
	l.mu.Unlock()

	if err := signal(protocol.Signal{Type: protocol.SignalOffer, SDP: d.token}); err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("sending offer: %w", err)
	}
	return local, nil
}

func (l *Linker) Answer(_ context.Context, remote string, sig protocol.Signal, signal transport.SignalFunc) (transport.Conn, error) {
	switch sig.Type {
	case protocol.SignalOffer:
		p, ok := l.net.take(sig.SDP)
		if !ok {
			return nil, fmt.Errorf("unknown offer %q from %s", sig.SDP, remote)
		}
		if err := signal(protocol.Signal{Type: protocol.SignalAnswer, SDP: sig.SDP}); err != nil {
			return nil, fmt.Errorf("sending answer: %w", err)
		}
		return p.ends[1], nil

	case protocol.SignalAnswer:
		l.mu.Lock()
		d, ok := l.dials[remote]
		if ok && d.token == sig.SDP {
			delete(l.dials, remote)
		}
		l.mu.Unlock()
		if !ok || d.token != sig.SDP {
			return nil, fmt.Errorf("no pending dial to %s for answer %q", remote, sig.SDP)
		}
		d.p.open()
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

func (l *Linker) forget(remote string, d *dial) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dials[remote] == d {
		delete(l.dials, remote)
	}
}

// Close abandons every pending dial.
func (l *Linker) Close() error {
	l.mu.Lock()
	l.closed = true
	pending := make([]*dial, 0, len(l.dials))
	for _, d := range l.dials {
		pending = append(pending, d)
	}
	l.dials = make(map[string]*dial)
	l.mu.Unlock()

	for _, d := range pending {
		d.p.close()
	}
	return nil
}

var (
	_ transport.Conn   = (*conn)(nil)
	_ transport.Linker = (*Linker)(nil)
)
