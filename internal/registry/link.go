package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
	"golang.org/x/exp/maps"
)

var ErrDuplicateLink = errors.New("link already registered")

type State uint8

const (
	StatePending State = iota
	StateOpen
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is the logical connection to one remote peer. The transport Conn is
// owned by whoever created it; the link only sends through it.
type Link struct {
	remote    string
	local     string
	initiator bool
	conn      transport.Conn
	codec     *protocol.Codec

	mu        sync.Mutex
	pending   bool
	state     State
	setupDone bool
	latency   time.Duration
	announced bool
}

func NewLink(local string, conn transport.Conn, codec *protocol.Codec, initiator bool) *Link {
	return &Link{
		remote:    conn.PeerID(),
		local:     local,
		initiator: initiator,
		conn:      conn,
		codec:     codec,
		pending:   true,
		state:     StatePending,
	}
}

func (l *Link) Remote() string { return l.remote }

func (l *Link) Initiator() bool { return l.initiator }

// Conn returns the transport connection the link writes to.
func (l *Link) Conn() transport.Conn { return l.conn }

// Send encodes p as an envelope from the local peer and writes it to the
// link.
func (l *Link) Send(p protocol.Payload) error {
	return l.SendEnvelope(protocol.Envelope{Action: p.Kind(), Payload: p})
}

// SendEnvelope writes env, filling in the local peer id when it is empty.
// Relayed envelopes keep their original local id.
func (l *Link) SendEnvelope(env protocol.Envelope) error {
	if env.Local == "" {
		env.Local = l.local
	}
	data, err := l.codec.Encode(env)
	if err != nil {
		return err
	}
	if err := l.conn.Send(data); err != nil {
		return fmt.Errorf("sending %s to %s: %w", env.Name(), l.remote, err)
	}
	return nil
}

// Open moves a pending link to OPEN. It returns false if the link was not
// pending.
func (l *Link) Open() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePending {
		return false
	}
	l.pending = false
	l.state = StateOpen
	return true
}

// MarkReady moves the link to READY and reports whether this is the first
// time it got there.
func (l *Link) MarkReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateClosed {
		return false
	}
	l.pending = false
	l.state = StateReady
	first := !l.announced
	l.announced = true
	return first
}

// CompleteSetup records the outcome of a ping exchange. latency is ignored
// when negative.
func (l *Link) CompleteSetup(latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setupDone = true
	if latency >= 0 {
		l.latency = latency
	}
}

// Close marks the link closed and closes the underlying conn. It is safe to
// call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = StateClosed
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

func (l *Link) SetupDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setupDone
}

func (l *Link) Latency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latency
}

// Links maps remote peer ids to their link. There is at most one link per
// remote.
type Links struct {
	mu    sync.RWMutex
	links map[string]*Link
}

func NewLinks() *Links {
	return &Links{links: make(map[string]*Link)}
}

func (r *Links) Add(l *Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[l.remote]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateLink, l.remote)
	}
	r.links[l.remote] = l
	return nil
}

func (r *Links) Get(remote string) (*Link, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[remote]
	return l, ok
}

// Remove deletes the entry for l.Remote() only if it still points at l, so a
// replacement link is never removed by its predecessor's close.
func (r *Links) Remove(l *Link) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.links[l.remote]; !ok || cur != l {
		return false
	}
	delete(r.links, l.remote)
	return true
}

func (r *Links) Has(remote string) bool {
	_, ok := r.Get(remote)
	return ok
}

// IDs returns the remote ids of every live link in sorted order.
func (r *Links) IDs() []string {
	r.mu.RLock()
	ids := maps.Keys(r.links)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Links) All() []*Link {
	r.mu.RLock()
	out := maps.Values(r.links)
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].remote < out[j].remote })
	return out
}

// Ready returns the links that finished the info exchange.
func (r *Links) Ready() []*Link {
	var out []*Link
	for _, l := range r.All() {
		if l.State() == StateReady {
			out = append(out, l)
		}
	}
	return out
}

func (r *Links) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}
