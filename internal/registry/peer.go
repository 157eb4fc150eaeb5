// Package registry keeps the per-session tables of known peers and of the
// logical links to them.
package registry

import (
	"sort"
	"sync"

	"github.com/rudransh-shrivastava/peer-mesh/internal/syncstate"
	"golang.org/x/exp/maps"
)

// Peer is the replicated view of one participant.
type Peer struct {
	ID      string
	Data    map[string]any
	Account string
	Time    int64
}

func (p Peer) clone() Peer {
	p.Data = syncstate.CloneMap(p.Data)
	return p
}

type Peers struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func NewPeers() *Peers {
	return &Peers{peers: make(map[string]*Peer)}
}

func (r *Peers) ensure(id string) *Peer {
	p, ok := r.peers[id]
	if !ok {
		p = &Peer{ID: id, Data: make(map[string]any)}
		r.peers[id] = p
	}
	return p
}

// Ensure creates the record for id if it does not exist. It reports whether
// a record was created.
func (r *Peers) Ensure(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	r.ensure(id)
	return !ok
}

// Merge applies an info exchange: data keys are added or overwritten, keys
// the remote did not send survive.
func (r *Peers) Merge(id string, data map[string]any, account string, time int64) error {
	nd, err := syncstate.NormalizeMap(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.ensure(id)
	for k, v := range nd {
		p.Data[k] = v
	}
	p.Account = account
	p.Time = time
	return nil
}

// Set writes one data key of peer id.
func (r *Peers) Set(id, key string, value any) error {
	nv, err := syncstate.Normalize(value)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensure(id).Data[key] = nv
	return nil
}

func (r *Peers) Get(id string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return p.clone(), true
}

func (r *Peers) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	delete(r.peers, id)
	return ok
}

// IDs returns the known peer ids in sorted order.
func (r *Peers) IDs() []string {
	r.mu.RLock()
	ids := maps.Keys(r.peers)
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Peers) All() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
