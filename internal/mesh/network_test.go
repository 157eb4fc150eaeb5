package mesh

import (
	"testing"

	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport/memory"
	"github.com/stretchr/testify/require"
)

// Network is a set of sessions sharing one in-memory linker network.
type Network struct {
	t        *testing.T
	links    *memory.Network
	sessions map[string]*Session
	watchers map[string]*recorder
}

func NewNetwork(t *testing.T) *Network {
	t.Helper()
	return &Network{
		t:        t,
		links:    memory.NewNetwork(),
		sessions: make(map[string]*Session),
		watchers: make(map[string]*recorder),
	}
}

// Join starts a session for id. opts.ID, Linker and Watcher are filled in.
func (n *Network) Join(id string, opts Options) *Session {
	n.t.Helper()
	rec := &recorder{}
	opts.ID = id
	opts.Linker = n.links.Linker(id)
	opts.Watcher = rec

	s := startSession(n.t, opts)
	n.sessions[id] = s
	n.watchers[id] = rec
	return s
}

// Connect creates a direct link between a and b with a as initiator.
func (n *Network) Connect(a, b string) {
	n.t.Helper()
	ca, cb := memory.Pipe(a, b)
	_, err := n.sessions[a].Attach(ca, true)
	require.NoError(n.t, err)
	_, err = n.sessions[b].Attach(cb, false)
	require.NoError(n.t, err)
}

func (n *Network) Session(id string) *Session { return n.sessions[id] }

func (n *Network) Events(id string) *recorder { return n.watchers[id] }

// Linked reports whether a has a ready link to b.
func (n *Network) Linked(a, b string) bool {
	l, ok := n.sessions[a].Link(b)
	return ok && l.State() == registry.StateReady
}
