// Package transport defines the physical link contracts used by a mesh
// session and ships the QUIC bootstrap transport.
package transport

import (
	"context"
	"errors"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
)

var (
	ErrNotOpen = errors.New("link not open")
	ErrClosed  = errors.New("link closed")
)

// Conn is one bidirectional message channel to a remote peer. Closing of the
// Recv channel is the close event.
type Conn interface {
	PeerID() string
	Send(data []byte) error
	Recv() <-chan []byte
	// Opened is closed once the channel can carry data.
	Opened() <-chan struct{}
	Close() error
}

// SignalFunc delivers negotiation data to a remote peer through the mesh.
// It may be called from any goroutine.
type SignalFunc func(sig protocol.Signal) error

// Linker negotiates new links whose signalling travels over existing ones.
type Linker interface {
	// Dial starts an initiator link to remote and emits the offer through
	// signal. The returned Conn opens once the answer has been applied.
	Dial(ctx context.Context, remote string, signal SignalFunc) (Conn, error)
	// Answer applies negotiation data received from remote. An offer yields
	// a new non-initiator Conn and emits the answer through signal; an
	// answer completes the pending Dial and yields nil.
	Answer(ctx context.Context, remote string, sig protocol.Signal, signal SignalFunc) (Conn, error)
	Close() error
}
