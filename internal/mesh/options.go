package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/clock"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

// Room is the shared activity started once the barrier opens.
type Room interface {
	Start()
}

// Looper runs the per-frame update loop when a start asks for it.
type Looper interface {
	StartLoop()
}

// MediaSession handles media control actions such as offer or answer for
// one remote peer.
type MediaSession interface {
	Handle(action string, data any) error
}

// MediaProvider creates the media session for remote. autoOffer asks the
// session to offer its own media back.
type MediaProvider func(remote string, autoOffer bool) (MediaSession, error)

// Watcher receives session events. Emit runs on the session loop and must
// not block.
type Watcher interface {
	Emit(event string, payload any)
}

type WatcherFunc func(event string, payload any)

func (f WatcherFunc) Emit(event string, payload any) { f(event, payload) }

// Journal persists what a session learned. All methods are best effort.
type Journal interface {
	RecordPeer(ctx context.Context, peer registry.Peer) error
	ForgetPeer(ctx context.Context, id string) error
	RecordSnapshot(ctx context.Context, fingerprint string, snapshot map[string]any) error
}

type Options struct {
	ID      string
	Account string
	// Data is the initial replicated data of the local player.
	Data map[string]any

	// Format defaults to JSON.
	Format protocol.Format
	// Linker negotiates links to peers learned through the mesh. Without
	// it the session only uses links passed to Attach.
	Linker transport.Linker

	Room   Room
	Looper Looper

	Media MediaProvider
	// MediaAutoOffer overrides the default of offering media back.
	MediaAutoOffer *bool

	Watcher Watcher
	Journal Journal

	PollInterval    time.Duration
	MaxPollAttempts int
	// DialTimeout drops a relayed link that has not opened in time, so a
	// later init can dial the peer again.
	DialTimeout time.Duration
	Clock       clock.Clock

	Logger *slog.Logger
}
