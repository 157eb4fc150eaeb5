// Package webrtc negotiates data-channel links whose offers and answers are
// relayed through the mesh.
package webrtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

// Linker creates pion peer connections. ICE candidates are gathered before
// the description is signalled, so a single offer and answer suffice.
type Linker struct {
	config webrtc.Configuration
	logger *slog.Logger

	mu          sync.Mutex
	connections map[string]*connection
}

// New creates a WebRTC linker using the given STUN servers.
func New(stunServers []string, logger *slog.Logger) *Linker {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, server := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{server}})
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Linker{
		config: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		logger:      logger,
		connections: make(map[string]*connection),
	}
}

func (l *Linker) track(conn *connection) {
	conn.onClose = func() {
		l.mu.Lock()
		if l.connections[conn.peerID] == conn {
			delete(l.connections, conn.peerID)
		}
		l.mu.Unlock()
	}
	l.mu.Lock()
	l.connections[conn.peerID] = conn
	l.mu.Unlock()
}

func (l *Linker) Dial(ctx context.Context, remote string, signal transport.SignalFunc) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(l.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	conn := newConnection(remote, pc, true)
	if err := conn.createDataChannel(); err != nil {
		_ = pc.Close()
		return nil, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	l.track(conn)
	go l.signalWhenGathered(ctx, conn, gathered, protocol.SignalOffer, signal)
	return conn, nil
}

func (l *Linker) Answer(ctx context.Context, remote string, sig protocol.Signal, signal transport.SignalFunc) (transport.Conn, error) {
	switch sig.Type {
	case protocol.SignalOffer:
		return l.answerOffer(ctx, remote, sig.SDP, signal)
	case protocol.SignalAnswer:
		l.mu.Lock()
		conn, ok := l.connections[remote]
		l.mu.Unlock()
		if !ok || !conn.initiator {
			return nil, fmt.Errorf("no pending dial to %s", remote)
		}
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sig.SDP}
		if err := conn.pc.SetRemoteDescription(desc); err != nil {
			return nil, fmt.Errorf("failed to set remote description: %w", err)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown signal type %q", sig.Type)
	}
}

func (l *Linker) answerOffer(ctx context.Context, remote, sdp string, signal transport.SignalFunc) (transport.Conn, error) {
	pc, err := webrtc.NewPeerConnection(l.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	conn := newConnection(remote, pc, false)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	l.track(conn)
	go l.signalWhenGathered(ctx, conn, gathered, protocol.SignalAnswer, signal)
	return conn, nil
}

func (l *Linker) signalWhenGathered(ctx context.Context, conn *connection, gathered <-chan struct{}, kind protocol.SignalKind, signal transport.SignalFunc) {
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = conn.Close()
		return
	}

	desc := conn.pc.LocalDescription()
	if desc == nil {
		_ = conn.Close()
		return
	}
	if err := signal(protocol.Signal{Type: kind, SDP: desc.SDP}); err != nil {
		l.logger.Warn("Failed to signal description", "peer", conn.peerID, "type", kind, "error", err)
		_ = conn.Close()
	}
}

func (l *Linker) Close() error {
	l.mu.Lock()
	conns := make([]*connection, 0, len(l.connections))
	for _, conn := range l.connections {
		conns = append(conns, conn)
	}
	l.connections = make(map[string]*connection)
	l.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return nil
}

var _ transport.Linker = (*Linker)(nil)
