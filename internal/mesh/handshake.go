package mesh

import (
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
)

func (s *Session) handleOpen(link *registry.Link) {
	if !link.Open() {
		return
	}
	s.logger.Debug("Link open", "peer", link.Remote())
	s.sendInit(link)
}

// sendInit shares the local identity and every opened link except the
// receiver. Dials still pending are not advertised.
func (s *Session) sendInit(link *registry.Link) {
	self, _ := s.peers.Get(s.id)

	list := make([]string, 0, s.links.Len())
	for _, l := range s.links.All() {
		if l != link && l.State() != registry.StatePending {
			list = append(list, l.Remote())
		}
	}

	err := link.Send(protocol.Init{
		Account: s.account,
		Time:    s.time,
		Data:    self.Data,
		List:    list,
	})
	if err != nil {
		s.logger.Warn("Failed to send init", "peer", link.Remote(), "error", err)
	}
}

func (s *Session) handleInit(link *registry.Link, env protocol.Envelope) {
	info := env.Payload.(protocol.Init)
	remote := link.Remote()

	_, known := s.peers.Get(remote)
	if err := s.peers.Merge(remote, info.Data, info.Account, info.Time); err != nil {
		s.logger.Warn("Dropping init with unusable data", "peer", remote, "error", err)
		return
	}
	if !known {
		s.emit(EventPeer, remote)
	}

	first := link.MarkReady()
	peer, _ := s.peers.Get(remote)
	s.recordPeer(peer)

	s.check(link, info.List)

	if !first {
		return
	}
	s.logger.Info("Peer ready", "peer", remote, "initiator", link.Initiator())
	s.emit(EventReady, peer)

	// Earlier peers learn about the newcomer from a fresh init.
	for _, other := range s.links.Ready() {
		if other != link {
			s.sendInit(other)
		}
	}

	if link.Initiator() {
		s.setup(remote)
	}
}

func (s *Session) handleClose(link *registry.Link) {
	if !s.links.Remove(link) {
		return
	}
	_ = link.Close()

	remote := link.Remote()
	s.peers.Remove(remote)
	delete(s.medias, remote)
	for index, rec := range s.pings {
		if rec.remote == remote {
			delete(s.pings, index)
		}
	}
	for key := range s.completed {
		if key.remote == remote {
			delete(s.completed, key)
		}
	}
	s.forgetPeer(remote)

	s.logger.Info("Peer disconnected", "peer", remote)
	s.emit(EventDisconnect, remote)
}

func (s *Session) handlePing(link *registry.Link, env protocol.Envelope) {
	ping := env.Payload.(protocol.Ping)

	switch {
	case ping.RemoteSetup:
		s.setup(link.Remote())
	case !ping.Pong:
		if err := link.Send(protocol.Ping{Pong: true, Index: ping.Index}); err != nil {
			s.logger.Warn("Failed to answer ping", "peer", link.Remote(), "error", err)
		}
	default:
		s.completeSetup(link, ping.Index)
	}
}

// setup starts a latency measurement towards remote.
func (s *Session) setup(remote string) {
	link, ok := s.links.Get(remote)
	if !ok {
		return
	}

	s.pingIndex++
	index := s.pingIndex
	s.pings[index] = pingRecord{remote: remote, sent: s.clock.Now()}

	if err := link.Send(protocol.Ping{Index: index}); err != nil {
		delete(s.pings, index)
		s.logger.Warn("Failed to send ping", "peer", remote, "error", err)
	}
}

// completeSetup runs at most once per (remote, index). Only the initiator
// asks its partner to measure in turn.
func (s *Session) completeSetup(link *registry.Link, index int) {
	remote := link.Remote()
	key := pingKey{remote: remote, index: index}
	if s.completed[key] {
		s.logger.Debug("Ignoring repeated pong", "peer", remote, "index", index)
		return
	}
	s.completed[key] = true

	latency := time.Duration(-1)
	if rec, ok := s.pings[index]; ok && rec.remote == remote {
		latency = s.clock.Now().Sub(rec.sent)
		delete(s.pings, index)
	}
	link.CompleteSetup(latency)

	s.logger.Debug("Setup complete", "peer", remote, "index", index, "latency", latency)
	s.emit(EventSetup, Setup{
		Peer:      remote,
		Index:     index,
		Latency:   latency,
		Initiator: link.Initiator(),
	})

	if link.Initiator() {
		if err := link.Send(protocol.Ping{RemoteSetup: true}); err != nil {
			s.logger.Warn("Failed to request remote setup", "peer", remote, "error", err)
		}
	}
}

func (s *Session) recordPeer(peer registry.Peer) {
	if s.journal == nil {
		return
	}
	ctx, cancel := s.journalCtx()
	defer cancel()
	if err := s.journal.RecordPeer(ctx, peer); err != nil {
		s.logger.Warn("Failed to journal peer", "peer", peer.ID, "error", err)
	}
}

func (s *Session) forgetPeer(id string) {
	if s.journal == nil {
		return
	}
	ctx, cancel := s.journalCtx()
	defer cancel()
	if err := s.journal.ForgetPeer(ctx, id); err != nil {
		s.logger.Warn("Failed to journal disconnect", "peer", id, "error", err)
	}
}
