package mesh

import (
	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

func (s *Session) handleRegister(link *registry.Link, env protocol.Envelope) {
	if env.Remote != s.id {
		s.relay(link, env)
		return
	}
	if env.Local == s.id {
		return
	}

	origin := env.Local
	if s.peers.Ensure(origin) {
		s.emit(EventPeer, origin)
	}
	if s.linker == nil {
		s.logger.Debug("No linker, ignoring registration", "peer", origin)
		return
	}

	sig := env.Payload.(protocol.Signal)
	switch sig.Type {
	case protocol.SignalOffer:
		s.acceptOffer(link, origin, sig)
	case protocol.SignalAnswer:
		if _, err := s.linker.Answer(s.ctx, origin, sig, nil); err != nil {
			s.logger.Warn("Failed to apply answer", "peer", origin, "error", err)
		}
	}
}

// relay forwards a registration towards its target. Envelope fields stay
// as sent; only the relay marker is set.
func (s *Session) relay(from *registry.Link, env protocol.Envelope) {
	target, ok := s.links.Get(env.Remote)
	if !ok {
		s.logger.Debug("Relay target unreachable", "from", env.Local, "to", env.Remote)
		return
	}
	env.Via = s.id
	if err := target.SendEnvelope(env); err != nil {
		s.logger.Warn("Failed to relay registration", "from", from.Remote(), "to", env.Remote, "error", err)
	}
}

func (s *Session) acceptOffer(via *registry.Link, origin string, sig protocol.Signal) {
	if existing, ok := s.links.Get(origin); ok {
		if !existing.Initiator() || existing.State() != registry.StatePending {
			s.logger.Debug("Ignoring offer for live link", "peer", origin)
			return
		}
		// Both sides dialed. The smaller id keeps its offer.
		if s.id < origin {
			s.logger.Debug("Offer glare, keeping own dial", "peer", origin)
			return
		}
		s.logger.Debug("Offer glare, answering remote dial", "peer", origin)
		s.links.Remove(existing)
		_ = existing.Close()
	}

	conn, err := s.linker.Answer(s.ctx, origin, sig, s.signalVia(via.Remote(), origin))
	if err != nil {
		s.logger.Warn("Failed to answer offer", "peer", origin, "error", err)
		return
	}
	link, err := s.attach(conn, false)
	if err != nil {
		s.logger.Warn("Failed to attach answered link", "peer", origin, "error", err)
		return
	}
	s.expireDial(link)
}

// check dials every listed peer that has no link yet, signalling through
// the link that supplied the list. A dial still pending is left alone until
// expireDial drops it.
func (s *Session) check(via *registry.Link, list []string) {
	if s.linker == nil {
		return
	}
	for _, id := range list {
		if id == s.id || s.links.Has(id) {
			continue
		}
		s.logger.Debug("Registering through relay", "peer", id, "via", via.Remote())

		conn, err := s.linker.Dial(s.ctx, id, s.signalVia(via.Remote(), id))
		if err != nil {
			s.logger.Warn("Failed to dial peer", "peer", id, "error", err)
			continue
		}
		link, err := s.attach(conn, true)
		if err != nil {
			s.logger.Warn("Failed to attach dialed link", "peer", id, "error", err)
			continue
		}
		s.expireDial(link)
	}
}

// expireDial closes link if it is still pending after the dial timeout.
func (s *Session) expireDial(link *registry.Link) {
	s.clock.AfterFunc(s.dialTTL, func() {
		_ = s.post(func() {
			if link.State() != registry.StatePending || !s.links.Remove(link) {
				return
			}
			_ = link.Close()
			s.logger.Info("Relayed dial expired", "peer", link.Remote(), "after", s.dialTTL)
		})
	})
}

// signalVia returns a SignalFunc that sends register{local: self, remote:
// target} over the link to via.
func (s *Session) signalVia(via, target string) transport.SignalFunc {
	return func(sig protocol.Signal) error {
		return s.post(func() {
			link, ok := s.links.Get(via)
			if !ok {
				s.logger.Debug("Relay link gone, dropping signal", "via", via, "to", target)
				return
			}
			err := link.SendEnvelope(protocol.Envelope{
				Action:  protocol.ActionRegister,
				Remote:  target,
				Payload: sig,
			})
			if err != nil {
				s.logger.Warn("Failed to send registration", "via", via, "to", target, "error", err)
			}
		})
	}
}
