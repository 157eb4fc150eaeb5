package mesh

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
)

func (s *Session) handleStart(link *registry.Link, env protocol.Envelope) {
	msg := env.Payload.(protocol.Start)

	if msg.Request {
		s.sendBelated(link)
		return
	}

	want := msg.Sync
	if msg.Belated {
		if err := s.state.Load(msg.Snapshot); err != nil {
			s.logger.Warn("Dropping belated start", "peer", link.Remote(), "error", err)
			return
		}
		fp, err := s.state.Fingerprint()
		if err != nil {
			s.logger.Warn("Failed to fingerprint state", "error", err)
			return
		}
		want = fp
	}

	s.arm(want, msg.Loop)
}

// sendBelated answers a late joiner with the current state. It never arms
// the local barrier.
func (s *Session) sendBelated(link *registry.Link) {
	fp, err := s.state.Fingerprint()
	if err != nil {
		s.logger.Warn("Failed to fingerprint state", "error", err)
		return
	}
	err = link.Send(protocol.Start{
		Belated:  true,
		Loop:     s.loop.Released(),
		Sync:     fp,
		Snapshot: s.state.Snapshot(),
	})
	if err != nil {
		s.logger.Warn("Failed to send belated start", "peer", link.Remote(), "error", err)
	}
}

func (s *Session) arm(fingerprint string, loop bool) {
	b := s.game
	if loop {
		b = s.loop
	}
	if !b.Arm(fingerprint) {
		s.logger.Debug("Ignoring start request", "loop", loop)
	}
}

// ready is the barrier predicate: the state matches, no blocker is left and
// a room is there to start.
func (s *Session) ready(fingerprint string) bool {
	fp, err := s.state.Fingerprint()
	if err != nil || fp != fingerprint {
		return false
	}
	return s.cache.Empty() && s.room != nil
}

func (s *Session) startRoom() {
	fp, _ := s.state.Fingerprint()
	s.logger.Info("Starting room", "fingerprint", fp)
	s.recordSnapshot(fp)
	s.room.Start()
	s.emit(EventStart, fp)
}

func (s *Session) startLoop() {
	fp, _ := s.state.Fingerprint()
	s.logger.Info("Starting loop", "fingerprint", fp)
	if s.looper != nil {
		s.looper.StartLoop()
	}
	s.emit(EventLoop, fp)
}

func (s *Session) startTimeout(attempts int) {
	s.logger.Warn("Start barrier gave up", "attempts", attempts, "blockers", s.cache.Pending())
	s.emit(EventStartTimeout, attempts)
}

func (s *Session) recordSnapshot(fp string) {
	if s.journal == nil {
		return
	}
	ctx, cancel := s.journalCtx()
	defer cancel()
	if err := s.journal.RecordSnapshot(ctx, fp, s.state.Snapshot()); err != nil {
		s.logger.Warn("Failed to journal snapshot", "error", err)
	}
}

// SetRoom installs the activity started by the barrier.
func (s *Session) SetRoom(room Room) error {
	return s.call(func() error {
		s.room = room
		return nil
	})
}

// RequestStart asks every ready link to start once their state matches the
// local one and arms the local barrier the same way. Links still in setup
// catch up through a late join request.
func (s *Session) RequestStart(loop bool) error {
	return s.call(func() error {
		fp, err := s.state.Fingerprint()
		if err != nil {
			return err
		}
		start := protocol.Start{Sync: fp, Loop: loop}
		for _, l := range s.links.Ready() {
			if err := l.Send(start); err != nil {
				s.logger.Warn("Failed to send start", "peer", l.Remote(), "error", err)
			}
		}
		s.arm(fp, loop)
		return nil
	})
}

// RequestLateJoin asks remote for its current state.
func (s *Session) RequestLateJoin(remote string) error {
	return s.call(func() error {
		link, ok := s.links.Get(remote)
		if !ok {
			return fmt.Errorf("no link to %s", remote)
		}
		return link.Send(protocol.Start{Request: true})
	})
}
