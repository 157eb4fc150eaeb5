package mesh

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
)

func (s *Session) handleMedia(link *registry.Link, env protocol.Envelope) {
	msg := env.Payload.(protocol.Media)
	remote := link.Remote()

	session, ok := s.medias[remote]
	if !ok {
		if s.media == nil {
			s.logger.Debug("No media provider, dropping media action", "peer", remote, "action", msg.Action)
			return
		}
		var err error
		session, err = s.media(remote, s.autoOffer)
		if err != nil {
			s.logger.Warn("Failed to create media session", "peer", remote, "error", err)
			return
		}
		s.medias[remote] = session
	}

	if err := session.Handle(msg.Action, msg.Data); err != nil {
		s.logger.Warn("Media action failed", "peer", remote, "action", msg.Action, "error", err)
	}
}

// Media sends a media control action to remote.
func (s *Session) Media(remote, action string, data any) error {
	return s.call(func() error {
		link, ok := s.links.Get(remote)
		if !ok {
			return fmt.Errorf("no link to %s", remote)
		}
		return link.Send(protocol.Media{Action: action, Data: data})
	})
}
