package mesh

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
)

func (s *Session) handleMessage(_ *registry.Link, env protocol.Envelope) {
	s.emit(EventMessage, env)
}

func appEnvelope(tag string, data any) (protocol.Envelope, error) {
	switch a := protocol.ParseAction(tag); {
	case a == protocol.ActionMessage:
		return protocol.Envelope{Action: a, Payload: protocol.Message{Data: data}}, nil
	case a == protocol.ActionCustom && tag != protocol.ActionCustom.String():
		return protocol.Envelope{Action: a, Tag: tag, Payload: protocol.Custom{Data: data}}, nil
	default:
		return protocol.Envelope{}, fmt.Errorf("%w: %q", ErrReservedAction, tag)
	}
}

// Send delivers an application message to remote. tag is "message" or a
// custom action.
func (s *Session) Send(remote, tag string, data any) error {
	env, err := appEnvelope(tag, data)
	if err != nil {
		return err
	}
	return s.call(func() error {
		link, ok := s.links.Get(remote)
		if !ok {
			return fmt.Errorf("no link to %s", remote)
		}
		return link.SendEnvelope(env)
	})
}

// Broadcast delivers an application message to every open link.
func (s *Session) Broadcast(tag string, data any) error {
	env, err := appEnvelope(tag, data)
	if err != nil {
		return err
	}
	return s.call(func() error {
		s.broadcastEnvelope(env)
		return nil
	})
}
