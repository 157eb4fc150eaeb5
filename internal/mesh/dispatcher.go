package mesh

import (
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
)

var (
	ErrReservedAction  = errors.New("action name is reserved")
	ErrDuplicateAction = errors.New("action already registered")
)

// HandlerFunc handles one envelope received on link. Replies go through
// link.Send.
type HandlerFunc func(link *registry.Link, env protocol.Envelope)

func (s *Session) builtinHandlers() map[protocol.Action]HandlerFunc {
	return map[protocol.Action]HandlerFunc{
		protocol.ActionInit:     s.handleInit,
		protocol.ActionRegister: s.handleRegister,
		protocol.ActionPing:     s.handlePing,
		protocol.ActionStart:    s.handleStart,
		protocol.ActionUpdate:   s.handleUpdate,
		protocol.ActionSync:     s.handleSync,
		protocol.ActionMessage:  s.handleMessage,
		protocol.ActionMedia:    s.handleMedia,
	}
}

// RegisterCustomHandler binds fn to an application action tag. Tags of
// built-in actions are rejected, as are tags already bound.
func (s *Session) RegisterCustomHandler(tag string, fn HandlerFunc) error {
	if tag == "" || fn == nil {
		return errors.New("custom handler needs a tag and a function")
	}
	if a := protocol.ParseAction(tag); a.Builtin() || tag == protocol.ActionCustom.String() {
		return fmt.Errorf("%w: %s", ErrReservedAction, tag)
	}

	s.customMu.Lock()
	defer s.customMu.Unlock()
	if _, ok := s.custom[tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, tag)
	}
	s.custom[tag] = fn
	return nil
}

func (s *Session) dispatch(link *registry.Link, env protocol.Envelope) {
	var handler HandlerFunc
	switch {
	case env.Action.Builtin():
		handler = s.builtin[env.Action]
	case env.Action == protocol.ActionCustom:
		s.customMu.RLock()
		handler = s.custom[env.Tag]
		s.customMu.RUnlock()
	}
	if handler == nil {
		s.logger.Debug("Ignoring unknown action", "action", env.Name(), "peer", link.Remote())
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Handler panicked", "action", env.Name(), "peer", link.Remote(), "panic", r)
		}
	}()
	handler(link, env)
}
