package mesh

import (
	"fmt"

	"github.com/rudransh-shrivastava/peer-mesh/internal/protocol"
	"github.com/rudransh-shrivastava/peer-mesh/internal/registry"
	"github.com/rudransh-shrivastava/peer-mesh/internal/syncstate"
)

func (s *Session) handleSync(link *registry.Link, env protocol.Envelope) {
	msg := env.Payload.(protocol.Sync)

	var (
		change syncstate.Change
		err    error
	)
	if msg.Action != "" {
		change, err = s.flow.Apply(s.state, msg.Action, env.Local, msg.Key, msg.Value, true)
	} else {
		change, err = s.state.Set(msg.Key, msg.Value, true)
	}
	if err != nil {
		s.logger.Warn("Dropping sync", "peer", link.Remote(), "key", msg.Key, "action", msg.Action, "error", err)
		return
	}
	s.emit(EventSync, change)
}

// handleUpdate applies a peer's write to its own data. A peer only ever
// writes its own record, so the sender must be the link's remote.
func (s *Session) handleUpdate(link *registry.Link, env protocol.Envelope) {
	msg := env.Payload.(protocol.Update)
	remote := link.Remote()
	if env.Local != remote {
		s.logger.Debug("Dropping update for foreign peer", "peer", remote, "target", env.Local)
		return
	}

	if err := s.peers.Set(remote, msg.Key, msg.Value); err != nil {
		s.logger.Warn("Dropping update", "peer", remote, "key", msg.Key, "error", err)
		return
	}
	peer, _ := s.peers.Get(remote)
	s.emit(EventUpdate, Update{Peer: remote, Key: msg.Key, Value: peer.Data[msg.Key]})
}

// Sync sets key in the shared state and replicates it to every open link.
func (s *Session) Sync(key string, value any) error {
	if key == "" {
		return fmt.Errorf("sync: empty key")
	}
	return s.call(func() error {
		change, err := s.state.Set(key, value, false)
		if err != nil {
			return err
		}
		s.broadcast(protocol.Sync{Key: key, Value: change.Value})
		s.emit(EventSync, change)
		return nil
	})
}

// SyncAction applies a structured operation locally and replicates the
// operation itself.
func (s *Session) SyncAction(action, key string, value any) error {
	if key == "" || action == "" {
		return fmt.Errorf("sync action: empty key or action")
	}
	return s.call(func() error {
		change, err := s.flow.Apply(s.state, action, s.id, key, value, false)
		if err != nil {
			return err
		}
		nv, _ := syncstate.Normalize(value)
		s.broadcast(protocol.Sync{Key: key, Value: nv, Action: action})
		s.emit(EventSync, change)
		return nil
	})
}

// RegisterSyncAction adds a structured sync operation.
func (s *Session) RegisterSyncAction(name string, op syncstate.Operation) error {
	return s.flow.Register(name, op)
}

// Update sets one key of the local player's data and replicates it.
func (s *Session) Update(key string, value any) error {
	if key == "" {
		return fmt.Errorf("update: empty key")
	}
	return s.call(func() error {
		if err := s.peers.Set(s.id, key, value); err != nil {
			return err
		}
		self, _ := s.peers.Get(s.id)
		s.broadcast(protocol.Update{Key: key, Value: self.Data[key]})
		return nil
	})
}
