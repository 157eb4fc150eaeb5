package mesh

import "time"

const (
	EventPeer         = "peer"
	EventReady        = "ready"
	EventSetup        = "setup"
	EventDisconnect   = "disconnect"
	EventMessage      = "message"
	EventStart        = "start"
	EventLoop         = "loop"
	EventStartTimeout = "start-timeout"
	EventUpdate       = "update"
	EventSync         = "sync"
)

// Setup is the payload of EventSetup. Latency is negative when the ping
// was not sent by this session.
type Setup struct {
	Peer      string
	Index     int
	Latency   time.Duration
	Initiator bool
}

// Update is the payload of EventUpdate.
type Update struct {
	Peer  string
	Key   string
	Value any
}

func (s *Session) emit(event string, payload any) {
	if s.watcher == nil {
		return
	}
	s.watcher.Emit(event, payload)
}
