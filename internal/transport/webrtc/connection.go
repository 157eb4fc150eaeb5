package webrtc

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rudransh-shrivastava/peer-mesh/internal/transport"
)

const channelLabel = "mesh"

type connection struct {
	peerID    string
	pc        *webrtc.PeerConnection
	initiator bool
	inbox     *transport.Inbox
	opened    chan struct{}
	onClose   func()

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	openOnce  sync.Once
	closeOnce sync.Once
}

func newConnection(peerID string, pc *webrtc.PeerConnection, initiator bool) *connection {
	conn := &connection{
		peerID:    peerID,
		pc:        pc,
		initiator: initiator,
		inbox:     transport.NewInbox(),
		opened:    make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			conn.shutdown()
		}
	})

	if !initiator {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			conn.setupDataChannel(dc)
		})
	}

	return conn
}

func (c *connection) createDataChannel() error {
	ordered := true
	dc, err := c.pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	c.setupDataChannel(dc)
	return nil
}

func (c *connection) setupDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.inbox.Push(msg.Data)
	})

	dc.OnClose(c.shutdown)
}

func (c *connection) shutdown() {
	c.closeOnce.Do(func() {
		c.inbox.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *connection) PeerID() string {
	return c.peerID
}

func (c *connection) Opened() <-chan struct{} {
	return c.opened
}

func (c *connection) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return transport.ErrNotOpen
	}
	return dc.Send(data)
}

func (c *connection) Recv() <-chan []byte {
	return c.inbox.C()
}

func (c *connection) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc != nil {
		_ = dc.Close()
	}
	err := c.pc.Close()
	c.shutdown()
	return err
}
