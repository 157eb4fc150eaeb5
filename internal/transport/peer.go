package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
)

const maxFrameSize = 1 << 20

// Peer is a QUIC link carrying length-prefixed frames on a single control
// stream.
type Peer struct {
	id     string
	conn   *quic.Conn
	stream *quic.Stream
	inbox  *Inbox
	opened chan struct{}

	mu        sync.Mutex
	closeOnce sync.Once
}

func newPeer(id string, conn *quic.Conn, stream *quic.Stream) *Peer {
	p := &Peer{
		id:     id,
		conn:   conn,
		stream: stream,
		inbox:  NewInbox(),
		opened: make(chan struct{}),
	}
	close(p.opened)
	go p.readLoop()
	return p
}

func (p *Peer) PeerID() string { return p.id }

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) Opened() <-chan struct{} { return p.opened }

func (p *Peer) Recv() <-chan []byte { return p.inbox.C() }

func (p *Peer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeFrame(p.stream, data)
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.inbox.Close()
		_ = p.stream.Close()
		err = p.conn.CloseWithError(0, "")
	})
	return err
}

func (p *Peer) readLoop() {
	defer func() { _ = p.Close() }()
	for {
		frame, err := readFrame(p.stream)
		if err != nil {
			return
		}
		if !p.inbox.Push(frame) {
			return
		}
	}
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(data))
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

var _ Conn = (*Peer)(nil)
