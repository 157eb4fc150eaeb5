package transport

import "sync"

// Inbox is an unbounded FIFO in front of a receive channel. Push never
// blocks, so a slow reader cannot stall the writer. Items still queued at
// Close are dropped and the channel is closed.
type Inbox struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool

	wake chan struct{}
	done chan struct{}
	out  chan []byte
	once sync.Once
}

func NewInbox() *Inbox {
	in := &Inbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan []byte),
	}
	go in.run()
	return in
}

// Push queues data for delivery. It returns false once the inbox is closed.
func (in *Inbox) Push(data []byte) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.queue = append(in.queue, data)
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
	return true
}

func (in *Inbox) C() <-chan []byte { return in.out }

func (in *Inbox) Close() {
	in.once.Do(func() {
		in.mu.Lock()
		in.closed = true
		in.queue = nil
		in.mu.Unlock()
		close(in.done)
	})
}

func (in *Inbox) run() {
	defer close(in.out)
	for {
		in.mu.Lock()
		if len(in.queue) == 0 {
			in.mu.Unlock()
			select {
			case <-in.wake:
				continue
			case <-in.done:
				return
			}
		}
		data := in.queue[0]
		in.queue[0] = nil
		in.queue = in.queue[1:]
		in.mu.Unlock()

		select {
		case in.out <- data:
		case <-in.done:
			return
		}
	}
}
