package comm

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// Matchbox pairs arriving messages with posted receives. Both transports
// funnel inbound traffic through one Matchbox per endpoint: the network side
// calls Deliver as messages arrive, the application side calls Post when it
// issues Irecv, and whichever side shows up first parks until the other
// matches it on (source, tag). Messages with equal keys match in arrival
// order against receives in posting order.
type Matchbox struct {
	queues *xsync.Map[matchKey, *matchQueue]
}

type matchKey struct {
	source int
	tag    uint64
}

type matchQueue struct {
	mu       sync.Mutex
	messages [][]byte
	waiters  []*recvRequest
}

type recvRequest struct {
	buf  []byte
	done chan error
}

func (r *recvRequest) Wait() error { return <-r.done }

func (r *recvRequest) complete(payload []byte) {
	if len(payload) != len(r.buf) {
		r.done <- fmt.Errorf("%w: message size %d does not match receive buffer %d",
			ErrTransport, len(payload), len(r.buf))
		return
	}
	copy(r.buf, payload)
	r.done <- nil
}

// NewMatchbox returns an empty matchbox.
func NewMatchbox() *Matchbox {
	return &Matchbox{queues: xsync.NewMap[matchKey, *matchQueue]()}
}

func (m *Matchbox) queue(source int, tag uint64) *matchQueue {
	q, _ := m.queues.LoadOrCompute(matchKey{source, tag}, func() (*matchQueue, bool) {
		return &matchQueue{}, false
	})
	return q
}

// Deliver hands an inbound message to the matchbox. The matchbox takes
// ownership of payload; callers that reuse their buffer must copy first.
func (m *Matchbox) Deliver(source int, tag uint64, payload []byte) {
	q := m.queue(source, tag)
	q.mu.Lock()
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		q.mu.Unlock()
		w.complete(payload)
		return
	}
	q.messages = append(q.messages, payload)
	q.mu.Unlock()
}

// Post registers a receive for a message from (source, tag) into buf and
// returns the request to wait on.
func (m *Matchbox) Post(source int, tag uint64, buf []byte) Request {
	req := &recvRequest{buf: buf, done: make(chan error, 1)}
	q := m.queue(source, tag)
	q.mu.Lock()
	if len(q.messages) > 0 {
		payload := q.messages[0]
		q.messages = q.messages[1:]
		q.mu.Unlock()
		req.complete(payload)
		return req
	}
	q.waiters = append(q.waiters, req)
	q.mu.Unlock()
	return req
}
