// Package natscomm implements the TensorMesh transport over NATS. Workers
// address each other through rank-scoped subjects; every endpoint subscribes
// to its own rank subject before any worker is allowed to send, so core NATS
// (at-most-once, no persistence) is sufficient for the matched send/receive
// discipline the collective layer guarantees.
package natscomm

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/logging"
	"github.com/tensormesh/tensormesh/internal/metrics"
)

const transportName = "nats"

// Transport is a NATS-backed comm.Transport endpoint.
type Transport struct {
	cfg    Config
	nc     *nats.Conn
	ownsNC bool
	log    logging.Logger
	box    *comm.Matchbox
	sub    *nats.Subscription
	closed atomic.Bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(log logging.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// Dial connects to the NATS server named in cfg and joins the fabric.
// It blocks until every worker in the job has subscribed to its rank
// subject, so no point-to-point message can be published into the void.
func Dial(cfg Config, opts ...Option) (*Transport, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", comm.ErrTransport, cfg.URL, err)
	}
	t, err := New(nc, cfg, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	t.ownsNC = true
	return t, nil
}

// New joins the fabric over an existing NATS connection. The connection is
// not closed by Close; use Dial when the transport should own it.
func New(nc *nats.Conn, cfg Config, opts ...Option) (*Transport, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		cfg: cfg,
		nc:  nc,
		log: logging.NewNop(),
		box: comm.NewMatchbox(),
	}
	for _, opt := range opts {
		opt(t)
	}

	sub, err := nc.Subscribe(fmt.Sprintf("%s.p2p.%d.>", cfg.Prefix, cfg.Rank), t.onMessage)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe rank subject: %v", comm.ErrTransport, err)
	}
	t.sub = sub
	if err := nc.Flush(); err != nil {
		return nil, fmt.Errorf("%w: flush: %v", comm.ErrTransport, err)
	}

	if err := t.barrier(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	t.log.Info("joined fabric", "rank", cfg.Rank, "world_size", cfg.WorldSize, "prefix", cfg.Prefix)
	return t, nil
}

// onMessage routes an inbound point-to-point message into the matchbox.
// Subject layout: <prefix>.p2p.<dest>.<src>.<tag>.
func (t *Transport) onMessage(msg *nats.Msg) {
	tokens := strings.Split(msg.Subject, ".")
	if len(tokens) < 3 {
		t.log.Warn("dropping message with malformed subject", "subject", msg.Subject)
		return
	}
	src, err1 := strconv.Atoi(tokens[len(tokens)-2])
	tag, err2 := strconv.ParseUint(tokens[len(tokens)-1], 10, 64)
	if err1 != nil || err2 != nil {
		t.log.Warn("dropping message with malformed subject", "subject", msg.Subject)
		return
	}
	metrics.MessagesReceived.WithLabelValues(transportName).Inc()
	// msg.Data is owned by this message; the matchbox may retain it.
	t.box.Deliver(src, tag, msg.Data)
}

// barrier blocks until all ranks of the job are subscribed. Rank 0 collects
// join announcements and publishes the start signal once every rank has
// checked in; other ranks re-announce periodically until they see it, so no
// ordering of worker start-up can lose the handshake.
func (t *Transport) barrier() error {
	deadline := time.Now().Add(t.cfg.ConnectTimeout)
	startSubject := fmt.Sprintf("%s.ctrl.start", t.cfg.Prefix)

	if t.cfg.Rank == 0 {
		joined := make(chan int, t.cfg.WorldSize*4)
		joinSub, err := t.nc.Subscribe(fmt.Sprintf("%s.ctrl.join.*", t.cfg.Prefix), func(msg *nats.Msg) {
			tokens := strings.Split(msg.Subject, ".")
			if r, err := strconv.Atoi(tokens[len(tokens)-1]); err == nil {
				joined <- r
			}
		})
		if err != nil {
			return fmt.Errorf("%w: subscribe join subject: %v", comm.ErrTransport, err)
		}
		defer joinSub.Unsubscribe() //nolint:errcheck
		if err := t.nc.Flush(); err != nil {
			return fmt.Errorf("%w: flush: %v", comm.ErrTransport, err)
		}

		seen := map[int]bool{0: true}
		for len(seen) < t.cfg.WorldSize {
			select {
			case r := <-joined:
				seen[r] = true
			case <-time.After(time.Until(deadline)):
				return fmt.Errorf("%w: %d of %d workers joined within %s",
					comm.ErrTransport, len(seen), t.cfg.WorldSize, t.cfg.ConnectTimeout)
			}
		}
		if err := t.nc.Publish(startSubject, nil); err != nil {
			return fmt.Errorf("%w: publish start: %v", comm.ErrTransport, err)
		}
		return t.nc.Flush()
	}

	started := make(chan struct{}, 1)
	startSub, err := t.nc.Subscribe(startSubject, func(*nats.Msg) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe start subject: %v", comm.ErrTransport, err)
	}
	defer startSub.Unsubscribe() //nolint:errcheck
	if err := t.nc.Flush(); err != nil {
		return fmt.Errorf("%w: flush: %v", comm.ErrTransport, err)
	}

	joinSubject := fmt.Sprintf("%s.ctrl.join.%d", t.cfg.Prefix, t.cfg.Rank)
	for {
		if err := t.nc.Publish(joinSubject, nil); err != nil {
			return fmt.Errorf("%w: publish join: %v", comm.ErrTransport, err)
		}
		select {
		case <-started:
			return nil
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: start signal not received within %s", comm.ErrTransport, t.cfg.ConnectTimeout)
		}
	}
}

// Rank returns this worker's global rank.
func (t *Transport) Rank() int { return t.cfg.Rank }

// Size returns the number of workers in the job.
func (t *Transport) Size() int { return t.cfg.WorldSize }

// Isend publishes buf to the destination rank's subject. NATS buffers the
// publication internally, so the send completes inline.
func (t *Transport) Isend(buf []byte, dest int, tag uint64) (comm.Request, error) {
	if t.closed.Load() {
		return nil, comm.ErrClosed
	}
	if dest < 0 || dest >= t.cfg.WorldSize {
		return nil, fmt.Errorf("%w: destination rank %d out of range [0,%d)", comm.ErrTransport, dest, t.cfg.WorldSize)
	}
	subject := fmt.Sprintf("%s.p2p.%d.%d.%d", t.cfg.Prefix, dest, t.cfg.Rank, tag)
	if err := t.nc.Publish(subject, buf); err != nil {
		return nil, fmt.Errorf("%w: publish: %v", comm.ErrTransport, err)
	}
	metrics.MessagesSent.WithLabelValues(transportName).Inc()
	metrics.BytesSent.WithLabelValues(transportName).Add(float64(len(buf)))
	return comm.Completed(nil), nil
}

// Irecv posts a receive for a message from the source rank under tag.
func (t *Transport) Irecv(buf []byte, source int, tag uint64) (comm.Request, error) {
	if t.closed.Load() {
		return nil, comm.ErrClosed
	}
	if source < 0 || source >= t.cfg.WorldSize {
		return nil, fmt.Errorf("%w: source rank %d out of range [0,%d)", comm.ErrTransport, source, t.cfg.WorldSize)
	}
	return t.box.Post(source, tag, buf), nil
}

// Close leaves the fabric. The NATS connection is closed only when it was
// established by Dial.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	err := t.sub.Drain()
	if t.ownsNC {
		t.nc.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: drain: %v", comm.ErrTransport, err)
	}
	return nil
}
