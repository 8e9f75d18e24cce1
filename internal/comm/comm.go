// Package comm defines the point-to-point transport capability TensorMesh
// collectives are built on. A Transport addresses peers by global rank and
// offers non-blocking tagged sends and receives; everything above it (group
// collectives, partitions, primitives) is transport-agnostic.
//
// There is deliberately no cancellation or timeout surface: collective call
// patterns must be symmetric across workers, and a mismatched pattern hangs
// rather than half-completing. Partial collective completion would leave the
// worker group inconsistent, which is worse than a hang.
package comm

import (
	"errors"

	"github.com/zeebo/xxh3"
)

// ErrTransport wraps platform-level send/receive failures. Transport errors
// are fatal to the computation; no layer retries them.
var ErrTransport = errors.New("transport failure")

// ErrClosed is returned when operating on a closed transport endpoint.
var ErrClosed = errors.New("transport endpoint closed")

// Request is an in-flight non-blocking operation. Wait blocks until the
// operation completes and returns its outcome. Wait may be called once.
type Request interface {
	Wait() error
}

// Transport is one worker's endpoint into the communication fabric.
//
// Isend transmits buf to the destination rank under the given tag; the
// buffer must not be modified until the returned request completes. Irecv
// posts a receive for a message from the source rank under the given tag
// into buf; the message must fit exactly. Messages between a pair of ranks
// with the same tag are matched in posting order.
type Transport interface {
	// Rank returns this worker's global rank, 0 <= Rank() < Size().
	Rank() int

	// Size returns the total number of workers in the fabric.
	Size() int

	// Isend starts a non-blocking tagged send to dest.
	Isend(buf []byte, dest int, tag uint64) (Request, error)

	// Irecv starts a non-blocking tagged receive from source.
	Irecv(buf []byte, source int, tag uint64) (Request, error)

	// Close releases the endpoint. Outstanding requests become invalid.
	Close() error
}

// WaitAll blocks until every request completes and returns the first error.
// All requests are waited on even after a failure, so the transport is not
// left with orphaned operations.
func WaitAll(reqs []Request) error {
	var first error
	for _, req := range reqs {
		if req == nil {
			continue
		}
		if err := req.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TagSpace derives a deterministic 64-bit tag base for a worker group from
// its ordered member list plus the parent group's tag base and the child's
// construction sequence number. Every member performs the identical
// derivation, so a group's members agree on its tag space without
// negotiation, and two groups over the same workers (constructed at
// different points) still get distinct spaces. The low 20 bits are left
// clear for per-call sequence numbers.
func TagSpace(parentBase, childIndex uint64, members []int) uint64 {
	buf := make([]byte, 16, 16+len(members)*4)
	for i, v := range []uint64{parentBase, childIndex} {
		for b := 0; b < 8; b++ {
			buf[i*8+b] = byte(v >> (8 * b))
		}
	}
	for _, r := range members {
		buf = append(buf, byte(r), byte(r>>8), byte(r>>16), byte(r>>24))
	}
	return xxh3.Hash(buf) &^ ((1 << 20) - 1)
}

// completedRequest is a Request that finished synchronously.
type completedRequest struct{ err error }

func (c completedRequest) Wait() error { return c.err }

// Completed returns an already-finished request with the given outcome.
// Transports use it for sends that complete inline.
func Completed(err error) Request { return completedRequest{err: err} }
