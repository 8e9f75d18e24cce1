package partition

import (
	"fmt"

	"github.com/tensormesh/tensormesh/internal/comm"
)

// Group collectives built on non-blocking point-to-point transport calls.
//
// All collectives are no-ops for workers that are not members of the
// partition: they return immediately so that inactive workers can share one
// code path with active ones (the layer above hands them zero-volume
// tensors). Every member must call each collective exactly once per logical
// step, in the same relative order as every other member; the per-call tag
// sequence advances in lockstep on that assumption.
//
// Reductions take an accumulator so this package stays independent of
// element types; the collective layer passes the dtype-dispatched sum
// kernel.

// Accumulator sums src into dst elementwise.
type Accumulator func(dst, src []byte) error

// NextTag consumes and returns the partition's next collective-call tag.
// Primitives that manage their own message pattern (Repartition, halo
// exchange) draw one tag per logical call; all members draw the same value.
func (p *Partition) NextTag() uint64 {
	p.seq++
	return p.grp.tagBase | (p.seq & ((1 << 20) - 1))
}

// Isend starts a non-blocking send to the member with the given partition
// rank.
func (p *Partition) Isend(buf []byte, dest int, tag uint64) (comm.Request, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.tr.Isend(buf, p.grp.members[dest], tag)
}

// Irecv starts a non-blocking receive from the member with the given
// partition rank.
func (p *Partition) Irecv(buf []byte, source int, tag uint64) (comm.Request, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	return p.tr.Irecv(buf, p.grp.members[source], tag)
}

// Broadcast disseminates root's buf to every member's buf. All buffers must
// have equal length.
func (p *Partition) Broadcast(buf []byte, root int) error {
	if err := p.check(); err != nil {
		return err
	}
	tag := p.NextTag()
	if !p.Active() {
		return nil
	}
	if p.rank == root {
		reqs := make([]comm.Request, 0, p.Size()-1)
		for dst := range p.grp.members {
			if dst == root {
				continue
			}
			req, err := p.Isend(buf, dst, tag)
			if err != nil {
				return err
			}
			reqs = append(reqs, req)
		}
		return comm.WaitAll(reqs)
	}
	req, err := p.Irecv(buf, root, tag)
	if err != nil {
		return err
	}
	return req.Wait()
}

// Reduce sums every member's buf into root's buf. Accumulation order is
// ascending partition rank, so the result is bitwise deterministic across
// runs. Non-root buffers are left untouched.
func (p *Partition) Reduce(buf []byte, root int, acc Accumulator) error {
	if err := p.check(); err != nil {
		return err
	}
	tag := p.NextTag()
	if !p.Active() {
		return nil
	}
	if p.rank != root {
		req, err := p.Isend(buf, root, tag)
		if err != nil {
			return err
		}
		return req.Wait()
	}

	contributions := make([][]byte, p.Size())
	reqs := make([]comm.Request, 0, p.Size()-1)
	for src := range p.grp.members {
		if src == root {
			contributions[src] = buf
			continue
		}
		contributions[src] = make([]byte, len(buf))
		req, err := p.Irecv(contributions[src], src, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return err
	}

	sum := make([]byte, len(buf))
	copy(sum, contributions[0])
	for src := 1; src < p.Size(); src++ {
		if err := acc(sum, contributions[src]); err != nil {
			return err
		}
	}
	copy(buf, sum)
	return nil
}

// AllGather collects every member's block on every member. Block sizes may
// differ per member (balanced division does not produce equal blocks);
// into[s] must be sized for member s's block and into[self] receives a copy
// of local.
func (p *Partition) AllGather(local []byte, into [][]byte) error {
	if err := p.check(); err != nil {
		return err
	}
	tag := p.NextTag()
	if !p.Active() {
		return nil
	}
	if len(into) != p.Size() {
		return fmt.Errorf("allgather: %d buffers for %d members", len(into), p.Size())
	}

	reqs := make([]comm.Request, 0, 2*(p.Size()-1))
	for src := range p.grp.members {
		if src == p.rank {
			continue
		}
		req, err := p.Irecv(into[src], src, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	for dst := range p.grp.members {
		if dst == p.rank {
			continue
		}
		req, err := p.Isend(local, dst, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	copy(into[p.rank], local)
	return comm.WaitAll(reqs)
}

// ReduceScatter sums, across all members, the segment each member addressed
// to partition rank s, and delivers the sum to member s. segments[s] is the
// calling member's contribution to member s and must match the length of
// s's out buffer. Accumulation order is ascending partition rank.
func (p *Partition) ReduceScatter(segments [][]byte, out []byte, acc Accumulator) error {
	if err := p.check(); err != nil {
		return err
	}
	tag := p.NextTag()
	if !p.Active() {
		return nil
	}
	if len(segments) != p.Size() {
		return fmt.Errorf("reducescatter: %d segments for %d members", len(segments), p.Size())
	}

	contributions := make([][]byte, p.Size())
	reqs := make([]comm.Request, 0, 2*(p.Size()-1))
	for src := range p.grp.members {
		if src == p.rank {
			contributions[src] = segments[p.rank]
			continue
		}
		contributions[src] = make([]byte, len(out))
		req, err := p.Irecv(contributions[src], src, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	for dst := range p.grp.members {
		if dst == p.rank {
			continue
		}
		req, err := p.Isend(segments[dst], dst, tag)
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}
	if err := comm.WaitAll(reqs); err != nil {
		return err
	}

	copy(out, contributions[0])
	for src := 1; src < p.Size(); src++ {
		if err := acc(out, contributions[src]); err != nil {
			return err
		}
	}
	return nil
}

// AllReduce sums every member's buf across the partition and leaves the
// result in every member's buf. Implemented as a rooted reduce followed by
// a broadcast, which keeps the accumulation order identical on all members.
func (p *Partition) AllReduce(buf []byte, acc Accumulator) error {
	if err := p.Reduce(buf, 0, acc); err != nil {
		return err
	}
	return p.Broadcast(buf, 0)
}
