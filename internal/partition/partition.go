// Package partition models named, addressable subsets of workers, optionally
// arranged on a Cartesian grid. Partitions are the topology layer between
// the raw rank-addressed transport and the collective primitives: a
// primitive binds one or two partitions and the partitions supply member
// lists, coordinates, tag spaces and group collectives.
//
// Every worker constructs its partition objects locally and symmetrically
// (same calls, same order, same arguments); construction itself performs no
// communication. Tag spaces are derived deterministically from the member
// list and the construction sequence, so all members of a group agree on
// message tags without negotiation.
package partition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/logging"
	"github.com/tensormesh/tensormesh/internal/slicing"
)

// ErrInvalidPartition is returned when a partition construction is
// malformed: duplicate or out-of-range worker ids, or a Cartesian shape
// whose volume does not match the partition size.
var ErrInvalidPartition = errors.New("invalid partition")

// ErrDeactivated is returned when operating on a deactivated partition.
// This is a caller bug: deactivation releases the worker-group resource and
// must happen only after all operations on the partition completed.
var ErrDeactivated = errors.New("partition deactivated")

// group is an arena record for an underlying worker group. Partition
// equality is identity of the group record: two partitions constructed
// separately over the same workers are distinct groups with distinct tag
// spaces, never merged by structural equality.
type group struct {
	mu       sync.Mutex
	members  []int // global ranks, in partition order
	tagBase  uint64
	parent   *group
	children int
	refs     int
	released bool
}

func (g *group) retain() {
	g.mu.Lock()
	g.refs++
	g.mu.Unlock()
}

func (g *group) release() {
	g.mu.Lock()
	g.refs--
	done := g.refs == 0 && !g.released
	if done {
		g.released = true
		g.members = nil
	}
	parent := g.parent
	g.mu.Unlock()
	if done && parent != nil {
		parent.release()
	}
}

// nextChildIndex returns a construction sequence number for derived groups.
// All members of the parent call derived-partition constructors in the same
// order, so the sequence advances in lockstep everywhere.
func (g *group) nextChildIndex() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.children++
	return uint64(g.children)
}

// Partition is one worker's view of a worker group, with an optional
// Cartesian topology imposed on it.
type Partition struct {
	tr     comm.Transport
	log    logging.Logger
	grp    *group
	rank   int // rank within the group, -1 when inactive
	shape  []int
	coords []int
	seq    uint64 // per-call tag sequence, advances in lockstep on members
	dead   bool
}

// Option configures partition construction.
type Option func(*Partition)

// WithLogger sets the logger inherited by derived partitions.
func WithLogger(log logging.Logger) Option {
	return func(p *Partition) { p.log = log }
}

// NewWorld creates the root partition spanning every rank of the transport.
func NewWorld(tr comm.Transport, opts ...Option) *Partition {
	members := make([]int, tr.Size())
	for i := range members {
		members[i] = i
	}
	p := &Partition{
		tr:   tr,
		log:  logging.NewNop(),
		grp:  &group{members: members, tagBase: comm.TagSpace(0, 0, members), refs: 1},
		rank: tr.Rank(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Active reports whether the calling worker is a member of the partition.
func (p *Partition) Active() bool {
	return p.rank >= 0
}

// Rank returns the calling worker's rank within the partition, or -1 when
// the worker is not a member.
func (p *Partition) Rank() int {
	return p.rank
}

// Size returns the number of workers in the partition.
func (p *Partition) Size() int {
	return len(p.grp.members)
}

// Shape returns the Cartesian shape, or nil when no topology is imposed.
func (p *Partition) Shape() []int {
	return p.shape
}

// Coords returns the calling worker's Cartesian coordinates, or nil.
func (p *Partition) Coords() []int {
	return p.coords
}

// GlobalRanks returns the partition's members as global transport ranks, in
// partition order.
func (p *Partition) GlobalRanks() []int {
	return p.grp.members
}

// Same reports whether two partitions wrap the same underlying worker-group
// record. Structurally identical partitions constructed separately are NOT
// the same; this distinguishes "same grid shape, different workers" from
// "same workers" and keeps the Broadcast/SumReduce short-circuit
// conservative.
func (p *Partition) Same(other *Partition) bool {
	return other != nil && p.grp == other.grp
}

// Deactivate releases the partition's worker-group resource. It is
// idempotent. The group record itself is freed once all derived partitions
// referencing it are deactivated too; using this partition afterwards
// returns ErrDeactivated.
func (p *Partition) Deactivate() {
	if p.dead {
		return
	}
	p.dead = true
	p.grp.release()
	p.log.Debug("partition deactivated", "size", p.Size())
}

func (p *Partition) check() error {
	if p.dead {
		return ErrDeactivated
	}
	return nil
}

// derive allocates a child partition record below p's group.
func (p *Partition) derive(members []int, rank int, shape, coords []int) *Partition {
	p.grp.retain()
	child := &Partition{
		tr:  p.tr,
		log: p.log,
		grp: &group{
			members: members,
			tagBase: comm.TagSpace(p.grp.tagBase, p.grp.nextChildIndex(), members),
			parent:  p.grp,
			refs:    1,
		},
		rank:   rank,
		shape:  shape,
		coords: coords,
	}
	return child
}

// CreatePartitionInclusive creates a sub-partition containing exactly the
// workers at the given parent-relative ranks, preserving their relative
// order. Every member of the parent partition must call it with identical
// arguments. The caller's membership in the result follows from whether its
// own rank appears in ranks.
func (p *Partition) CreatePartitionInclusive(ranks []int) (*Partition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(ranks))
	members := make([]int, len(ranks))
	rank := -1
	for i, r := range ranks {
		if r < 0 || r >= p.Size() {
			return nil, fmt.Errorf("%w: rank %d out of range [0,%d)", ErrInvalidPartition, r, p.Size())
		}
		if seen[r] {
			return nil, fmt.Errorf("%w: duplicate rank %d", ErrInvalidPartition, r)
		}
		seen[r] = true
		members[i] = p.grp.members[r]
		if r == p.rank {
			rank = i
		}
	}
	child := p.derive(members, rank, nil, nil)
	p.log.Debug("partition created", "kind", "inclusive", "size", len(members), "active", rank >= 0)
	return child, nil
}

// CreateCartesianTopologyPartition imposes a Cartesian coordinate system on
// the partition's workers. Coordinates are assigned in row-major order (last
// axis fastest-varying), matching the enumeration order used by region
// intersection, so rank s of the partition owns the block at CoordsOf(s).
func (p *Partition) CreateCartesianTopologyPartition(shape []int) (*Partition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	for _, s := range shape {
		if s <= 0 {
			return nil, fmt.Errorf("%w: non-positive cartesian extent in %v", ErrInvalidPartition, shape)
		}
	}
	if slicing.GridSize(shape) != p.Size() {
		return nil, fmt.Errorf("%w: cartesian shape %v has volume %d, partition size is %d",
			ErrInvalidPartition, shape, slicing.GridSize(shape), p.Size())
	}
	members := append([]int(nil), p.grp.members...)
	var coords []int
	if p.rank >= 0 {
		coords = slicing.CoordsOf(p.rank, shape)
	}
	child := p.derive(members, p.rank, append([]int(nil), shape...), coords)
	p.log.Debug("partition created", "kind", "cartesian", "shape", shape, "active", p.rank >= 0)
	return child, nil
}

// SubPartitionAlongAxes creates the calling worker's subgroup varying along
// the given axes with every other coordinate held fixed: the communicator an
// axis-scoped collective (AllGather, ReduceScatter) runs within. Members are
// ordered row-major over the axes grid. Inactive callers receive an
// inactive, empty partition.
func (p *Partition) SubPartitionAlongAxes(axes []int) (*Partition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if p.shape == nil {
		return nil, fmt.Errorf("%w: partition has no cartesian topology", ErrInvalidPartition)
	}
	seen := make(map[int]bool, len(axes))
	for _, a := range axes {
		if a < 0 || a >= len(p.shape) {
			return nil, fmt.Errorf("%w: axis %d out of range for shape %v", ErrInvalidPartition, a, p.shape)
		}
		if seen[a] {
			return nil, fmt.Errorf("%w: duplicate axis %d", ErrInvalidPartition, a)
		}
		seen[a] = true
	}
	childIdx := p.grp.nextChildIndex()
	if !p.Active() {
		p.grp.retain()
		child := &Partition{tr: p.tr, log: p.log, rank: -1,
			grp: &group{tagBase: comm.TagSpace(p.grp.tagBase, childIdx, nil), parent: p.grp, refs: 1}}
		return child, nil
	}

	subShape := make([]int, len(axes))
	for i, a := range axes {
		subShape[i] = p.shape[a]
	}
	subSize := slicing.GridSize(subShape)
	members := make([]int, subSize)
	rank := -1
	for s := 0; s < subSize; s++ {
		subCoords := slicing.CoordsOf(s, subShape)
		coords := append([]int(nil), p.coords...)
		for i, a := range axes {
			coords[a] = subCoords[i]
		}
		gr := slicing.RankOf(coords, p.shape)
		members[s] = p.grp.members[gr]
		if gr == p.rank {
			rank = s
		}
	}
	p.grp.retain()
	child := &Partition{
		tr:  p.tr,
		log: p.log,
		grp: &group{
			members: members,
			tagBase: comm.TagSpace(p.grp.tagBase, childIdx, members),
			parent:  p.grp,
			refs:    1,
		},
		rank:   rank,
		shape:  subShape,
		coords: slicing.CoordsOf(rank, subShape),
	}
	return child, nil
}

// CreatePartitionUnion creates the union of two partitions: p's members
// first, then other's members not already present. The union's root (rank 0)
// is therefore always a member of p, which Repartition relies on when it
// disseminates the global tensor structure from the source side.
func (p *Partition) CreatePartitionUnion(other *Partition) (*Partition, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if err := other.check(); err != nil {
		return nil, err
	}
	present := make(map[int]bool, p.Size()+other.Size())
	members := make([]int, 0, p.Size()+other.Size())
	for _, g := range p.grp.members {
		present[g] = true
		members = append(members, g)
	}
	for _, g := range other.grp.members {
		if !present[g] {
			present[g] = true
			members = append(members, g)
		}
	}
	rank := -1
	for i, g := range members {
		if g == p.tr.Rank() {
			rank = i
			break
		}
	}
	child := p.derive(members, rank, nil, nil)
	p.log.Debug("partition created", "kind", "union", "size", len(members), "active", rank >= 0)
	return child, nil
}
