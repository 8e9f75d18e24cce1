package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensormesh/tensormesh/internal/comm/inproc"
)

func TestNewWorld(t *testing.T) {
	w := inproc.NewWorld(4)
	p := NewWorld(w.Endpoint(2))
	assert.True(t, p.Active())
	assert.Equal(t, 2, p.Rank())
	assert.Equal(t, 4, p.Size())
	assert.Equal(t, []int{0, 1, 2, 3}, p.GlobalRanks())
	assert.Nil(t, p.Shape())
}

func TestCreatePartitionInclusive(t *testing.T) {
	w := inproc.NewWorld(4)
	p := NewWorld(w.Endpoint(3))

	sub, err := p.CreatePartitionInclusive([]int{3, 1})
	require.NoError(t, err)
	assert.True(t, sub.Active())
	assert.Equal(t, 0, sub.Rank(), "order of ranks is preserved")
	assert.Equal(t, []int{3, 1}, sub.GlobalRanks())

	out, err := p.CreatePartitionInclusive([]int{0, 2})
	require.NoError(t, err)
	assert.False(t, out.Active())
	assert.Equal(t, -1, out.Rank())
	assert.Equal(t, 2, out.Size())
}

func TestCreatePartitionInclusiveRejectsBadRanks(t *testing.T) {
	w := inproc.NewWorld(2)
	p := NewWorld(w.Endpoint(0))

	_, err := p.CreatePartitionInclusive([]int{0, 0})
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = p.CreatePartitionInclusive([]int{0, 5})
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = p.CreatePartitionInclusive([]int{-1})
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestCartesianTopology(t *testing.T) {
	w := inproc.NewWorld(6)
	p := NewWorld(w.Endpoint(5))

	grid, err := p.CreateCartesianTopologyPartition([]int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, grid.Shape())
	// Row-major: rank 5 sits at (1, 2).
	assert.Equal(t, []int{1, 2}, grid.Coords())

	_, err = p.CreateCartesianTopologyPartition([]int{2, 2})
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = p.CreateCartesianTopologyPartition([]int{6, 0})
	assert.ErrorIs(t, err, ErrInvalidPartition)
}

func TestSubPartitionAlongAxes(t *testing.T) {
	w := inproc.NewWorld(6)
	p := NewWorld(w.Endpoint(4))
	grid, err := p.CreateCartesianTopologyPartition([]int{2, 3})
	require.NoError(t, err)

	// Rank 4 is at (1, 1). Its axis-1 subgroup is row 1: global ranks 3,4,5.
	row, err := grid.SubPartitionAlongAxes([]int{1})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, row.GlobalRanks())
	assert.Equal(t, 1, row.Rank())
	assert.Equal(t, []int{3}, row.Shape())

	// Its axis-0 subgroup is column 1: global ranks 1, 4.
	col, err := grid.SubPartitionAlongAxes([]int{0})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, col.GlobalRanks())
	assert.Equal(t, 1, col.Rank())

	// Both axes: the whole grid.
	all, err := grid.SubPartitionAlongAxes([]int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 6, all.Size())

	_, err = grid.SubPartitionAlongAxes([]int{2})
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = grid.SubPartitionAlongAxes([]int{0, 0})
	assert.ErrorIs(t, err, ErrInvalidPartition)
	_, err = p.SubPartitionAlongAxes([]int{0})
	assert.ErrorIs(t, err, ErrInvalidPartition, "no cartesian topology")
}

func TestCreatePartitionUnion(t *testing.T) {
	w := inproc.NewWorld(4)
	p := NewWorld(w.Endpoint(0))
	a, err := p.CreatePartitionInclusive([]int{0, 1})
	require.NoError(t, err)
	b, err := p.CreatePartitionInclusive([]int{1, 2, 3})
	require.NoError(t, err)

	u, err := a.CreatePartitionUnion(b)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, u.GlobalRanks(), "self's members first, no duplicates")
	assert.Equal(t, 0, u.Rank())
}

func TestSameIsRecordIdentity(t *testing.T) {
	w := inproc.NewWorld(2)
	p := NewWorld(w.Endpoint(0))
	a, err := p.CreatePartitionInclusive([]int{0, 1})
	require.NoError(t, err)
	b, err := p.CreatePartitionInclusive([]int{0, 1})
	require.NoError(t, err)

	assert.True(t, a.Same(a))
	assert.False(t, a.Same(b), "structurally identical partitions are distinct groups")
	assert.False(t, a.Same(nil))
}

func TestTagSpacesDiverge(t *testing.T) {
	w := inproc.NewWorld(2)
	p := NewWorld(w.Endpoint(0))
	a, err := p.CreatePartitionInclusive([]int{0, 1})
	require.NoError(t, err)
	b, err := p.CreatePartitionInclusive([]int{0, 1})
	require.NoError(t, err)
	assert.NotEqual(t, a.NextTag(), b.NextTag(),
		"same members constructed twice must not share a tag space")
}

func TestDeactivate(t *testing.T) {
	w := inproc.NewWorld(2)
	p := NewWorld(w.Endpoint(0))
	sub, err := p.CreatePartitionInclusive([]int{0})
	require.NoError(t, err)

	sub.Deactivate()
	sub.Deactivate() // idempotent
	err = sub.Broadcast([]byte{1}, 0)
	assert.ErrorIs(t, err, ErrDeactivated)
	_, err = sub.CreatePartitionInclusive([]int{0})
	assert.ErrorIs(t, err, ErrDeactivated)

	// The parent stays usable.
	_, err = p.CreatePartitionInclusive([]int{1})
	assert.NoError(t, err)
}
