package partition

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/comm/inproc"
)

func sumAccumulator(dst, src []byte) error {
	if len(dst) != len(src) {
		return fmt.Errorf("length mismatch")
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}

func TestBroadcast(t *testing.T) {
	w := inproc.NewWorld(4)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		buf := make([]byte, 3)
		if tr.Rank() == 1 {
			copy(buf, []byte{7, 8, 9})
		}
		if err := p.Broadcast(buf, 1); err != nil {
			return err
		}
		if buf[0] != 7 || buf[1] != 8 || buf[2] != 9 {
			return fmt.Errorf("rank %d received %v", tr.Rank(), buf)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReduceIsDeterministicSum(t *testing.T) {
	w := inproc.NewWorld(3)
	var mu sync.Mutex
	results := map[int][]byte{}
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		buf := []byte{byte(tr.Rank() + 1), 10}
		if err := p.Reduce(buf, 0, sumAccumulator); err != nil {
			return err
		}
		mu.Lock()
		results[tr.Rank()] = buf
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	// 1+2+3 = 6, 10*3 = 30 on the root.
	assert.Equal(t, []byte{6, 30}, results[0])
	// Non-root buffers stay untouched.
	assert.Equal(t, []byte{2, 10}, results[1])
	assert.Equal(t, []byte{3, 10}, results[2])
}

func TestAllGatherVariableSizes(t *testing.T) {
	w := inproc.NewWorld(3)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		// Block sizes 1, 2, 3 by rank.
		local := make([]byte, tr.Rank()+1)
		for i := range local {
			local[i] = byte(tr.Rank() * 10)
		}
		into := make([][]byte, 3)
		for s := range into {
			into[s] = make([]byte, s+1)
		}
		if err := p.AllGather(local, into); err != nil {
			return err
		}
		for s := range into {
			for _, v := range into[s] {
				if v != byte(s*10) {
					return fmt.Errorf("rank %d: block %d holds %v", tr.Rank(), s, into[s])
				}
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestReduceScatter(t *testing.T) {
	w := inproc.NewWorld(2)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		// Worker r contributes segment s = [r+1, s].
		segments := make([][]byte, 2)
		for s := range segments {
			segments[s] = []byte{byte(tr.Rank() + 1), byte(s)}
		}
		out := make([]byte, 2)
		if err := p.ReduceScatter(segments, out, sumAccumulator); err != nil {
			return err
		}
		// Each worker receives sum over contributors: [1+2, 2*s].
		want := []byte{3, byte(2 * tr.Rank())}
		if out[0] != want[0] || out[1] != want[1] {
			return fmt.Errorf("rank %d: out %v, want %v", tr.Rank(), out, want)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAllReduce(t *testing.T) {
	w := inproc.NewWorld(4)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		buf := []byte{byte(tr.Rank())}
		if err := p.AllReduce(buf, sumAccumulator); err != nil {
			return err
		}
		if buf[0] != 6 {
			return fmt.Errorf("rank %d: %d, want 6", tr.Rank(), buf[0])
		}
		return nil
	})
	require.NoError(t, err)
}

func TestCollectivesOnSubPartition(t *testing.T) {
	// Collectives on a subset must not involve, or block on, outsiders.
	w := inproc.NewWorld(4)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		sub, err := p.CreatePartitionInclusive([]int{1, 3})
		if err != nil {
			return err
		}
		buf := []byte{0}
		if tr.Rank() == 1 {
			buf[0] = 42
		}
		if err := sub.Broadcast(buf, 0); err != nil {
			return err
		}
		if sub.Active() && buf[0] != 42 {
			return fmt.Errorf("rank %d: %d, want 42", tr.Rank(), buf[0])
		}
		if !sub.Active() && buf[0] != 0 {
			return fmt.Errorf("rank %d: inactive worker's buffer was touched", tr.Rank())
		}
		return nil
	})
	require.NoError(t, err)
}

func TestInterleavedPartitionsDoNotCross(t *testing.T) {
	// Two derived partitions over overlapping members run collectives in the
	// same step; distinct tag spaces keep the traffic separate.
	w := inproc.NewWorld(4)
	err := w.Run(func(tr comm.Transport) error {
		p := NewWorld(tr)
		evens, err := p.CreatePartitionInclusive([]int{0, 2})
		if err != nil {
			return err
		}
		all, err := p.CreatePartitionInclusive([]int{0, 1, 2, 3})
		if err != nil {
			return err
		}

		a := []byte{0}
		if tr.Rank() == 0 {
			a[0] = 11
		}
		b := []byte{0}
		if tr.Rank() == 0 {
			b[0] = 22
		}
		if err := evens.Broadcast(a, 0); err != nil {
			return err
		}
		if err := all.Broadcast(b, 0); err != nil {
			return err
		}
		if evens.Active() && a[0] != 11 {
			return fmt.Errorf("rank %d: evens received %d", tr.Rank(), a[0])
		}
		if b[0] != 22 {
			return fmt.Errorf("rank %d: all received %d", tr.Rank(), b[0])
		}
		return nil
	})
	require.NoError(t, err)
}
