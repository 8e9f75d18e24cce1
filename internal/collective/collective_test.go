package collective

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensormesh/tensormesh/internal/comm"
	"github.com/tensormesh/tensormesh/internal/comm/inproc"
	"github.com/tensormesh/tensormesh/internal/tensor"
)

// runWorld executes fn once per rank on an in-process world and fails the
// test on the first worker error.
func runWorld(t *testing.T, size int, fn func(tr comm.Transport) error) {
	t.Helper()
	require.NoError(t, inproc.NewWorld(size).Run(fn))
}

// lcg fills deterministic pseudo-random float64 values so every worker can
// reproduce any peer's data without communicating.
func lcg(seed uint64, n int) []float64 {
	out := make([]float64, n)
	state := seed*6364136223846793005 + 1442695040888963407
	for i := range out {
		state = state*6364136223846793005 + 1442695040888963407
		out[i] = float64(int64(state>>33)%1000) / 100
	}
	return out
}

func randTensor(t *testing.T, seed uint64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(lcg(seed, shape.NumElements()), shape)
	require.NoError(t, err)
	return raw
}

func constTensor(t *testing.T, v float64, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = v
	}
	raw, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return raw
}

func dot(a, b *tensor.RawTensor) float64 {
	av, bv := tensor.Data[float64](a), tensor.Data[float64](b)
	sum := 0.0
	for i := range av {
		sum += av[i] * bv[i]
	}
	return sum
}

// innerProducts accumulates the two sides of the adjoint identity
// <Apply(x), dy> == <x, ApplyAdjoint(dy)> across workers.
type innerProducts struct {
	mu       sync.Mutex
	forward  float64
	backward float64
}

func (ip *innerProducts) add(forward, backward float64) {
	ip.mu.Lock()
	ip.forward += forward
	ip.backward += backward
	ip.mu.Unlock()
}

func (ip *innerProducts) requireEqual(t *testing.T) {
	t.Helper()
	require.InDelta(t, ip.forward, ip.backward, 1e-9,
		"adjoint identity violated: <y,dy>=%v <x,dx>=%v", ip.forward, ip.backward)
}
