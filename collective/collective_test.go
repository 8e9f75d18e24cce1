// Copyright 2025 TensorMesh Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package collective_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tensormesh/tensormesh/collective"
	"github.com/tensormesh/tensormesh/comm"
	"github.com/tensormesh/tensormesh/partition"
	"github.com/tensormesh/tensormesh/tensor"
)

// TestDataParallelStep runs the canonical data-parallel gradient step over
// four in-process workers: every worker contributes its local gradient and
// leaves with the global sum.
func TestDataParallelStep(t *testing.T) {
	err := comm.NewInprocWorld(4).Run(func(tr comm.Transport) error {
		base := partition.NewWorld(tr)
		defer base.Deactivate()
		grid, err := base.CreateCartesianTopologyPartition([]int{4})
		if err != nil {
			return err
		}
		defer grid.Deactivate()

		asr, err := collective.NewAllSumReduce(grid, []int{0}, collective.Options{})
		if err != nil {
			return err
		}
		grad, err := tensor.FromSlice([]float64{float64(tr.Rank()), 1}, tensor.Shape{2})
		if err != nil {
			return err
		}
		sum, err := asr.Apply(grad)
		if err != nil {
			return err
		}
		got := tensor.Data[float64](sum)
		if got[0] != 6 || got[1] != 4 {
			return fmt.Errorf("rank %d: summed gradient %v", tr.Rank(), got)
		}
		return nil
	})
	require.NoError(t, err)
}

// TestGatherScatterPipeline reshards a [6,4] tensor from a 2x2 grid onto a
// single worker and scatters it back, all through the public API.
func TestGatherScatterPipeline(t *testing.T) {
	err := comm.NewInprocWorld(4).Run(func(tr comm.Transport) error {
		base := partition.NewWorld(tr)
		defer base.Deactivate()
		a, err := base.CreateCartesianTopologyPartition([]int{2, 2})
		if err != nil {
			return err
		}
		only, err := base.CreatePartitionInclusive([]int{0})
		if err != nil {
			return err
		}
		b, err := only.CreateCartesianTopologyPartition([]int{1, 1})
		if err != nil {
			return err
		}

		gather, err := collective.NewRepartition(a, b, collective.Options{})
		if err != nil {
			return err
		}
		scatter, err := collective.NewRepartition(b, a, collective.Options{})
		if err != nil {
			return err
		}

		// Each worker fills its 3x2 block of the [6,4] tensor with its rank.
		data := make([]float64, 6)
		for i := range data {
			data[i] = float64(tr.Rank())
		}
		block, err := tensor.FromSlice(data, tensor.Shape{3, 2})
		if err != nil {
			return err
		}

		whole, err := gather.Apply(block)
		if err != nil {
			return err
		}
		if tr.Rank() == 0 && !whole.Shape().Equal(tensor.Shape{6, 4}) {
			return fmt.Errorf("assembled shape %v", whole.Shape())
		}
		back, err := scatter.Apply(whole)
		if err != nil {
			return err
		}
		for i, v := range tensor.Data[float64](back) {
			if v != float64(tr.Rank()) {
				return fmt.Errorf("rank %d: element %d came back as %v", tr.Rank(), i, v)
			}
		}
		return nil
	})
	require.NoError(t, err)
}
