// Copyright 2022 Granary Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compaction

import (
	"testing"

	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/stretchr/testify/require"
)

func rs(id uint64, start, end, size int64) *meta.RowsetMeta {
	return &meta.RowsetMeta{
		ID:       id,
		TabletID: 1,
		Version:  meta.Version{Start: start, End: end},
		Size:     size,
	}
}

func feed(p Policy, ms ...*meta.RowsetMeta) {
	p.ResetForTablet(1)
	for _, m := range ms {
		p.OnRowset(m)
	}
}

func ids(ms []*meta.RowsetMeta) []uint64 {
	out := make([]uint64, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestCumulativePicksLongestRun(t *testing.T) {
	p := NewCumulative(2, 0)
	feed(p,
		rs(1, 1, 5, 100),
		rs(2, 6, 6, 10),
		rs(3, 7, 7, 10),
		rs(4, 8, 9, 50),
		rs(5, 10, 10, 10),
		rs(6, 11, 11, 10),
		rs(7, 12, 12, 10),
	)
	require.Equal(t, []uint64{5, 6, 7}, ids(p.Revise(0, 0)))
}

func TestCumulativeVersionGapBreaksRun(t *testing.T) {
	p := NewCumulative(2, 0)
	feed(p,
		rs(1, 1, 1, 10),
		rs(2, 2, 2, 10),
		rs(3, 5, 5, 10),
	)
	require.Equal(t, []uint64{1, 2}, ids(p.Revise(0, 0)))
}

func TestCumulativeMinRun(t *testing.T) {
	p := NewCumulative(3, 0)
	feed(p, rs(1, 1, 1, 10), rs(2, 2, 2, 10))
	require.Nil(t, p.Revise(0, 0))
}

func TestCumulativeNothingToMerge(t *testing.T) {
	p := NewCumulative(2, 0)
	feed(p, rs(1, 1, 5, 100), rs(2, 6, 9, 100))
	require.Nil(t, p.Revise(0, 0))
}

func TestCumulativeByteCapTrimsTail(t *testing.T) {
	p := NewCumulative(2, 250)
	feed(p,
		rs(1, 1, 1, 100),
		rs(2, 2, 2, 100),
		rs(3, 3, 3, 100),
		rs(4, 4, 4, 100),
	)
	require.Equal(t, []uint64{1, 2}, ids(p.Revise(0, 0)))
}

func TestCumulativeMemBudget(t *testing.T) {
	p := NewCumulative(2, 0)
	feed(p, rs(1, 1, 1, 100), rs(2, 2, 2, 100), rs(3, 3, 3, 100))
	// a sixth of the available memory pays for two inputs
	require.Equal(t, []uint64{1, 2}, ids(p.Revise(0, 1200)))

	// a starved budget keeps only one rowset, below the minimum run
	feed(p, rs(1, 1, 1, 100), rs(2, 2, 2, 100), rs(3, 3, 3, 100))
	require.Nil(t, p.Revise(0, 60))
}

func TestCumulativeHotCPUSkipsBigMerge(t *testing.T) {
	big := int64(10 << 20)
	p := NewCumulative(2, 0)
	feed(p, rs(1, 1, 1, big), rs(2, 2, 2, big), rs(3, 3, 3, big), rs(4, 4, 4, big))
	require.Nil(t, p.Revise(95, 0))

	feed(p, rs(1, 1, 1, big), rs(2, 2, 2, big), rs(3, 3, 3, big), rs(4, 4, 4, big))
	require.Equal(t, []uint64{1, 2, 3, 4}, ids(p.Revise(40, 0)))
}
