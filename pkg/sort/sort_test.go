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

package sort

import (
	"testing"

	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/stretchr/testify/require"
)

func TestCompareAt(t *testing.T) {
	mp := mpool.MustNewZero()
	v := vector.NewVec(types.T_int64.ToType())
	require.NoError(t, vector.AppendFixedList(v, []int64{1, 5, 5}, []bool{false, false, false}, mp))
	w := vector.NewVec(types.T_int64.ToType())
	require.NoError(t, vector.AppendFixedList(w, []int64{5, 0}, []bool{false, true}, mp))

	require.Equal(t, -1, CompareAt(v, w, 0, 0))
	require.Equal(t, 0, CompareAt(v, w, 1, 0))
	require.Equal(t, 1, CompareAt(v, w, 2, 1))
	require.Equal(t, -1, CompareAt(w, v, 1, 0))

	s := vector.NewVec(types.T_varchar.ToType())
	require.NoError(t, vector.AppendStringList(s, []string{"abc", "abd", "abc"}, nil, mp))
	require.Equal(t, -1, CompareAt(s, s, 0, 1))
	require.Equal(t, 0, CompareAt(s, s, 0, 2))

	b := vector.NewVec(types.T_bool.ToType())
	require.NoError(t, vector.AppendFixedList(b, []bool{false, true}, nil, mp))
	require.Equal(t, -1, CompareAt(b, b, 0, 1))
	require.Equal(t, 0, CompareAt(b, b, 1, 1))

	v.Free(mp)
	w.Free(mp)
	s.Free(mp)
	b.Free(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}

func buildKeyBatch(t *testing.T, mp *mpool.MPool, ks []int64, subs []string, vals []float64) *batch.Batch {
	bat := batch.New(false, []string{"k", "sub", "val"})
	bat.Vecs[0] = vector.NewVec(types.T_int64.ToType())
	bat.Vecs[1] = vector.NewVec(types.T_varchar.ToType())
	bat.Vecs[2] = vector.NewVec(types.T_float64.ToType())
	require.NoError(t, vector.AppendFixedList(bat.Vecs[0], ks, nil, mp))
	require.NoError(t, vector.AppendStringList(bat.Vecs[1], subs, nil, mp))
	require.NoError(t, vector.AppendFixedList(bat.Vecs[2], vals, nil, mp))
	bat.SetRowCount(len(ks))
	return bat
}

func TestCompareKeyRows(t *testing.T) {
	mp := mpool.MustNewZero()
	bat := buildKeyBatch(t, mp,
		[]int64{1, 1, 2},
		[]string{"a", "b", "a"},
		[]float64{9, 8, 7})

	require.Equal(t, -1, CompareKeyRows(bat, bat, 0, 1, 2))
	require.Equal(t, -1, CompareKeyRows(bat, bat, 1, 2, 2))
	require.True(t, EqualKeyRows(bat, bat, 0, 1, 1))
	require.False(t, EqualKeyRows(bat, bat, 0, 1, 2))

	bat.Clean(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestSortByKey(t *testing.T) {
	mp := mpool.MustNewZero()
	bat := buildKeyBatch(t, mp,
		[]int64{3, 1, 2, 1},
		[]string{"x", "b", "m", "a"},
		[]float64{30, 12, 20, 11})

	require.False(t, IsSortedByKey(bat, 2))
	require.NoError(t, SortByKey(bat, 2, mp))
	require.True(t, IsSortedByKey(bat, 2))

	require.Equal(t, []int64{1, 1, 2, 3}, vector.MustFixedCol[int64](bat.Vecs[0]))
	require.Equal(t, []string{"a", "b", "m", "x"}, vector.MustStrCol(bat.Vecs[1]))
	require.Equal(t, []float64{11, 12, 20, 30}, vector.MustFixedCol[float64](bat.Vecs[2]))

	bat.Clean(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestSortByKeyStable(t *testing.T) {
	mp := mpool.MustNewZero()
	bat := buildKeyBatch(t, mp,
		[]int64{2, 1, 2, 1},
		[]string{"s", "s", "s", "s"},
		[]float64{1, 2, 3, 4})

	require.NoError(t, SortByKey(bat, 2, mp))
	// rows with equal keys keep their arrival order
	require.Equal(t, []float64{2, 4, 1, 3}, vector.MustFixedCol[float64](bat.Vecs[2]))

	bat.Clean(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}

func TestSortAlreadySorted(t *testing.T) {
	mp := mpool.MustNewZero()
	bat := buildKeyBatch(t, mp,
		[]int64{1, 2, 3},
		[]string{"a", "b", "c"},
		[]float64{1, 2, 3})

	require.NoError(t, SortByKey(bat, 1, mp))
	require.Equal(t, []int64{1, 2, 3}, vector.MustFixedCol[int64](bat.Vecs[0]))

	bat.Clean(mp)
	require.Equal(t, int64(0), mp.CurrNB())
}
