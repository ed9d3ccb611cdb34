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

package aggfunc

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	hll "github.com/axiomhq/hyperloglog"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
	"github.com/stretchr/testify/require"
)

func int64Vec(t *testing.T, mp *mpool.MPool, vals []int64, nullAt map[int]bool) *vector.Vector {
	vec := vector.NewVec(types.T_int64.ToType())
	for i, v := range vals {
		require.NoError(t, vector.AppendFixed(vec, v, nullAt[i], mp))
	}
	return vec
}

func strVec(t *testing.T, mp *mpool.MPool, vals []string, nullAt map[int]bool) *vector.Vector {
	vec := vector.NewVec(types.T_varchar.ToType())
	for i, v := range vals {
		require.NoError(t, vector.AppendBytes(vec, []byte(v), nullAt[i], mp))
	}
	return vec
}

func bytesVec(t *testing.T, mp *mpool.MPool, vals [][]byte) *vector.Vector {
	vec := vector.NewVec(types.T_varchar.ToType())
	for _, v := range vals {
		require.NoError(t, vector.AppendBytes(vec, v, false, mp))
	}
	return vec
}

func foldOne(t *testing.T, f AggFunc, vec *vector.Vector, mp *mpool.MPool) *vector.Vector {
	s := f.NewState()
	require.NoError(t, f.AddBatchRange(s, vec, 0, vec.Length(), vec.GetNulls().Any()))
	out := vector.NewVec(*vec.GetType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	return out
}

func TestLookup(t *testing.T) {
	f, err := Lookup(meta.AggSum, types.T_int64.ToType())
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = Lookup(meta.AggHllUnion, types.T_int64.ToType())
	require.Error(t, err)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrInternal))

	_, err = Lookup(meta.AggMethod("median"), types.T_int64.ToType())
	require.Error(t, err)
}

func TestReplace(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggReplace, types.T_int64.ToType())
	require.NoError(t, err)

	// ranges arrive newest first, the first value is the survivor
	vec := int64Vec(t, mp, []int64{3, 2, 1}, nil)
	out := foldOne(t, f, vec, mp)
	require.Equal(t, int64(3), vector.GetFixedAt[int64](out, 0))
	require.False(t, out.GetNulls().Contains(0))
	vec.Free(mp)
	out.Free(mp)

	// the newest value wins even when it is null
	vec = int64Vec(t, mp, []int64{0, 7}, map[int]bool{0: true})
	out = foldOne(t, f, vec, mp)
	require.True(t, out.GetNulls().Contains(0))
	vec.Free(mp)
	out.Free(mp)

	// a later range never overrides an earlier one
	s := f.NewState()
	first := int64Vec(t, mp, []int64{9}, nil)
	second := int64Vec(t, mp, []int64{4}, nil)
	require.NoError(t, f.AddBatchRange(s, first, 0, 1, false))
	require.NoError(t, f.AddBatchRange(s, second, 0, 1, false))
	out = vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, int64(9), vector.GetFixedAt[int64](out, 0))
	first.Free(mp)
	second.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestReplaceIfNotNull(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggReplaceIfNotNull, types.T_int64.ToType())
	require.NoError(t, err)

	// leading nulls are skipped, the first non-null value wins
	vec := int64Vec(t, mp, []int64{0, 8, 7}, map[int]bool{0: true})
	out := foldOne(t, f, vec, mp)
	require.Equal(t, int64(8), vector.GetFixedAt[int64](out, 0))
	vec.Free(mp)
	out.Free(mp)

	// an all-null range defers to a later range
	s := f.NewState()
	first := int64Vec(t, mp, []int64{0, 0}, map[int]bool{0: true, 1: true})
	second := int64Vec(t, mp, []int64{5}, nil)
	require.NoError(t, f.AddBatchRange(s, first, 0, 2, true))
	require.NoError(t, f.AddBatchRange(s, second, 0, 1, false))
	out = vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, int64(5), vector.GetFixedAt[int64](out, 0))
	first.Free(mp)
	second.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestSum(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggSum, types.T_int64.ToType())
	require.NoError(t, err)

	s := f.NewState()
	vec := int64Vec(t, mp, []int64{1, 2, 0, 4}, map[int]bool{2: true})
	require.NoError(t, f.AddBatchRange(s, vec, 0, 2, true))
	require.NoError(t, f.AddBatchRange(s, vec, 2, 4, true))
	out := vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, int64(7), vector.GetFixedAt[int64](out, 0))
	out.Free(mp)

	// Reset clears the accumulator for the next group
	f.Reset(s)
	require.NoError(t, f.AddBatchRange(s, vec, 3, 4, false))
	out = vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, int64(4), vector.GetFixedAt[int64](out, 0))
	out.Free(mp)
	vec.Free(mp)

	// an all-null group folds to null
	f.Reset(s)
	nulls := int64Vec(t, mp, []int64{0}, map[int]bool{0: true})
	require.NoError(t, f.AddBatchRange(s, nulls, 0, 1, true))
	out = vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.True(t, out.GetNulls().Contains(0))
	nulls.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestSumWidened(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggSum, types.T_int8.ToType())
	require.NoError(t, err)

	// the running sum is kept at int64, only the final value truncates
	vec := vector.NewVec(types.T_int8.ToType())
	for i := 0; i < 3; i++ {
		require.NoError(t, vector.AppendFixed(vec, int8(100), false, mp))
	}
	s := f.NewState()
	require.NoError(t, f.AddBatchRange(s, vec, 0, 3, false))
	require.Equal(t, int64(300), s.(*sumState[int64]).sum)

	out := vector.NewVec(types.T_int8.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, int8(44), vector.GetFixedAt[int8](out, 0))
	vec.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestMinMax(t *testing.T) {
	mp := mpool.MustNewZero()
	minF, err := Lookup(meta.AggMin, types.T_int64.ToType())
	require.NoError(t, err)
	maxF, err := Lookup(meta.AggMax, types.T_int64.ToType())
	require.NoError(t, err)

	vec := int64Vec(t, mp, []int64{5, -9, 0, 3}, map[int]bool{2: true})
	out := foldOne(t, minF, vec, mp)
	require.Equal(t, int64(-9), vector.GetFixedAt[int64](out, 0))
	out.Free(mp)
	out = foldOne(t, maxF, vec, mp)
	require.Equal(t, int64(5), vector.GetFixedAt[int64](out, 0))
	out.Free(mp)
	vec.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestMinMaxMerge(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggMax, types.T_int64.ToType())
	require.NoError(t, err)

	a, b := f.NewState(), f.NewState()
	vec := int64Vec(t, mp, []int64{3, 11}, nil)
	require.NoError(t, f.AddBatchRange(a, vec, 0, 1, false))
	require.NoError(t, f.AddBatchRange(b, vec, 1, 2, false))
	f.Merge(a, b)
	out := vector.NewVec(types.T_int64.ToType())
	require.NoError(t, f.InsertResultInto(a, out, mp))
	require.Equal(t, int64(11), vector.GetFixedAt[int64](out, 0))
	vec.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestBytesReplaceOwnsValue(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggReplace, types.T_varchar.ToType())
	require.NoError(t, err)

	// values longer than the inline prefix live in the vector area,
	// freeing it catches any state that kept a view
	vec := strVec(t, mp, []string{"first value long enough", "second value long enough"}, nil)
	s := f.NewState()
	require.NoError(t, f.AddBatchRange(s, vec, 0, 2, false))
	vec.Free(mp)

	out := vector.NewVec(types.T_varchar.ToType())
	require.NoError(t, f.InsertResultInto(s, out, mp))
	require.Equal(t, "first value long enough", out.GetStringAt(0))
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestBytesMinMax(t *testing.T) {
	mp := mpool.MustNewZero()
	minF, err := Lookup(meta.AggMin, types.T_varchar.ToType())
	require.NoError(t, err)
	maxF, err := Lookup(meta.AggMax, types.T_char.ToType())
	require.NoError(t, err)

	vec := strVec(t, mp, []string{"pear", "apple", "", "quince"}, map[int]bool{2: true})
	out := foldOne(t, minF, vec, mp)
	require.Equal(t, "apple", out.GetStringAt(0))
	out.Free(mp)
	out = foldOne(t, maxF, vec, mp)
	require.Equal(t, "quince", out.GetStringAt(0))
	out.Free(mp)
	vec.Free(mp)

	// an all-null group folds to null
	nullVec := strVec(t, mp, []string{""}, map[int]bool{0: true})
	out = foldOne(t, minF, nullVec, mp)
	require.True(t, out.GetNulls().Contains(0))
	nullVec.Free(mp)
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestHllUnion(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggHllUnion, types.T_varchar.ToType())
	require.NoError(t, err)

	a, b := hll.New(), hll.New()
	for i := 0; i < 500; i++ {
		a.Insert([]byte{byte(i), byte(i >> 8), 'a'})
	}
	for i := 400; i < 900; i++ {
		b.Insert([]byte{byte(i), byte(i >> 8), 'a'})
	}
	abuf, err := a.MarshalBinary()
	require.NoError(t, err)
	bbuf, err := b.MarshalBinary()
	require.NoError(t, err)

	vec := bytesVec(t, mp, [][]byte{abuf, bbuf})
	out := foldOne(t, f, vec, mp)
	vec.Free(mp)

	merged := hll.New()
	require.NoError(t, merged.UnmarshalBinary(out.GetBytesAt(0)))
	got := merged.Estimate()
	require.InDelta(t, 900, float64(got), 90)
	out.Free(mp)

	// corrupt input is a format error
	bad := bytesVec(t, mp, [][]byte{{0xde, 0xad}})
	s := f.NewState()
	err = f.AddBatchRange(s, bad, 0, 1, false)
	require.True(t, moerr.IsMoErrCode(err, moerr.ErrBadFileFormat))
	bad.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}

func TestBitmapUnion(t *testing.T) {
	mp := mpool.MustNewZero()
	f, err := Lookup(meta.AggBitmapUnion, types.T_varchar.ToType())
	require.NoError(t, err)

	a := roaring.BitmapOf(1, 2, 3)
	b := roaring.BitmapOf(3, 4)
	abuf, err := a.MarshalBinary()
	require.NoError(t, err)
	bbuf, err := b.MarshalBinary()
	require.NoError(t, err)

	vec := bytesVec(t, mp, [][]byte{abuf, bbuf})
	out := foldOne(t, f, vec, mp)
	vec.Free(mp)

	merged := roaring.New()
	require.NoError(t, merged.UnmarshalBinary(out.GetBytesAt(0)))
	require.Equal(t, uint64(4), merged.GetCardinality())
	require.True(t, merged.Contains(1))
	require.True(t, merged.Contains(4))
	out.Free(mp)

	require.Equal(t, int64(0), mp.CurrNB())
}
