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
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
	"golang.org/x/exp/constraints"
)

// number covers every fixed column type with a total order. The
// date and time types qualify through their integer underlying types.
type number interface {
	types.FixedSizeT
	constraints.Integer | constraints.Float
}

// replace: ranges arrive newest version first, so the first value of
// the whole fold sequence wins, nulls included.

type replaceState[T types.FixedSizeT] struct {
	val  T
	null bool
	seen bool
}

type fixedReplace[T types.FixedSizeT] struct {
	ifNotNull bool
}

func (f *fixedReplace[T]) NewState() State {
	return &replaceState[T]{}
}

func (f *fixedReplace[T]) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*replaceState[T])
	if s.seen || begin >= end {
		return nil
	}
	if f.ifNotNull {
		if !hasNull {
			s.val, s.seen = vector.GetFixedAt[T](vec, begin), true
			return nil
		}
		nsp := vec.GetNulls()
		for i := begin; i < end; i++ {
			if !nsp.Contains(uint64(i)) {
				s.val, s.seen = vector.GetFixedAt[T](vec, i), true
				return nil
			}
		}
		// the range is all null, wait for a later one
		return nil
	}
	s.seen = true
	if hasNull && vec.GetNulls().Contains(uint64(begin)) {
		s.null = true
		return nil
	}
	s.val = vector.GetFixedAt[T](vec, begin)
	return nil
}

// Merge assumes dst folded the earlier (newer) ranges.
func (f *fixedReplace[T]) Merge(dst, src State) {
	d, s := dst.(*replaceState[T]), src.(*replaceState[T])
	if !d.seen && s.seen {
		*d = *s
	}
}

func (f *fixedReplace[T]) Reset(st State) {
	*st.(*replaceState[T]) = replaceState[T]{}
}

func (f *fixedReplace[T]) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*replaceState[T])
	return vector.AppendFixed(dst, s.val, s.null || !s.seen, mp)
}

// sum: accumulate in a widened state, fold back to the column width.

type sumState[A number] struct {
	sum  A
	seen bool
}

type fixedSum[T, A number] struct{}

func (f *fixedSum[T, A]) NewState() State {
	return &sumState[A]{}
}

func (f *fixedSum[T, A]) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*sumState[A])
	vs := vector.MustFixedCol[T](vec)
	if !hasNull {
		for i := begin; i < end; i++ {
			s.sum += A(vs[i])
		}
		if begin < end {
			s.seen = true
		}
		return nil
	}
	nsp := vec.GetNulls()
	for i := begin; i < end; i++ {
		if nsp.Contains(uint64(i)) {
			continue
		}
		s.sum += A(vs[i])
		s.seen = true
	}
	return nil
}

func (f *fixedSum[T, A]) Merge(dst, src State) {
	d, s := dst.(*sumState[A]), src.(*sumState[A])
	d.sum += s.sum
	d.seen = d.seen || s.seen
}

func (f *fixedSum[T, A]) Reset(st State) {
	*st.(*sumState[A]) = sumState[A]{}
}

func (f *fixedSum[T, A]) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*sumState[A])
	return vector.AppendFixed(dst, T(s.sum), !s.seen, mp)
}

// min and max: nulls are skipped, an all-null group folds to null.

type minmaxState[T number] struct {
	val  T
	seen bool
}

type fixedMinMax[T number] struct {
	isMax bool
}

func (f *fixedMinMax[T]) NewState() State {
	return &minmaxState[T]{}
}

func (f *fixedMinMax[T]) AddBatchRange(st State, vec *vector.Vector, begin, end int, hasNull bool) error {
	s := st.(*minmaxState[T])
	vs := vector.MustFixedCol[T](vec)
	nsp := vec.GetNulls()
	for i := begin; i < end; i++ {
		if hasNull && nsp.Contains(uint64(i)) {
			continue
		}
		v := vs[i]
		if !s.seen {
			s.val, s.seen = v, true
			continue
		}
		if f.isMax == (v > s.val) {
			s.val = v
		}
	}
	return nil
}

func (f *fixedMinMax[T]) Merge(dst, src State) {
	d, s := dst.(*minmaxState[T]), src.(*minmaxState[T])
	if !s.seen {
		return
	}
	if !d.seen || f.isMax == (s.val > d.val) {
		d.val, d.seen = s.val, true
	}
}

func (f *fixedMinMax[T]) Reset(st State) {
	*st.(*minmaxState[T]) = minmaxState[T]{}
}

func (f *fixedMinMax[T]) InsertResultInto(st State, dst *vector.Vector, mp *mpool.MPool) error {
	s := st.(*minmaxState[T])
	return vector.AppendFixed(dst, s.val, !s.seen, mp)
}

func registerOrdered[T number](oid types.T) {
	registerReader(meta.AggReplace, oid, &fixedReplace[T]{})
	registerReader(meta.AggReplaceIfNotNull, oid, &fixedReplace[T]{ifNotNull: true})
	registerReader(meta.AggMin, oid, &fixedMinMax[T]{})
	registerReader(meta.AggMax, oid, &fixedMinMax[T]{isMax: true})
}

func init() {
	registerOrdered[int8](types.T_int8)
	registerOrdered[int16](types.T_int16)
	registerOrdered[int32](types.T_int32)
	registerOrdered[int64](types.T_int64)
	registerOrdered[uint8](types.T_uint8)
	registerOrdered[uint16](types.T_uint16)
	registerOrdered[uint32](types.T_uint32)
	registerOrdered[uint64](types.T_uint64)
	registerOrdered[float32](types.T_float32)
	registerOrdered[float64](types.T_float64)
	registerOrdered[types.Date](types.T_date)
	registerOrdered[types.Datetime](types.T_datetime)
	registerOrdered[types.Timestamp](types.T_timestamp)

	registerReader(meta.AggReplace, types.T_bool, &fixedReplace[bool]{})
	registerReader(meta.AggReplaceIfNotNull, types.T_bool, &fixedReplace[bool]{ifNotNull: true})

	registerReader(meta.AggSum, types.T_int8, &fixedSum[int8, int64]{})
	registerReader(meta.AggSum, types.T_int16, &fixedSum[int16, int64]{})
	registerReader(meta.AggSum, types.T_int32, &fixedSum[int32, int64]{})
	registerReader(meta.AggSum, types.T_int64, &fixedSum[int64, int64]{})
	registerReader(meta.AggSum, types.T_uint8, &fixedSum[uint8, uint64]{})
	registerReader(meta.AggSum, types.T_uint16, &fixedSum[uint16, uint64]{})
	registerReader(meta.AggSum, types.T_uint32, &fixedSum[uint32, uint64]{})
	registerReader(meta.AggSum, types.T_uint64, &fixedSum[uint64, uint64]{})
	registerReader(meta.AggSum, types.T_float32, &fixedSum[float32, float64]{})
	registerReader(meta.AggSum, types.T_float64, &fixedSum[float64, float64]{})
}
