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

// Package sort holds the row comparison primitives of the merge path:
// null-aware single-cell compares, key-prefix row compares, and batch
// sorting by key.
package sort

import (
	"bytes"
	"fmt"
	sortpkg "sort"

	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"golang.org/x/exp/constraints"
)

// GenericCompare is the three-way compare for ordered scalars.
func GenericCompare[T constraints.Ordered](a, b T) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func compareFixedAt[T constraints.Ordered](v, w *vector.Vector, vi, wi int) int {
	return GenericCompare(vector.GetFixedAt[T](v, vi), vector.GetFixedAt[T](w, wi))
}

// CompareAt compares row vi of v with row wi of w. Nulls sort first.
func CompareAt(v, w *vector.Vector, vi, wi int) int {
	vNull := v.GetNulls().Contains(uint64(vi))
	wNull := w.GetNulls().Contains(uint64(wi))
	if vNull || wNull {
		switch {
		case vNull && wNull:
			return 0
		case vNull:
			return -1
		default:
			return 1
		}
	}

	switch v.GetType().Oid {
	case types.T_bool:
		a, b := vector.GetFixedAt[bool](v, vi), vector.GetFixedAt[bool](w, wi)
		switch {
		case a == b:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	case types.T_int8:
		return compareFixedAt[int8](v, w, vi, wi)
	case types.T_int16:
		return compareFixedAt[int16](v, w, vi, wi)
	case types.T_int32:
		return compareFixedAt[int32](v, w, vi, wi)
	case types.T_int64:
		return compareFixedAt[int64](v, w, vi, wi)
	case types.T_uint8:
		return compareFixedAt[uint8](v, w, vi, wi)
	case types.T_uint16:
		return compareFixedAt[uint16](v, w, vi, wi)
	case types.T_uint32:
		return compareFixedAt[uint32](v, w, vi, wi)
	case types.T_uint64:
		return compareFixedAt[uint64](v, w, vi, wi)
	case types.T_float32:
		return compareFixedAt[float32](v, w, vi, wi)
	case types.T_float64:
		return compareFixedAt[float64](v, w, vi, wi)
	case types.T_date:
		return compareFixedAt[types.Date](v, w, vi, wi)
	case types.T_datetime:
		return compareFixedAt[types.Datetime](v, w, vi, wi)
	case types.T_timestamp:
		return compareFixedAt[types.Timestamp](v, w, vi, wi)
	case types.T_char, types.T_varchar:
		return bytes.Compare(v.GetBytesAt(vi), w.GetBytesAt(wi))
	default:
		panic(fmt.Sprintf("unexpected type %s for sort.CompareAt", v.GetType()))
	}
}

// CompareKeyRows compares row vi of v with row wi of w over the first
// keyNum columns.
func CompareKeyRows(v, w *batch.Batch, vi, wi, keyNum int) int {
	for j := 0; j < keyNum; j++ {
		if r := CompareAt(v.Vecs[j], w.Vecs[j], vi, wi); r != 0 {
			return r
		}
	}
	return 0
}

// EqualKeyRows reports whether two rows agree on the key prefix.
func EqualKeyRows(v, w *batch.Batch, vi, wi, keyNum int) bool {
	return CompareKeyRows(v, w, vi, wi, keyNum) == 0
}

// SortByKey reorders the batch so its rows ascend by the first keyNum
// columns. The sort is stable: rows with equal keys keep their input
// order.
func SortByKey(bat *batch.Batch, keyNum int, mp *mpool.MPool) error {
	n := bat.RowCount()
	if n <= 1 {
		return nil
	}
	sels := make([]int64, n)
	for i := range sels {
		sels[i] = int64(i)
	}
	sortpkg.SliceStable(sels, func(i, j int) bool {
		return CompareKeyRows(bat, bat, int(sels[i]), int(sels[j]), keyNum) < 0
	})
	sorted := true
	for i := range sels {
		if sels[i] != int64(i) {
			sorted = false
			break
		}
	}
	if sorted {
		return nil
	}
	return bat.Shuffle(sels, mp)
}

// IsSortedByKey reports whether rows already ascend by the key prefix.
func IsSortedByKey(bat *batch.Batch, keyNum int) bool {
	for i := 1; i < bat.RowCount(); i++ {
		if CompareKeyRows(bat, bat, i-1, i, keyNum) > 0 {
			return false
		}
	}
	return true
}
