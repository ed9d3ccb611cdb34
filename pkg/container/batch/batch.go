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

package batch

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
)

func SetLength(bat *Batch, n int) {
	for _, vec := range bat.Vecs {
		vec.SetLength(n)
	}
	bat.rowCount = n
}

func (bat *Batch) RowCount() int {
	return bat.rowCount
}

func (bat *Batch) SetRowCount(n int) {
	bat.rowCount = n
}

func (bat *Batch) VectorCount() int {
	return len(bat.Vecs)
}

func (bat *Batch) GetVector(pos int32) *vector.Vector {
	return bat.Vecs[pos]
}

func (bat *Batch) SetVector(pos int32, vec *vector.Vector) {
	bat.Vecs[pos] = vec
}

func (bat *Batch) SetAttributes(attrs []string) {
	bat.Attrs = attrs
}

// Pos returns the position of the named column, -1 if absent.
func (bat *Batch) Pos(attr string) int {
	for i := range bat.Attrs {
		if bat.Attrs[i] == attr {
			return i
		}
	}
	return -1
}

func (bat *Batch) GetVectorByName(attr string) *vector.Vector {
	if i := bat.Pos(attr); i >= 0 {
		return bat.Vecs[i]
	}
	return nil
}

func (bat *Batch) Size() int {
	var size int
	for _, vec := range bat.Vecs {
		size += vec.Size()
	}
	return size
}

// Shrink applies a row selection to every vector; see vector.Shrink
// for the sels contract.
func (bat *Batch) Shrink(sels []int64, negate bool) {
	if !negate && len(sels) == bat.rowCount {
		return
	}
	for _, vec := range bat.Vecs {
		vec.Shrink(sels, negate)
	}
	if negate {
		bat.rowCount -= len(sels)
		return
	}
	bat.rowCount = len(sels)
}

func (bat *Batch) Shuffle(sels []int64, mp *mpool.MPool) error {
	if len(sels) == 0 {
		return nil
	}
	seen := make(map[*vector.Vector]struct{})
	for _, vec := range bat.Vecs {
		if _, ok := seen[vec]; ok {
			continue
		}
		seen[vec] = struct{}{}
		if err := vec.Shuffle(sels, mp); err != nil {
			return err
		}
	}
	bat.rowCount = len(sels)
	return nil
}

// AddCnt pins the batch cnt more times; each pin needs its own Clean.
func (bat *Batch) AddCnt(cnt int) {
	atomic.AddInt64(&bat.Cnt, int64(cnt))
}

func (bat *Batch) Clean(mp *mpool.MPool) {
	if bat == nil || bat == EmptyBatch {
		return
	}
	if atomic.LoadInt64(&bat.Cnt) == 0 {
		return
	}
	if atomic.AddInt64(&bat.Cnt, -1) > 0 {
		return
	}
	for _, vec := range bat.Vecs {
		if vec != nil {
			vec.Free(mp)
		}
	}
	bat.Attrs = nil
	bat.Vecs = nil
	bat.rowCount = 0
}

// CleanOnlyData resets every vector to zero rows while keeping slabs
// for reuse.
func (bat *Batch) CleanOnlyData() {
	for _, vec := range bat.Vecs {
		if vec != nil {
			vec.CleanOnlyData()
		}
	}
	bat.rowCount = 0
}

func (bat *Batch) Dup(mp *mpool.MPool) (*Batch, error) {
	rbat := NewWithSize(len(bat.Vecs))
	rbat.SetAttributes(bat.Attrs)
	for j, vec := range bat.Vecs {
		rvec := vector.NewVec(*vec.GetType())
		if err := vector.UnionAll(rvec, vec, mp); err != nil {
			rbat.Clean(mp)
			return nil, err
		}
		rbat.SetVector(int32(j), rvec)
	}
	rbat.rowCount = bat.rowCount
	return rbat, nil
}

func (bat *Batch) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	rowCount := int64(bat.rowCount)
	buf.Write(types.EncodeFixed(rowCount))

	attrCnt := uint32(len(bat.Attrs))
	buf.Write(types.EncodeFixed(attrCnt))
	for _, attr := range bat.Attrs {
		size := uint32(len(attr))
		buf.Write(types.EncodeFixed(size))
		buf.WriteString(attr)
	}

	vecCnt := uint32(len(bat.Vecs))
	buf.Write(types.EncodeFixed(vecCnt))
	for _, vec := range bat.Vecs {
		data, err := vec.MarshalBinary()
		if err != nil {
			return nil, err
		}
		size := uint32(len(data))
		buf.Write(types.EncodeFixed(size))
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary rebuilds the batch with vectors viewing data; see
// vector.UnmarshalBinary for the ownership caveat.
func (bat *Batch) UnmarshalBinary(data []byte) error {
	return bat.unmarshal(data, nil)
}

func (bat *Batch) UnmarshalBinaryWithMpool(data []byte, mp *mpool.MPool) error {
	return bat.unmarshal(data, mp)
}

func (bat *Batch) unmarshal(data []byte, mp *mpool.MPool) error {
	bat.Cnt = 1
	bat.rowCount = int(types.DecodeFixed[int64](data[:8]))
	data = data[8:]

	attrCnt := types.DecodeFixed[uint32](data[:4])
	data = data[4:]
	bat.Attrs = make([]string, attrCnt)
	for i := range bat.Attrs {
		size := types.DecodeFixed[uint32](data[:4])
		data = data[4:]
		bat.Attrs[i] = string(data[:size])
		data = data[size:]
	}

	vecCnt := types.DecodeFixed[uint32](data[:4])
	data = data[4:]
	bat.Vecs = make([]*vector.Vector, vecCnt)
	for i := range bat.Vecs {
		size := types.DecodeFixed[uint32](data[:4])
		data = data[4:]
		vec := new(vector.Vector)
		if mp == nil {
			if err := vec.UnmarshalBinary(data[:size]); err != nil {
				return err
			}
		} else {
			if err := vec.UnmarshalBinaryWithMpool(data[:size], mp); err != nil {
				return err
			}
		}
		bat.Vecs[i] = vec
		data = data[size:]
	}
	if mp == nil {
		bat.Ro = true
	}
	return nil
}

func (bat *Batch) String() string {
	var buf bytes.Buffer
	for i, vec := range bat.Vecs {
		buf.WriteString(fmt.Sprintf("%d : %s\n", i, vec.String()))
	}
	return buf.String()
}
