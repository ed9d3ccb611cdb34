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

package vector

import (
	"bytes"
	"fmt"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/nulls"
	"github.com/granarydb/granary/pkg/container/types"
)

const (
	// FLAT is an ordinary uncompressed vector.
	FLAT = iota
	// CONSTANT is a vector holding one value repeated length times.
	CONSTANT
)

// Vector represents a column. Fixed-size elements live in data; string
// payloads longer than the varlena inline size spill into area.
type Vector struct {
	class int
	typ   types.Type
	nsp   *nulls.Nulls

	data []byte
	area []byte

	capacity int
	length   int

	// window vectors share slabs with their parent and must not free them
	cantFreeData bool
	cantFreeArea bool
}

func NewVec(typ types.Type) *Vector {
	return &Vector{
		typ:   typ,
		class: FLAT,
		nsp:   &nulls.Nulls{},
	}
}

func NewConstNull(typ types.Type, length int, _ *mpool.MPool) *Vector {
	vec := &Vector{
		typ:   typ,
		class: CONSTANT,
		nsp:   &nulls.Nulls{},
	}
	if length > 0 {
		nulls.Add(vec.nsp, 0)
		vec.length = length
	}
	return vec
}

func NewConstFixed[T types.FixedSizeT](typ types.Type, val T, length int, mp *mpool.MPool) (*Vector, error) {
	vec := &Vector{
		typ:   typ,
		class: CONSTANT,
		nsp:   &nulls.Nulls{},
	}
	if length > 0 {
		if err := extend(vec, 1, mp); err != nil {
			return nil, err
		}
		types.DecodeSlice[T](vec.data)[0] = val
		vec.length = length
	}
	return vec, nil
}

func NewConstBytes(typ types.Type, val []byte, length int, mp *mpool.MPool) (*Vector, error) {
	vec := &Vector{
		typ:   typ,
		class: CONSTANT,
		nsp:   &nulls.Nulls{},
	}
	if length > 0 {
		if err := extend(vec, 1, mp); err != nil {
			return nil, err
		}
		va, area, err := types.BuildVarlena(val, vec.area, mp)
		if err != nil {
			return nil, err
		}
		vec.area = area
		types.DecodeSlice[types.Varlena](vec.data)[0] = va
		vec.length = length
	}
	return vec, nil
}

func (v *Vector) Length() int {
	return v.length
}

func (v *Vector) SetLength(n int) {
	v.length = n
}

func (v *Vector) Capacity() int {
	return v.capacity
}

func (v *Vector) GetType() *types.Type {
	return &v.typ
}

func (v *Vector) SetType(typ types.Type) {
	v.typ = typ
}

func (v *Vector) GetNulls() *nulls.Nulls {
	return v.nsp
}

func (v *Vector) SetNulls(nsp *nulls.Nulls) {
	v.nsp = nsp
}

func (v *Vector) GetArea() []byte {
	return v.area
}

func (v *Vector) IsConst() bool {
	return v.class == CONSTANT
}

// IsConstNull reports whether the vector is a scalar null.
func (v *Vector) IsConstNull() bool {
	return v.IsConst() && nulls.Contains(v.nsp, 0)
}

// Size is the memory footprint of the payload, used only for accounting.
func (v *Vector) Size() int {
	return v.length*v.typ.TypeSize() + len(v.area)
}

func (v *Vector) UnsafeGetRawData() []byte {
	length := v.length
	if v.IsConst() {
		length = 1
	}
	return v.data[:length*v.typ.TypeSize()]
}

// MustFixedCol returns the elements of v as a typed slice aliasing the
// vector's data. A const vector yields a one-element slice.
func MustFixedCol[T types.FixedSizeT](v *Vector) []T {
	length := v.length
	if v.IsConst() {
		length = 1
	}
	if len(v.data) == 0 {
		return nil
	}
	return types.DecodeSlice[T](v.data)[:length]
}

func MustBytesCol(v *Vector) [][]byte {
	vs := MustFixedCol[types.Varlena](v)
	ret := make([][]byte, len(vs))
	for i := range vs {
		ret[i] = vs[i].GetByteSlice(v.area)
	}
	return ret
}

func MustStrCol(v *Vector) []string {
	vs := MustFixedCol[types.Varlena](v)
	ret := make([]string, len(vs))
	for i := range vs {
		ret[i] = vs[i].GetString(v.area)
	}
	return ret
}

func GetFixedAt[T types.FixedSizeT](v *Vector, idx int) T {
	if v.IsConst() {
		idx = 0
	}
	return types.DecodeSlice[T](v.data)[idx]
}

func (v *Vector) GetBytesAt(i int) []byte {
	if v.IsConst() {
		i = 0
	}
	bs := types.DecodeSlice[types.Varlena](v.data)
	return bs[i].GetByteSlice(v.area)
}

func (v *Vector) GetStringAt(i int) string {
	return string(v.GetBytesAt(i))
}

func SetFixedAt[T types.FixedSizeT](v *Vector, idx int, t T) error {
	col := MustFixedCol[T](v)
	if idx < 0 {
		idx = len(col) + idx
	}
	if idx < 0 || idx >= len(col) {
		return moerr.NewInvalidArgNoCtx("vector idx", idx)
	}
	col[idx] = t
	return nil
}

func SetBytesAt(v *Vector, idx int, bs []byte, mp *mpool.MPool) error {
	va, area, err := types.BuildVarlena(bs, v.area, mp)
	if err != nil {
		return err
	}
	v.area = area
	return SetFixedAt(v, idx, va)
}

func SetStringAt(v *Vector, idx int, s string, mp *mpool.MPool) error {
	return SetBytesAt(v, idx, []byte(s), mp)
}

// PreExtend reserves capacity for rows more elements.
func (v *Vector) PreExtend(rows int, mp *mpool.MPool) error {
	if v.class == CONSTANT {
		return nil
	}
	return extend(v, rows, mp)
}

func (v *Vector) Free(mp *mpool.MPool) {
	if !v.cantFreeData {
		mp.Free(v.data)
	}
	if !v.cantFreeArea {
		mp.Free(v.area)
	}
	v.class = FLAT
	v.data = nil
	v.area = nil
	v.capacity = 0
	v.length = 0
	v.cantFreeData = false
	v.cantFreeArea = false
	v.nsp = &nulls.Nulls{}
}

// CleanOnlyData resets the vector to empty while keeping its slabs for
// reuse.
func (v *Vector) CleanOnlyData() {
	v.length = 0
	if v.area != nil {
		v.area = v.area[:0]
	}
	if v.nsp != nil {
		nulls.Reset(v.nsp)
	}
}

// Dup deep-copies the vector into memory owned by mp.
func (v *Vector) Dup(mp *mpool.MPool) (*Vector, error) {
	if v.IsConstNull() {
		return NewConstNull(v.typ, v.length, mp), nil
	}

	w := &Vector{
		class:  v.class,
		typ:    v.typ,
		nsp:    v.nsp.Clone(),
		length: v.length,
	}

	rows := v.length
	if v.IsConst() {
		rows = 1
	}
	if rows > 0 {
		if err := extend(w, rows, mp); err != nil {
			return nil, err
		}
		copy(w.data, v.data[:rows*v.typ.TypeSize()])
	}
	if len(v.area) > 0 {
		area, err := mp.Alloc(len(v.area))
		if err != nil {
			w.Free(mp)
			return nil, err
		}
		copy(area, v.area)
		w.area = area
	}
	return w, nil
}

// Window returns a read-only view of rows [start, end). The view shares
// the parent's slabs; appending to it copies them out first.
func (v *Vector) Window(start, end int) (*Vector, error) {
	if v.IsConst() {
		return nil, moerr.NewInternalErrorNoCtx("window of const vector")
	}
	w := NewVec(v.typ)
	if start == end {
		return w, nil
	}
	nulls.Range(v.nsp, uint64(start), uint64(end), uint64(start), w.nsp)
	sz := v.typ.TypeSize()
	w.data = v.data[start*sz : end*sz : end*sz]
	w.length = end - start
	w.capacity = end - start
	if len(v.area) > 0 {
		w.area = v.area
	}
	w.cantFreeData = true
	w.cantFreeArea = true
	return w, nil
}

// CloneWindow deep-copies rows [start, end) into a new vector owned by mp.
func (v *Vector) CloneWindow(start, end int, mp *mpool.MPool) (*Vector, error) {
	if v.IsConst() {
		return nil, moerr.NewInternalErrorNoCtx("clone window of const vector")
	}
	w := NewVec(v.typ)
	if start == end {
		return w, nil
	}
	nulls.Range(v.nsp, uint64(start), uint64(end), uint64(start), w.nsp)
	length := end - start
	if err := extend(w, length, mp); err != nil {
		return nil, err
	}
	w.length = length
	sz := v.typ.TypeSize()
	if v.typ.IsFixedLen() {
		copy(w.data, v.data[start*sz:end*sz])
	} else {
		var err error
		vs := types.DecodeSlice[types.Varlena](v.data)
		ws := types.DecodeSlice[types.Varlena](w.data)
		for i := start; i < end; i++ {
			if vs[i].IsSmall() {
				ws[i-start] = vs[i]
			} else {
				bs := vs[i].GetByteSlice(v.area)
				ws[i-start], w.area, err = types.BuildVarlena(bs, w.area, mp)
				if err != nil {
					w.Free(mp)
					return nil, err
				}
			}
		}
	}
	return w, nil
}

// Copy writes row wi of w over row vi of v, nulls included. Both rows
// must already exist.
func (v *Vector) Copy(w *Vector, vi, wi int64, mp *mpool.MPool) error {
	if w.IsConst() {
		wi = 0
	}
	if v.typ.IsFixedLen() {
		sz := int64(v.typ.TypeSize())
		copy(v.data[vi*sz:(vi+1)*sz], w.data[wi*sz:(wi+1)*sz])
	} else {
		var err error
		vva := MustFixedCol[types.Varlena](v)
		wva := MustFixedCol[types.Varlena](w)
		if wva[wi].IsSmall() {
			vva[vi] = wva[wi]
		} else {
			bs := wva[wi].GetByteSlice(w.area)
			vva[vi], v.area, err = types.BuildVarlena(bs, v.area, mp)
			if err != nil {
				return err
			}
		}
	}
	if w.nsp.Contains(uint64(wi)) {
		nulls.Add(v.nsp, uint64(vi))
	} else {
		nulls.Del(v.nsp, uint64(vi))
	}
	return nil
}

// UnionOne appends row sel of w to v.
func (v *Vector) UnionOne(w *Vector, sel int64, mp *mpool.MPool) error {
	if w.IsConst() {
		sel = 0
	}
	if w.nsp.Contains(uint64(sel)) {
		return appendOneFixed(v, types.Varlena{}, true, mp)
	}

	switch v.typ.Oid {
	case types.T_bool:
		return appendOneFixed(v, GetFixedAt[bool](w, int(sel)), false, mp)
	case types.T_int8:
		return appendOneFixed(v, GetFixedAt[int8](w, int(sel)), false, mp)
	case types.T_int16:
		return appendOneFixed(v, GetFixedAt[int16](w, int(sel)), false, mp)
	case types.T_int32:
		return appendOneFixed(v, GetFixedAt[int32](w, int(sel)), false, mp)
	case types.T_int64:
		return appendOneFixed(v, GetFixedAt[int64](w, int(sel)), false, mp)
	case types.T_uint8:
		return appendOneFixed(v, GetFixedAt[uint8](w, int(sel)), false, mp)
	case types.T_uint16:
		return appendOneFixed(v, GetFixedAt[uint16](w, int(sel)), false, mp)
	case types.T_uint32:
		return appendOneFixed(v, GetFixedAt[uint32](w, int(sel)), false, mp)
	case types.T_uint64:
		return appendOneFixed(v, GetFixedAt[uint64](w, int(sel)), false, mp)
	case types.T_float32:
		return appendOneFixed(v, GetFixedAt[float32](w, int(sel)), false, mp)
	case types.T_float64:
		return appendOneFixed(v, GetFixedAt[float64](w, int(sel)), false, mp)
	case types.T_date:
		return appendOneFixed(v, GetFixedAt[types.Date](w, int(sel)), false, mp)
	case types.T_datetime:
		return appendOneFixed(v, GetFixedAt[types.Datetime](w, int(sel)), false, mp)
	case types.T_timestamp:
		return appendOneFixed(v, GetFixedAt[types.Timestamp](w, int(sel)), false, mp)
	case types.T_char, types.T_varchar:
		return appendOneBytes(v, w.GetBytesAt(int(sel)), false, mp)
	default:
		panic(fmt.Sprintf("unexpected type %s for vector.UnionOne", v.typ))
	}
}

// UnionAll appends every row of w to v.
func UnionAll(v, w *Vector, mp *mpool.MPool) error {
	if w.IsConst() {
		return moerr.NewInternalErrorNoCtx("union all from const vector")
	}
	if w.length == 0 {
		return nil
	}
	oldLen := v.length
	if err := extend(v, w.length, mp); err != nil {
		return err
	}
	sz := v.typ.TypeSize()
	copy(v.data[oldLen*sz:(oldLen+w.length)*sz], w.data[:w.length*sz])
	v.length = oldLen + w.length
	if !v.typ.IsFixedLen() {
		var err error
		vs := types.DecodeSlice[types.Varlena](v.data)
		ws := types.DecodeSlice[types.Varlena](w.data)
		for i := 0; i < w.length; i++ {
			if !ws[i].IsSmall() {
				bs := ws[i].GetByteSlice(w.area)
				vs[oldLen+i], v.area, err = types.BuildVarlena(bs, v.area, mp)
				if err != nil {
					return err
				}
			}
		}
	}
	for _, row := range w.nsp.ToArray() {
		if row >= uint64(w.length) {
			break
		}
		nulls.Add(v.nsp, uint64(oldLen)+row)
	}
	return nil
}

func (v *Vector) Union(w *Vector, sels []int64, mp *mpool.MPool) error {
	if err := v.PreExtend(len(sels), mp); err != nil {
		return err
	}
	for _, sel := range sels {
		if err := v.UnionOne(w, sel, mp); err != nil {
			return err
		}
	}
	return nil
}

// UnionBatch appends the rows of w at offset+i for every set flag i.
func (v *Vector) UnionBatch(w *Vector, offset int64, cnt int, flags []uint8, mp *mpool.MPool) error {
	if err := v.PreExtend(cnt, mp); err != nil {
		return err
	}
	for i := range flags {
		if flags[i] > 0 {
			if err := v.UnionOne(w, offset+int64(i), mp); err != nil {
				return err
			}
		}
	}
	return nil
}

func AppendFixed[T types.FixedSizeT](vec *Vector, val T, isNull bool, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	return appendOneFixed(vec, val, isNull, mp)
}

func AppendBytes(vec *Vector, val []byte, isNull bool, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	return appendOneBytes(vec, val, isNull, mp)
}

func AppendMultiFixed[T types.FixedSizeT](vec *Vector, val T, isNull bool, cnt int, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	return appendMultiFixed(vec, val, isNull, cnt, mp)
}

func AppendFixedList[T types.FixedSizeT](vec *Vector, ws []T, isNulls []bool, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	if len(ws) == 0 {
		return nil
	}
	return appendList(vec, ws, isNulls, mp)
}

func AppendBytesList(vec *Vector, ws [][]byte, isNulls []bool, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	if len(ws) == 0 {
		return nil
	}
	return appendBytesList(vec, ws, isNulls, mp)
}

func AppendStringList(vec *Vector, ws []string, isNulls []bool, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector append does not have a mpool"))
	}
	if len(ws) == 0 {
		return nil
	}
	return appendStringList(vec, ws, isNulls, mp)
}

func appendOneFixed[T types.FixedSizeT](vec *Vector, val T, isNull bool, mp *mpool.MPool) error {
	if err := extend(vec, 1, mp); err != nil {
		return err
	}
	length := vec.length
	vec.length++
	if isNull {
		nulls.Add(vec.nsp, uint64(length))
	} else {
		types.DecodeSlice[T](vec.data)[length] = val
	}
	return nil
}

func appendOneBytes(vec *Vector, val []byte, isNull bool, mp *mpool.MPool) error {
	var va types.Varlena
	var err error

	if isNull {
		return appendOneFixed(vec, va, true, mp)
	}
	if vec.cantFreeArea {
		if err = cloneArea(vec, mp); err != nil {
			return err
		}
	}
	va, vec.area, err = types.BuildVarlena(val, vec.area, mp)
	if err != nil {
		return err
	}
	return appendOneFixed(vec, va, false, mp)
}

func appendMultiFixed[T types.FixedSizeT](vec *Vector, val T, isNull bool, cnt int, mp *mpool.MPool) error {
	if err := extend(vec, cnt, mp); err != nil {
		return err
	}
	length := vec.length
	vec.length += cnt
	if isNull {
		nulls.AddRange(vec.nsp, uint64(length), uint64(length+cnt))
	} else {
		col := types.DecodeSlice[T](vec.data)
		for i := 0; i < cnt; i++ {
			col[length+i] = val
		}
	}
	return nil
}

func appendList[T types.FixedSizeT](vec *Vector, vals []T, isNulls []bool, mp *mpool.MPool) error {
	if err := extend(vec, len(vals), mp); err != nil {
		return err
	}
	length := vec.length
	vec.length += len(vals)
	col := types.DecodeSlice[T](vec.data)
	for i, w := range vals {
		if len(isNulls) > 0 && isNulls[i] {
			nulls.Add(vec.nsp, uint64(length+i))
		} else {
			col[length+i] = w
		}
	}
	return nil
}

func appendBytesList(vec *Vector, vals [][]byte, isNulls []bool, mp *mpool.MPool) error {
	var va types.Varlena
	var err error

	if err = extend(vec, len(vals), mp); err != nil {
		return err
	}
	if vec.cantFreeArea {
		if err = cloneArea(vec, mp); err != nil {
			return err
		}
	}
	length := vec.length
	vec.length += len(vals)
	col := types.DecodeSlice[types.Varlena](vec.data)
	for i, w := range vals {
		if len(isNulls) > 0 && isNulls[i] {
			nulls.Add(vec.nsp, uint64(length+i))
		} else {
			va, vec.area, err = types.BuildVarlena(w, vec.area, mp)
			if err != nil {
				return err
			}
			col[length+i] = va
		}
	}
	return nil
}

func appendStringList(vec *Vector, vals []string, isNulls []bool, mp *mpool.MPool) error {
	bs := make([][]byte, len(vals))
	for i := range vals {
		bs[i] = []byte(vals[i])
	}
	return appendBytesList(vec, bs, isNulls, mp)
}

// Shrink keeps only the rows of sels, which must be sorted ascending.
// With negate true sels lists the rows to drop instead.
func (v *Vector) Shrink(sels []int64, negate bool) {
	if v.IsConst() {
		if negate {
			v.length -= len(sels)
		} else {
			v.length = len(sels)
		}
		return
	}
	switch v.typ.Oid {
	case types.T_bool:
		shrinkFixed[bool](v, sels, negate)
	case types.T_int8:
		shrinkFixed[int8](v, sels, negate)
	case types.T_int16:
		shrinkFixed[int16](v, sels, negate)
	case types.T_int32:
		shrinkFixed[int32](v, sels, negate)
	case types.T_int64:
		shrinkFixed[int64](v, sels, negate)
	case types.T_uint8:
		shrinkFixed[uint8](v, sels, negate)
	case types.T_uint16:
		shrinkFixed[uint16](v, sels, negate)
	case types.T_uint32:
		shrinkFixed[uint32](v, sels, negate)
	case types.T_uint64:
		shrinkFixed[uint64](v, sels, negate)
	case types.T_float32:
		shrinkFixed[float32](v, sels, negate)
	case types.T_float64:
		shrinkFixed[float64](v, sels, negate)
	case types.T_date:
		shrinkFixed[types.Date](v, sels, negate)
	case types.T_datetime:
		shrinkFixed[types.Datetime](v, sels, negate)
	case types.T_timestamp:
		shrinkFixed[types.Timestamp](v, sels, negate)
	case types.T_char, types.T_varchar:
		// area is not compacted; dead payloads age out when the vector
		// is freed
		shrinkFixed[types.Varlena](v, sels, negate)
	default:
		panic(fmt.Sprintf("unexpected type %s for vector.Shrink", v.typ))
	}
}

// Shuffle rewrites the vector as its rows at sels, which may repeat or
// reorder rows.
func (v *Vector) Shuffle(sels []int64, mp *mpool.MPool) error {
	if v.IsConst() {
		return nil
	}
	switch v.typ.Oid {
	case types.T_bool:
		return shuffleFixed[bool](v, sels, mp)
	case types.T_int8:
		return shuffleFixed[int8](v, sels, mp)
	case types.T_int16:
		return shuffleFixed[int16](v, sels, mp)
	case types.T_int32:
		return shuffleFixed[int32](v, sels, mp)
	case types.T_int64:
		return shuffleFixed[int64](v, sels, mp)
	case types.T_uint8:
		return shuffleFixed[uint8](v, sels, mp)
	case types.T_uint16:
		return shuffleFixed[uint16](v, sels, mp)
	case types.T_uint32:
		return shuffleFixed[uint32](v, sels, mp)
	case types.T_uint64:
		return shuffleFixed[uint64](v, sels, mp)
	case types.T_float32:
		return shuffleFixed[float32](v, sels, mp)
	case types.T_float64:
		return shuffleFixed[float64](v, sels, mp)
	case types.T_date:
		return shuffleFixed[types.Date](v, sels, mp)
	case types.T_datetime:
		return shuffleFixed[types.Datetime](v, sels, mp)
	case types.T_timestamp:
		return shuffleFixed[types.Timestamp](v, sels, mp)
	case types.T_char, types.T_varchar:
		return shuffleFixed[types.Varlena](v, sels, mp)
	default:
		panic(fmt.Sprintf("unexpected type %s for vector.Shuffle", v.typ))
	}
}

func (v *Vector) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(uint8(v.class))
	length := int64(v.length)
	buf.Write(types.EncodeFixed(length))
	buf.Write(types.EncodeType(&v.typ))
	{
		data, err := v.nsp.Show()
		if err != nil {
			return nil, err
		}
		nspLen := uint32(len(data))
		buf.Write(types.EncodeFixed(nspLen))
		if len(data) > 0 {
			buf.Write(data)
		}
	}
	{
		rows := v.length
		if v.IsConst() {
			rows = 1
		}
		if len(v.data) == 0 {
			rows = 0
		}
		dataLen := uint32(rows * v.typ.TypeSize())
		buf.Write(types.EncodeFixed(dataLen))
		if dataLen > 0 {
			buf.Write(v.data[:dataLen])
		}
	}
	{
		areaLen := uint32(len(v.area))
		buf.Write(types.EncodeFixed(areaLen))
		if areaLen > 0 {
			buf.Write(v.area)
		}
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary rebuilds the vector over data slabs NOT owned by any
// pool; the result must not be appended to or freed through a pool
// without copying. Use UnmarshalBinaryWithMpool for an owned vector.
func (v *Vector) UnmarshalBinary(data []byte) error {
	data = v.unmarshalHeader(data)
	if err := v.unmarshalNsp(&data); err != nil {
		return err
	}
	{
		dataLen := types.DecodeFixed[uint32](data[:4])
		data = data[4:]
		if dataLen > 0 {
			v.data = data[:dataLen:dataLen]
			v.capacity = int(dataLen) / v.typ.TypeSize()
			data = data[dataLen:]
		}
	}
	{
		areaLen := types.DecodeFixed[uint32](data[:4])
		data = data[4:]
		if areaLen > 0 {
			v.area = data[:areaLen:areaLen]
		}
	}
	v.cantFreeData = true
	v.cantFreeArea = true
	return nil
}

func (v *Vector) UnmarshalBinaryWithMpool(data []byte, mp *mpool.MPool) error {
	data = v.unmarshalHeader(data)
	if err := v.unmarshalNsp(&data); err != nil {
		return err
	}
	{
		dataLen := int(types.DecodeFixed[uint32](data[:4]))
		data = data[4:]
		if dataLen > 0 {
			buf, err := mp.Alloc(dataLen)
			if err != nil {
				return err
			}
			copy(buf, data[:dataLen])
			v.data = buf
			v.capacity = dataLen / v.typ.TypeSize()
			data = data[dataLen:]
		}
	}
	{
		areaLen := int(types.DecodeFixed[uint32](data[:4]))
		data = data[4:]
		if areaLen > 0 {
			buf, err := mp.Alloc(areaLen)
			if err != nil {
				return err
			}
			copy(buf, data[:areaLen])
			v.area = buf
		}
	}
	return nil
}

func (v *Vector) unmarshalHeader(data []byte) []byte {
	v.class = int(data[0])
	data = data[1:]
	v.length = int(types.DecodeFixed[int64](data[:8]))
	data = data[8:]
	v.typ = types.DecodeType(data[:types.TSize])
	return data[types.TSize:]
}

func (v *Vector) unmarshalNsp(data *[]byte) error {
	v.nsp = &nulls.Nulls{}
	size := types.DecodeFixed[uint32]((*data)[:4])
	*data = (*data)[4:]
	if size > 0 {
		if err := v.nsp.Read((*data)[:size]); err != nil {
			return err
		}
		*data = (*data)[size:]
	}
	return nil
}

func (v *Vector) String() string {
	switch v.typ.Oid {
	case types.T_bool:
		return vecToString[bool](v)
	case types.T_int8:
		return vecToString[int8](v)
	case types.T_int16:
		return vecToString[int16](v)
	case types.T_int32:
		return vecToString[int32](v)
	case types.T_int64:
		return vecToString[int64](v)
	case types.T_uint8:
		return vecToString[uint8](v)
	case types.T_uint16:
		return vecToString[uint16](v)
	case types.T_uint32:
		return vecToString[uint32](v)
	case types.T_uint64:
		return vecToString[uint64](v)
	case types.T_float32:
		return vecToString[float32](v)
	case types.T_float64:
		return vecToString[float64](v)
	case types.T_date:
		return vecToString[types.Date](v)
	case types.T_datetime:
		return vecToString[types.Datetime](v)
	case types.T_timestamp:
		return vecToString[types.Timestamp](v)
	case types.T_char, types.T_varchar:
		col := MustStrCol(v)
		if len(col) == 1 {
			if nulls.Contains(v.nsp, 0) {
				return "null"
			}
			return col[0]
		}
		return fmt.Sprintf("%v-%s", col, nulls.String(v.nsp))
	default:
		panic(fmt.Sprintf("unexpected type %s for vector.String", v.typ))
	}
}

func extend(v *Vector, rows int, mp *mpool.MPool) error {
	if mp == nil {
		panic(moerr.NewInternalErrorNoCtx("vector extend does not have a mpool"))
	}
	target := v.length + rows
	if target <= v.capacity {
		return nil
	}
	capacity := v.capacity * 2
	if capacity < 16 {
		capacity = 16
	}
	for capacity < target {
		capacity *= 2
	}
	sz := v.typ.TypeSize()
	if v.cantFreeData {
		data, err := mp.Alloc(capacity * sz)
		if err != nil {
			return err
		}
		copy(data, v.data)
		v.data = data
		v.cantFreeData = false
	} else {
		data, err := mp.Grow(v.data, capacity*sz)
		if err != nil {
			return err
		}
		v.data = data
	}
	v.capacity = capacity
	return nil
}

func cloneArea(v *Vector, mp *mpool.MPool) error {
	if len(v.area) > 0 {
		area, err := mp.Alloc(len(v.area))
		if err != nil {
			return err
		}
		copy(area, v.area)
		v.area = area
	} else {
		v.area = nil
	}
	v.cantFreeArea = false
	return nil
}

func shrinkFixed[T types.FixedSizeT](v *Vector, sels []int64, negate bool) {
	vs := MustFixedCol[T](v)
	if !negate {
		for i, sel := range sels {
			vs[i] = vs[sel]
		}
		v.nsp = nulls.Filter(v.nsp, sels, false)
		v.length = len(sels)
		return
	}
	if len(sels) == 0 {
		return
	}
	for oldIdx, newIdx, selIdx, sel := 0, 0, 0, sels[0]; oldIdx < v.length; oldIdx++ {
		if oldIdx != int(sel) {
			vs[newIdx] = vs[oldIdx]
			newIdx++
			continue
		}
		selIdx++
		if selIdx == len(sels) {
			for idx := oldIdx + 1; idx < v.length; idx++ {
				vs[newIdx] = vs[idx]
				newIdx++
			}
			break
		}
		sel = sels[selIdx]
	}
	v.nsp = nulls.Filter(v.nsp, sels, true)
	v.length -= len(sels)
}

func shuffleFixed[T types.FixedSizeT](v *Vector, sels []int64, mp *mpool.MPool) error {
	sz := v.typ.TypeSize()
	olddata := v.data
	ns := len(sels)
	vs := MustFixedCol[T](v)
	data, err := mp.Alloc(ns * sz)
	if err != nil {
		return err
	}
	ws := types.DecodeSlice[T](data)
	for i := range sels {
		ws[i] = vs[sels[i]]
	}
	v.data = data
	v.capacity = ns
	v.length = ns
	v.nsp = nulls.Filter(v.nsp, sels, false)
	if v.cantFreeData {
		v.cantFreeData = false
	} else {
		mp.Free(olddata)
	}
	return nil
}

func vecToString[T types.FixedSizeT](v *Vector) string {
	col := MustFixedCol[T](v)
	if len(col) == 1 {
		if nulls.Contains(v.nsp, 0) {
			return "null"
		}
		return fmt.Sprintf("%v", col[0])
	}
	return fmt.Sprintf("%v-%s", col, nulls.String(v.nsp))
}
