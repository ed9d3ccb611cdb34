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

package types

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTypeSize(t *testing.T) {
	require.Equal(t, 1, T_bool.FixedLength())
	require.Equal(t, 1, T_int8.FixedLength())
	require.Equal(t, 2, T_int16.FixedLength())
	require.Equal(t, 4, T_int32.FixedLength())
	require.Equal(t, 8, T_int64.FixedLength())
	require.Equal(t, 4, T_float32.FixedLength())
	require.Equal(t, 8, T_float64.FixedLength())
	require.Equal(t, 4, T_date.FixedLength())
	require.Equal(t, 8, T_datetime.FixedLength())
	require.Equal(t, VarlenaSize, T_varchar.FixedLength())

	typ := New(T_varchar, 255, 0)
	require.True(t, typ.IsVarlen())
	require.False(t, typ.IsFixedLen())
	require.Equal(t, VarlenaSize, typ.TypeSize())

	typ = T_int64.ToType()
	require.True(t, typ.IsFixedLen())
	require.True(t, typ.IsNumeric())
	require.Equal(t, "BIGINT", typ.String())
}

func TestEncodeDecodeSlice(t *testing.T) {
	vs := []int64{3, 1, 4, 1, 5}
	bs := EncodeSlice(vs)
	require.Equal(t, len(vs)*8, len(bs))
	back := DecodeSlice[int64](bs)
	require.Equal(t, vs, back)

	var empty []int32
	require.Nil(t, EncodeSlice(empty))
	require.Nil(t, DecodeSlice[int32](nil))
}

func TestVarlenaSmall(t *testing.T) {
	var v Varlena
	v.SetSmall([]byte("hello"))
	require.True(t, v.IsSmall())
	require.Equal(t, 5, v.ByteLen())
	require.Equal(t, "hello", string(v.GetByteSlice(nil)))
}

func TestVarlenaBig(t *testing.T) {
	area := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	var v Varlena
	v.SetBig(10, 26)
	require.False(t, v.IsSmall())
	require.Equal(t, 26, v.ByteLen())
	require.Equal(t, "abcdefghijklmnopqrstuvwxyz", v.GetString(area))
}

func packOne(f func(p *Packer)) []byte {
	p := NewPacker()
	f(p)
	return p.Bytes()
}

func TestPackerOrder(t *testing.T) {
	// packed byte order must match value order within one type
	int64s := []int64{-1 << 62, -100, -1, 0, 1, 42, 1 << 62}
	var prev []byte
	for _, v := range int64s {
		cur := packOne(func(p *Packer) { p.EncodeInt64(v) })
		if prev != nil {
			require.Negative(t, bytes.Compare(prev, cur), "int64 %d", v)
		}
		prev = cur
	}

	floats := []float64{-1e300, -2.5, -0.0, 1.5, 3.14, 1e300}
	prev = nil
	for _, v := range floats {
		cur := packOne(func(p *Packer) { p.EncodeFloat64(v) })
		if prev != nil {
			require.True(t, bytes.Compare(prev, cur) <= 0, "float64 %v", v)
		}
		prev = cur
	}

	strs := []string{"", "a", "a\x00", "a\x00b", "ab", "b"}
	prev = nil
	for _, v := range strs {
		cur := packOne(func(p *Packer) { p.EncodeStringType([]byte(v)) })
		if prev != nil {
			require.Negative(t, bytes.Compare(prev, cur), "string %q", v)
		}
		prev = cur
	}
}

func TestPackerNullsFirst(t *testing.T) {
	null := packOne(func(p *Packer) { p.EncodeNull() })
	small := packOne(func(p *Packer) { p.EncodeInt32(-1 << 30) })
	require.Negative(t, bytes.Compare(null, small))
}

func TestPackerTuple(t *testing.T) {
	// (1, "b") < (2, "a") and (2, "a") < (2, "b")
	k1 := packOne(func(p *Packer) { p.EncodeInt32(1); p.EncodeStringType([]byte("b")) })
	k2 := packOne(func(p *Packer) { p.EncodeInt32(2); p.EncodeStringType([]byte("a")) })
	k3 := packOne(func(p *Packer) { p.EncodeInt32(2); p.EncodeStringType([]byte("b")) })
	require.Negative(t, bytes.Compare(k1, k2))
	require.Negative(t, bytes.Compare(k2, k3))

	p := NewPacker()
	p.EncodeInt32(7)
	require.NotZero(t, p.Len())
	p.Reset()
	require.Zero(t, p.Len())
}
