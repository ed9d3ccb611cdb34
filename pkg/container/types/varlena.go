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
	"encoding/binary"

	"github.com/granarydb/granary/pkg/common/mpool"
)

const (
	VarlenaSize       = 24
	VarlenaInlineSize = 23
	// VarlenaBigHdr marks an out-of-line value in byte 0.
	VarlenaBigHdr = 0xff
)

// Varlena is the inline header of a string value. Values no longer
// than VarlenaInlineSize bytes are stored entirely inside the header;
// longer values store a (offset, length) pair into the owning
// vector's area slab.
//
// Layout:
//
//	small: [0] = length, [1:1+length] = payload
//	big:   [0] = 0xff, [4:8] = offset (LE), [8:12] = length (LE)
type Varlena [VarlenaSize]byte

func (v *Varlena) IsSmall() bool {
	return v[0] != VarlenaBigHdr
}

func (v *Varlena) ByteLen() int {
	if v.IsSmall() {
		return int(v[0])
	}
	return int(binary.LittleEndian.Uint32(v[8:12]))
}

// ByteSlice returns the payload of a small varlena. Caller must have
// checked IsSmall.
func (v *Varlena) ByteSlice() []byte {
	return v[1 : 1+int(v[0])]
}

func (v *Varlena) OffsetLen() (uint32, uint32) {
	return binary.LittleEndian.Uint32(v[4:8]), binary.LittleEndian.Uint32(v[8:12])
}

// GetByteSlice returns the payload, reading through area for big
// values. The returned slice aliases v or area; do not hold it across
// writes.
func (v *Varlena) GetByteSlice(area []byte) []byte {
	if v.IsSmall() {
		return v.ByteSlice()
	}
	off, length := v.OffsetLen()
	return area[off : off+length]
}

func (v *Varlena) GetString(area []byte) string {
	return string(v.GetByteSlice(area))
}

func (v *Varlena) SetSmall(bs []byte) {
	v[0] = byte(len(bs))
	copy(v[1:], bs)
}

func (v *Varlena) SetBig(offset, length uint32) {
	v[0] = VarlenaBigHdr
	binary.LittleEndian.PutUint32(v[4:8], offset)
	binary.LittleEndian.PutUint32(v[8:12], length)
}

func (v *Varlena) Reset() {
	*v = Varlena{}
}

// BuildVarlena stores bs, spilling to area when it does not fit
// inline. area may grow; the possibly reallocated area is returned
// and must be written back by the caller.
func BuildVarlena(bs []byte, area []byte, m *mpool.MPool) (Varlena, []byte, error) {
	var v Varlena
	if len(bs) <= VarlenaInlineSize {
		v.SetSmall(bs)
		return v, area, nil
	}
	var err error
	need := len(area) + len(bs)
	if need > cap(area) {
		if area == nil {
			if area, err = m.Alloc(need * 2); err != nil {
				return v, nil, err
			}
			area = area[:0]
		} else {
			if area, err = m.Grow(area, need*2); err != nil {
				return v, nil, err
			}
			area = area[:need-len(bs)]
		}
	}
	v.SetBig(uint32(len(area)), uint32(len(bs)))
	area = append(area, bs...)
	return v, area, nil
}
