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
	"math"
)

const (
	nilCode        = 0x00
	falseCode      = 0x26
	trueCode       = 0x27
	int8Code       = 0x28
	int16Code      = 0x29
	int32Code      = 0x3a
	int64Code      = 0x3b
	uint8Code      = 0x3c
	uint16Code     = 0x3d
	uint32Code     = 0x3e
	uint64Code     = 0x40
	float32Code    = 0x20
	float64Code    = 0x21
	dateCode       = 0x41
	datetimeCode   = 0x42
	timestampCode  = 0x43
	stringTypeCode = 0x46

	stringTerm   = 0x00
	stringEscape = 0xff
)

// Packer builds an order-preserving byte encoding of a key tuple:
// for tuples of identical column types, bytes.Compare on the packed
// form orders exactly as column-wise value comparison with nulls
// first. Integers are stored big-endian with the sign bit flipped,
// floats with the usual IEEE total-order transform, strings with
// zero-byte escaping and a terminator.
type Packer struct {
	buf []byte
}

func NewPacker() *Packer {
	return &Packer{buf: make([]byte, 0, 64)}
}

func (p *Packer) Reset() {
	p.buf = p.buf[:0]
}

// Bytes returns a copy of the packed key.
func (p *Packer) Bytes() []byte {
	out := make([]byte, len(p.buf))
	copy(out, p.buf)
	return out
}

func (p *Packer) Len() int {
	return len(p.buf)
}

func (p *Packer) EncodeNull() {
	p.buf = append(p.buf, nilCode)
}

func (p *Packer) EncodeBool(v bool) {
	if v {
		p.buf = append(p.buf, trueCode)
	} else {
		p.buf = append(p.buf, falseCode)
	}
}

func (p *Packer) putUint(code byte, v uint64, n int) {
	p.buf = append(p.buf, code)
	for i := n - 1; i >= 0; i-- {
		p.buf = append(p.buf, byte(v>>(uint(i)*8)))
	}
}

func (p *Packer) EncodeInt8(v int8) {
	p.putUint(int8Code, uint64(uint8(v)^0x80), 1)
}

func (p *Packer) EncodeInt16(v int16) {
	p.putUint(int16Code, uint64(uint16(v)^0x8000), 2)
}

func (p *Packer) EncodeInt32(v int32) {
	p.putUint(int32Code, uint64(uint32(v)^0x80000000), 4)
}

func (p *Packer) EncodeInt64(v int64) {
	p.putUint(int64Code, uint64(v)^0x8000000000000000, 8)
}

func (p *Packer) EncodeUint8(v uint8) {
	p.putUint(uint8Code, uint64(v), 1)
}

func (p *Packer) EncodeUint16(v uint16) {
	p.putUint(uint16Code, uint64(v), 2)
}

func (p *Packer) EncodeUint32(v uint32) {
	p.putUint(uint32Code, uint64(v), 4)
}

func (p *Packer) EncodeUint64(v uint64) {
	p.putUint(uint64Code, v, 8)
}

func floatOrderBits64(v float64) uint64 {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func floatOrderBits32(v float32) uint32 {
	bits := math.Float32bits(v)
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | (1 << 31)
}

func (p *Packer) EncodeFloat32(v float32) {
	p.putUint(float32Code, uint64(floatOrderBits32(v)), 4)
}

func (p *Packer) EncodeFloat64(v float64) {
	p.putUint(float64Code, floatOrderBits64(v), 8)
}

func (p *Packer) EncodeDate(v Date) {
	p.putUint(dateCode, uint64(uint32(v)^0x80000000), 4)
}

func (p *Packer) EncodeDatetime(v Datetime) {
	p.putUint(datetimeCode, uint64(v)^0x8000000000000000, 8)
}

func (p *Packer) EncodeTimestamp(v Timestamp) {
	p.putUint(timestampCode, uint64(v)^0x8000000000000000, 8)
}

// EncodeStringType packs raw bytes. Embedded zero bytes are escaped
// with 0xff so a terminator byte never collides with payload; any
// byte that can follow the terminator (a type code, or nothing)
// sorts below the escape.
func (p *Packer) EncodeStringType(v []byte) {
	p.buf = append(p.buf, stringTypeCode)
	for _, b := range v {
		p.buf = append(p.buf, b)
		if b == stringTerm {
			p.buf = append(p.buf, stringEscape)
		}
	}
	p.buf = append(p.buf, stringTerm)
}
