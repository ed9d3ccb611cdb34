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
	"fmt"
	"time"
)

// T is the type oid of a column.
type T uint8

const (
	T_any T = 0

	T_bool T = 10

	T_int8   T = 20
	T_int16  T = 21
	T_int32  T = 22
	T_int64  T = 23
	T_uint8  T = 24
	T_uint16 T = 25
	T_uint32 T = 26
	T_uint64 T = 27

	T_float32 T = 30
	T_float64 T = 31

	T_date      T = 40
	T_datetime  T = 41
	T_timestamp T = 42

	T_char    T = 60
	T_varchar T = 61
)

// Type describes a column type: the oid plus display width and scale.
// Size is the in-vector element size in bytes and is fully determined
// by the oid.
type Type struct {
	Oid   T
	Size  int32
	Width int32
	Scale int32
}

// Date is days since unix epoch.
type Date int32

// Datetime is microseconds since unix epoch, no timezone.
type Datetime int64

// Timestamp is microseconds since unix epoch, UTC.
type Timestamp int64

// FixedSizeT is the constraint for element types stored inline in a
// vector's data slab. Varlena is fixed-size too: the payload of long
// strings lives in the vector's area.
type FixedSizeT interface {
	bool | int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		float32 | float64 |
		Date | Datetime | Timestamp | Varlena
}

func New(oid T, width, scale int32) Type {
	return Type{Oid: oid, Size: int32(oid.FixedLength()), Width: width, Scale: scale}
}

func (t T) ToType() Type {
	return New(t, 0, 0)
}

// FixedLength returns the in-vector element size of the oid in bytes.
func (t T) FixedLength() int {
	switch t {
	case T_bool, T_int8, T_uint8:
		return 1
	case T_int16, T_uint16:
		return 2
	case T_int32, T_uint32, T_float32, T_date:
		return 4
	case T_int64, T_uint64, T_float64, T_datetime, T_timestamp:
		return 8
	case T_char, T_varchar:
		return VarlenaSize
	}
	panic(fmt.Sprintf("unknown type oid %d", t))
}

func (t T) String() string {
	switch t {
	case T_any:
		return "ANY"
	case T_bool:
		return "BOOL"
	case T_int8:
		return "TINYINT"
	case T_int16:
		return "SMALLINT"
	case T_int32:
		return "INT"
	case T_int64:
		return "BIGINT"
	case T_uint8:
		return "TINYINT UNSIGNED"
	case T_uint16:
		return "SMALLINT UNSIGNED"
	case T_uint32:
		return "INT UNSIGNED"
	case T_uint64:
		return "BIGINT UNSIGNED"
	case T_float32:
		return "FLOAT"
	case T_float64:
		return "DOUBLE"
	case T_date:
		return "DATE"
	case T_datetime:
		return "DATETIME"
	case T_timestamp:
		return "TIMESTAMP"
	case T_char:
		return "CHAR"
	case T_varchar:
		return "VARCHAR"
	}
	return fmt.Sprintf("unknown_type(%d)", t)
}

func (t Type) TypeSize() int {
	return t.Oid.FixedLength()
}

// IsFixedLen reports whether elements carry their full payload inline,
// i.e. the vector has no area.
func (t Type) IsFixedLen() bool {
	return t.Oid != T_char && t.Oid != T_varchar
}

func (t Type) IsVarlen() bool {
	return t.Oid == T_char || t.Oid == T_varchar
}

func (t Type) IsNumeric() bool {
	return t.Oid >= T_int8 && t.Oid <= T_float64
}

func (t Type) Eq(o Type) bool {
	return t.Oid == o.Oid && t.Width == o.Width && t.Scale == o.Scale
}

func (t Type) String() string {
	if t.Width > 0 {
		return fmt.Sprintf("%s(%d)", t.Oid, t.Width)
	}
	return t.Oid.String()
}

func (d Date) String() string {
	return time.Unix(int64(d)*86400, 0).UTC().Format("2006-01-02")
}

func DateFromTime(t time.Time) Date {
	return Date(t.Unix() / 86400)
}

func (dt Datetime) String() string {
	return time.UnixMicro(int64(dt)).UTC().Format("2006-01-02 15:04:05.000000")
}

func DatetimeFromTime(t time.Time) Datetime {
	return Datetime(t.UnixMicro())
}

func (ts Timestamp) String() string {
	return time.UnixMicro(int64(ts)).UTC().Format("2006-01-02 15:04:05.000000 UTC")
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}
