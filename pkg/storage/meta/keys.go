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

package meta

import (
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
)

// PackKey packs the first numKeys column values of one row into an
// order-preserving byte string. For rows of the same schema,
// bytes.Compare on the packed form orders exactly as column-wise key
// comparison with nulls first.
func PackKey(p *types.Packer, bat *batch.Batch, row, numKeys int) ([]byte, error) {
	p.Reset()
	for j := 0; j < numKeys; j++ {
		if err := PackValue(p, bat.Vecs[j], row); err != nil {
			return nil, err
		}
	}
	return p.Bytes(), nil
}

// PackValue appends one column value to the packer.
func PackValue(p *types.Packer, vec *vector.Vector, row int) error {
	if vec.GetNulls().Contains(uint64(row)) {
		p.EncodeNull()
		return nil
	}
	switch vec.GetType().Oid {
	case types.T_bool:
		p.EncodeBool(vector.GetFixedAt[bool](vec, row))
	case types.T_int8:
		p.EncodeInt8(vector.GetFixedAt[int8](vec, row))
	case types.T_int16:
		p.EncodeInt16(vector.GetFixedAt[int16](vec, row))
	case types.T_int32:
		p.EncodeInt32(vector.GetFixedAt[int32](vec, row))
	case types.T_int64:
		p.EncodeInt64(vector.GetFixedAt[int64](vec, row))
	case types.T_uint8:
		p.EncodeUint8(vector.GetFixedAt[uint8](vec, row))
	case types.T_uint16:
		p.EncodeUint16(vector.GetFixedAt[uint16](vec, row))
	case types.T_uint32:
		p.EncodeUint32(vector.GetFixedAt[uint32](vec, row))
	case types.T_uint64:
		p.EncodeUint64(vector.GetFixedAt[uint64](vec, row))
	case types.T_float32:
		p.EncodeFloat32(vector.GetFixedAt[float32](vec, row))
	case types.T_float64:
		p.EncodeFloat64(vector.GetFixedAt[float64](vec, row))
	case types.T_date:
		p.EncodeDate(vector.GetFixedAt[types.Date](vec, row))
	case types.T_datetime:
		p.EncodeDatetime(vector.GetFixedAt[types.Datetime](vec, row))
	case types.T_timestamp:
		p.EncodeTimestamp(vector.GetFixedAt[types.Timestamp](vec, row))
	case types.T_char, types.T_varchar:
		p.EncodeStringType(vec.GetBytesAt(row))
	default:
		return moerr.NewInternalErrorNoCtx("pack value: unsupported type %s", vec.GetType().Oid.String())
	}
	return nil
}
