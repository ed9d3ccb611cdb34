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

// Package compress wraps the block codecs used for column pages.
package compress

import (
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/pierrec/lz4"
)

const (
	None = iota
	Lz4
)

// Limit returns the destination size that guarantees Compress cannot
// fail for sources of n bytes.
func Limit(n int) int {
	return lz4.CompressBlockBound(n)
}

// Compress encodes src into dst and returns the filled prefix of dst.
// A zero-length result means the data was incompressible and the caller
// should store it raw under None.
func Compress(src, dst []byte, typ int) ([]byte, error) {
	switch typ {
	case None:
		n := copy(dst, src)
		return dst[:n], nil
	case Lz4:
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	}
	return nil, moerr.NewInvalidArgNoCtx("compress algorithm", typ)
}

// Decompress decodes src into dst, which must be sized to the original
// length, and returns the filled prefix of dst.
func Decompress(src, dst []byte, typ int) ([]byte, error) {
	switch typ {
	case None:
		n := copy(dst, src)
		return dst[:n], nil
	case Lz4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	}
	return nil, moerr.NewInvalidArgNoCtx("compress algorithm", typ)
}
