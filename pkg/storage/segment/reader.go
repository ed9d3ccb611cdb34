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

package segment

import (
	"encoding/binary"
	"encoding/json"
	"os"

	hll "github.com/axiomhq/hyperloglog"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/compress"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// Reader opens a segment file and serves block reads. Safe for
// concurrent ReadBlock calls, each read allocates its own buffers.
type Reader struct {
	f      *os.File
	path   string
	footer Footer
}

func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{f: f, path: path}
	if err := r.readFooter(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readFooter() error {
	st, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()
	if size < HeaderSize+TrailerSize {
		return moerr.NewInternalErrorNoCtx("segment %s too short: %d bytes", r.path, size)
	}
	head := make([]byte, 10)
	if _, err = r.f.ReadAt(head, 0); err != nil {
		return err
	}
	if binary.BigEndian.Uint64(head) != Magic {
		return moerr.NewInternalErrorNoCtx("segment %s bad header magic", r.path)
	}
	if v := binary.BigEndian.Uint16(head[8:]); v != Version {
		return moerr.NewInternalErrorNoCtx("segment %s unsupported version %d", r.path, v)
	}
	trailer := make([]byte, TrailerSize)
	if _, err = r.f.ReadAt(trailer, size-TrailerSize); err != nil {
		return err
	}
	if binary.BigEndian.Uint64(trailer[4:]) != Magic {
		return moerr.NewInternalErrorNoCtx("segment %s bad trailer magic", r.path)
	}
	bodyLen := int64(binary.BigEndian.Uint32(trailer))
	if bodyLen <= 0 || bodyLen > size-HeaderSize-TrailerSize {
		return moerr.NewInternalErrorNoCtx("segment %s bad footer length %d", r.path, bodyLen)
	}
	body := make([]byte, bodyLen)
	if _, err = r.f.ReadAt(body, size-TrailerSize-bodyLen); err != nil {
		return err
	}
	return json.Unmarshal(body, &r.footer)
}

func (r *Reader) Rows() int64 {
	return r.footer.Rows
}

func (r *Reader) Attrs() []string {
	return r.footer.Attrs
}

func (r *Reader) NumBlocks() int {
	return len(r.footer.Blocks)
}

func (r *Reader) BlockRows(i int) int64 {
	return r.footer.Blocks[i].Rows
}

func (r *Reader) Bounds() meta.KeyBounds {
	return r.footer.Bounds
}

func (r *Reader) ZoneMap(col int) meta.ZoneMap {
	return r.footer.ZoneMaps[col]
}

// Sketch deserializes the distinct-count state of one column. The
// second return is false for columns without a recorded sketch.
func (r *Reader) Sketch(col int) (*hll.Sketch, bool, error) {
	if col >= len(r.footer.Sketches) || len(r.footer.Sketches[col]) == 0 {
		return nil, false, nil
	}
	sk := hll.New()
	if err := sk.UnmarshalBinary(r.footer.Sketches[col]); err != nil {
		return nil, false, err
	}
	return sk, true, nil
}

// ReadBlock loads the selected columns of block i into a fresh batch
// owned by mp. A nil cols selects every column in schema order.
func (r *Reader) ReadBlock(i int, cols []int, mp *mpool.MPool) (*batch.Batch, error) {
	if i < 0 || i >= len(r.footer.Blocks) {
		return nil, moerr.NewInvalidArgNoCtx("segment block index", i)
	}
	blk := &r.footer.Blocks[i]
	if cols == nil {
		cols = make([]int, len(blk.Pages))
		for j := range cols {
			cols[j] = j
		}
	}
	attrs := make([]string, len(cols))
	for pos, col := range cols {
		if col < 0 || col >= len(blk.Pages) {
			return nil, moerr.NewInvalidArgNoCtx("segment column index", col)
		}
		attrs[pos] = r.footer.Attrs[col]
	}
	bat := batch.New(true, attrs)
	for pos, col := range cols {
		vec, err := r.readPage(&blk.Pages[col], mp)
		if err != nil {
			bat.Clean(mp)
			return nil, err
		}
		bat.Vecs[pos] = vec
	}
	bat.SetRowCount(int(blk.Rows))
	return bat, nil
}

func (r *Reader) readPage(page *PageInfo, mp *mpool.MPool) (*vector.Vector, error) {
	stored := make([]byte, page.Length)
	if _, err := r.f.ReadAt(stored, page.Offset); err != nil {
		return nil, err
	}
	payload := stored
	if page.Alg != compress.None {
		raw := make([]byte, page.RawSize)
		var err error
		payload, err = compress.Decompress(stored, raw, int(page.Alg))
		if err != nil {
			return nil, err
		}
		if int64(len(payload)) != page.RawSize {
			return nil, moerr.NewInternalErrorNoCtx(
				"segment %s page at %d: decompressed %d bytes, want %d",
				r.path, page.Offset, len(payload), page.RawSize)
		}
	}
	vec := new(vector.Vector)
	if err := vec.UnmarshalBinaryWithMpool(payload, mp); err != nil {
		vec.Free(mp)
		return nil, err
	}
	return vec, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}
