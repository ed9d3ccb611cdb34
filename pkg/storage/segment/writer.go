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
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"

	hll "github.com/axiomhq/hyperloglog"
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/compress"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// Writer streams key-ordered batches into one segment file. It is not
// safe for concurrent use.
type Writer struct {
	f      *os.File
	path   string
	schema *meta.Schema

	offset int64
	footer Footer

	sketches []*hll.Sketch
	packer   *types.Packer
	first    []byte
	last     []byte
}

func NewWriter(path string, schema *meta.Schema) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		f:      f,
		path:   path,
		schema: schema,
		packer: types.NewPacker(),
	}
	w.footer.Attrs = schema.Attrs()
	w.footer.Types = schema.Types()
	w.footer.ZoneMaps = make([]meta.ZoneMap, len(schema.Columns))
	w.sketches = make([]*hll.Sketch, len(schema.Columns))
	for i := range w.sketches {
		w.sketches[i] = hll.New()
	}
	if err := w.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, Magic)
	binary.Write(&buf, binary.BigEndian, Version)
	buf.Write(make([]byte, HeaderSize-10))
	return w.write(buf.Bytes())
}

func (w *Writer) write(data []byte) error {
	n, err := w.f.Write(data)
	w.offset += int64(n)
	return err
}

// Append writes one batch as a block. Rows must continue the key
// order of everything appended before.
func (w *Writer) Append(bat *batch.Batch) error {
	rows := bat.RowCount()
	if rows == 0 {
		return nil
	}
	if len(bat.Vecs) != len(w.schema.Columns) {
		return moerr.NewInvalidArgNoCtx("segment append column count", len(bat.Vecs))
	}
	blk := BlockInfo{Rows: int64(rows)}
	for _, vec := range bat.Vecs {
		payload, err := vec.MarshalBinary()
		if err != nil {
			return err
		}
		page, err := w.writePage(payload)
		if err != nil {
			return err
		}
		blk.Pages = append(blk.Pages, page)
	}
	if err := w.updateStats(bat); err != nil {
		return err
	}
	w.footer.Blocks = append(w.footer.Blocks, blk)
	w.footer.Rows += int64(rows)
	return nil
}

func (w *Writer) writePage(payload []byte) (PageInfo, error) {
	page := PageInfo{
		Offset:  w.offset,
		RawSize: int64(len(payload)),
		Alg:     compress.Lz4,
	}
	dst := make([]byte, compress.Limit(len(payload)))
	packed, err := compress.Compress(payload, dst, compress.Lz4)
	if err != nil {
		return page, err
	}
	if len(packed) == 0 {
		// incompressible, store raw
		page.Alg = compress.None
		packed = payload
	}
	page.Length = int64(len(packed))
	return page, w.write(packed)
}

func (w *Writer) updateStats(bat *batch.Batch) error {
	rows := bat.RowCount()
	for j, vec := range bat.Vecs {
		zm := &w.footer.ZoneMaps[j]
		if !packable(w.schema.Columns[j].Type.Oid) {
			if vec.GetNulls().Any() {
				zm.UpdateNull()
			}
			continue
		}
		for i := 0; i < rows; i++ {
			if vec.GetNulls().Contains(uint64(i)) {
				zm.UpdateNull()
				continue
			}
			w.packer.Reset()
			if err := meta.PackValue(w.packer, vec, i); err != nil {
				return err
			}
			packed := w.packer.Bytes()
			zm.Update(packed)
			w.sketches[j].Insert(packed)
		}
	}
	if w.first == nil {
		first, err := meta.PackKey(w.packer, bat, 0, w.schema.NumKeyColumns)
		if err != nil {
			return err
		}
		w.first = first
	}
	last, err := meta.PackKey(w.packer, bat, rows-1, w.schema.NumKeyColumns)
	if err != nil {
		return err
	}
	w.last = last
	return nil
}

func packable(oid types.T) bool {
	switch oid {
	case types.T_bool,
		types.T_int8, types.T_int16, types.T_int32, types.T_int64,
		types.T_uint8, types.T_uint16, types.T_uint32, types.T_uint64,
		types.T_float32, types.T_float64,
		types.T_date, types.T_datetime, types.T_timestamp,
		types.T_char, types.T_varchar:
		return true
	}
	return false
}

// Finish writes the footer, syncs the file and returns the segment
// statistics. The writer is unusable afterwards.
func (w *Writer) Finish() (meta.SegmentMeta, error) {
	var sm meta.SegmentMeta
	w.footer.Bounds = meta.NewKeyBounds(w.first, w.last)
	w.footer.Sketches = make([][]byte, len(w.sketches))
	for i, sk := range w.sketches {
		buf, err := sk.MarshalBinary()
		if err != nil {
			return sm, err
		}
		w.footer.Sketches[i] = buf
	}
	body, err := json.Marshal(&w.footer)
	if err != nil {
		return sm, err
	}
	if err = w.write(body); err != nil {
		return sm, err
	}
	var trailer bytes.Buffer
	binary.Write(&trailer, binary.BigEndian, uint32(len(body)))
	binary.Write(&trailer, binary.BigEndian, Magic)
	if err = w.write(trailer.Bytes()); err != nil {
		return sm, err
	}
	if err = w.f.Sync(); err != nil {
		return sm, err
	}
	if err = w.f.Close(); err != nil {
		return sm, err
	}
	sm.Rows = w.footer.Rows
	sm.Size = w.offset
	sm.Bounds = w.footer.Bounds
	return sm, nil
}

// Abort discards the half-written file.
func (w *Writer) Abort() {
	w.f.Close()
	os.Remove(w.path)
}
