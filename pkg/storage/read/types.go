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

package read

import (
	"context"
	"fmt"

	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/batch"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// ReaderType says what the produced rows feed. Queries on
// merge-on-write unique tablets may skip the merge path entirely;
// compaction never does.
type ReaderType uint8

const (
	ReaderQuery ReaderType = iota
	ReaderCompaction
)

func (t ReaderType) String() string {
	switch t {
	case ReaderQuery:
		return "QUERY"
	case ReaderCompaction:
		return "COMPACTION"
	}
	return fmt.Sprintf("ReaderType(%d)", uint8(t))
}

// RowRef points at one row inside a batch owned by the iterator. The
// referenced batch stays valid only until the next advance, so
// consumers copy the row out before moving on.
type RowRef struct {
	Batch *batch.Batch
	Row   int

	// Same is set when the row's sort key equals the previous merged
	// row's key. The first row of a stream is never Same.
	Same bool
}

// RowLocation names the physical origin of an output row. Compaction
// records these to translate concurrent read positions from the old
// rowsets to the merged one. RowID is -1 for rows the delete filter
// removed.
type RowLocation struct {
	RowsetID  uint64
	SegmentID uint64
	RowID     int64
}

// RowsetReader is one captured rowset's forward block stream.
// pkg/storage/rowset.Reader satisfies it.
type RowsetReader interface {
	Meta() *meta.RowsetMeta
	// NextBlock returns the next block of rows, or an expected-EOF
	// error when the rowset is exhausted. Returned batches belong to
	// the reader and are valid until the following call.
	NextBlock() (*batch.Batch, error)
	// Location returns the segment id and the segment-relative row
	// number of the first row of the current block.
	Location() (segID uint64, startRow int64)
	Close()
}

// Source is the tablet-shaped thing a BlockReader reads. It hands out
// one RowsetReader per rowset visible at the requested version;
// ownership of the returned readers passes to the caller.
type Source interface {
	ID() uint64
	Schema() *meta.Schema
	CaptureReaders(ctx context.Context, version int64, cols []int) ([]RowsetReader, error)
}

// ReaderParams configures a BlockReader.
type ReaderParams struct {
	Tablet  Source
	Version int64
	Type    ReaderType

	// Columns is the projection as schema positions, nil for all
	// columns. It must start with the full key prefix in order, so
	// merged rows stay comparable.
	Columns []int

	// BatchSize caps the rows per produced batch; 0 picks the
	// default.
	BatchSize int

	// RecordRowLocations asks the reader to publish the origin of
	// every output row. Aggregating readers ignore it: folded rows
	// have no single origin.
	RecordRowLocations bool

	// FilterDelete drops rows whose delete sign is set. Only the
	// unique-key merge path honors it.
	FilterDelete bool

	Mp *mpool.MPool
}
