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

// Package meta holds the descriptive side of the store: tablet
// schemas, rowset versions and per-segment key statistics. Everything
// here is plain data that the catalog persists as JSON.
package meta

import (
	"fmt"
	"time"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/container/types"
)

// KeysType selects the read-time merge discipline of a tablet.
type KeysType uint8

const (
	// DupKeys keeps every ingested row.
	DupKeys KeysType = iota
	// UniqueKeys keeps the newest row per key.
	UniqueKeys
	// AggKeys folds rows sharing a key through per-column aggregates.
	AggKeys
)

func (t KeysType) String() string {
	switch t {
	case DupKeys:
		return "DUP_KEYS"
	case UniqueKeys:
		return "UNIQUE_KEYS"
	case AggKeys:
		return "AGG_KEYS"
	}
	return fmt.Sprintf("KeysType(%d)", uint8(t))
}

// DeleteSignName is the hidden int8 column appended to unique-key
// tablets. A nonzero value marks the row as a delete of its key.
const DeleteSignName = "__DELETE_SIGN__"

// AggMethod is the fold applied to a value column when rows share a
// key on agg-key tablets.
type AggMethod string

const (
	AggNone             AggMethod = "none"
	AggReplace          AggMethod = "replace"
	AggReplaceIfNotNull AggMethod = "replace_if_not_null"
	AggSum              AggMethod = "sum"
	AggMin              AggMethod = "min"
	AggMax              AggMethod = "max"
	AggHllUnion         AggMethod = "hll_union"
	AggBitmapUnion      AggMethod = "bitmap_union"
)

type Column struct {
	Name string     `json:"name"`
	Type types.Type `json:"type"`
	Agg  AggMethod  `json:"agg,omitempty"`
}

type Schema struct {
	Name          string   `json:"name"`
	Columns       []Column `json:"columns"`
	NumKeyColumns int      `json:"num-key-columns"`
	KeysType      KeysType `json:"keys-type"`

	// MergeOnWrite marks unique tablets whose writes already resolved
	// key duplication, so queries can read segments directly.
	MergeOnWrite bool `json:"merge-on-write,omitempty"`
}

// Attrs returns the column names in schema order.
func (s *Schema) Attrs() []string {
	attrs := make([]string, len(s.Columns))
	for i := range s.Columns {
		attrs[i] = s.Columns[i].Name
	}
	return attrs
}

// Types returns the column types in schema order.
func (s *Schema) Types() []types.Type {
	typs := make([]types.Type, len(s.Columns))
	for i := range s.Columns {
		typs[i] = s.Columns[i].Type
	}
	return typs
}

// ColumnIndex returns the position of the named column, or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// DeleteSignIdx returns the position of the hidden delete-sign
// column, or -1 when the schema carries none.
func (s *Schema) DeleteSignIdx() int {
	return s.ColumnIndex(DeleteSignName)
}

// IsKey reports whether column j belongs to the sort key.
func (s *Schema) IsKey(j int) bool {
	return j < s.NumKeyColumns
}

func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return moerr.NewInvalidArgNoCtx("schema columns", "empty")
	}
	if s.NumKeyColumns < 1 || s.NumKeyColumns > len(s.Columns) {
		return moerr.NewInvalidArgNoCtx("schema key column count", s.NumKeyColumns)
	}
	seen := make(map[string]struct{}, len(s.Columns))
	for i := range s.Columns {
		col := &s.Columns[i]
		if col.Name == "" {
			return moerr.NewInvalidArgNoCtx("schema column name", i)
		}
		if _, ok := seen[col.Name]; ok {
			return moerr.NewInvalidArgNoCtx("schema duplicate column", col.Name)
		}
		seen[col.Name] = struct{}{}
		if s.IsKey(i) {
			if !packableKey(col.Type.Oid) {
				return moerr.NewInvalidArgNoCtx("schema key column type", col.Type.Oid.String())
			}
			if col.Agg != "" && col.Agg != AggNone {
				return moerr.NewInvalidArgNoCtx("schema key column aggregate", col.Name)
			}
		} else if s.KeysType == AggKeys && col.Name != DeleteSignName {
			if col.Agg == "" || col.Agg == AggNone {
				return moerr.NewInvalidArgNoCtx("schema value column without aggregate", col.Name)
			}
		}
	}
	if idx := s.DeleteSignIdx(); idx >= 0 {
		if s.IsKey(idx) || s.Columns[idx].Type.Oid != types.T_int8 {
			return moerr.NewInvalidArgNoCtx("schema delete sign column", idx)
		}
	}
	return nil
}

func packableKey(oid types.T) bool {
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

// Version is the inclusive range of ingest versions a rowset covers.
// A fresh load produces a singleton range; compaction widens it.
type Version struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (v Version) String() string {
	return fmt.Sprintf("[%d-%d]", v.Start, v.End)
}

func (v Version) Singleton() bool {
	return v.Start == v.End
}

// Precedes reports whether o starts right after v ends, leaving no
// version gap between the two.
func (v Version) Precedes(o Version) bool {
	return v.End+1 == o.Start
}

func (v Version) Contains(o Version) bool {
	return v.Start <= o.Start && o.End <= v.End
}

type TabletMeta struct {
	ID        uint64    `json:"id"`
	Schema    *Schema   `json:"schema"`
	CreatedAt time.Time `json:"created-at"`
}
