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

// Package aggfunc implements the per-column folds applied when rows
// of an agg-keys tablet share a sort key. A fold runs incrementally:
// the reader feeds row ranges as source batches stream by, and only
// seals the state when the key group closes.
package aggfunc

import (
	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/common/mpool"
	"github.com/granarydb/granary/pkg/container/types"
	"github.com/granarydb/granary/pkg/container/vector"
	"github.com/granarydb/granary/pkg/storage/meta"
)

// State is the running fold of one key group for one column. States
// are allocated once per reader and Reset between groups.
type State interface{}

// AggFunc folds ranges of same-key rows of one column.
type AggFunc interface {
	NewState() State

	// AddBatchRange absorbs rows [begin, end) of vec. hasNull is a
	// hint: false promises the range holds no nulls.
	AddBatchRange(s State, vec *vector.Vector, begin, end int, hasNull bool) error

	// Merge folds src into dst. Both keep their allocations.
	Merge(dst, src State)

	Reset(s State)

	// InsertResultInto appends the folded value onto dst.
	InsertResultInto(s State, dst *vector.Vector, mp *mpool.MPool) error
}

// ReaderSuffix namespaces the registrations resolved by readers.
const ReaderSuffix = "_reader"

type regKey struct {
	name string
	oid  types.T
}

var registry = map[regKey]AggFunc{}

// Register binds an implementation to an exact name and column type.
func Register(name string, oid types.T, f AggFunc) {
	registry[regKey{name, oid}] = f
}

// Lookup resolves the reader-side fold for a column. A miss is an
// internal error: the schema admitted an aggregate the engine cannot
// run, and the caller must fail its init.
func Lookup(method meta.AggMethod, typ types.Type) (AggFunc, error) {
	f, ok := registry[regKey{string(method) + ReaderSuffix, typ.Oid}]
	if !ok {
		return nil, moerr.NewInternalErrorNoCtx(
			"no aggregate function %s%s for type %s", method, ReaderSuffix, typ.Oid.String())
	}
	return f, nil
}

func registerReader(method meta.AggMethod, oid types.T, f AggFunc) {
	Register(string(method)+ReaderSuffix, oid, f)
}
