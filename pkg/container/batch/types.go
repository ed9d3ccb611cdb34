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

// Package batch bundles the column vectors of one block of rows.
package batch

import (
	"github.com/granarydb/granary/pkg/container/vector"
)

// Batch holds one vector per column. All vectors have the same row
// count, tracked in rowCount.
type Batch struct {
	// Ro marks a batch whose vectors are views over someone else's
	// memory.
	Ro bool
	// Cnt is a pin count. Clean releases memory only when it drops
	// to zero.
	Cnt int64

	Attrs []string
	Vecs  []*vector.Vector

	rowCount int
}

// EmptyBatch is a zero-row batch distinct from nil; Clean ignores it.
var EmptyBatch = &Batch{Cnt: 1}

func New(ro bool, attrs []string) *Batch {
	return &Batch{
		Ro:    ro,
		Cnt:   1,
		Attrs: attrs,
		Vecs:  make([]*vector.Vector, len(attrs)),
	}
}

func NewWithSize(n int) *Batch {
	return &Batch{
		Cnt:  1,
		Vecs: make([]*vector.Vector, n),
	}
}
