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

package nulls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddContains(t *testing.T) {
	nsp := NewWithSize(10)
	require.False(t, Any(nsp))
	Add(nsp, 1, 3, 5)
	require.True(t, Any(nsp))
	require.True(t, Contains(nsp, 3))
	require.False(t, Contains(nsp, 2))
	require.Equal(t, 3, Length(nsp))

	Del(nsp, 3)
	require.False(t, Contains(nsp, 3))
	require.Equal(t, 2, Length(nsp))

	var nilNsp *Nulls
	require.False(t, Any(nilNsp))
	require.False(t, Contains(nilNsp, 0))
	require.Equal(t, 0, Length(nilNsp))
}

func TestContainsAny(t *testing.T) {
	nsp := Build(20, 5, 11)
	require.True(t, ContainsAny(nsp, 0, 6))
	require.True(t, ContainsAny(nsp, 5, 6))
	require.False(t, ContainsAny(nsp, 6, 11))
	require.True(t, ContainsAny(nsp, 6, 12))
	require.False(t, ContainsAny(nsp, 12, 20))
	require.False(t, ContainsAny(nil, 0, 100))
	require.False(t, ContainsAny(nsp, 5, 5))
}

func TestBuild(t *testing.T) {
	nsp := Build(8, 0, 7)
	require.True(t, nsp.Contains(0))
	require.True(t, nsp.Contains(7))
	require.Equal(t, 2, nsp.Count())
}

func TestAddRange(t *testing.T) {
	nsp := &Nulls{}
	AddRange(nsp, 2, 5)
	require.Equal(t, 3, Length(nsp))
	require.True(t, Contains(nsp, 2))
	require.True(t, Contains(nsp, 4))
	require.False(t, Contains(nsp, 5))

	RemoveRange(nsp, 2, 4)
	require.Equal(t, 1, Length(nsp))
	require.True(t, Contains(nsp, 4))
}

func TestSetAndOr(t *testing.T) {
	a := Build(10, 1, 2)
	b := Build(10, 2, 3)
	Set(a, b)
	require.Equal(t, []uint64{1, 2, 3}, a.ToArray())

	var r Nulls
	Or(Build(10, 0), Build(10, 9), &r)
	require.Equal(t, []uint64{0, 9}, r.ToArray())

	Or(nil, nil, &r)
	require.False(t, r.Any())
}

func TestRange(t *testing.T) {
	nsp := Build(20, 3, 7, 12)
	m := &Nulls{}
	Range(nsp, 5, 10, 5, m)
	require.Equal(t, []uint64{2}, m.ToArray())

	m = &Nulls{}
	Range(nsp, 0, 20, 0, m)
	require.Equal(t, []uint64{3, 7, 12}, m.ToArray())
}

func TestFilter(t *testing.T) {
	nsp := Build(10, 1, 4, 6)
	Filter(nsp, []int64{4, 5, 6}, false)
	require.Equal(t, []uint64{0, 2}, nsp.ToArray())

	nsp = Build(10, 1, 4, 6)
	Filter(nsp, []int64{1, 4}, true)
	require.Equal(t, []uint64{4}, nsp.ToArray())

	require.Equal(t, 2, FilterCount(Build(10, 1, 4, 6), []int64{0, 1, 4}))
}

func TestShowRead(t *testing.T) {
	nsp := Build(100, 5, 42, 77)
	data, err := nsp.Show()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var back Nulls
	require.NoError(t, back.Read(data))
	require.True(t, nsp.IsSame(&back))

	var empty Nulls
	d2, err := empty.Show()
	require.NoError(t, err)
	require.Nil(t, d2)
	require.NoError(t, empty.Read(nil))
}

func TestCloneIsSame(t *testing.T) {
	nsp := Build(10, 2, 8)
	cl := nsp.Clone()
	require.True(t, nsp.IsSame(cl))
	cl.Set(9)
	require.False(t, nsp.IsSame(cl))

	var nilNsp *Nulls
	require.Nil(t, nilNsp.Clone())
	require.True(t, nilNsp.IsSame(nil))
	require.False(t, nilNsp.IsSame(nsp))
}
