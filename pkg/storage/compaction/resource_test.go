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

package compaction

import (
	"testing"

	"github.com/prashantv/gostub"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
)

func TestResourceControllerLimitFallback(t *testing.T) {
	stub := gostub.Stub(&hostMemoryTotal, func() (uint64, error) {
		return 16 << 30, nil
	})
	defer stub.Reset()

	c := newResourceController(0)
	assert.Equal(t, int64(16<<30), c.limit)

	c = newResourceController(1 << 30)
	assert.Equal(t, int64(1<<30), c.limit)
}

func TestResourceControllerRefresh(t *testing.T) {
	memStub := gostub.Stub(&processMemoryUsed, func(*process.Process) (uint64, error) {
		return 600 << 20, nil
	})
	defer memStub.Reset()
	cpuStub := gostub.Stub(&cpuBusyPercent, func() (float64, error) {
		return 91.5, nil
	})
	defer cpuStub.Reset()

	c := newResourceController(1 << 30)
	c.refresh()

	assert.Equal(t, int64(600<<20), c.using)
	assert.Equal(t, 91.5, c.cpuPercent)
	assert.Equal(t, int64(1<<30)-int64(600<<20), c.availableMem())

	// using sits near 0.59 of the cap and cpu at 91.5.
	assert.True(t, c.overloaded(0.95, 0.5))
	assert.True(t, c.overloaded(0.9, 0.7))
	assert.False(t, c.overloaded(0.95, 0.7))
	assert.False(t, c.overloaded(0, 0))

	c.using = c.limit + 1
	assert.Zero(t, c.availableMem())
}
