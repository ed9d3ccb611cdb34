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
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

var hostMemoryTotal = func() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

var processMemoryUsed = func(proc *process.Process) (uint64, error) {
	m, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return m.RSS, nil
}

var cpuBusyPercent = func() (float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

// resourceController samples the host between scheduling rounds so
// the policy and the scheduler can back off when the process is
// already under pressure. All readings are refreshed together and
// read without locking, only the scheduler loop touches them.
type resourceController struct {
	proc *process.Process

	limit      int64
	using      int64
	cpuPercent float64
}

// newResourceController caps merge memory at limit bytes. Zero falls
// back to the host's total memory.
func newResourceController(limit int64) *resourceController {
	c := &resourceController{limit: limit}
	if c.limit <= 0 {
		if total, err := hostMemoryTotal(); err == nil {
			c.limit = int64(total)
		}
	}
	return c
}

func (c *resourceController) refresh() {
	if c.proc == nil {
		c.proc, _ = process.NewProcess(int32(os.Getpid()))
	}
	if c.proc != nil {
		if rss, err := processMemoryUsed(c.proc); err == nil {
			c.using = int64(rss)
		}
	}
	if pct, err := cpuBusyPercent(); err == nil {
		c.cpuPercent = pct
	}
}

func (c *resourceController) availableMem() int64 {
	avail := c.limit - c.using
	if avail < 0 {
		avail = 0
	}
	return avail
}

// overloaded reports whether either reading sits above its high water
// fraction. Fractions outside (0, 1] disable that check.
func (c *resourceController) overloaded(cpuHigh, memHigh float64) bool {
	if cpuHigh > 0 && cpuHigh <= 1 && c.cpuPercent > cpuHigh*100 {
		return true
	}
	if memHigh > 0 && memHigh <= 1 && c.limit > 0 &&
		float64(c.using) > memHigh*float64(c.limit) {
		return true
	}
	return false
}
