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

// Package mpool is the engine's accounting allocator. Every slab
// handed out carries a hidden header so Free can verify ownership and
// detect double frees; stats make reader and compaction memory
// attributable per pool.
package mpool

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/granarydb/granary/pkg/common/moerr"
	"github.com/granarydb/granary/pkg/logutil"
)

const (
	KB = 1 << 10
	MB = 1 << 20
	GB = 1 << 30
)

const kMemHdrSz = 16

var guardMagic = [4]byte{0xde, 0xad, 0xbe, 0xef}

type memHdr struct {
	poolID  int64
	allocSz int32
	guard   [4]byte
}

func (h *memHdr) setGuard() {
	h.guard = guardMagic
}

func (h *memHdr) checkGuard() bool {
	return h.guard == guardMagic
}

// MPoolStats counters are updated with atomics; read them the same way.
type MPoolStats struct {
	NumAlloc      int64
	NumFree       int64
	NumAllocBytes int64
	NumFreeBytes  int64
	NumCurrBytes  int64
	HighWaterMark int64
}

func (s *MPoolStats) recordAlloc(sz int64) {
	atomic.AddInt64(&s.NumAlloc, 1)
	atomic.AddInt64(&s.NumAllocBytes, sz)
	curr := atomic.AddInt64(&s.NumCurrBytes, sz)
	for {
		hwm := atomic.LoadInt64(&s.HighWaterMark)
		if curr <= hwm || atomic.CompareAndSwapInt64(&s.HighWaterMark, hwm, curr) {
			break
		}
	}
}

func (s *MPoolStats) recordFree(sz int64) {
	atomic.AddInt64(&s.NumFree, 1)
	atomic.AddInt64(&s.NumFreeBytes, sz)
	atomic.AddInt64(&s.NumCurrBytes, -sz)
}

func (s *MPoolStats) Report(tab string) string {
	return fmt.Sprintf("%salloc %d (%d bytes), free %d (%d bytes), curr %d bytes, hwm %d bytes",
		tab,
		atomic.LoadInt64(&s.NumAlloc), atomic.LoadInt64(&s.NumAllocBytes),
		atomic.LoadInt64(&s.NumFree), atomic.LoadInt64(&s.NumFreeBytes),
		atomic.LoadInt64(&s.NumCurrBytes), atomic.LoadInt64(&s.HighWaterMark))
}

type MPool struct {
	id    int64
	tag   string
	cap   int64
	stats MPoolStats
}

var nextPoolID int64

// NewMPool creates a pool. cap 0 means unbounded.
func NewMPool(tag string, cap int64) (*MPool, error) {
	if cap < 0 {
		return nil, moerr.NewInvalidArgNoCtx("mpool cap", cap)
	}
	return &MPool{
		id:  atomic.AddInt64(&nextPoolID, 1),
		tag: tag,
		cap: cap,
	}, nil
}

// MustNewZero returns an unbounded pool, for tests and tools.
func MustNewZero() *MPool {
	mp, err := NewMPool("zero", 0)
	if err != nil {
		panic(err)
	}
	return mp
}

// DeleteMPool reports a leak when the pool still holds bytes. The pool
// must not be used afterwards.
func DeleteMPool(mp *MPool) {
	if mp == nil {
		return
	}
	if curr := mp.CurrNB(); curr != 0 {
		logutil.Warnf("mpool %s deleted with %d bytes in use:\n%s", mp.tag, curr, mp.stats.Report("  "))
	}
}

func (mp *MPool) Tag() string {
	return mp.tag
}

func (mp *MPool) Cap() int64 {
	if mp.cap == 0 {
		return math.MaxInt64
	}
	return mp.cap
}

func (mp *MPool) CurrNB() int64 {
	return atomic.LoadInt64(&mp.stats.NumCurrBytes)
}

func (mp *MPool) Stats() *MPoolStats {
	return &mp.stats
}

func (mp *MPool) Report() string {
	return fmt.Sprintf("mpool %s, cap %d\n%s", mp.tag, mp.cap, mp.stats.Report("  "))
}

// Alloc returns a zeroed slab of exactly sz bytes, capacity capped so
// appends past sz cannot silently escape accounting.
func (mp *MPool) Alloc(sz int) ([]byte, error) {
	if sz < 0 {
		return nil, moerr.NewInvalidArgNoCtx("mpool alloc size", sz)
	}
	if sz == 0 {
		return nil, nil
	}
	if mp.cap != 0 && mp.CurrNB()+int64(sz) > mp.cap {
		logutil.Errorf("mpool %s out of memory: want %d bytes, cap %d\n%s",
			mp.tag, sz, mp.cap, mp.stats.Report("  "))
		return nil, moerr.NewOOMNoCtx()
	}
	data := make([]byte, kMemHdrSz+sz)
	hdr := (*memHdr)(unsafe.Pointer(&data[0]))
	hdr.poolID = mp.id
	hdr.allocSz = int32(sz)
	hdr.setGuard()
	mp.stats.recordAlloc(int64(sz))
	return data[kMemHdrSz : kMemHdrSz+sz : kMemHdrSz+sz], nil
}

// Free returns a slab obtained from Alloc. Freeing foreign memory or
// freeing twice panics: both are corruption, not recoverable errors.
func (mp *MPool) Free(bs []byte) {
	if bs == nil || cap(bs) == 0 {
		return
	}
	hdr := hdrOf(bs)
	if !hdr.checkGuard() {
		panic(moerr.NewInvalidStateNoCtx("mpool %s free of foreign memory", mp.tag))
	}
	if hdr.allocSz == -1 {
		panic(moerr.NewInvalidStateNoCtx("mpool %s double free", mp.tag))
	}
	sz := int64(hdr.allocSz)
	hdr.allocSz = -1
	mp.stats.recordFree(sz)
}

// Realloc returns a slab of length sz holding the contents of bs.
// Growth past the slab capacity allocates fresh zeroed memory and
// frees the old slab.
func (mp *MPool) Realloc(bs []byte, sz int) ([]byte, error) {
	if sz <= cap(bs) {
		return bs[:sz], nil
	}
	data, err := mp.Alloc(sz)
	if err != nil {
		return nil, err
	}
	copy(data, bs)
	mp.Free(bs)
	return data, nil
}

// Grow is Realloc restricted to growing; the result has length sz.
func (mp *MPool) Grow(bs []byte, sz int) ([]byte, error) {
	if sz < len(bs) {
		return nil, moerr.NewInvalidArgNoCtx("mpool grow size", sz)
	}
	return mp.Realloc(bs, sz)
}

func hdrOf(bs []byte) *memHdr {
	full := bs[:1]
	return (*memHdr)(unsafe.Pointer(uintptr(unsafe.Pointer(&full[0])) - kMemHdrSz))
}
