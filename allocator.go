// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"slices"
	"sync"
)

// bufAlignment is the alignment mask used for buffer, state and metadata
// allocations: offsets satisfy offset&bufAlignment == 0.
const bufAlignment = 7

// ResourceManager allocates byte ranges inside one endpoint segment.
type ResourceManager interface {
	Alloc(size, alignMask uint64) (uint64, error)
	Free(offset, size uint64) error
}

type extent struct {
	off, size uint64
}

// FreeList is a first-fit ResourceManager over [base, limit).
// Adjacent free extents are coalesced on Free.
type FreeList struct {
	mu   sync.Mutex
	free []extent
	used map[uint64]uint64
}

// NewFreeList returns a FreeList managing [base, limit).
func NewFreeList(base, limit uint64) *FreeList {
	fl := &FreeList{used: make(map[uint64]uint64)}
	if limit > base {
		fl.free = []extent{{off: base, size: limit - base}}
	}
	return fl
}

// Alloc returns the offset of size bytes aligned to alignMask.
func (fl *FreeList) Alloc(size, alignMask uint64) (uint64, error) {
	if size == 0 {
		size = 1
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	for i, e := range fl.free {
		start := (e.off + alignMask) &^ alignMask
		pad := start - e.off
		if pad+size > e.size {
			continue
		}
		rest := extent{off: start + size, size: e.size - pad - size}
		var repl []extent
		if pad > 0 {
			repl = append(repl, extent{off: e.off, size: pad})
		}
		if rest.size > 0 {
			repl = append(repl, rest)
		}
		fl.free = slices.Replace(fl.free, i, i+1, repl...)
		fl.used[start] = size
		return start, nil
	}
	return 0, newError(NoMoreSMB, "no extent for %d bytes", size)
}

// Free releases a range returned by Alloc.
func (fl *FreeList) Free(offset, size uint64) error {
	if size == 0 {
		size = 1
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if got, ok := fl.used[offset]; !ok || got != size {
		return newError(InternalProgrammingError1, "free of unallocated range [%d,+%d)", offset, size)
	}
	delete(fl.used, offset)
	i, _ := slices.BinarySearchFunc(fl.free, offset, func(e extent, off uint64) int {
		switch {
		case e.off < off:
			return -1
		case e.off > off:
			return 1
		}
		return 0
	})
	fl.free = slices.Insert(fl.free, i, extent{off: offset, size: size})
	if i+1 < len(fl.free) && fl.free[i].off+fl.free[i].size == fl.free[i+1].off {
		fl.free[i].size += fl.free[i+1].size
		fl.free = slices.Delete(fl.free, i+1, i+2)
	}
	if i > 0 && fl.free[i-1].off+fl.free[i-1].size == fl.free[i].off {
		fl.free[i-1].size += fl.free[i].size
		fl.free = slices.Delete(fl.free, i, i+1)
	}
	return nil
}

// Available returns the number of free bytes.
func (fl *FreeList) Available() uint64 {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	var n uint64
	for _, e := range fl.free {
		n += e.size
	}
	return n
}
