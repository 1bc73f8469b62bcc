// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"encoding/binary"
	"sync"
)

// Segment is a mappable shared-memory region backing one endpoint.
type Segment interface {
	// Map returns a view of size bytes at offset. The view aliases the
	// segment: writes through it are visible to every mapper.
	Map(offset, size uint64) ([]byte, error)
	Size() uint64
	Close() error
}

// heapSegment is the ocpi-smb-pio segment: plain memory shared by every
// Transport resolving the endpoint through the same Registry.
type heapSegment struct {
	mem []byte
}

func newHeapSegment(size uint64) *heapSegment {
	return &heapSegment{mem: make([]byte, size)}
}

func (s *heapSegment) Map(offset, size uint64) ([]byte, error) {
	return mapRange(s.mem, offset, size)
}

func (s *heapSegment) Size() uint64 { return uint64(len(s.mem)) }

func (s *heapSegment) Close() error { return nil }

func mapRange(mem []byte, offset, size uint64) ([]byte, error) {
	end := offset + size
	if end < offset || end > uint64(len(mem)) {
		return nil, newError(SegmentRange, "[%d,%d) past %d", offset, end, len(mem))
	}
	return mem[offset:end:end], nil
}

// wordLock serializes word access to segments shared between transports
// driven from different goroutines.
var wordLock sync.RWMutex

func loadWord(seg Segment, offset uint64) (uint64, error) {
	b, err := seg.Map(offset, 8)
	if err != nil {
		return 0, err
	}
	wordLock.RLock()
	v := binary.LittleEndian.Uint64(b)
	wordLock.RUnlock()
	return v, nil
}

func storeWord(seg Segment, offset, v uint64) error {
	b, err := seg.Map(offset, 8)
	if err != nil {
		return err
	}
	wordLock.Lock()
	binary.LittleEndian.PutUint64(b, v)
	wordLock.Unlock()
	return nil
}

func copySegment(dst Segment, dstOff uint64, src Segment, srcOff, size uint64) error {
	if size == 0 {
		return nil
	}
	s, err := src.Map(srcOff, size)
	if err != nil {
		return err
	}
	d, err := dst.Map(dstOff, size)
	if err != nil {
		return err
	}
	wordLock.Lock()
	copy(d, s)
	wordLock.Unlock()
	return nil
}
