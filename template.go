// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// TemplateKey addresses a precomputed transfer: output port and buffer,
// input port and buffer, whether it is the broadcast variant, and whether
// it is the consumer-side (input) half.
type TemplateKey struct {
	OutPort   int
	OutTid    int
	InPort    int
	InTid     int
	BroadCast bool
	Input     bool
}

type stepKind uint8

const (
	stepCopy stepKind = iota
	stepFlag
	stepMetaPart
)

type transferStep struct {
	kind   stepKind
	src    *Resources
	srcOff uint64
	dst    *Resources
	dstOff uint64
	size   uint64
	value  uint64
	// part and parts split a metadata length for block partitions.
	part, parts uint64
	payload     bool
}

// TransferTemplate is an ordered list of copies and flag writes that moves
// one buffer. Steps run in order: payload and metadata before the flag that
// publishes them.
type TransferTemplate struct {
	steps []transferStep
	// base is the current payload source offset; payload steps are
	// relative to it.
	base    uint64
	srcRes  *Resources
	hasBase bool
}

func (t *TransferTemplate) addPayload(src *Resources, srcOff uint64, dst *Resources, dstOff, size uint64) {
	if !t.hasBase {
		t.base, t.srcRes, t.hasBase = srcOff, src, true
	}
	t.steps = append(t.steps, transferStep{kind: stepCopy, src: src, srcOff: srcOff, dst: dst, dstOff: dstOff, size: size, payload: true})
}

func (t *TransferTemplate) addCopy(src *Resources, srcOff uint64, dst *Resources, dstOff, size uint64) {
	t.steps = append(t.steps, transferStep{kind: stepCopy, src: src, srcOff: srcOff, dst: dst, dstOff: dstOff, size: size})
}

func (t *TransferTemplate) addMetaPart(src *Resources, srcOff uint64, dst *Resources, dstOff, part, parts, blen uint64) {
	t.steps = append(t.steps, transferStep{kind: stepMetaPart, src: src, srcOff: srcOff, dst: dst, dstOff: dstOff, size: blen, part: part, parts: parts})
}

func (t *TransferTemplate) addFlag(dst *Resources, dstOff, value uint64) {
	t.steps = append(t.steps, transferStep{kind: stepFlag, dst: dst, dstOff: dstOff, value: value})
}

// Len returns the number of steps.
func (t *TransferTemplate) Len() int { return len(t.steps) }

// Produce runs every step.
func (t *TransferTemplate) Produce() error {
	for i := range t.steps {
		if err := t.steps[i].run(); err != nil {
			return err
		}
	}
	return nil
}

// Modify moves the payload source to off in res and returns the previous
// source offset.
func (t *TransferTemplate) Modify(res *Resources, off uint64) uint64 {
	old := t.base
	if !t.hasBase {
		return old
	}
	for i := range t.steps {
		s := &t.steps[i]
		if s.payload {
			s.srcOff = off + (s.srcOff - old)
			s.src = res
		}
	}
	t.base, t.srcRes = off, res
	return old
}

func (s *transferStep) run() error {
	switch s.kind {
	case stepFlag:
		return storeWord(s.dst.Segment, s.dstOff, s.value)
	case stepMetaPart:
		b, err := s.src.Map(s.srcOff, metaDataSize)
		if err != nil {
			return err
		}
		var m MetaData
		wordLock.RLock()
		m.decode(b)
		wordLock.RUnlock()
		m.Length = partLength(uint64(m.Length), s.size, s.part, s.parts)
		d, err := s.dst.Map(s.dstOff, metaDataSize)
		if err != nil {
			return err
		}
		wordLock.Lock()
		m.encode(d)
		wordLock.Unlock()
		return nil
	}
	return copySegment(s.dst.Segment, s.dstOff, s.src.Segment, s.srcOff, s.size)
}

// partSize is the stride of block partition k of parts over blen bytes.
func partSize(blen, parts uint64) uint64 {
	return blen / parts
}

// partLength is how many of total bytes fall in partition k; the last
// partition takes the remainder.
func partLength(total, blen, k, parts uint64) uint32 {
	ps := partSize(blen, parts)
	start := k * ps
	if start >= total {
		return 0
	}
	n := total - start
	if k+1 < parts && n > ps {
		n = ps
	}
	return uint32(n)
}
