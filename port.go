// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"slices"

	"github.com/charmbracelet/log"
)

// ExternalState tracks a port whose peer lives in another circuit.
type ExternalState uint8

const (
	NotExternal ExternalState = iota
	WaitingForUpdate
	WaitingForShadowBuffer
	DefinitionComplete
)

// portSetControlSize is the size of a port set's control block.
const portSetControlSize = 64

type allocation struct {
	res       *Resources
	off, size uint64
}

func (a allocation) free() error {
	return a.res.Alloc.Free(a.off, a.size)
}

// Port is one endpoint of a circuit. A real port owns its buffers in a
// local endpoint segment; a shadow port stands in for a port whose buffers
// live elsewhere and keeps just enough local state to drive transfers.
type Port struct {
	md     *PortMetaData
	set    *PortSet
	logger *log.Logger

	initialized bool
	shadow      bool
	real        *Resources
	shadowRes   *Resources
	local       *Resources
	mailbox     uint32

	offsetsOffset uint64
	offsets       offsetsView
	allocs        []allocation

	buffers        []*Buffer
	externalState  ExternalState
	sequence       uint32
	lastBufferOrd  int
	lastTidHandled int
	eos            bool

	pull    *PullDriver
	pullTid int
	pending *exchange
}

func newPort(set *PortSet, md *PortMetaData) (*Port, error) {
	p := &Port{
		md:            md,
		set:           set,
		logger:        set.circuit.logger.With("port", md.ID),
		lastBufferOrd: -1,
	}
	if md.RealLocation != "" {
		if err := p.initialize(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ID returns the port ordinal.
func (p *Port) ID() int { return p.md.ID }

// MetaData returns the port description.
func (p *Port) MetaData() *PortMetaData { return p.md }

// PortSet returns the owning set.
func (p *Port) PortSet() *PortSet { return p.set }

// Circuit returns the owning circuit.
func (p *Port) Circuit() *Circuit { return p.set.circuit }

// Output reports whether this is an output port.
func (p *Port) Output() bool { return p.md.Output }

// IsShadow reports whether the port's real location is remote.
func (p *Port) IsShadow() bool { return p.shadow }

// Initialized reports whether resources have been bound.
func (p *Port) Initialized() bool { return p.initialized }

// Mailbox returns the mailbox id of the port's local endpoint.
func (p *Port) Mailbox() uint32 { return p.mailbox }

// ExternalState returns the external connection state.
func (p *Port) ExternalState() ExternalState { return p.externalState }

// SetExternalState sets the external connection state.
func (p *Port) SetExternalState(s ExternalState) { p.externalState = s }

// BufferCount returns the number of buffers.
func (p *Port) BufferCount() int { return p.set.BufferCount() }

// Buffer returns buffer tid, or nil when out of range.
func (p *Port) Buffer(tid int) *Buffer {
	if tid < 0 || tid >= len(p.buffers) {
		return nil
	}
	return p.buffers[tid]
}

// Offsets returns a snapshot of buffer tid's offsets.
func (p *Port) Offsets(tid int) BufferOffsets {
	if !p.initialized {
		return BufferOffsets{}
	}
	return p.offsets.load(tid)
}

// IsEOS reports whether an end-of-stream buffer has been received.
func (p *Port) IsEOS() bool { return p.eos }

// ResetEOS clears the end-of-stream indication.
func (p *Port) ResetEOS() { p.eos = false }

// AttachPullDriver makes the port pull from a passive peer.
func (p *Port) AttachPullDriver(pd *PullDriver) { p.pull = pd }

// PullDriver returns the attached pull driver, if any.
func (p *Port) PullDriver() *PullDriver { return p.pull }

func (p *Port) transport() *Transport { return p.set.circuit.transport }

// stateLocation resolves where buffer tid's state flag lives.
func (p *Port) stateLocation(tid int) (Segment, uint64, bool) {
	if !p.initialized {
		return nil, 0, false
	}
	var res *Resources
	var off uint64
	switch {
	case p.shadow && !p.Output():
		res, off = p.local, p.offsets.get(tid, fieldShadowState(p.mailbox))
	default:
		res, off = p.real, p.offsets.get(tid, fieldLocalState)
	}
	if off == 0 {
		return nil, 0, false
	}
	return res.Segment, off, true
}

// initialize binds endpoint resources, allocates the offsets region and
// creates the buffers. Calling it again is a no-op.
func (p *Port) initialize() error {
	if p.initialized {
		return nil
	}
	t := p.transport()
	realRes, err := t.registry.Resolve(p.md.RealLocation)
	if err != nil {
		return wrapError(UnsupportedEndpoint, err, "port %d real location", p.md.ID)
	}
	shadowRes := realRes
	if p.md.ShadowLocation != "" {
		if shadowRes, err = t.registry.Resolve(p.md.ShadowLocation); err != nil {
			return wrapError(UnsupportedEndpoint, err, "port %d shadow location", p.md.ID)
		}
	}
	p.real, p.shadowRes = realRes, shadowRes
	p.shadow = !t.IsLocalEndpoint(p.md.RealLocation)
	p.local = realRes
	if p.shadow {
		p.local = shadowRes
	}
	n := p.BufferCount()
	size := offsetsRecordSize * uint64(n)
	off, err := p.local.Alloc.Alloc(size, bufAlignment)
	if err != nil {
		return wrapError(NoMoreSMB, err, "offsets region of port %d", p.md.ID)
	}
	p.offsetsOffset = off
	p.offsets = offsetsView{res: p.local, base: off, n: n}
	p.mailbox = p.local.Endpoint.Mailbox
	for i := range n {
		var staged BufferOffsets
		if i < len(p.md.BufferData) {
			staged = p.md.BufferData[i]
		}
		if err = p.offsets.store(i, &staged); err != nil {
			break
		}
	}
	if err == nil {
		err = p.createBuffers()
	}
	if err != nil {
		p.local.Alloc.Free(off, size)
		p.offsets = offsetsView{}
		p.offsetsOffset = 0
		return err
	}
	p.initialized = true
	p.logger.Debug("port initialized", "shadow", p.shadow, "endpoint", p.local.Endpoint)
	return nil
}

func (p *Port) createBuffers() error {
	var err error
	if p.Output() {
		err = p.createOutputOffsets()
	} else {
		err = p.createInputOffsets()
	}
	if err != nil {
		return err
	}
	p.buffers = make([]*Buffer, p.BufferCount())
	for i := range p.buffers {
		p.buffers[i] = &Buffer{port: p, tid: i}
	}
	return nil
}

// allocator is a scoped sequence of allocations that unwinds on failure.
type allocator struct {
	res  *Resources
	done []allocation
}

func (a *allocator) alloc(size uint64) (uint64, error) {
	off, err := a.res.Alloc.Alloc(size, bufAlignment)
	if err != nil {
		return 0, err
	}
	if b, err := a.res.Map(off, size); err == nil {
		clear(b)
	}
	a.done = append(a.done, allocation{res: a.res, off: off, size: size})
	return off, nil
}

func (a *allocator) unwind() {
	for _, x := range slices.Backward(a.done) {
		x.free()
	}
	a.done = nil
}

// createOutputOffsets allocates payload, state and metadata arrays for a
// local output port. Offsets are published only once every allocation
// succeeded.
func (p *Port) createOutputOffsets() error {
	if p.shadow {
		return nil
	}
	n := uint64(p.BufferCount())
	blen := uint64(p.set.BufferLength())
	a := &allocator{res: p.real}
	bufs, err := a.alloc(blen * n)
	if err != nil {
		return wrapError(NoMoreBufferAvailable, err, "output buffers of port %d", p.md.ID)
	}
	states, err := a.alloc(stateSize * MaxPContribs * n)
	if err != nil {
		a.unwind()
		return wrapError(NoMoreBufferAvailable, err, "output state of port %d", p.md.ID)
	}
	metas, err := a.alloc(metaDataSize * MaxPContribs * n)
	if err != nil {
		a.unwind()
		return wrapError(NoMoreBufferAvailable, err, "output metadata of port %d", p.md.ID)
	}
	ctl := p.set.controlOffset
	if ctl == 0 {
		if ctl, err = a.alloc(portSetControlSize); err != nil {
			a.unwind()
			return wrapError(NoMoreBufferAvailable, err, "port set control of port %d", p.md.ID)
		}
		p.set.controlOffset = ctl
	}
	for i := range n {
		o := p.offsets.load(int(i))
		o.BufferOffset = bufs + i*blen
		o.BufferSize = blen
		o.LocalStateOffset = states + i*stateSize*MaxPContribs
		o.MetaDataOffset = metas + i*metaDataSize*MaxPContribs
		o.PortSetControlOffset = ctl
		if err := p.offsets.store(int(i), &o); err != nil {
			a.unwind()
			return err
		}
	}
	p.allocs = append(p.allocs, a.done...)
	return nil
}

// createInputOffsets allocates payload, metadata and double-buffered state
// for a local input port, or the producer-side shadow state for a remote one.
func (p *Port) createInputOffsets() error {
	n := uint64(p.BufferCount())
	if p.shadow {
		a := &allocator{res: p.local}
		soff, err := a.alloc(stateSize * n)
		if err != nil {
			return wrapError(NoMoreBufferAvailable, err, "shadow state of port %d", p.md.ID)
		}
		d := &p.md.ShadowPortDescriptor
		d.Type = ConsumerFlowControlDescT
		d.Desc.NBuffers = uint32(n)
		d.Desc.EmptyFlagBaseAddr = soff
		d.Desc.EmptyFlagSize = stateSize
		d.Desc.EmptyFlagPitch = stateSize
		d.Desc.EmptyFlagValue = stateEmpty
		d.Desc.OOB.Endpoint = p.local.Endpoint.String()
		d.Desc.OOB.PortID = uint64(p.md.ID)
		for i := range n {
			if err := p.offsets.set(int(i), fieldShadowState(p.mailbox), soff+i*stateSize); err != nil {
				a.unwind()
				return err
			}
		}
		p.allocs = append(p.allocs, a.done...)
		return nil
	}
	blen := uint64(p.set.BufferLength())
	a := &allocator{res: p.real}
	bufs, err := a.alloc(blen * n)
	if err != nil {
		return wrapError(NoMoreBufferAvailable, err, "input buffers of port %d", p.md.ID)
	}
	metas, err := a.alloc(metaDataSize * MaxPContribs * n)
	if err != nil {
		a.unwind()
		return wrapError(NoMoreBufferAvailable, err, "input metadata of port %d", p.md.ID)
	}
	states, err := a.alloc(2 * stateSize * MaxPContribs * n)
	if err != nil {
		a.unwind()
		return wrapError(NoMoreBufferAvailable, err, "input state of port %d", p.md.ID)
	}
	for i := range n {
		o := p.offsets.load(int(i))
		o.BufferOffset = bufs + i*blen
		o.BufferSize = blen
		o.MetaDataOffset = metas + i*metaDataSize*MaxPContribs
		o.LocalStateOffset = states + i*2*stateSize*MaxPContribs
		if err := p.offsets.store(int(i), &o); err != nil {
			a.unwind()
			return err
		}
	}
	p.allocs = append(p.allocs, a.done...)
	return nil
}

// release frees every allocation and the offsets region.
func (p *Port) release() {
	if p.pending != nil {
		p.pending.discard()
		p.pending = nil
	}
	if !p.initialized {
		return
	}
	for _, a := range slices.Backward(p.allocs) {
		if err := a.free(); err != nil {
			p.logger.Warn("free", "err", err)
		}
	}
	p.allocs = nil
	p.local.Alloc.Free(p.offsetsOffset, offsetsRecordSize*uint64(p.BufferCount()))
	p.offsets = offsetsView{}
	p.offsetsOffset = 0
	p.buffers = nil
	p.initialized = false
}

// Reset clears local bookkeeping so the port can be renegotiated.
func (p *Port) Reset() {
	if p.pending != nil {
		p.pending.discard()
		p.pending = nil
	}
	p.sequence = 0
	p.lastBufferOrd = -1
	p.lastTidHandled = 0
	p.pullTid = 0
	p.eos = false
	for _, b := range p.buffers {
		b.inUse = false
		b.zCopyPort = nil
		b.zeroCopyFrom = nil
		b.detachZ()
		if !p.shadow || !p.Output() {
			b.MarkBufferEmpty()
		}
	}
}

// SupportsZeroCopy reports whether buffers of p can be sent by other
// without copying: both must be real ports in the same segment.
func (p *Port) SupportsZeroCopy(other *Port) bool {
	return p.initialized && other.initialized && !p.shadow && !other.shadow && p.real == other.real
}

func (p *Port) controller() TransferController {
	return p.set.Controller()
}

// HasFullInputBuffer reports whether an input buffer is ready for the
// application, returning it without taking ownership.
func (p *Port) HasFullInputBuffer() (bool, *Buffer) {
	c := p.Circuit()
	if c.IsCircuitOpen() || p.controller() == nil {
		return false, nil
	}
	if p.pull != nil {
		p.pullInto()
	}
	ok, b := p.controller().HasFullInputBuffer(p)
	if ok && b.MetaData().EndOfStream {
		p.eos = true
	}
	return ok, b
}

func (p *Port) pullInto() {
	next := p.Buffer(p.pullTid)
	if next == nil || !next.IsEmpty() || next.inUse {
		return
	}
	d := next.Data()
	if d == nil {
		return
	}
	md, ok, err := p.pull.Pull(d)
	if err != nil {
		p.logger.Warn("pull", "err", err)
		return
	}
	if !ok {
		return
	}
	md.SrcTid = uint32(next.tid)
	next.SetMetaData(md)
	next.MarkBufferFull()
	p.pullTid = (p.pullTid + 1) % p.BufferCount()
}

// NextFullInputBuffer takes ownership of the next full input buffer.
func (p *Port) NextFullInputBuffer() *Buffer {
	if ok, _ := p.HasFullInputBuffer(); !ok {
		return nil
	}
	return p.controller().NextFullInputBuffer(p)
}

// HasEmptyOutputBuffer reports whether an output buffer can be filled.
func (p *Port) HasEmptyOutputBuffer() bool {
	if p.Circuit().IsCircuitOpen() || p.controller() == nil {
		return false
	}
	return p.controller().HasEmptyOutputBuffer(p)
}

// NextEmptyOutputBuffer takes ownership of the next empty output buffer.
// A buffer still chained to an input buffer is unchained first and the
// input buffer released.
func (p *Port) NextEmptyOutputBuffer() (*Buffer, error) {
	if p.Circuit().IsCircuitOpen() || p.controller() == nil {
		return nil, nil
	}
	b := p.controller().NextEmptyOutputBuffer(p)
	if b == nil {
		return nil, nil
	}
	m := b.MetaData()
	m.Sequence = p.sequence
	m.BroadCast = false
	b.SetMetaData(m)
	p.sequence++
	if in := b.attachedZBuffer; in != nil {
		p.Circuit().modifyOutputOffsets(b, in, true)
		in.zCopyPort = nil
		b.detachZ()
		if err := in.port.InputAvailable(in); err != nil {
			return b, err
		}
	}
	return b, nil
}

// InputAvailable returns an input buffer to the producer.
func (p *Port) InputAvailable(b *Buffer) error {
	ctl := b.port.controller()
	if ctl == nil {
		return newError(InternalProgrammingError1, "port %d has no controller", b.port.md.ID)
	}
	b.inUse = false
	next, err := ctl.Consume(b)
	if err != nil {
		return err
	}
	if next != nil && !next.Output() {
		return next.port.InputAvailable(next)
	}
	return nil
}

// SendOutputBuffer publishes b with length bytes and opcode. The transfer
// starts now when flow control allows, or is queued behind earlier ones.
func (p *Port) SendOutputBuffer(b *Buffer, length, opcode uint32, eos bool) error {
	m := b.MetaData()
	m.Length = length
	m.OpCode = opcode
	m.EndOfStream = eos
	m.SrcRank = uint32(p.md.Rank)
	m.SrcTid = uint32(b.tid)
	b.SetMetaData(m)
	c := p.Circuit()
	if c.CanTransferBuffer(b, false) {
		return c.StartBufferTransfer(b)
	}
	c.QueTransfer(b, false)
	return nil
}

// SendZcopyInputBuffer sends input buffer in through this output port
// without copying the payload.
func (p *Port) SendZcopyInputBuffer(in *Buffer, length, opcode uint32) error {
	m := in.MetaData()
	m.Length = length
	m.OpCode = opcode
	in.SetMetaData(m)
	return p.Circuit().SendZcopyInputBuffer(p, in, length)
}

// Advance sends an output buffer or releases an input buffer.
func (p *Port) Advance(b *Buffer, length uint32) error {
	if p.Output() {
		return p.SendOutputBuffer(b, length, b.MetaData().OpCode, false)
	}
	return p.InputAvailable(b)
}
