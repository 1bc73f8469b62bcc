// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"encoding/binary"
)

// State flag words.
const (
	stateSize  = 8
	stateEmpty = 0
	stateFull  = 1
)

// metaDataSize is the encoded size of MetaData.
const metaDataSize = 32

// MetaData flag bits.
const (
	flagBroadCast uint32 = 1 << iota
	flagEndOfStream
	flagEndOfCircuit
	flagEndOfWhole
)

// MetaData travels with every buffer.
type MetaData struct {
	Length       uint32
	OpCode       uint32
	Sequence     uint32
	SrcRank      uint32
	SrcTid       uint32
	BroadCast    bool
	EndOfStream  bool
	EndOfCircuit bool
	EndOfWhole   bool
}

func (m *MetaData) encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], m.Length)
	le.PutUint32(b[4:], m.OpCode)
	le.PutUint32(b[8:], m.Sequence)
	le.PutUint32(b[12:], m.SrcRank)
	le.PutUint32(b[16:], m.SrcTid)
	var f uint32
	if m.BroadCast {
		f |= flagBroadCast
	}
	if m.EndOfStream {
		f |= flagEndOfStream
	}
	if m.EndOfCircuit {
		f |= flagEndOfCircuit
	}
	if m.EndOfWhole {
		f |= flagEndOfWhole
	}
	le.PutUint32(b[20:], f)
}

func (m *MetaData) decode(b []byte) {
	le := binary.LittleEndian
	m.Length = le.Uint32(b[0:])
	m.OpCode = le.Uint32(b[4:])
	m.Sequence = le.Uint32(b[8:])
	m.SrcRank = le.Uint32(b[12:])
	m.SrcTid = le.Uint32(b[16:])
	f := le.Uint32(b[20:])
	m.BroadCast = f&flagBroadCast != 0
	m.EndOfStream = f&flagEndOfStream != 0
	m.EndOfCircuit = f&flagEndOfCircuit != 0
	m.EndOfWhole = f&flagEndOfWhole != 0
}

// Buffer is one slot of a port. Its payload, metadata and state flag live
// in shared memory; the fields here are local bookkeeping.
type Buffer struct {
	port  *Port
	tid   int
	inUse bool

	// zCopyPort is the output port this input buffer waits to be chained to.
	zCopyPort *Port
	// attachedZBuffer links an output buffer and the input buffer whose
	// storage it sends. Both sides always point at each other.
	attachedZBuffer *Buffer
	// zeroCopyFrom is the buffer whose storage this buffer currently aliases.
	zeroCopyFrom *Buffer

	// private is the state word of a buffer whose flag has no shared
	// location yet.
	private uint64
}

// Port returns the owning port.
func (b *Buffer) Port() *Port { return b.port }

// Tid returns the buffer index within its port.
func (b *Buffer) Tid() int { return b.tid }

// Output reports whether the buffer belongs to an output port.
func (b *Buffer) Output() bool { return b.port.Output() }

// InUse reports whether the buffer is held by the application.
func (b *Buffer) InUse() bool { return b.inUse }

// SetInUse marks the buffer held or released by the application.
func (b *Buffer) SetInUse(v bool) { b.inUse = v }

// ZCopyPort returns the output port this buffer is queued for, if any.
func (b *Buffer) ZCopyPort() *Port { return b.zCopyPort }

// AttachedZBuffer returns the buffer linked by zero-copy chaining, if any.
func (b *Buffer) AttachedZBuffer() *Buffer { return b.attachedZBuffer }

func (b *Buffer) stateWord() (Segment, uint64, bool) {
	return b.port.stateLocation(b.tid)
}

// IsEmpty reports whether the state flag is empty.
func (b *Buffer) IsEmpty() bool {
	seg, off, ok := b.stateWord()
	if !ok {
		return b.private == stateEmpty
	}
	w, err := loadWord(seg, off)
	return err == nil && w == stateEmpty
}

// MarkBufferFull sets the state flag.
func (b *Buffer) MarkBufferFull() { b.setState(stateFull) }

// MarkBufferEmpty clears the state flag.
func (b *Buffer) MarkBufferEmpty() { b.setState(stateEmpty) }

func (b *Buffer) setState(v uint64) {
	seg, off, ok := b.stateWord()
	if !ok {
		b.private = v
		return
	}
	if err := storeWord(seg, off, v); err != nil {
		b.private = v
	}
}

// startOffset is the payload offset in the real segment.
func (b *Buffer) startOffset() uint64 {
	return b.port.offsets.get(b.tid, fieldBuffer)
}

// Data maps the payload. It returns nil when the payload is not addressable
// from this process.
func (b *Buffer) Data() []byte {
	off := b.startOffset()
	if off == 0 || b.port.real == nil {
		return nil
	}
	d, err := b.port.real.Map(off, uint64(b.port.set.BufferLength()))
	if err != nil {
		return nil
	}
	return d
}

func (b *Buffer) metaData() []byte {
	off := b.port.offsets.get(b.tid, fieldMetaData)
	if off == 0 || b.port.real == nil {
		return nil
	}
	d, err := b.port.real.Map(off, metaDataSize)
	if err != nil {
		return nil
	}
	return d
}

// MetaData returns the buffer metadata.
func (b *Buffer) MetaData() MetaData {
	var m MetaData
	if d := b.metaData(); d != nil {
		wordLock.RLock()
		m.decode(d)
		wordLock.RUnlock()
	}
	return m
}

// SetMetaData writes the buffer metadata.
func (b *Buffer) SetMetaData(m MetaData) {
	if d := b.metaData(); d != nil {
		wordLock.Lock()
		m.encode(d)
		wordLock.Unlock()
	}
}

// Length returns the payload length recorded in the metadata.
func (b *Buffer) Length() uint32 { return b.MetaData().Length }

// setMetaDataWord copies the length and opcode of src.
func (b *Buffer) setMetaDataWord(src *Buffer) {
	sm := src.MetaData()
	m := b.MetaData()
	m.Length, m.OpCode = sm.Length, sm.OpCode
	b.SetMetaData(m)
}

// attachZ links b and other as a zero-copy pair.
func (b *Buffer) attachZ(other *Buffer) {
	b.attachedZBuffer = other
	other.attachedZBuffer = b
}

// detachZ unlinks b and its partner.
func (b *Buffer) detachZ() {
	if o := b.attachedZBuffer; o != nil {
		o.attachedZBuffer = nil
	}
	b.attachedZBuffer = nil
}
