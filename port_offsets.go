// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// BufferOffsets locates one buffer's storage. An offset of zero means
// "not yet known": allocators never hand out offset zero.
type BufferOffsets struct {
	BufferOffset         uint64
	BufferSize           uint64
	LocalStateOffset     uint64
	MetaDataOffset       uint64
	PortSetControlOffset uint64
	ProtocolOffset       uint64
	ProtocolSize         uint64
	// ShadowsRemoteStateOffsets[m] is where the producer owning mailbox m
	// keeps its shadow copy of this buffer's state.
	ShadowsRemoteStateOffsets [MaxPContribs]uint64
}

type offsetField int

const (
	fieldBuffer offsetField = iota
	fieldBufferSize
	fieldLocalState
	fieldMetaData
	fieldPortSetControl
	fieldProtocolOffset
	fieldProtocolSize
	fieldShadowState0
)

func fieldShadowState(mailbox uint32) offsetField {
	return fieldShadowState0 + offsetField(mailbox)
}

// offsetsRecordSize is the encoded size of one BufferOffsets.
const offsetsRecordSize = 8 * (uint64(fieldShadowState0) + MaxPContribs)

// offsetsView is a port's BufferOffsets array living in shared memory, so
// responders can fill it in place.
type offsetsView struct {
	res  *Resources
	base uint64
	n    int
}

func (v offsetsView) addr(buf int, f offsetField) uint64 {
	return v.base + uint64(buf)*offsetsRecordSize + uint64(f)*8
}

func (v offsetsView) get(buf int, f offsetField) uint64 {
	if v.res == nil {
		return 0
	}
	w, err := loadWord(v.res.Segment, v.addr(buf, f))
	if err != nil {
		return 0
	}
	return w
}

func (v offsetsView) set(buf int, f offsetField, x uint64) error {
	return storeWord(v.res.Segment, v.addr(buf, f), x)
}

func (v offsetsView) load(buf int) BufferOffsets {
	o := BufferOffsets{
		BufferOffset:         v.get(buf, fieldBuffer),
		BufferSize:           v.get(buf, fieldBufferSize),
		LocalStateOffset:     v.get(buf, fieldLocalState),
		MetaDataOffset:       v.get(buf, fieldMetaData),
		PortSetControlOffset: v.get(buf, fieldPortSetControl),
		ProtocolOffset:       v.get(buf, fieldProtocolOffset),
		ProtocolSize:         v.get(buf, fieldProtocolSize),
	}
	for m := range o.ShadowsRemoteStateOffsets {
		o.ShadowsRemoteStateOffsets[m] = v.get(buf, fieldShadowState(uint32(m)))
	}
	return o
}

func (v offsetsView) store(buf int, o *BufferOffsets) error {
	vals := [...]uint64{
		fieldBuffer:         o.BufferOffset,
		fieldBufferSize:     o.BufferSize,
		fieldLocalState:     o.LocalStateOffset,
		fieldMetaData:       o.MetaDataOffset,
		fieldPortSetControl: o.PortSetControlOffset,
		fieldProtocolOffset: o.ProtocolOffset,
		fieldProtocolSize:   o.ProtocolSize,
	}
	for f, x := range vals {
		if err := v.set(buf, offsetField(f), x); err != nil {
			return err
		}
	}
	for m, x := range o.ShadowsRemoteStateOffsets {
		if err := v.set(buf, fieldShadowState(uint32(m)), x); err != nil {
			return err
		}
	}
	return nil
}

// copyFields writes fields of every buffer from v into the same positions
// of the offsets array at dst in res.
func (v offsetsView) copyFields(res *Resources, dst uint64, fields ...offsetField) error {
	out := offsetsView{res: res, base: dst, n: v.n}
	for buf := range v.n {
		for _, f := range fields {
			if err := out.set(buf, f, v.get(buf, f)); err != nil {
				return err
			}
		}
	}
	return nil
}
