// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"encoding/binary"
)

// DescType is the kind of an RDT descriptor.
type DescType uint32

const (
	ProducerDescT DescType = iota
	ConsumerDescT
	ConsumerFlowControlDescT
)

// Role is the data-movement role a port plays in a connection.
type Role uint32

const (
	ActiveMessage Role = iota
	ActiveFlowControl
	ActiveOnly
	NoRole
	MaxRole
)

// Passive is the peer view of ActiveOnly: the other side does all movement.
const Passive = ActiveOnly

// MandatedRole is the option bit that pins a port to its role.
const MandatedRole uint32 = 1 << 31

func (r Role) String() string {
	switch r {
	case ActiveMessage:
		return "active-message"
	case ActiveFlowControl:
		return "active-flow-control"
	case ActiveOnly:
		return "active-only"
	case NoRole:
		return "no-role"
	}
	return "invalid-role"
}

// OOB is the out-of-band part of a descriptor.
type OOB struct {
	Endpoint string
	PortID   uint64
	Cookie   uint64
}

// Desc is the address description of a port's buffers in its endpoint
// segment.
type Desc struct {
	NBuffers           uint32
	DataBufferBaseAddr uint64
	DataBufferPitch    uint32
	DataBufferSize     uint32
	MetaDataBaseAddr   uint64
	MetaDataPitch      uint32
	FullFlagBaseAddr   uint64
	FullFlagSize       uint32
	FullFlagPitch      uint32
	FullFlagValue      uint64
	EmptyFlagBaseAddr  uint64
	EmptyFlagSize      uint32
	EmptyFlagPitch     uint32
	EmptyFlagValue     uint64
	OOB                OOB
}

// Descriptors is the RDT descriptor exchanged by ports at finalize.
type Descriptors struct {
	Type    DescType
	Role    Role
	Options uint32
	Desc    Desc
}

// DescriptorSize is the wire size of Descriptors.
const DescriptorSize = 112 + urlSize

// MarshalBinary encodes d in the fixed little-endian wire layout.
func (d *Descriptors) MarshalBinary() ([]byte, error) {
	if len(d.Desc.OOB.Endpoint) > maxEndpointLen {
		return nil, newError(BadDescriptor, "oep %q exceeds %d bytes", d.Desc.OOB.Endpoint, maxEndpointLen)
	}
	b := make([]byte, DescriptorSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(d.Type))
	le.PutUint32(b[4:], uint32(d.Role))
	le.PutUint32(b[8:], d.Options)
	x := &d.Desc
	le.PutUint32(b[12:], x.NBuffers)
	le.PutUint64(b[16:], x.DataBufferBaseAddr)
	le.PutUint32(b[24:], x.DataBufferPitch)
	le.PutUint32(b[28:], x.DataBufferSize)
	le.PutUint64(b[32:], x.MetaDataBaseAddr)
	le.PutUint32(b[40:], x.MetaDataPitch)
	le.PutUint32(b[44:], x.FullFlagSize)
	le.PutUint64(b[48:], x.FullFlagBaseAddr)
	le.PutUint32(b[56:], x.FullFlagPitch)
	le.PutUint32(b[60:], x.EmptyFlagSize)
	le.PutUint64(b[64:], x.FullFlagValue)
	le.PutUint64(b[72:], x.EmptyFlagBaseAddr)
	le.PutUint32(b[80:], x.EmptyFlagPitch)
	le.PutUint64(b[88:], x.EmptyFlagValue)
	le.PutUint64(b[96:], x.OOB.PortID)
	le.PutUint64(b[104:], x.OOB.Cookie)
	putString(b[112:112+urlSize], x.OOB.Endpoint)
	return b, nil
}

// UnmarshalBinary decodes the wire layout written by MarshalBinary.
func (d *Descriptors) UnmarshalBinary(b []byte) error {
	if len(b) < DescriptorSize {
		return newError(BadDescriptor, "%d bytes, want %d", len(b), DescriptorSize)
	}
	le := binary.LittleEndian
	d.Type = DescType(le.Uint32(b[0:]))
	d.Role = Role(le.Uint32(b[4:]))
	if d.Role >= MaxRole {
		return newError(BadDescriptor, "role %d", d.Role)
	}
	d.Options = le.Uint32(b[8:])
	x := &d.Desc
	x.NBuffers = le.Uint32(b[12:])
	x.DataBufferBaseAddr = le.Uint64(b[16:])
	x.DataBufferPitch = le.Uint32(b[24:])
	x.DataBufferSize = le.Uint32(b[28:])
	x.MetaDataBaseAddr = le.Uint64(b[32:])
	x.MetaDataPitch = le.Uint32(b[40:])
	x.FullFlagSize = le.Uint32(b[44:])
	x.FullFlagBaseAddr = le.Uint64(b[48:])
	x.FullFlagPitch = le.Uint32(b[56:])
	x.EmptyFlagSize = le.Uint32(b[60:])
	x.FullFlagValue = le.Uint64(b[64:])
	x.EmptyFlagBaseAddr = le.Uint64(b[72:])
	x.EmptyFlagPitch = le.Uint32(b[80:])
	x.EmptyFlagValue = le.Uint64(b[88:])
	x.OOB.PortID = le.Uint64(b[96:])
	x.OOB.Cookie = le.Uint64(b[104:])
	x.OOB.Endpoint = getString(b[112 : 112+urlSize])
	return nil
}
