// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// Limits of the buffer layout.
const (
	// MaxPContribs bounds mailbox ids, port ids and the per-buffer
	// contributor slots in state and metadata arrays.
	MaxPContribs = 16
	// MaxBuffers bounds the buffer count of a port set.
	MaxBuffers = 64
)

// Distribution is how a port set spreads buffers over its ports.
type Distribution uint8

const (
	Parallel Distribution = iota
	Sequential
)

func (d Distribution) String() string {
	if d == Sequential {
		return "sequential"
	}
	return "parallel"
}

// Partition is how one buffer is divided among receiving ports.
type Partition uint8

const (
	Indivisible Partition = iota
	Block
)

func (p Partition) String() string {
	if p == Block {
		return "block"
	}
	return "indivisible"
}

// PortMetaData describes one port of a circuit.
type PortMetaData struct {
	// ID is the port ordinal, unique within the circuit and below MaxPContribs.
	ID     int
	Output bool
	Rank   int

	RealLocation   string
	ShadowLocation string

	// Descriptor is this port's RDT descriptor, used for role selection.
	Descriptor Descriptors
	// ShadowPortDescriptor is the flow-control descriptor of a shadow input.
	ShadowPortDescriptor Descriptors
	// ExternPortDependencyData is the peer descriptor received at finalize.
	ExternPortDependencyData Descriptors

	RemoteCircuitID CircuitID
	RemotePortID    int

	// BufferData holds offsets staged before the port is initialized;
	// initialize copies them into the port's offsets region.
	BufferData []BufferOffsets

	set *PortSetMetaData
}

// NewPortMetaData returns metadata for port id located at real, shadowed at
// shadow when real is remote.
func NewPortMetaData(id int, output bool, real, shadow string) *PortMetaData {
	role := ActiveFlowControl
	if output {
		role = ActiveMessage
	}
	return &PortMetaData{
		ID:             id,
		Output:         output,
		RealLocation:   real,
		ShadowLocation: shadow,
		Descriptor:     Descriptors{Role: role},
		RemotePortID:   -1,
	}
}

// PortSet returns the set this port belongs to.
func (p *PortMetaData) PortSet() *PortSetMetaData { return p.set }

// PortSetMetaData describes a port set.
type PortSetMetaData struct {
	ID           int
	Output       bool
	Distribution Distribution
	Partition    Partition
	BufferCount  int
	BufferLength uint32
	Ports        []*PortMetaData
}

// NewPortSetMetaData returns an empty port set description.
func NewPortSetMetaData(output bool, dist Distribution, part Partition, bufferCount int, bufferLength uint32) *PortSetMetaData {
	return &PortSetMetaData{
		Output:       output,
		Distribution: dist,
		Partition:    part,
		BufferCount:  bufferCount,
		BufferLength: bufferLength,
	}
}

// AddPort appends pmd and returns it.
func (ps *PortSetMetaData) AddPort(pmd *PortMetaData) *PortMetaData {
	pmd.Output = ps.Output
	pmd.set = ps
	if len(pmd.BufferData) == 0 {
		pmd.BufferData = make([]BufferOffsets, ps.BufferCount)
	}
	ps.Ports = append(ps.Ports, pmd)
	return pmd
}

func (ps *PortSetMetaData) validate() error {
	if ps.BufferCount <= 0 || ps.BufferCount > MaxBuffers {
		return newError(BadBufferID, "buffer count %d not in [1,%d]", ps.BufferCount, MaxBuffers)
	}
	if ps.BufferLength == 0 {
		return newError(InternalProgrammingError1, "zero buffer length")
	}
	for _, p := range ps.Ports {
		if p.ID < 0 || p.ID >= MaxPContribs {
			return newError(PortNotFound, "port id %d not in [0,%d)", p.ID, MaxPContribs)
		}
	}
	return nil
}

// ConnectionMetaData describes a circuit: one output port set followed by
// its input port sets.
type ConnectionMetaData struct {
	// Distribution selects qualified input sets per transfer.
	Distribution Distribution
	Output       *PortSetMetaData
	Inputs       []*PortSetMetaData
}

// NewConnectionMetaData returns a connection description.
func NewConnectionMetaData(dist Distribution, output *PortSetMetaData, inputs ...*PortSetMetaData) *ConnectionMetaData {
	output.Output = true
	for i, in := range inputs {
		in.Output = false
		in.ID = i + 1
	}
	return &ConnectionMetaData{Distribution: dist, Output: output, Inputs: inputs}
}

func (md *ConnectionMetaData) portCount() int {
	n := len(md.Output.Ports)
	for _, in := range md.Inputs {
		n += len(in.Ports)
	}
	return n
}
