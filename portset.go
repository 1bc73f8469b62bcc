// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// PortSet is an ordered group of ports sharing distribution, partition
// and buffer geometry.
type PortSet struct {
	md            *PortSetMetaData
	circuit       *Circuit
	ports         []*Port
	controller    TransferController
	controlOffset uint64
}

func newPortSet(c *Circuit, md *PortSetMetaData) (*PortSet, error) {
	if err := md.validate(); err != nil {
		return nil, err
	}
	ps := &PortSet{md: md, circuit: c}
	for _, pmd := range md.Ports {
		pmd.set = md
		if _, err := ps.add(pmd); err != nil {
			ps.release()
			return nil, err
		}
	}
	return ps, nil
}

func (ps *PortSet) add(pmd *PortMetaData) (*Port, error) {
	p, err := newPort(ps, pmd)
	if err != nil {
		return nil, err
	}
	ps.ports = append(ps.ports, p)
	return p, nil
}

func (ps *PortSet) release() {
	for _, p := range ps.ports {
		p.release()
	}
}

// MetaData returns the set description.
func (ps *PortSet) MetaData() *PortSetMetaData { return ps.md }

// Output reports whether this is the output set.
func (ps *PortSet) Output() bool { return ps.md.Output }

// Ports returns the ports in order.
func (ps *PortSet) Ports() []*Port { return ps.ports }

// PortCount returns the number of ports.
func (ps *PortSet) PortCount() int { return len(ps.ports) }

// Port returns the i-th port, or nil.
func (ps *PortSet) Port(i int) *Port {
	if i < 0 || i >= len(ps.ports) {
		return nil
	}
	return ps.ports[i]
}

// PortFromOrdinal returns the port with the given id, or nil.
func (ps *PortSet) PortFromOrdinal(id int) *Port {
	for _, p := range ps.ports {
		if p.md.ID == id {
			return p
		}
	}
	return nil
}

// BufferCount returns the number of buffers per port.
func (ps *PortSet) BufferCount() int { return ps.md.BufferCount }

// BufferLength returns the payload size of each buffer.
func (ps *PortSet) BufferLength() uint32 { return ps.md.BufferLength }

// Distribution returns the set's distribution.
func (ps *PortSet) Distribution() Distribution { return ps.md.Distribution }

// Partition returns the set's partition.
func (ps *PortSet) Partition() Partition { return ps.md.Partition }

// Controller returns the negotiated transfer controller, or nil.
func (ps *PortSet) Controller() TransferController { return ps.controller }

// SetController sets the transfer controller.
func (ps *PortSet) SetController(c TransferController) { ps.controller = c }
