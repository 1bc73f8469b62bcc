// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"code.hybscloud.com/atomix"
	"github.com/charmbracelet/log"
)

// CircuitStatus is the connection status of a circuit.
type CircuitStatus uint8

const (
	Unknown CircuitStatus = iota
	Connected
	Disconnecting
)

// Circuit connects one output port set to one or more input port sets.
//
// While a circuit is open, data operations are no-ops: buffer queries
// return nothing and transfers are not started.
type Circuit struct {
	transport *Transport
	id        CircuitID
	remoteID  CircuitID
	md        *ConnectionMetaData
	logger    *log.Logger

	output *PortSet
	inputs []*PortSet

	openCircuit        bool
	ready              bool
	templatesGenerated bool
	status             CircuitStatus
	lastPortSet        int
	maxPortOrd         int

	queued      [MaxPContribs][]*Buffer
	queuedCount int
	zcopyQ      [MaxPContribs][]*Buffer

	protocol    []byte
	protocolOff uint64

	refs   atomix.Uint32
	onZero func(*Circuit)

	notified map[int]bool
	update   *exchange
	updateID int
}

func newCircuit(t *Transport, id CircuitID, md *ConnectionMetaData, onZero func(*Circuit)) (*Circuit, error) {
	c := &Circuit{
		transport:   t,
		id:          id,
		md:          md,
		logger:      t.logger.With("circuit", id),
		openCircuit: true,
		onZero:      onZero,
		notified:    make(map[int]bool),
	}
	c.refs.Add(1)
	out, err := newPortSet(c, md.Output)
	if err != nil {
		return nil, err
	}
	c.output = out
	for _, imd := range md.Inputs {
		in, err := newPortSet(c, imd)
		if err != nil {
			c.release()
			return nil, err
		}
		c.inputs = append(c.inputs, in)
	}
	c.maxPortOrd = md.portCount()
	if c.maxPortOrd > 1 && len(out.ports) > 0 && out.ports[0].md.RealLocation != "" {
		c.openCircuit = false
	}
	c.logger.Debug("circuit created", "ports", c.maxPortOrd, "open", c.openCircuit)
	return c, nil
}

// ID returns the circuit id.
func (c *Circuit) ID() CircuitID { return c.id }

// peerID is the id peers know this circuit by.
func (c *Circuit) peerID() CircuitID {
	if c.remoteID != 0 {
		return c.remoteID
	}
	return c.id
}

// MetaData returns the connection description.
func (c *Circuit) MetaData() *ConnectionMetaData { return c.md }

// Transport returns the owning transport.
func (c *Circuit) Transport() *Transport { return c.transport }

// Status returns the connection status.
func (c *Circuit) Status() CircuitStatus { return c.status }

// IsCircuitOpen reports whether data operations are disabled.
func (c *Circuit) IsCircuitOpen() bool { return c.openCircuit }

// OutputPortSet returns the output set.
func (c *Circuit) OutputPortSet() *PortSet { return c.output }

// InputPortSetCount returns the number of input sets.
func (c *Circuit) InputPortSetCount() int { return len(c.inputs) }

// InputPortSet returns the n-th input set, or nil.
func (c *Circuit) InputPortSet(n int) *PortSet {
	if n < 0 || n >= len(c.inputs) {
		return nil
	}
	return c.inputs[n]
}

// MaxPortOrd returns the number of ports in the circuit.
func (c *Circuit) MaxPortOrd() int { return c.maxPortOrd }

func (c *Circuit) firstInputPort() *Port {
	if len(c.inputs) == 0 {
		return nil
	}
	return c.inputs[0].Port(0)
}

// Port returns the port with ordinal id from any set, or nil.
func (c *Circuit) Port(id int) *Port {
	if p := c.output.PortFromOrdinal(id); p != nil {
		return p
	}
	return c.inputPort(id)
}

func (c *Circuit) inputPort(id int) *Port {
	for _, in := range c.inputs {
		if p := in.PortFromOrdinal(id); p != nil {
			return p
		}
	}
	return nil
}

func (c *Circuit) allPorts(yield func(*Port) bool) {
	for _, p := range c.output.ports {
		if !yield(p) {
			return
		}
	}
	for _, in := range c.inputs {
		for _, p := range in.ports {
			if !yield(p) {
				return
			}
		}
	}
}

// Finalize sets the output port's location to endpoint and binds it.
func (c *Circuit) Finalize(endpoint string) error {
	op := c.output.Port(0)
	if op == nil {
		return newError(PortNotFound, "circuit %d has no output port", c.id)
	}
	op.md.RealLocation = endpoint
	return c.UpdatePort(op)
}

// UpdatePort binds p's resources once its location is known. A circuit
// with more than one port closes once a port is bound.
func (c *Circuit) UpdatePort(p *Port) error {
	if p.md.RealLocation == "" {
		return nil
	}
	if err := p.initialize(); err != nil {
		return err
	}
	if c.maxPortOrd > 1 {
		c.openCircuit = false
	}
	return nil
}

// AddPort adds a port described by pmd. Input ports go to the first input
// set, which is created with the output set's geometry when missing.
func (c *Circuit) AddPort(pmd *PortMetaData) (*Port, error) {
	var set *PortSet
	if pmd.Output {
		set = c.output
	} else {
		if len(c.inputs) == 0 {
			imd := NewPortSetMetaData(false, Parallel, Indivisible, c.output.BufferCount(), c.output.BufferLength())
			imd.ID = 1
			in, err := newPortSet(c, imd)
			if err != nil {
				return nil, err
			}
			c.inputs = append(c.inputs, in)
			c.md.Inputs = append(c.md.Inputs, imd)
		}
		set = c.inputs[0]
	}
	set.md.AddPort(pmd)
	p, err := set.add(pmd)
	if err != nil {
		set.md.Ports = set.md.Ports[:len(set.md.Ports)-1]
		return nil, err
	}
	c.maxPortOrd++
	c.openCircuit = false
	c.ready = false
	c.templatesGenerated = false
	return p, nil
}

// AddInputPort adds a shadow input port for the remote consumer described
// by desc; ourEndpoint is where its local shadow state lives.
func (c *Circuit) AddInputPort(desc *Descriptors, ourEndpoint string) (*Port, error) {
	d := &desc.Desc
	id := 0
	c.allPorts(func(p *Port) bool {
		id = max(id, p.md.ID+1)
		return true
	})
	pmd := NewPortMetaData(id, false, d.OOB.Endpoint, ourEndpoint)
	pmd.Descriptor = *desc
	n := int(d.NBuffers)
	if len(c.inputs) > 0 {
		n = c.inputs[0].BufferCount()
	}
	pmd.BufferData = make([]BufferOffsets, n)
	for i := range pmd.BufferData {
		pmd.BufferData[i] = BufferOffsets{
			BufferOffset:     d.DataBufferBaseAddr + uint64(i)*uint64(d.DataBufferPitch),
			BufferSize:       uint64(d.DataBufferSize),
			LocalStateOffset: d.FullFlagBaseAddr + uint64(i)*uint64(d.FullFlagPitch),
			MetaDataOffset:   d.MetaDataBaseAddr + uint64(i)*uint64(d.MetaDataPitch),
		}
	}
	return c.AddPort(pmd)
}

// UserPortFlowControlDescriptor returns the flow-control descriptor of
// input port idx, for handing to its remote producer.
func (c *Circuit) UserPortFlowControlDescriptor(idx int) *Descriptors {
	if len(c.inputs) == 0 {
		return nil
	}
	p := c.inputs[0].Port(idx)
	if p == nil {
		return nil
	}
	return &p.md.ShadowPortDescriptor
}

// SetFlowControlDescriptor binds input port p to the producer described by
// desc.
func (c *Circuit) SetFlowControlDescriptor(p *Port, desc *Descriptors) error {
	op := c.output.Port(0)
	if op == nil {
		return newError(PortNotFound, "circuit %d has no output port", c.id)
	}
	if op.md.RealLocation == "" {
		op.md.RealLocation = desc.Desc.OOB.Endpoint
	}
	op.md.ShadowPortDescriptor = *desc
	if err := c.UpdatePort(op); err != nil {
		return err
	}
	if op.shadow {
		if desc.Type == ProducerDescT {
			if err := op.stageProducer(desc); err != nil {
				return err
			}
		}
		for i := range op.BufferCount() {
			if err := op.offsets.set(i, fieldPortSetControl, 1); err != nil {
				return err
			}
		}
	}
	if desc.Role != Passive {
		return p.SetFlowControlDescriptorInternal(desc)
	}
	// The pull driver frees producer buffers itself, so releases stay local.
	pd, err := c.CreatePullDriver(desc)
	if err != nil {
		return err
	}
	p.AttachPullDriver(pd)
	mb := pd.Endpoint().Mailbox
	for i := range p.BufferCount() {
		if err := p.offsets.set(i, fieldShadowState(mb), p.offsets.get(i, fieldLocalState)); err != nil {
			return err
		}
	}
	p.externalState = DefinitionComplete
	return nil
}

// CreatePullDriver returns a driver for the passive peer described by desc.
func (c *Circuit) CreatePullDriver(desc *Descriptors) (*PullDriver, error) {
	return newPullDriver(c.transport.registry, desc)
}

// Reset reopens the circuit and clears port bookkeeping. Controllers and
// templates are dropped and rebuilt by the next successful Ready.
func (c *Circuit) Reset() {
	c.openCircuit = true
	c.ready = false
	c.templatesGenerated = false
	c.output.SetController(nil)
	for _, in := range c.inputs {
		in.SetController(nil)
	}
	for p := range c.allPorts {
		p.Reset()
	}
	for i := range c.queued {
		c.queued[i] = nil
		c.zcopyQ[i] = nil
	}
	c.queuedCount = 0
	c.lastPortSet = 0
}

// Ready polls every port and, once all are ready, builds the transfer
// templates. It returns false while any port is waiting on a peer.
func (c *Circuit) Ready() (bool, error) {
	if c.openCircuit {
		return false, nil
	}
	if c.ready {
		return true, nil
	}
	all := true
	var err error
	c.allPorts(func(p *Port) bool {
		var ok bool
		if ok, err = p.Ready(); err != nil {
			return false
		}
		all = all && ok
		return true
	})
	if err != nil || !all {
		return false, err
	}
	if !c.templatesGenerated {
		if err := c.initializeDataTransfers(); err != nil {
			return false, err
		}
	}
	c.ready = true
	c.status = Connected
	c.logger.Debug("circuit ready")
	return true, nil
}

func (c *Circuit) initializeDataTransfers() error {
	if err := c.createCircuitTemplateGenerators(); err != nil {
		return err
	}
	c.templatesGenerated = true
	return nil
}

func (c *Circuit) dispatchKey(in *PortSet) (DispatchKey, error) {
	op, ip := c.output.Port(0), in.Port(0)
	if op == nil || ip == nil {
		return DispatchKey{}, newError(PortNotFound, "circuit %d: empty port set", c.id)
	}
	return DispatchKey{
		OutputDist:   c.output.Distribution(),
		InputDist:    in.Distribution(),
		OutputPart:   c.output.Partition(),
		InputPart:    in.Partition(),
		OutputShadow: op.shadow,
		OutputRole:   op.md.Descriptor.Role,
		InputRole:    ip.md.Descriptor.Role,
	}, nil
}

func (c *Circuit) createCircuitTemplateGenerators() error {
	d := c.transport.dispatch
	for _, in := range c.inputs {
		k, err := c.dispatchKey(in)
		if err != nil {
			return err
		}
		ctl, err := d.Controller(k).NewController(c.output, in, c.md.Distribution == Parallel)
		if err != nil {
			return err
		}
		if err := d.Generator(k).CreateTemplates(c.output, in, ctl); err != nil {
			return err
		}
		c.output.SetController(ctl)
		in.SetController(ctl)
	}
	return nil
}

// SetProtocol records the protocol description. On the producer side it is
// also staged in shared memory for remote consumers.
func (c *Circuit) SetProtocol(b []byte) error {
	c.protocol = b
	op := c.output.Port(0)
	if op == nil || !op.initialized || op.shadow || len(b) == 0 || c.protocolOff != 0 {
		return nil
	}
	off, err := op.real.Alloc.Alloc(uint64(len(b)), bufAlignment)
	if err != nil {
		return wrapError(NoMoreSMB, err, "protocol of circuit %d", c.id)
	}
	m, err := op.real.Map(off, uint64(len(b)))
	if err != nil {
		op.real.Alloc.Free(off, uint64(len(b)))
		return err
	}
	copy(m, b)
	c.protocolOff = off
	op.allocs = append(op.allocs, allocation{res: op.real, off: off, size: uint64(len(b))})
	for i := range op.BufferCount() {
		if err := op.offsets.set(i, fieldProtocolOffset, off); err != nil {
			return err
		}
		if err := op.offsets.set(i, fieldProtocolSize, uint64(len(b))); err != nil {
			return err
		}
	}
	return nil
}

// Protocol returns the protocol description, or nil.
func (c *Circuit) Protocol() []byte { return c.protocol }

// Attach adds a reference.
func (c *Circuit) Attach() { c.refs.Add(1) }

// Release drops a reference; the last one deletes the circuit.
func (c *Circuit) Release() {
	for {
		n := c.refs.Load()
		if n == 0 {
			c.logger.Warn("release of a released circuit")
			return
		}
		if !c.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			c.status = Disconnecting
			if c.onZero != nil {
				c.onZero(c)
			}
		}
		return
	}
}

func (c *Circuit) release() {
	if c.update != nil {
		c.update.discard()
		c.update = nil
	}
	if c.output != nil {
		c.output.release()
	}
	for _, in := range c.inputs {
		in.release()
	}
}

// UpdateInputs tells every remote input port where the output lives. Each
// call issues at most one request; it reports true once all inputs know.
func (c *Circuit) UpdateInputs() (bool, error) {
	op := c.output.Port(0)
	if op == nil || !op.initialized || op.shadow {
		return false, newError(InternalProgrammingError1, "circuit %d: update needs a local output", c.id)
	}
	if c.update != nil {
		done, err := c.update.poll()
		if err != nil {
			c.update = nil
			return false, err
		}
		if !done {
			return false, nil
		}
		c.notified[c.updateID] = true
		c.update = nil
	}
	for _, in := range c.inputs {
		for _, ip := range in.ports {
			if c.notified[ip.md.ID] {
				continue
			}
			if c.transport.IsLocalEndpoint(ip.md.RealLocation) {
				if ip.Circuit() != c {
					return false, newError(InternalProgrammingError1, "local port %d belongs to circuit %d", ip.md.ID, ip.Circuit().id)
				}
				c.notified[ip.md.ID] = true
				continue
			}
			target, err := c.transport.registry.Resolve(ip.md.RealLocation)
			if err != nil {
				return false, err
			}
			rcv := ip.md.RemoteCircuitID
			if rcv == 0 {
				rcv = c.peerID()
			}
			r := Request{
				Kind:                      ReqUpdateCircuit,
				CircuitID:                 rcv,
				PortID:                    ip.md.ID,
				URL:                       op.local.Endpoint.String(),
				SenderOutputControlOffset: op.offsets.get(0, fieldPortSetControl),
				ProtocolOffset:            op.offsets.get(0, fieldProtocolOffset),
				ProtocolSize:              op.offsets.get(0, fieldProtocolSize),
				OutputEndpoint:            op.md.RealLocation,
				TPortCount:                uint32(c.maxPortOrd),
				SenderCircuitID:           c.id,
				SenderPortID:              op.md.ID,
				ReceiverCircuitID:         rcv,
				ReceiverPortID:            ip.md.ID,
				SenderOutputPortID:        op.md.ID,
			}
			x := newExchange(op.local.Mailbox(), target, r)
			if _, err := x.poll(); err != nil {
				return false, err
			}
			c.update, c.updateID = x, ip.md.ID
			return false, nil
		}
	}
	return true, nil
}

// updateInputsFromRequest applies a ReqUpdateCircuit received from the
// circuit's producer and closes the circuit.
func (c *Circuit) updateInputsFromRequest(r *Request) error {
	op := c.output.Port(0)
	if op == nil {
		return newError(PortNotFound, "circuit %d has no output port", c.id)
	}
	if op.md.RealLocation == "" {
		op.md.RealLocation = r.OutputEndpoint
	}
	if err := c.UpdatePort(op); err != nil {
		return err
	}
	for i := range op.BufferCount() {
		if err := op.offsets.set(i, fieldPortSetControl, r.SenderOutputControlOffset); err != nil {
			return err
		}
		if err := op.offsets.set(i, fieldProtocolOffset, r.ProtocolOffset); err != nil {
			return err
		}
		if err := op.offsets.set(i, fieldProtocolSize, r.ProtocolSize); err != nil {
			return err
		}
	}
	if ip := c.inputPort(r.ReceiverPortID); ip != nil {
		ip.md.RemoteCircuitID = r.SenderCircuitID
		ip.md.RemotePortID = r.SenderPortID
		ip.externalState = WaitingForShadowBuffer
	}
	c.remoteID = r.SenderCircuitID
	c.openCircuit = false
	return nil
}
