// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane


// TransferController implements the flow-control policy between an output
// port set and one input port set.
type TransferController interface {
	// CanProduce reports whether b can be sent now.
	CanProduce(b *Buffer) bool
	// Produce sends b. The caller has checked CanProduce.
	Produce(b *Buffer, broadcast bool) error
	// Consume releases input buffer b back to its producers. It returns a
	// buffer freed along with it by zero-copy chaining, if any.
	Consume(b *Buffer) (*Buffer, error)
	CanTransferBufferWhileOthersAreQueued() bool
	// ModifyOutputOffsets points the templates of output buffer me at the
	// storage of input buffer in, or restores them when reverse is set.
	ModifyOutputOffsets(me, in *Buffer, reverse bool)

	HasEmptyOutputBuffer(p *Port) bool
	NextEmptyOutputBuffer(p *Port) *Buffer
	HasFullInputBuffer(p *Port) (bool, *Buffer)
	NextFullInputBuffer(p *Port) *Buffer
	// BufferFull advances the input read position and returns it.
	BufferFull(p *Port) int
	// FreeBuffer advances the output fill position and returns it.
	FreeBuffer(p *Port) int
	FreeAllBuffersLocal(p *Port)
	ConsumeAllBuffersLocal(p *Port) error

	AddTemplate(k TemplateKey, t *TransferTemplate)
	Template(k TemplateKey) *TransferTemplate
}

// ControllerFactory builds the controller for an output and input set.
// wholeOutputSet is set when every output port feeds the input set.
type ControllerFactory interface {
	NewController(output, input *PortSet, wholeOutputSet bool) (TransferController, error)
}

// ControllerFactoryFunc adapts a function to ControllerFactory.
type ControllerFactoryFunc func(output, input *PortSet, wholeOutputSet bool) (TransferController, error)

// NewController calls f.
func (f ControllerFactoryFunc) NewController(output, input *PortSet, whole bool) (TransferController, error) {
	return f(output, input, whole)
}

// notSupportedController rejects every combination it is looked up for.
type notSupportedController struct{}

func (notSupportedController) NewController(output, input *PortSet, _ bool) (TransferController, error) {
	return nil, newError(UnsupportedTransfer, "%s/%s to %s/%s",
		output.Distribution(), output.Partition(), input.Distribution(), input.Partition())
}

// ControllerBase carries templates and the default circular buffer policy.
// Controllers embed it and override what differs.
type ControllerBase struct {
	output, input  *PortSet
	wholeOutputSet bool
	templates      map[TemplateKey]*TransferTemplate
}

func newControllerBase(output, input *PortSet, whole bool) ControllerBase {
	return ControllerBase{
		output:         output,
		input:          input,
		wholeOutputSet: whole,
		templates:      make(map[TemplateKey]*TransferTemplate),
	}
}

func (c *ControllerBase) AddTemplate(k TemplateKey, t *TransferTemplate) { c.templates[k] = t }

func (c *ControllerBase) Template(k TemplateKey) *TransferTemplate { return c.templates[k] }

func (c *ControllerBase) CanTransferBufferWhileOthersAreQueued() bool { return false }

func (c *ControllerBase) HasEmptyOutputBuffer(p *Port) bool {
	b := p.Buffer(p.lastTidHandled)
	return b != nil && b.IsEmpty() && !b.inUse
}

func (c *ControllerBase) FreeBuffer(p *Port) int {
	p.lastTidHandled = (p.lastTidHandled + 1) % p.BufferCount()
	return p.lastTidHandled
}

func (c *ControllerBase) NextEmptyOutputBuffer(p *Port) *Buffer {
	if !c.HasEmptyOutputBuffer(p) {
		return nil
	}
	b := p.Buffer(p.lastTidHandled)
	b.inUse = true
	c.FreeBuffer(p)
	return b
}

func (c *ControllerBase) HasFullInputBuffer(p *Port) (bool, *Buffer) {
	b := p.Buffer((p.lastBufferOrd + 1) % p.BufferCount())
	if b == nil || b.IsEmpty() || b.inUse {
		return false, nil
	}
	return true, b
}

func (c *ControllerBase) BufferFull(p *Port) int {
	p.lastBufferOrd = (p.lastBufferOrd + 1) % p.BufferCount()
	return p.lastBufferOrd
}

func (c *ControllerBase) NextFullInputBuffer(p *Port) *Buffer {
	ok, b := c.HasFullInputBuffer(p)
	if !ok {
		return nil
	}
	b.inUse = true
	c.BufferFull(p)
	return b
}

func (c *ControllerBase) FreeAllBuffersLocal(p *Port) {
	for _, b := range p.buffers {
		b.inUse = false
		b.MarkBufferEmpty()
	}
}

// ConsumeAllBuffersLocal releases every full input buffer of p through
// the controller that owns p.
func (c *ControllerBase) ConsumeAllBuffersLocal(p *Port) error {
	ctl := p.controller()
	for _, b := range p.buffers {
		if b.IsEmpty() {
			continue
		}
		b.inUse = false
		if _, err := ctl.Consume(b); err != nil {
			return err
		}
	}
	return nil
}

// Consume marks b empty and tells its producers through the input
// template.
func (c *ControllerBase) Consume(b *Buffer) (*Buffer, error) {
	b.MarkBufferEmpty()
	t := c.templates[TemplateKey{InPort: b.port.md.ID, InTid: b.tid, Input: true}]
	if t != nil {
		if err := t.Produce(); err != nil {
			return nil, err
		}
	}
	if src := b.zeroCopyFrom; src != nil && !src.Output() {
		b.zeroCopyFrom = nil
		return src, nil
	}
	return nil, nil
}

func (c *ControllerBase) ModifyOutputOffsets(me, in *Buffer, reverse bool) {
	res, off := me.port.real, me.startOffset()
	if reverse {
		me.zeroCopyFrom = nil
	} else {
		nb := in
		if in.zeroCopyFrom != nil {
			nb = in.zeroCopyFrom
		}
		res, off = nb.port.real, nb.startOffset()
		me.zeroCopyFrom = nb
	}
	for k, t := range c.templates {
		if k.Input || k.OutPort != me.port.md.ID || k.OutTid != me.tid {
			continue
		}
		t.Modify(res, off)
	}
}

func run(t *TransferTemplate, k TemplateKey) error {
	if t == nil {
		return newError(InternalProgrammingError1, "no template for %+v", k)
	}
	return t.Produce()
}

// controller1 moves whole buffers from a parallel output set to every port
// of a parallel input set, all input ports advancing in lock step.
type controller1 struct {
	ControllerBase
	nextTid int
}

func newController1(output, input *PortSet, whole bool) (TransferController, error) {
	return &controller1{ControllerBase: newControllerBase(output, input, whole)}, nil
}

func (c *controller1) CanProduce(_ *Buffer) bool {
	for _, ip := range c.input.ports {
		b := ip.Buffer(c.nextTid)
		if b == nil || !b.IsEmpty() {
			return false
		}
	}
	return true
}

func (c *controller1) Produce(b *Buffer, broadcast bool) error {
	for _, ip := range c.input.ports {
		ip.Buffer(c.nextTid).MarkBufferFull()
	}
	b.MarkBufferFull()
	k := TemplateKey{OutPort: b.port.md.ID, OutTid: b.tid, InTid: c.nextTid, BroadCast: broadcast}
	c.nextTid = (c.nextTid + 1) % c.input.BufferCount()
	return run(c.templates[k], k)
}

// controller4 splits each output buffer into one block per input port.
type controller4 struct {
	controller1
}

func newController4(output, input *PortSet, whole bool) (TransferController, error) {
	return &controller4{controller1{ControllerBase: newControllerBase(output, input, whole)}}, nil
}

// controller2 sends each output buffer to one port of a sequential input
// set, rotating across the ports.
type controller2 struct {
	ControllerBase
	nextPort int
	nextTid  []int
}

func newController2(output, input *PortSet, whole bool) (TransferController, error) {
	return &controller2{
		ControllerBase: newControllerBase(output, input, whole),
		nextTid:        make([]int, input.PortCount()),
	}, nil
}

func (c *controller2) CanProduce(_ *Buffer) bool {
	if len(c.input.ports) == 0 {
		return false
	}
	b := c.input.ports[c.nextPort].Buffer(c.nextTid[c.nextPort])
	return b != nil && b.IsEmpty()
}

func (c *controller2) produceTo(b *Buffer, n int, broadcast bool) error {
	ip := c.input.ports[n]
	ip.Buffer(c.nextTid[n]).MarkBufferFull()
	k := TemplateKey{OutPort: b.port.md.ID, OutTid: b.tid, InPort: ip.md.ID, InTid: c.nextTid[n], BroadCast: broadcast}
	c.nextTid[n] = (c.nextTid[n] + 1) % c.input.BufferCount()
	return run(c.templates[k], k)
}

func (c *controller2) Produce(b *Buffer, broadcast bool) error {
	b.MarkBufferFull()
	if broadcast {
		for n := range c.input.ports {
			if err := c.produceTo(b, n, true); err != nil {
				return err
			}
		}
		return nil
	}
	n := c.nextPort
	c.nextPort = (c.nextPort + 1) % len(c.input.ports)
	return c.produceTo(b, n, false)
}

// controller3 is controller2 for a sequential output set.
type controller3 struct {
	controller2
}

func newController3(output, input *PortSet, whole bool) (TransferController, error) {
	c, _ := newController2(output, input, whole)
	return &controller3{*c.(*controller2)}, nil
}

// controller1AFCShadow serves an output in ActiveFlowControl role: the
// producer only marks buffers full and the consumer pulls them, then
// frees the producer's buffer.
type controller1AFCShadow struct {
	ControllerBase
	nextOut    int
	pulledFrom map[*Buffer]TemplateKey
}

func newController1AFCShadow(output, input *PortSet, whole bool) (TransferController, error) {
	return &controller1AFCShadow{
		ControllerBase: newControllerBase(output, input, whole),
		pulledFrom:     make(map[*Buffer]TemplateKey),
	}, nil
}

func (c *controller1AFCShadow) CanProduce(b *Buffer) bool { return true }

func (c *controller1AFCShadow) Produce(b *Buffer, _ bool) error {
	b.MarkBufferFull()
	return nil
}

func (c *controller1AFCShadow) HasFullInputBuffer(p *Port) (bool, *Buffer) {
	if ok, b := c.ControllerBase.HasFullInputBuffer(p); ok {
		return ok, b
	}
	next := p.Buffer((p.lastBufferOrd + 1) % p.BufferCount())
	if next == nil || !next.IsEmpty() || next.inUse || len(c.output.ports) == 0 {
		return false, nil
	}
	op := c.output.ports[0]
	ob := op.Buffer(c.nextOut)
	if ob == nil || ob.IsEmpty() {
		return false, nil
	}
	k := TemplateKey{OutPort: op.md.ID, OutTid: c.nextOut, InPort: p.md.ID, InTid: next.tid}
	if err := run(c.templates[k], k); err != nil {
		p.logger.Warn("pull transfer", "err", err)
		return false, nil
	}
	c.pulledFrom[next] = TemplateKey{OutPort: k.OutPort, OutTid: k.OutTid, InPort: k.InPort, InTid: k.InTid, Input: true}
	c.nextOut = (c.nextOut + 1) % c.output.BufferCount()
	return c.ControllerBase.HasFullInputBuffer(p)
}

func (c *controller1AFCShadow) NextFullInputBuffer(p *Port) *Buffer {
	ok, b := c.HasFullInputBuffer(p)
	if !ok {
		return nil
	}
	b.inUse = true
	c.BufferFull(p)
	return b
}

func (c *controller1AFCShadow) Consume(b *Buffer) (*Buffer, error) {
	b.MarkBufferEmpty()
	k, ok := c.pulledFrom[b]
	if !ok {
		return nil, nil
	}
	delete(c.pulledFrom, b)
	return nil, run(c.templates[k], k)
}
