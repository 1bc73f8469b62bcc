// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// Ready reports whether every offset the port depends on is known. A
// missing dependency is requested through the mailbox; while that request
// is outstanding Ready returns false without issuing another.
func (p *Port) Ready() (bool, error) {
	if !p.initialized || p.externalState == WaitingForUpdate {
		return false, nil
	}
	if p.pending != nil {
		done, err := p.pending.poll()
		if err != nil {
			p.pending = nil
			return false, err
		}
		if !done {
			return false, nil
		}
		p.logger.Debug("mailbox reply", "kind", p.pending.kind)
		p.pending = nil
	}
	switch {
	case p.Output() && !p.shadow:
		return true, nil
	case p.Output():
		return p.shadowOutputReady()
	case !p.shadow:
		return p.realInputReady()
	}
	return p.shadowInputReady()
}

// request starts a mailbox exchange whose reply lands in the port's offsets
// region.
func (p *Port) request(target *Resources, r Request) (bool, error) {
	r.CircuitID = p.Circuit().peerID()
	r.PortID = p.md.ID
	r.URL = p.local.Endpoint.String()
	r.ReturnOffset = p.offsetsOffset
	r.ReturnSize = offsetsRecordSize
	r.ReturnMailbox = p.mailbox
	x := newExchange(p.local.Mailbox(), target, r)
	if _, err := x.poll(); err != nil {
		return false, err
	}
	p.pending = x
	if x.posted() {
		p.logger.Debug("mailbox request", "kind", r.Kind, "to", target.Endpoint)
	}
	return false, nil
}

func (p *Port) realInputReady() (bool, error) {
	last := p.BufferCount() - 1
	for _, op := range p.Circuit().OutputPortSet().Ports() {
		if !op.initialized {
			return false, nil
		}
		mb := op.real.Endpoint.Mailbox
		if p.offsets.get(last, fieldShadowState(mb)) != 0 {
			continue
		}
		if !op.shadow {
			for i := range p.BufferCount() {
				if err := p.offsets.set(i, fieldShadowState(mb), p.offsets.get(i, fieldLocalState)); err != nil {
					return false, err
				}
			}
			continue
		}
		return p.request(op.real, Request{Kind: ReqShadowRstateOffset})
	}
	return true, nil
}

func (p *Port) shadowInputReady() (bool, error) {
	for i := range p.BufferCount() {
		if p.offsets.get(i, fieldBuffer) == 0 ||
			p.offsets.get(i, fieldLocalState) == 0 ||
			p.offsets.get(i, fieldMetaData) == 0 {
			return p.request(p.real, Request{Kind: ReqInputOffsets})
		}
	}
	last := p.BufferCount() - 1
	for _, op := range p.Circuit().OutputPortSet().Ports() {
		if !op.initialized || !op.shadow {
			continue
		}
		if p.offsets.get(last, fieldShadowState(op.real.Endpoint.Mailbox)) == 0 {
			return p.request(op.real, Request{Kind: ReqShadowRstateOffset})
		}
	}
	return true, nil
}

func (p *Port) shadowOutputReady() (bool, error) {
	if p.offsets.get(0, fieldPortSetControl) == 0 {
		return p.request(p.real, Request{Kind: ReqOutputControlOffset})
	}
	c := p.Circuit()
	size := p.offsets.get(0, fieldProtocolSize)
	if size != 0 && c.Protocol() == nil {
		b, err := p.real.Map(p.offsets.get(0, fieldProtocolOffset), size)
		if err != nil {
			return false, err
		}
		if err := c.SetProtocol(append([]byte(nil), b...)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// answer writes the offsets requested by r into the requester's segment.
func (p *Port) answer(r *Request, requester *Resources) error {
	if !p.initialized {
		return newError(PortNotFound, "port %d not initialized", p.md.ID)
	}
	if r.ReturnOffset < commsSize(requester.Endpoint.MaxMailboxes) {
		return newError(SegmentRange, "return offset %d inside the mailbox table", r.ReturnOffset)
	}
	switch r.Kind {
	case ReqInputOffsets:
		return p.offsets.copyFields(requester, r.ReturnOffset,
			fieldBuffer, fieldBufferSize, fieldLocalState, fieldMetaData)
	case ReqShadowRstateOffset:
		return p.offsets.copyFields(requester, r.ReturnOffset, fieldShadowState(p.mailbox))
	case ReqOutputControlOffset:
		return p.offsets.copyFields(requester, r.ReturnOffset,
			fieldPortSetControl, fieldProtocolOffset, fieldProtocolSize)
	}
	return newError(InternalProgrammingError1, "port cannot answer %s", r.Kind)
}

// SetFlowControlDescriptorInternal records where the producer described by
// desc keeps its copy of this port's buffer states.
func (p *Port) SetFlowControlDescriptorInternal(desc *Descriptors) error {
	if !p.initialized {
		return newError(InternalProgrammingError1, "port %d not initialized", p.md.ID)
	}
	ep, err := ParseEndpoint(desc.Desc.OOB.Endpoint)
	if err != nil {
		return err
	}
	pitch := uint64(desc.Desc.EmptyFlagPitch)
	for i := range p.BufferCount() {
		off := desc.Desc.EmptyFlagBaseAddr + uint64(i)*pitch
		if err := p.offsets.set(i, fieldShadowState(ep.Mailbox), off); err != nil {
			return err
		}
	}
	p.externalState = DefinitionComplete
	return nil
}

// stageProducer copies the buffer layout of a producer descriptor into a
// shadow output port.
func (p *Port) stageProducer(desc *Descriptors) error {
	d := &desc.Desc
	for i := range p.BufferCount() {
		o := p.offsets.load(i)
		o.BufferOffset = d.DataBufferBaseAddr + uint64(i)*uint64(d.DataBufferPitch)
		o.BufferSize = uint64(d.DataBufferSize)
		o.MetaDataOffset = d.MetaDataBaseAddr + uint64(i)*uint64(d.MetaDataPitch)
		o.LocalStateOffset = d.FullFlagBaseAddr + uint64(i)*uint64(d.FullFlagPitch)
		if err := p.offsets.store(i, &o); err != nil {
			return err
		}
	}
	return nil
}

func (p *Port) stateStride() uint64 {
	if p.Output() {
		return stateSize * MaxPContribs
	}
	return 2 * stateSize * MaxPContribs
}

// PortDescriptor fills desc with the layout of this real port. When other
// is given, the cookie of the transfer service towards it is included.
func (p *Port) PortDescriptor(desc *Descriptors, other *Descriptors) error {
	if !p.initialized || p.shadow {
		return newError(InternalProgrammingError1, "descriptor of port %d requires a local port", p.md.ID)
	}
	o := p.offsets.load(0)
	blen := p.set.BufferLength()
	d := &desc.Desc
	d.NBuffers = uint32(p.BufferCount())
	d.DataBufferBaseAddr = o.BufferOffset
	d.DataBufferPitch = blen
	d.DataBufferSize = blen
	d.MetaDataBaseAddr = o.MetaDataOffset
	d.MetaDataPitch = metaDataSize * MaxPContribs
	d.FullFlagBaseAddr = o.LocalStateOffset
	d.FullFlagSize = stateSize
	d.FullFlagPitch = uint32(p.stateStride())
	d.FullFlagValue = stateFull
	if p.Output() {
		desc.Type = ProducerDescT
		d.EmptyFlagBaseAddr = o.LocalStateOffset
		d.EmptyFlagSize = stateSize
		d.EmptyFlagPitch = uint32(p.stateStride())
		d.EmptyFlagValue = stateEmpty
	} else {
		desc.Type = ConsumerDescT
	}
	d.OOB.Endpoint = p.md.RealLocation
	d.OOB.PortID = uint64(p.md.ID)
	if other != nil && other.Desc.OOB.Endpoint != "" {
		x, err := p.transport().xfer.Service(p.md.RealLocation, other.Desc.OOB.Endpoint)
		if err != nil {
			return err
		}
		d.OOB.Cookie = x.ConnectionCookie()
	}
	return nil
}

// Finalize completes role negotiation with the peer port described by
// other. mine is this port's descriptor and is filled in; flow receives the
// flow-control descriptor the peer needs, and is returned when the peer
// must be told about it. done reports whether the circuit became ready.
func (p *Port) Finalize(other, mine, flow *Descriptors) (result *Descriptors, done bool, err error) {
	c := p.Circuit()
	t := p.transport()
	if p.Output() {
		if err := p.PortDescriptor(mine, other); err != nil {
			return nil, false, err
		}
		switch mine.Role {
		case ActiveFlowControl:
			if flow != nil {
				*flow = *mine
			}
		case ActiveMessage:
			if in := c.firstInputPort(); in != nil && in.shadow && flow != nil {
				*flow = in.md.ShadowPortDescriptor
				flow.Type = ConsumerFlowControlDescT
				result = flow
			}
		}
		if flow != nil {
			flow.Desc.OOB.Cookie = mine.Desc.OOB.Cookie
		}
	} else {
		if other != nil {
			if _, err := t.AddRemoteEndpoint(other.Desc.OOB.Endpoint); err != nil {
				return nil, false, err
			}
			if err := c.SetFlowControlDescriptor(p, other); err != nil {
				return nil, false, err
			}
			x, err := t.xfer.Service(p.md.RealLocation, other.Desc.OOB.Endpoint)
			if err != nil {
				return nil, false, err
			}
			x.Finalize(other.Desc.OOB.Cookie)
		}
		if err := p.PortDescriptor(mine, other); err != nil {
			return nil, false, err
		}
	}
	if other != nil {
		p.md.ExternPortDependencyData = *other
	}
	c.openCircuit = false
	done, err = c.Ready()
	return result, done, err
}
