// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import "slices"

// QualifiedInputPortSetCount returns how many input sets a buffer goes to:
// every set for parallel circuits, one for sequential ones.
func (c *Circuit) QualifiedInputPortSetCount() int {
	if c.md.Distribution == Sequential {
		return min(1, len(c.inputs))
	}
	return len(c.inputs)
}

// QualifiedInputPortSet returns the n-th destination set. When all is set
// every set qualifies; otherwise a sequential circuit serves its sets in
// turn.
func (c *Circuit) QualifiedInputPortSet(n int, all bool) *PortSet {
	if all || c.md.Distribution == Parallel {
		return c.InputPortSet(n)
	}
	return c.InputPortSet(c.lastPortSet)
}

func (c *Circuit) advancePortSet() {
	if len(c.inputs) > 0 {
		c.lastPortSet = (c.lastPortSet + 1) % len(c.inputs)
	}
}

// CanTransferBuffer reports whether b can be sent now. A new transfer never
// overtakes queued ones from the same port unless every qualified
// controller allows it. Queued and broadcast buffers of a local output must
// fit every input set.
func (c *Circuit) CanTransferBuffer(b *Buffer, queued bool) bool {
	if c.openCircuit {
		return true
	}
	id := b.port.md.ID
	if id < 0 || id >= MaxPContribs {
		return false
	}
	n := c.QualifiedInputPortSetCount()
	if !queued && len(c.queued[id]) > 0 {
		for i := range n {
			set := c.QualifiedInputPortSet(i, false)
			if set == nil || set.controller == nil || !set.controller.CanTransferBufferWhileOthersAreQueued() {
				return false
			}
		}
	}
	worst := !b.port.shadow && (queued || b.MetaData().BroadCast)
	if worst {
		n = len(c.inputs)
	}
	for i := range n {
		set := c.QualifiedInputPortSet(i, worst)
		if set == nil || set.controller == nil || !set.controller.CanProduce(b) {
			return false
		}
	}
	return true
}

// StartBufferTransfer hands b to the controller of each qualified input
// set. When any of them cannot take b yet, b goes back to the head of its
// port's queue and nothing is produced.
func (c *Circuit) StartBufferTransfer(b *Buffer) error {
	if c.openCircuit {
		return nil
	}
	if b.MetaData().BroadCast && !b.port.shadow {
		return c.BroadcastBuffer(b)
	}
	n := c.QualifiedInputPortSetCount()
	for i := range n {
		set := c.QualifiedInputPortSet(i, false)
		if set == nil || set.controller == nil {
			return newError(InternalProgrammingError1, "circuit %d: input set %d has no controller", c.id, i)
		}
		if !set.controller.CanProduce(b) {
			c.QueTransfer(b, true)
			return nil
		}
	}
	for i := range n {
		if err := c.QualifiedInputPortSet(i, false).controller.Produce(b, false); err != nil {
			return err
		}
	}
	b.inUse = false
	c.advancePortSet()
	return nil
}

// BroadcastBuffer sends b to every port of every input set.
func (c *Circuit) BroadcastBuffer(b *Buffer) error {
	if c.openCircuit {
		return nil
	}
	m := b.MetaData()
	m.BroadCast = true
	b.SetMetaData(m)
	for i, set := range c.inputs {
		if set.controller == nil {
			return newError(InternalProgrammingError1, "circuit %d: input set %d has no controller", c.id, i)
		}
		if err := set.controller.Produce(b, true); err != nil {
			return err
		}
	}
	b.inUse = false
	c.advancePortSet()
	return nil
}

// QueTransfer queues b behind earlier transfers of its port, or ahead of
// them when prepend is set.
func (c *Circuit) QueTransfer(b *Buffer, prepend bool) {
	id := b.port.md.ID
	if prepend {
		c.queued[id] = slices.Insert(c.queued[id], 0, b)
	} else {
		c.queued[id] = append(c.queued[id], b)
	}
	c.queuedCount++
}

// QueuedTransfers returns the number of queued transfers.
func (c *Circuit) QueuedTransfers() int { return c.queuedCount }

// CheckQueuedTransfers starts the head of every port queue that flow
// control now allows, then any zero-copy transfer waiting for an output
// buffer.
func (c *Circuit) CheckQueuedTransfers() error {
	if c.openCircuit {
		return nil
	}
	if c.queuedCount > 0 {
		for id := range c.queued {
			q := c.queued[id]
			if len(q) == 0 {
				continue
			}
			head := q[0]
			if !c.CanTransferBuffer(head, true) {
				continue
			}
			c.queued[id] = slices.Delete(q, 0, 1)
			c.queuedCount--
			if err := c.StartBufferTransfer(head); err != nil {
				return err
			}
		}
	}
	return c.checkIOZCopyQ()
}

func (c *Circuit) checkIOZCopyQ() error {
	for id := range c.zcopyQ {
		q := c.zcopyQ[id]
		if len(q) == 0 {
			continue
		}
		head := q[0]
		if !head.zCopyPort.HasEmptyOutputBuffer() {
			continue
		}
		c.zcopyQ[id] = slices.Delete(q, 0, 1)
		if err := c.QInputToOutput(head.zCopyPort, head, head.Length()); err != nil {
			return err
		}
	}
	return nil
}

// SendZcopyInputBuffer sends input buffer in through output port out. It
// goes now when out has an empty buffer and nothing is waiting before it.
func (c *Circuit) SendZcopyInputBuffer(out *Port, in *Buffer, length uint32) error {
	id := out.md.ID
	if id < 0 || id >= MaxPContribs {
		return newError(PortNotFound, "output port %d", id)
	}
	if len(c.zcopyQ[id]) == 0 && out.HasEmptyOutputBuffer() {
		return c.QInputToOutput(out, in, length)
	}
	return c.QInputToWaitForOutput(out, in, length)
}

// QInputToWaitForOutput parks in until out has an empty buffer.
func (c *Circuit) QInputToWaitForOutput(out *Port, in *Buffer, _ uint32) error {
	if in.zCopyPort != nil {
		return newError(InternalProgrammingError1, "input buffer %d of port %d already waiting", in.tid, in.port.md.ID)
	}
	in.zCopyPort = out
	c.zcopyQ[out.md.ID] = append(c.zcopyQ[out.md.ID], in)
	return nil
}

// QInputToOutput sends in through the next empty buffer of out, pointing
// the output templates at in's storage.
func (c *Circuit) QInputToOutput(out *Port, in *Buffer, length uint32) error {
	tb, err := out.NextEmptyOutputBuffer()
	if err != nil {
		return err
	}
	if tb == nil {
		return newError(InternalProgrammingError1, "output port %d has no empty buffer", out.md.ID)
	}
	tb.setMetaDataWord(in)
	m := tb.MetaData()
	m.Length = length
	tb.SetMetaData(m)
	c.modifyOutputOffsets(tb, in, false)
	if in.zeroCopyFrom == nil {
		tb.attachZ(in)
	} else {
		in.zCopyPort = nil
		tb.zCopyPort = nil
	}
	if c.CanTransferBuffer(tb, false) {
		return c.StartBufferTransfer(tb)
	}
	c.QueTransfer(tb, false)
	return nil
}

// modifyOutputOffsets applies ModifyOutputOffsets on every controller that
// holds templates for me.
func (c *Circuit) modifyOutputOffsets(me, in *Buffer, reverse bool) {
	var seen []TransferController
	for _, set := range c.inputs {
		ctl := set.controller
		if ctl == nil || slices.Contains(seen, ctl) {
			continue
		}
		seen = append(seen, ctl)
		ctl.ModifyOutputOffsets(me, in, reverse)
	}
}
