// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

// TemplateGenerator precomputes the transfer templates of a controller.
type TemplateGenerator interface {
	CreateTemplates(output, input *PortSet, ctl TransferController) error
}

// TemplateGeneratorFunc adapts a function to TemplateGenerator.
type TemplateGeneratorFunc func(output, input *PortSet, ctl TransferController) error

// CreateTemplates calls f.
func (f TemplateGeneratorFunc) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	return f(output, input, ctl)
}

type notSupportedGenerator struct{}

func (notSupportedGenerator) CreateTemplates(output, input *PortSet, _ TransferController) error {
	return newError(UnsupportedTransfer, "no template generator for %s/%s to %s/%s",
		output.Distribution(), output.Partition(), input.Distribution(), input.Partition())
}

// bufferLoc is where one buffer's payload, metadata and flag live.
type bufferLoc struct {
	res               *Resources
	data, meta, state uint64
}

func locate(p *Port, tid int) (bufferLoc, error) {
	o := p.offsets.load(tid)
	if !p.initialized || o.BufferOffset == 0 || o.MetaDataOffset == 0 || o.LocalStateOffset == 0 {
		return bufferLoc{}, newError(InternalProgrammingError1, "offsets of port %d buffer %d unknown", p.md.ID, tid)
	}
	return bufferLoc{res: p.real, data: o.BufferOffset, meta: o.MetaDataOffset, state: o.LocalStateOffset}, nil
}

// pushTarget is one destination of an output template.
type pushTarget struct {
	port        *Port
	part, parts uint64
}

// genPush builds output templates for every local output port: for each
// output buffer, input buffer and broadcast variant, the payload and
// metadata are copied into each target, the target is flagged full, then
// the output buffer is flagged empty.
func genPush(output, input *PortSet, ctl TransferController, targets func() [][]pushTarget, keyPort func(ts []pushTarget) int) error {
	for _, op := range output.ports {
		if !op.initialized || op.shadow {
			continue
		}
		blen := uint64(output.BufferLength())
		for outTid := range output.BufferCount() {
			src, err := locate(op, outTid)
			if err != nil {
				return err
			}
			for _, ts := range targets() {
				for inTid := range input.BufferCount() {
					for _, bcast := range []bool{false, true} {
						t := &TransferTemplate{}
						for _, tg := range ts {
							dst, err := locate(tg.port, inTid)
							if err != nil {
								return err
							}
							if tg.parts > 1 {
								ps := partSize(blen, tg.parts)
								size := ps
								if tg.part+1 == tg.parts {
									size = blen - tg.part*ps
								}
								if size > uint64(input.BufferLength()) {
									size = uint64(input.BufferLength())
								}
								t.addPayload(src.res, src.data+tg.part*ps, dst.res, dst.data, size)
								t.addMetaPart(src.res, src.meta, dst.res, dst.meta, tg.part, tg.parts, blen)
							} else {
								t.addPayload(src.res, src.data, dst.res, dst.data, min(blen, uint64(input.BufferLength())))
								t.addCopy(src.res, src.meta, dst.res, dst.meta, metaDataSize)
							}
							t.addFlag(dst.res, dst.state, stateFull)
						}
						t.addFlag(src.res, src.state, stateEmpty)
						ctl.AddTemplate(TemplateKey{
							OutPort:   op.md.ID,
							OutTid:    outTid,
							InPort:    keyPort(ts),
							InTid:     inTid,
							BroadCast: bcast,
						}, t)
					}
				}
			}
		}
	}
	return nil
}

// genConsume builds input templates for every local input port: releasing
// a buffer writes the empty flag into each producer's shadow state. A port
// fed by a pull driver only clears its own state.
func genConsume(output, input *PortSet, ctl TransferController) error {
	for _, ip := range input.ports {
		if !ip.initialized || ip.shadow {
			continue
		}
		for inTid := range input.BufferCount() {
			t := &TransferTemplate{}
			for _, op := range output.ports {
				if !op.initialized {
					continue
				}
				off := ip.offsets.get(inTid, fieldShadowState(op.real.Endpoint.Mailbox))
				if off == 0 {
					return newError(InternalProgrammingError1, "shadow state of port %d buffer %d unknown", ip.md.ID, inTid)
				}
				dst := op.real
				if ip.pull != nil {
					// Pulled buffers are freed at the producer by the driver.
					dst = ip.real
				}
				t.addFlag(dst, off, stateEmpty)
			}
			ctl.AddTemplate(TemplateKey{InPort: ip.md.ID, InTid: inTid, Input: true}, t)
		}
	}
	return nil
}

// genPull builds consumer-driven templates: each local input buffer can be
// filled from each output buffer, and releasing it flags that output
// buffer empty.
func genPull(output, input *PortSet, ctl TransferController) error {
	blen := min(uint64(output.BufferLength()), uint64(input.BufferLength()))
	for _, ip := range input.ports {
		if !ip.initialized || ip.shadow {
			continue
		}
		for _, op := range output.ports {
			for outTid := range output.BufferCount() {
				src, err := locate(op, outTid)
				if err != nil {
					return err
				}
				for inTid := range input.BufferCount() {
					dst, err := locate(ip, inTid)
					if err != nil {
						return err
					}
					k := TemplateKey{OutPort: op.md.ID, OutTid: outTid, InPort: ip.md.ID, InTid: inTid}
					t := &TransferTemplate{}
					t.addPayload(src.res, src.data, dst.res, dst.data, blen)
					t.addCopy(src.res, src.meta, dst.res, dst.meta, metaDataSize)
					t.addFlag(dst.res, dst.state, stateFull)
					ctl.AddTemplate(k, t)

					k.Input = true
					rt := &TransferTemplate{}
					rt.addFlag(src.res, src.state, stateEmpty)
					ctl.AddTemplate(k, rt)
				}
			}
		}
	}
	return nil
}

func allPorts(input *PortSet) func() [][]pushTarget {
	return func() [][]pushTarget {
		ts := make([]pushTarget, len(input.ports))
		for i, ip := range input.ports {
			ts[i] = pushTarget{port: ip}
		}
		return [][]pushTarget{ts}
	}
}

func eachPort(input *PortSet) func() [][]pushTarget {
	return func() [][]pushTarget {
		out := make([][]pushTarget, len(input.ports))
		for i, ip := range input.ports {
			out[i] = []pushTarget{{port: ip}}
		}
		return out
	}
}

func blocks(input *PortSet) func() [][]pushTarget {
	return func() [][]pushTarget {
		n := uint64(len(input.ports))
		ts := make([]pushTarget, n)
		for i, ip := range input.ports {
			ts[i] = pushTarget{port: ip, part: uint64(i), parts: n}
		}
		return [][]pushTarget{ts}
	}
}

func keyZero([]pushTarget) int { return 0 }

func keyFirst(ts []pushTarget) int { return ts[0].port.md.ID }

// pattern1 pushes whole buffers to every port of a parallel input set.
type pattern1 struct{}

func (pattern1) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	if err := genPush(output, input, ctl, allPorts(input), keyZero); err != nil {
		return err
	}
	return genConsume(output, input, ctl)
}

// pattern1AFC serves a local output in ActiveFlowControl role.
type pattern1AFC struct{}

func (pattern1AFC) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	for _, op := range output.ports {
		if op.shadow {
			return newError(InternalProgrammingError1, "output port %d is not local", op.md.ID)
		}
	}
	return genPull(output, input, ctl)
}

// pattern1AFCShadow lets a local consumer pull from a remote output whose
// layout came from its producer descriptor.
type pattern1AFCShadow struct{}

func (pattern1AFCShadow) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	return genPull(output, input, ctl)
}

// pattern2 sends each buffer to one port of a sequential input set.
type pattern2 struct{}

func (pattern2) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	if err := genPush(output, input, ctl, eachPort(input), keyFirst); err != nil {
		return err
	}
	return genConsume(output, input, ctl)
}

// pattern3 is pattern2 from a sequential output set.
type pattern3 struct{ pattern2 }

// pattern4 splits each buffer into one block per input port.
type pattern4 struct{}

func (pattern4) CreateTemplates(output, input *PortSet, ctl TransferController) error {
	if len(input.ports) == 0 {
		return newError(InternalProgrammingError1, "empty input set")
	}
	if err := genPush(output, input, ctl, blocks(input), keyZero); err != nil {
		return err
	}
	return genConsume(output, input, ctl)
}
