// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"bytes"
	"encoding/binary"
)

// RequestKind identifies a mailbox request.
type RequestKind uint32

const (
	NoRequest RequestKind = iota
	ReqUpdateCircuit
	ReqShadowRstateOffset
	ReqInputOffsets
	ReqOutputControlOffset
)

func (k RequestKind) String() string {
	switch k {
	case NoRequest:
		return "none"
	case ReqUpdateCircuit:
		return "update-circuit"
	case ReqShadowRstateOffset:
		return "shadow-rstate-offset"
	case ReqInputOffsets:
		return "input-offsets"
	case ReqOutputControlOffset:
		return "output-control-offset"
	}
	return "unknown"
}

// Mailbox table layout at the head of every endpoint segment.
const (
	upAndRunningMarker = 0x4f435049
	markerSize         = 64
	slotSize           = 512
	urlSize            = maxEndpointLen + 1
)

func commsSize(maxMailboxes uint32) uint64 {
	return markerSize + uint64(maxMailboxes)*slotSize
}

func slotOffset(mailbox uint32) uint64 {
	return markerSize + uint64(mailbox)*slotSize
}

// Request is the content of one mailbox slot.
type Request struct {
	Kind          RequestKind
	ErrorCode     ErrorCode
	CircuitID     CircuitID
	PortID        int
	URL           string
	ReturnOffset  uint64
	ReturnSize    uint64
	ReturnMailbox uint32

	// ReqUpdateCircuit
	SenderOutputControlOffset uint64
	ProtocolOffset            uint64
	ProtocolSize              uint64
	OutputEndpoint            string
	TPortCount                uint32
	SenderCircuitID           CircuitID
	SenderPortID              int
	ReceiverCircuitID         CircuitID
	ReceiverPortID            int
	SenderOutputPortID        int
}

func putString(b []byte, s string) {
	clear(b)
	copy(b[:len(b)-1], s)
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (r *Request) encode(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(r.Kind))
	le.PutUint32(b[4:], uint32(r.ErrorCode))
	le.PutUint32(b[8:], uint32(r.CircuitID))
	le.PutUint32(b[12:], uint32(int32(r.PortID)))
	le.PutUint64(b[16:], r.ReturnOffset)
	le.PutUint64(b[24:], r.ReturnSize)
	le.PutUint32(b[32:], r.ReturnMailbox)
	le.PutUint32(b[36:], r.TPortCount)
	le.PutUint64(b[40:], r.SenderOutputControlOffset)
	le.PutUint64(b[48:], r.ProtocolOffset)
	le.PutUint64(b[56:], r.ProtocolSize)
	le.PutUint32(b[64:], uint32(r.SenderCircuitID))
	le.PutUint32(b[68:], uint32(int32(r.SenderPortID)))
	le.PutUint32(b[72:], uint32(r.ReceiverCircuitID))
	le.PutUint32(b[76:], uint32(int32(r.ReceiverPortID)))
	le.PutUint32(b[80:], uint32(int32(r.SenderOutputPortID)))
	putString(b[128:128+urlSize], r.URL)
	putString(b[256:256+urlSize], r.OutputEndpoint)
}

func (r *Request) decode(b []byte) {
	le := binary.LittleEndian
	r.Kind = RequestKind(le.Uint32(b[0:]))
	r.ErrorCode = ErrorCode(le.Uint32(b[4:]))
	r.CircuitID = CircuitID(le.Uint32(b[8:]))
	r.PortID = int(int32(le.Uint32(b[12:])))
	r.ReturnOffset = le.Uint64(b[16:])
	r.ReturnSize = le.Uint64(b[24:])
	r.ReturnMailbox = le.Uint32(b[32:])
	r.TPortCount = le.Uint32(b[36:])
	r.SenderOutputControlOffset = le.Uint64(b[40:])
	r.ProtocolOffset = le.Uint64(b[48:])
	r.ProtocolSize = le.Uint64(b[56:])
	r.SenderCircuitID = CircuitID(le.Uint32(b[64:]))
	r.SenderPortID = int(int32(le.Uint32(b[68:])))
	r.ReceiverCircuitID = CircuitID(le.Uint32(b[72:]))
	r.ReceiverPortID = int(int32(le.Uint32(b[76:])))
	r.SenderOutputPortID = int(int32(le.Uint32(b[80:])))
	r.URL = getString(b[128 : 128+urlSize])
	r.OutputEndpoint = getString(b[256 : 256+urlSize])
}

// Mailbox is a requester's slot. The slot at the same index in the target
// segment receives a copy of every request; the responder clears both.
type Mailbox struct {
	id  uint32
	res *Resources
}

// ID returns the mailbox index.
func (m Mailbox) ID() uint32 { return m.id }

func (m Mailbox) slot(res *Resources) ([]byte, error) {
	if m.id >= res.Endpoint.MaxMailboxes {
		return nil, newError(BadEndpoint, "mailbox %d not in %s", m.id, res.Endpoint)
	}
	return res.Segment.Map(slotOffset(m.id), slotSize)
}

func (m Mailbox) load(res *Resources) (Request, error) {
	var r Request
	b, err := m.slot(res)
	if err != nil {
		return r, err
	}
	wordLock.RLock()
	r.decode(b)
	wordLock.RUnlock()
	return r, nil
}

func (m Mailbox) store(res *Resources, r *Request) error {
	b, err := m.slot(res)
	if err != nil {
		return err
	}
	wordLock.Lock()
	r.encode(b)
	wordLock.Unlock()
	return nil
}

// Available reports whether the requester's slot is free.
func (m Mailbox) Available() bool {
	r, err := m.load(m.res)
	return err == nil && r.Kind == NoRequest
}

// MakeRequest writes req into the requester's slot and into the matching
// slot of target, then rings target's doorbell. It does not wait.
func (m Mailbox) MakeRequest(req Request, target *Resources) error {
	if !m.Available() {
		return newError(MailboxBusy, "mailbox %d on %s", m.id, m.res.Endpoint)
	}
	cur, err := m.load(target)
	if err != nil {
		return err
	}
	if cur.Kind != NoRequest {
		return newError(MailboxBusy, "slot %d on %s holds %s", m.id, target.Endpoint, cur.Kind)
	}
	if err := m.store(m.res, &req); err != nil {
		return err
	}
	if err := m.store(target, &req); err != nil {
		return err
	}
	return target.ring(m.id)
}

// result reports the error code left by the responder once the slot is free.
func (m Mailbox) result() (ErrorCode, error) {
	r, err := m.load(m.res)
	if err != nil {
		return 0, err
	}
	return r.ErrorCode, nil
}

// reply clears requester's slot and leaves code for it to read.
func (m Mailbox) reply(requester *Resources, code ErrorCode) error {
	r := Request{Kind: NoRequest, ErrorCode: code}
	if err := m.store(requester, &r); err != nil {
		return err
	}
	return m.store(m.res, &Request{})
}
