// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Endpoint protocols.
const (
	// ProtocolSMB is a heap segment shared by every Transport on one Registry.
	ProtocolSMB = "ocpi-smb-pio"
	// ProtocolSHM is a file-backed segment mapped with mmap.
	ProtocolSHM = "ocpi-shm-pio"
)

// maxEndpointLen bounds the oep field of a descriptor (128 bytes, NUL included).
const maxEndpointLen = 127

// Endpoint identifies a shared-memory region and the mailbox slot its owner
// uses for control requests. The string form is
//
//	<protocol>:<address>;<size>.<mailbox>.<maxMailboxes>
type Endpoint struct {
	Protocol     string
	Address      string
	Size         uint64
	Mailbox      uint32
	MaxMailboxes uint32
}

// ParseEndpoint parses the string form of an endpoint.
func ParseEndpoint(s string) (Endpoint, error) {
	var ep Endpoint
	if len(s) > maxEndpointLen {
		return ep, newError(BadEndpoint, "%q exceeds %d bytes", s, maxEndpointLen)
	}
	proto, rest, ok := strings.Cut(s, ":")
	if !ok || proto == "" {
		return ep, newError(BadEndpoint, "%q: missing protocol", s)
	}
	addr, params, ok := strings.Cut(rest, ";")
	if !ok || addr == "" {
		return ep, newError(BadEndpoint, "%q: missing address", s)
	}
	fields := strings.Split(params, ".")
	if len(fields) != 3 {
		return ep, newError(BadEndpoint, "%q: want <size>.<mailbox>.<max>", s)
	}
	size, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return ep, wrapError(BadEndpoint, err, "%q: size", s)
	}
	mb, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return ep, wrapError(BadEndpoint, err, "%q: mailbox", s)
	}
	maxMb, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return ep, wrapError(BadEndpoint, err, "%q: max mailboxes", s)
	}
	ep = Endpoint{
		Protocol:     proto,
		Address:      addr,
		Size:         size,
		Mailbox:      uint32(mb),
		MaxMailboxes: uint32(maxMb),
	}
	if err := ep.validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func (ep Endpoint) validate() error {
	if ep.MaxMailboxes == 0 || ep.MaxMailboxes > MaxPContribs {
		return newError(BadEndpoint, "max mailboxes %d not in [1,%d]", ep.MaxMailboxes, MaxPContribs)
	}
	if ep.Mailbox >= ep.MaxMailboxes {
		return newError(BadEndpoint, "mailbox %d >= max %d", ep.Mailbox, ep.MaxMailboxes)
	}
	if ep.Size <= commsSize(ep.MaxMailboxes) {
		return newError(BadEndpoint, "size %d leaves no room past the mailbox table", ep.Size)
	}
	return nil
}

// String returns the canonical string form.
func (ep Endpoint) String() string {
	var b strings.Builder
	b.WriteString(ep.Protocol)
	b.WriteByte(':')
	b.WriteString(ep.Address)
	b.WriteByte(';')
	b.WriteString(strconv.FormatUint(ep.Size, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(uint64(ep.Mailbox), 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(uint64(ep.MaxMailboxes), 10))
	return b.String()
}

// NewEndpoint returns an endpoint with a fresh unique address.
func NewEndpoint(protocol string, size uint64, mailbox, maxMailboxes uint32) (Endpoint, error) {
	ep := Endpoint{
		Protocol:     protocol,
		Address:      "pio" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Size:         size,
		Mailbox:      mailbox,
		MaxMailboxes: maxMailboxes,
	}
	if err := ep.validate(); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}
