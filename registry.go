// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"encoding/binary"
	"sync"

	"code.hybscloud.com/lfq"
)

// Resources are the shared-memory resources of one endpoint: the segment,
// its allocator and the mailbox doorbell.
type Resources struct {
	Endpoint Endpoint
	Segment  Segment
	Alloc    ResourceManager

	// doorbell carries mailbox ids of pending requests to the responder.
	doorbell lfq.Queue[uint32]
}

// doorbellCapacity bounds pending requests per endpoint. At most one
// request per mailbox is outstanding and mailbox ids are below
// MaxPContribs, so the doorbell never fills.
const doorbellCapacity = MaxPContribs

// Mailbox returns the endpoint's own mailbox.
func (r *Resources) Mailbox() Mailbox {
	return Mailbox{id: r.Endpoint.Mailbox, res: r}
}

func (r *Resources) ring(id uint32) error {
	return r.doorbell.Enqueue(&id)
}

// Map maps size bytes at offset of the endpoint segment.
func (r *Resources) Map(offset, size uint64) ([]byte, error) {
	return r.Segment.Map(offset, size)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSegmentDir sets the directory for ocpi-shm-pio segment files.
func WithSegmentDir(dir string) RegistryOption {
	return func(r *Registry) { r.segmentDir = dir }
}

// WithAllocator makes endpoint use the allocator built by fn instead of a
// FreeList. fn receives the first and last usable offsets.
func WithAllocator(endpoint string, fn func(base, limit uint64) ResourceManager) RegistryOption {
	return func(r *Registry) { r.allocators[canonical(endpoint)] = fn }
}

// Registry maps endpoint strings to their Resources. Transports sharing a
// Registry see each other's segments, as processes sharing SMBs would.
type Registry struct {
	mu         sync.Mutex
	res        map[string]*Resources
	segmentDir string
	allocators map[string]func(base, limit uint64) ResourceManager
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		res:        make(map[string]*Resources),
		allocators: make(map[string]func(base, limit uint64) ResourceManager),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve returns the Resources for endpoint, creating the segment on
// first use.
func (r *Registry) Resolve(endpoint string) (*Resources, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.res[endpoint]; ok {
		return res, nil
	}
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, wrapError(UnsupportedEndpoint, err, "%s", endpoint)
	}
	key := ep.String()
	if res, ok := r.res[key]; ok {
		return res, nil
	}
	var seg Segment
	switch ep.Protocol {
	case ProtocolSMB:
		seg = newHeapSegment(ep.Size)
	case ProtocolSHM:
		seg, err = openFileSegment(r.segmentDir, ep.Address, ep.Size)
		if err != nil {
			return nil, err
		}
	default:
		return nil, newError(UnsupportedEndpoint, "protocol %q", ep.Protocol)
	}
	base := commsSize(ep.MaxMailboxes)
	var alloc ResourceManager
	if fn, ok := r.allocators[key]; ok {
		alloc = fn(base, ep.Size)
	} else {
		alloc = NewFreeList(base, ep.Size)
	}
	marker, err := seg.Map(0, 4)
	if err != nil {
		seg.Close()
		return nil, err
	}
	binary.LittleEndian.PutUint32(marker, upAndRunningMarker)
	res := &Resources{
		Endpoint: ep,
		Segment:  seg,
		Alloc:    alloc,
		doorbell: lfq.BuildMPSC[uint32](lfq.New(doorbellCapacity).SingleConsumer().Compact()),
	}
	r.res[key] = res
	return res, nil
}

// Lookup returns the Resources for endpoint if already resolved.
func (r *Registry) Lookup(endpoint string) (*Resources, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.res[canonical(endpoint)]
	return res, ok
}

// canonical returns the canonical form of endpoint, or endpoint itself
// when it does not parse.
func canonical(endpoint string) string {
	if ep, err := ParseEndpoint(endpoint); err == nil {
		return ep.String()
	}
	return endpoint
}

// Close closes every segment.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for k, res := range r.res {
		if err := res.Segment.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.res, k)
	}
	return first
}
