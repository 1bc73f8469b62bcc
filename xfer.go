// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"sync"
)

// XferServices moves bytes and flag words between two endpoint segments.
type XferServices struct {
	local, remote *Resources
	cookie        uint64
	peerCookie    uint64
	finalized     bool
}

// ConnectionCookie identifies this connection to the peer.
func (x *XferServices) ConnectionCookie() uint64 { return x.cookie }

// Finalize binds the peer's cookie to the connection.
func (x *XferServices) Finalize(peerCookie uint64) {
	x.peerCookie = peerCookie
	x.finalized = true
}

// Finalized reports whether Finalize has been called.
func (x *XferServices) Finalized() bool { return x.finalized }

// PeerCookie returns the cookie passed to Finalize.
func (x *XferServices) PeerCookie() uint64 { return x.peerCookie }

// Local returns the local side.
func (x *XferServices) Local() *Resources { return x.local }

// Remote returns the remote side.
func (x *XferServices) Remote() *Resources { return x.remote }

// XferFactory caches XferServices per endpoint pair.
type XferFactory struct {
	registry *Registry
	mu       sync.Mutex
	services map[[2]string]*XferServices
}

// NewXferFactory returns a factory resolving endpoints through registry.
func NewXferFactory(registry *Registry) *XferFactory {
	return &XferFactory{registry: registry, services: make(map[[2]string]*XferServices)}
}

// Service returns the transfer service from local to remote.
func (f *XferFactory) Service(local, remote string) (*XferServices, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]string{local, remote}
	if x, ok := f.services[key]; ok {
		return x, nil
	}
	l, err := f.registry.Resolve(local)
	if err != nil {
		return nil, err
	}
	r, err := f.registry.Resolve(remote)
	if err != nil {
		return nil, err
	}
	x := &XferServices{local: l, remote: r, cookie: nextCookie()}
	f.services[key] = x
	return x, nil
}
