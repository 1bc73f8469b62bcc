// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import (
	"cmp"
	"maps"
	"slices"

	"github.com/charmbracelet/log"
)

// Transport owns the local endpoints and circuits of one process. It is
// driven from a single goroutine; Transports sharing a Registry talk to
// each other only through segment memory.
type Transport struct {
	registry *Registry
	dispatch *Dispatch
	logger   *log.Logger
	xfer     *XferFactory

	local    map[string]*Resources
	remote   map[string]*Resources
	circuits map[CircuitID]*Circuit
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithDispatch replaces the strategy table.
func WithDispatch(d *Dispatch) Option {
	return func(t *Transport) { t.dispatch = d }
}

// NewTransport returns a Transport resolving endpoints through reg.
func NewTransport(reg *Registry, opts ...Option) *Transport {
	t := &Transport{
		registry: reg,
		local:    make(map[string]*Resources),
		remote:   make(map[string]*Resources),
		circuits: make(map[CircuitID]*Circuit),
	}
	for _, o := range opts {
		o(t)
	}
	if t.dispatch == nil {
		t.dispatch = DefaultDispatch()
	}
	if t.logger == nil {
		t.logger = defaultLogger()
	}
	t.xfer = NewXferFactory(reg)
	return t
}

// Registry returns the endpoint registry.
func (t *Transport) Registry() *Registry { return t.registry }

// Dispatch returns the strategy table.
func (t *Transport) Dispatch() *Dispatch { return t.dispatch }

// AddLocalEndpoint makes endpoint one this transport serves requests on.
func (t *Transport) AddLocalEndpoint(endpoint string) (*Resources, error) {
	res, err := t.registry.Resolve(endpoint)
	if err != nil {
		return nil, err
	}
	key := res.Endpoint.String()
	t.local[key] = res
	delete(t.remote, key)
	t.logger.Debug("local endpoint", "endpoint", key)
	return res, nil
}

// NewLocalEndpoint creates an endpoint with a fresh address and adds it.
func (t *Transport) NewLocalEndpoint(protocol string, size uint64, mailbox, maxMailboxes uint32) (*Resources, error) {
	ep, err := NewEndpoint(protocol, size, mailbox, maxMailboxes)
	if err != nil {
		return nil, err
	}
	return t.AddLocalEndpoint(ep.String())
}

// AddRemoteEndpoint resolves an endpoint owned by another transport.
func (t *Transport) AddRemoteEndpoint(endpoint string) (*Resources, error) {
	key := canonical(endpoint)
	if res, ok := t.local[key]; ok {
		return res, nil
	}
	res, err := t.registry.Resolve(endpoint)
	if err != nil {
		return nil, err
	}
	t.remote[res.Endpoint.String()] = res
	return res, nil
}

// IsLocalEndpoint reports whether endpoint was added as local.
func (t *Transport) IsLocalEndpoint(endpoint string) bool {
	_, ok := t.local[canonical(endpoint)]
	return ok
}

// LocalEndpoints returns the local endpoints in string order.
func (t *Transport) LocalEndpoints() []Endpoint {
	eps := make([]Endpoint, 0, len(t.local))
	for _, k := range slices.Sorted(maps.Keys(t.local)) {
		eps = append(eps, t.local[k].Endpoint)
	}
	return eps
}

// CreateCircuit creates a circuit from md. A zero id allocates one; peers
// building the two halves of a circuit must agree on its id.
func (t *Transport) CreateCircuit(id CircuitID, md *ConnectionMetaData) (*Circuit, error) {
	if id == 0 {
		id = nextCircuitID()
	}
	if _, ok := t.circuits[id]; ok {
		return nil, newError(InternalProgrammingError1, "circuit %d exists", id)
	}
	c, err := newCircuit(t, id, md, t.deleteCircuit)
	if err != nil {
		return nil, err
	}
	t.circuits[id] = c
	return c, nil
}

// Circuit returns circuit id, or nil.
func (t *Transport) Circuit(id CircuitID) *Circuit { return t.circuits[id] }

// Circuits returns the circuits ordered by id.
func (t *Transport) Circuits() []*Circuit {
	cs := slices.Collect(maps.Values(t.circuits))
	slices.SortFunc(cs, func(a, b *Circuit) int { return cmp.Compare(a.id, b.id) })
	return cs
}

func (t *Transport) deleteCircuit(c *Circuit) {
	if t.circuits[c.id] != c {
		return
	}
	delete(t.circuits, c.id)
	c.release()
	t.logger.Debug("circuit deleted", "circuit", c.id)
}

// CheckMailboxes serves every pending request addressed to a local
// endpoint and returns how many were handled. Requests that cannot be
// satisfied are answered with an error code.
func (t *Transport) CheckMailboxes() (int, error) {
	n := 0
	for _, k := range slices.Sorted(maps.Keys(t.local)) {
		res := t.local[k]
		for {
			id, err := res.doorbell.Dequeue()
			if err != nil {
				break
			}
			ok, err := t.serve(res, id)
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
		// The doorbell may withhold entries until producers move again.
		for id := range res.Endpoint.MaxMailboxes {
			ok, err := t.serve(res, id)
			if err != nil {
				return n, err
			}
			if ok {
				n++
			}
		}
	}
	return n, nil
}

func (t *Transport) serve(res *Resources, id uint32) (bool, error) {
	if id == res.Endpoint.Mailbox || id >= res.Endpoint.MaxMailboxes {
		return false, nil
	}
	mb := Mailbox{id: id, res: res}
	r, err := mb.load(res)
	if err != nil {
		return false, err
	}
	if r.Kind == NoRequest {
		return false, nil
	}
	requester, err := t.AddRemoteEndpoint(r.URL)
	if err != nil {
		t.logger.Warn("request from unknown endpoint", "url", r.URL, "err", err)
		return true, mb.store(res, &Request{})
	}
	var code ErrorCode
	if err := t.handle(&r, requester); err != nil {
		code = codeOf(err)
		if code == 0 {
			code = InternalProgrammingError1
		}
		t.logger.Warn("request failed", "kind", r.Kind, "circuit", r.CircuitID, "port", r.PortID, "err", err)
	} else {
		t.logger.Debug("request served", "kind", r.Kind, "circuit", r.CircuitID, "port", r.PortID)
	}
	return true, mb.reply(requester, code)
}

func (t *Transport) handle(r *Request, requester *Resources) error {
	c := t.circuits[r.CircuitID]
	if c == nil {
		return newError(CircuitNotFound, "circuit %d", r.CircuitID)
	}
	if r.Kind == ReqUpdateCircuit {
		return c.updateInputsFromRequest(r)
	}
	p := c.Port(r.PortID)
	if p == nil {
		return newError(PortNotFound, "port %d of circuit %d", r.PortID, r.CircuitID)
	}
	return p.answer(r, requester)
}

// Poll serves mailboxes, advances every circuit that is not ready yet and
// starts queued transfers on those that are. It reports whether every
// circuit is ready.
func (t *Transport) Poll() (bool, error) {
	if _, err := t.CheckMailboxes(); err != nil {
		return false, err
	}
	all := true
	for _, c := range t.Circuits() {
		if c.ready {
			if err := c.CheckQueuedTransfers(); err != nil {
				return false, err
			}
			continue
		}
		ok, err := c.Ready()
		if err != nil {
			return false, err
		}
		all = all && ok
	}
	return all, nil
}

// Close deletes every circuit. Endpoint segments belong to the Registry.
func (t *Transport) Close() error {
	for _, c := range t.Circuits() {
		t.deleteCircuit(c)
	}
	return nil
}
