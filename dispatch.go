// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import "sync"

// DispatchKey selects a transfer strategy for an output set feeding an
// input set.
type DispatchKey struct {
	OutputDist   Distribution
	InputDist    Distribution
	OutputPart   Partition
	InputPart    Partition
	OutputShadow bool
	OutputRole   Role
	InputRole    Role
}

// Dispatch maps strategy keys to template generators and controller
// factories. A key with no entry resolves to a sentinel that rejects the
// transfer with UnsupportedTransfer.
type Dispatch struct {
	generators  map[DispatchKey]TemplateGenerator
	controllers map[DispatchKey]ControllerFactory
}

// NewDispatch returns a Dispatch with every cell unsupported.
func NewDispatch() *Dispatch {
	return &Dispatch{
		generators:  make(map[DispatchKey]TemplateGenerator),
		controllers: make(map[DispatchKey]ControllerFactory),
	}
}

// Register sets the generator and controller factory of k.
func (d *Dispatch) Register(k DispatchKey, gen TemplateGenerator, ctl ControllerFactory) {
	d.generators[k] = gen
	d.controllers[k] = ctl
}

// Generator returns the template generator of k.
func (d *Dispatch) Generator(k DispatchKey) TemplateGenerator {
	if g, ok := d.generators[k]; ok {
		return g
	}
	return notSupportedGenerator{}
}

// Controller returns the controller factory of k.
func (d *Dispatch) Controller(k DispatchKey) ControllerFactory {
	if c, ok := d.controllers[k]; ok {
		return c
	}
	return notSupportedController{}
}

// Clone returns an independent copy of d.
func (d *Dispatch) Clone() *Dispatch {
	n := NewDispatch()
	for k, g := range d.generators {
		n.generators[k] = g
	}
	for k, c := range d.controllers {
		n.controllers[k] = c
	}
	return n
}

// DefaultDispatch returns the shared default strategy table. It is built
// once and must not be modified; Clone it to customize.
var DefaultDispatch = sync.OnceValue(func() *Dispatch {
	d := NewDispatch()
	allRoles := []Role{ActiveMessage, ActiveFlowControl, ActiveOnly, NoRole}
	for _, shadow := range []bool{false, true} {
		d.Register(DispatchKey{
			OutputDist:   Parallel,
			InputDist:    Parallel,
			OutputPart:   Indivisible,
			InputPart:    Indivisible,
			OutputShadow: shadow,
			OutputRole:   ActiveMessage,
			InputRole:    ActiveFlowControl,
		}, pattern1{}, ControllerFactoryFunc(newController1))

		var afc TemplateGenerator = pattern1AFC{}
		if shadow {
			afc = pattern1AFCShadow{}
		}
		for _, in := range allRoles {
			d.Register(DispatchKey{
				OutputDist:   Parallel,
				InputDist:    Parallel,
				OutputPart:   Indivisible,
				InputPart:    Indivisible,
				OutputShadow: shadow,
				OutputRole:   ActiveFlowControl,
				InputRole:    in,
			}, afc, ControllerFactoryFunc(newController1AFCShadow))
		}

		for _, in := range []Role{ActiveMessage, ActiveFlowControl} {
			d.Register(DispatchKey{
				OutputDist:   Parallel,
				InputDist:    Sequential,
				OutputPart:   Indivisible,
				InputPart:    Indivisible,
				OutputShadow: shadow,
				OutputRole:   ActiveMessage,
				InputRole:    in,
			}, pattern2{}, ControllerFactoryFunc(newController2))
			d.Register(DispatchKey{
				OutputDist:   Sequential,
				InputDist:    Sequential,
				OutputPart:   Indivisible,
				InputPart:    Indivisible,
				OutputShadow: shadow,
				OutputRole:   ActiveMessage,
				InputRole:    in,
			}, pattern3{}, ControllerFactoryFunc(newController3))
			d.Register(DispatchKey{
				OutputDist:   Parallel,
				InputDist:    Parallel,
				OutputPart:   Indivisible,
				InputPart:    Block,
				OutputShadow: shadow,
				OutputRole:   ActiveMessage,
				InputRole:    in,
			}, pattern4{}, ControllerFactoryFunc(newController4))
		}
	}
	return d
})
