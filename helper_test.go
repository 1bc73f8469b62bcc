// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"context"
	"io"
	"testing"
	"time"

	"code.hybscloud.com/dataplane"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

const (
	testSegmentSize  = 1 << 16
	testBufferLength = 64
)

// newTransport returns a transport on reg that logs nowhere.
func newTransport(reg *dataplane.Registry, opts ...dataplane.Option) *dataplane.Transport {
	return dataplane.NewTransport(reg, append([]dataplane.Option{dataplane.WithLogger(log.New(io.Discard))}, opts...)...)
}

// localEndpoint adds a fresh heap endpoint with the given mailbox to tr.
func localEndpoint(t require.TestingT, tr *dataplane.Transport, mailbox uint32) string {
	res, err := tr.NewLocalEndpoint(dataplane.ProtocolSMB, testSegmentSize, mailbox, 2)
	require.NoError(t, err)
	return res.Endpoint.String()
}

func outputSet(ports ...*dataplane.PortMetaData) *dataplane.PortSetMetaData {
	ps := dataplane.NewPortSetMetaData(true, dataplane.Parallel, dataplane.Indivisible, 2, testBufferLength)
	for _, p := range ports {
		ps.AddPort(p)
	}
	return ps
}

func inputSet(dist dataplane.Distribution, part dataplane.Partition, ports ...*dataplane.PortMetaData) *dataplane.PortSetMetaData {
	ps := dataplane.NewPortSetMetaData(false, dist, part, 2, testBufferLength)
	for _, p := range ports {
		ps.AddPort(p)
	}
	return ps
}

// colocated builds a ready circuit whose ports all live on one endpoint:
// output port 0 and one input set per entry of sets, each holding that
// many ports numbered after the output.
func colocated(t require.TestingT, dist dataplane.Distribution, part dataplane.Partition, sets ...int) (*dataplane.Transport, *dataplane.Circuit) {
	tr := newTransport(dataplane.NewRegistry())
	ep := localEndpoint(t, tr, 0)
	out := outputSet(dataplane.NewPortMetaData(0, true, ep, ep))
	var ins []*dataplane.PortSetMetaData
	id := 1
	for _, n := range sets {
		in := inputSet(dataplane.Parallel, part)
		for range n {
			in.AddPort(dataplane.NewPortMetaData(id, false, ep, ep))
			id++
		}
		ins = append(ins, in)
	}
	c, err := tr.CreateCircuit(0, dataplane.NewConnectionMetaData(dist, out, ins...))
	require.NoError(t, err)
	ok, err := c.Ready()
	require.NoError(t, err)
	require.True(t, ok)
	return tr, c
}

// send fills the next empty output buffer of p with payload and sends it.
func send(t require.TestingT, p *dataplane.Port, payload string) {
	b, err := p.NextEmptyOutputBuffer()
	require.NoError(t, err)
	require.NotNil(t, b)
	copy(b.Data(), payload)
	require.NoError(t, p.SendOutputBuffer(b, uint32(len(payload)), 1, false))
}

// recv takes the next full input buffer of p, returns its payload and
// releases it.
func recv(t require.TestingT, p *dataplane.Port) string {
	b := p.NextFullInputBuffer()
	require.NotNil(t, b)
	s := string(b.Data()[:b.Length()])
	require.NoError(t, p.InputAvailable(b))
	return s
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
