// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"code.hybscloud.com/dataplane"
	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peers returns two transports on one registry, a owning mailbox 0 and b
// mailbox 1 of the same two-slot table size.
func peers(t *testing.T) (a, b *dataplane.Transport, ea, eb *dataplane.Resources) {
	t.Helper()
	reg := dataplane.NewRegistry()
	a, b = newTransport(reg), newTransport(reg)
	var err error
	ea, err = a.NewLocalEndpoint(dataplane.ProtocolSMB, testSegmentSize, 0, 2)
	require.NoError(t, err)
	eb, err = b.NewLocalEndpoint(dataplane.ProtocolSMB, testSegmentSize, 1, 2)
	require.NoError(t, err)
	return a, b, ea, eb
}

// localCircuit creates circuit id on tr with output port 0 and input port
// 1 both located at ep.
func localCircuit(t *testing.T, tr *dataplane.Transport, id dataplane.CircuitID, ep string) *dataplane.Circuit {
	t.Helper()
	md := dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ep, ep)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, ep, ep)))
	c, err := tr.CreateCircuit(id, md)
	require.NoError(t, err)
	return c
}

func TestStepInspectOperations(t *testing.T) {
	_, _, ea, eb := peers(t)
	r := dataplane.Request{Kind: dataplane.ReqInputOffsets, CircuitID: 5, PortID: 1, URL: ea.Endpoint.String()}

	_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
	require.NotNil(t, susp)
	post, ok := susp.Op().(dataplane.Post)
	require.True(t, ok, "expected Post, got %T", susp.Op())
	assert.Equal(t, dataplane.ReqInputOffsets, post.Request.Kind)
	assert.Equal(t, dataplane.CircuitID(5), post.Request.CircuitID)

	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)
	_, susp, err := dataplane.Advance(ctx, susp)
	require.NoError(t, err)
	require.NotNil(t, susp)
	_, ok = susp.Op().(dataplane.Await)
	require.True(t, ok, "expected Await, got %T", susp.Op())
	assert.False(t, ea.Mailbox().Available())
	susp.Discard()
}

func TestStepAdvanceWouldBlockUntilServed(t *testing.T) {
	_, b, ea, eb := peers(t)
	r := dataplane.Request{Kind: dataplane.ReqInputOffsets, CircuitID: 77, PortID: 1, URL: ea.Endpoint.String()}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)

	_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
	_, susp, err := dataplane.Advance(ctx, susp)
	require.NoError(t, err)

	_, susp, err = dataplane.Advance(ctx, susp)
	require.ErrorIs(t, err, iox.ErrWouldBlock)
	require.NotNil(t, susp)

	n, err := b.CheckMailboxes()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, ea.Mailbox().Available())

	_, susp, err = dataplane.Advance(ctx, susp)
	require.ErrorIs(t, err, dataplane.ErrCircuitNotFound)
	susp.Discard()

	n, err = b.CheckMailboxes()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStepPostWouldBlockWhileBusy(t *testing.T) {
	_, b, ea, eb := peers(t)
	r := dataplane.Request{Kind: dataplane.ReqInputOffsets, CircuitID: 77, URL: ea.Endpoint.String()}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)

	_, first := dataplane.Step(dataplane.ExprRoundTrip(r))
	_, first, err := dataplane.Advance(ctx, first)
	require.NoError(t, err)

	_, second := dataplane.Step(dataplane.ExprRoundTrip(r))
	_, second, err = dataplane.Advance(ctx, second)
	require.ErrorIs(t, err, iox.ErrWouldBlock)
	_, ok := second.Op().(dataplane.Post)
	require.True(t, ok)

	require.ErrorIs(t, ea.Mailbox().MakeRequest(r, eb), dataplane.ErrMailboxBusy)

	_, err = b.CheckMailboxes()
	require.NoError(t, err)
	_, _, err = dataplane.Advance(ctx, first)
	require.ErrorIs(t, err, dataplane.ErrCircuitNotFound)
	first.Discard()

	_, second, err = dataplane.Advance(ctx, second)
	require.NoError(t, err)
	_, ok = second.Op().(dataplane.Await)
	require.True(t, ok)
	second.Discard()
}

func TestStepRoundTripWritesOffsets(t *testing.T) {
	_, b, ea, eb := peers(t)
	c := localCircuit(t, b, 42, eb.Endpoint.String())
	ip := c.Port(1)
	require.NotNil(t, ip)

	ret, err := ea.Alloc.Alloc(1024, 7)
	require.NoError(t, err)
	r := dataplane.Request{
		Kind:         dataplane.ReqInputOffsets,
		CircuitID:    42,
		PortID:       1,
		URL:          ea.Endpoint.String(),
		ReturnOffset: ret,
		ReturnSize:   1024,
	}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)
	_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
	for susp != nil {
		_, susp, err = dataplane.Advance(ctx, susp)
		if errors.Is(err, iox.ErrWouldBlock) {
			_, err = b.CheckMailboxes()
		}
		require.NoError(t, err)
	}

	w, err := ea.Map(ret, 8)
	require.NoError(t, err)
	assert.Equal(t, ip.Offsets(0).BufferOffset, binary.LittleEndian.Uint64(w))
	assert.NotZero(t, binary.LittleEndian.Uint64(w))
}

func TestStepReturnOffsetInsideMailboxTable(t *testing.T) {
	_, b, ea, eb := peers(t)
	localCircuit(t, b, 43, eb.Endpoint.String())

	r := dataplane.Request{Kind: dataplane.ReqInputOffsets, CircuitID: 43, PortID: 1, URL: ea.Endpoint.String()}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)
	_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
	_, susp, err := dataplane.Advance(ctx, susp)
	require.NoError(t, err)
	_, err = b.CheckMailboxes()
	require.NoError(t, err)
	_, _, err = dataplane.Advance(ctx, susp)
	require.ErrorIs(t, err, dataplane.ErrSegmentRange)
	susp.Discard()
}

func TestStepUnknownPort(t *testing.T) {
	_, b, ea, eb := peers(t)
	localCircuit(t, b, 44, eb.Endpoint.String())

	r := dataplane.Request{Kind: dataplane.ReqInputOffsets, CircuitID: 44, PortID: 9, URL: ea.Endpoint.String()}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)
	_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
	_, susp, err := dataplane.Advance(ctx, susp)
	require.NoError(t, err)
	_, err = b.CheckMailboxes()
	require.NoError(t, err)
	_, _, err = dataplane.Advance(ctx, susp)
	require.ErrorIs(t, err, dataplane.ErrPortNotFound)
	susp.Discard()
}
