// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/dataplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteHalves builds the two halves of circuit id: a produces from its
// endpoint into b's, each side shadowing the port it does not own.
func remoteHalves(t *testing.T, a, b *dataplane.Transport, ea, eb string, id dataplane.CircuitID) (ca, cb *dataplane.Circuit) {
	t.Helper()
	var err error
	ca, err = a.CreateCircuit(id, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ea, ea)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, eb, ea))))
	require.NoError(t, err)
	cb, err = b.CreateCircuit(id, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ea, eb)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, eb, eb))))
	require.NoError(t, err)
	return ca, cb
}

// consumerHalf builds a consumer circuit on b whose producer is not known
// yet.
func consumerHalf(t *testing.T, b *dataplane.Transport, eb string, id dataplane.CircuitID) *dataplane.Circuit {
	t.Helper()
	cb, err := b.CreateCircuit(id, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, "", eb)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, eb, eb))))
	require.NoError(t, err)
	require.True(t, cb.IsCircuitOpen())
	return cb
}

func TestTransportMailboxNegotiation(t *testing.T) {
	a, b, ra, rb := peers(t)
	ea, eb := ra.Endpoint.String(), rb.Endpoint.String()
	ca, cb := remoteHalves(t, a, b, ea, eb, 7)
	require.NoError(t, ca.SetProtocol([]byte("<protocol name='x'/>")))

	assert.True(t, ca.Port(1).IsShadow())
	assert.True(t, cb.Port(0).IsShadow())
	assert.False(t, cb.Port(1).IsShadow())

	require.NoError(t, dataplane.Negotiate(testContext(t), []*dataplane.Transport{a, b}, ca, cb))
	assert.Equal(t, dataplane.Connected, ca.Status())
	assert.Equal(t, dataplane.Connected, cb.Status())
	assert.Equal(t, []byte("<protocol name='x'/>"), cb.Protocol())

	op, ip := ca.OutputPortSet().Port(0), cb.Port(1)
	for i := range 5 {
		msg := fmt.Sprintf("message %d", i)
		send(t, op, msg)
		assert.Equal(t, msg, recv(t, ip))
	}
}

func TestTransportFlowControlAcrossSegments(t *testing.T) {
	a, b, ra, rb := peers(t)
	ca, cb := remoteHalves(t, a, b, ra.Endpoint.String(), rb.Endpoint.String(), 8)
	ctx := testContext(t)
	require.NoError(t, dataplane.Negotiate(ctx, []*dataplane.Transport{a, b}, ca, cb))

	op, ip := ca.OutputPortSet().Port(0), cb.Port(1)
	send(t, op, "one")
	send(t, op, "two")
	send(t, op, "three")
	assert.Equal(t, 1, ca.QueuedTransfers())

	assert.Equal(t, "one", recv(t, ip))
	require.NoError(t, dataplane.Drain(ctx, a))
	assert.Zero(t, ca.QueuedTransfers())
	assert.Equal(t, "two", recv(t, ip))
	assert.Equal(t, "three", recv(t, ip))

	all, err := a.Poll()
	require.NoError(t, err)
	assert.True(t, all)
}

func TestTransportUpdateInputs(t *testing.T) {
	a, b, ra, rb := peers(t)
	ea, eb := ra.Endpoint.String(), rb.Endpoint.String()
	ca, err := a.CreateCircuit(21, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ea, ea)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, eb, ea))))
	require.NoError(t, err)
	cb := consumerHalf(t, b, eb, 21)

	done := false
	for range 16 {
		done, err = ca.UpdateInputs()
		require.NoError(t, err)
		if done {
			break
		}
		_, err = b.CheckMailboxes()
		require.NoError(t, err)
	}
	require.True(t, done)
	assert.False(t, cb.IsCircuitOpen())
	assert.Equal(t, dataplane.WaitingForShadowBuffer, cb.Port(1).ExternalState())
	assert.Equal(t, dataplane.CircuitID(21), cb.Port(1).MetaData().RemoteCircuitID)
	assert.Equal(t, ea, cb.Port(0).MetaData().RealLocation)

	require.NoError(t, dataplane.Negotiate(testContext(t), []*dataplane.Transport{a, b}, ca, cb))
	send(t, ca.OutputPortSet().Port(0), "updated")
	assert.Equal(t, "updated", recv(t, cb.Port(1)))
}

func TestTransportFinalizeClosesConsumer(t *testing.T) {
	a, b, ra, rb := peers(t)
	ea, eb := ra.Endpoint.String(), rb.Endpoint.String()
	ca, err := a.CreateCircuit(22, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ea, ea)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, eb, ea))))
	require.NoError(t, err)
	cb := consumerHalf(t, b, eb, 22)

	require.NoError(t, cb.Finalize(ea))
	assert.False(t, cb.IsCircuitOpen())
	assert.True(t, cb.Port(0).IsShadow())

	require.NoError(t, dataplane.Negotiate(testContext(t), []*dataplane.Transport{a, b}, ca, cb))
	send(t, ca.OutputPortSet().Port(0), "finalized")
	assert.Equal(t, "finalized", recv(t, cb.Port(1)))
}

func TestPortReadyOneRequestAtATime(t *testing.T) {
	a, b, ra, rb := peers(t)
	ca, cb := remoteHalves(t, a, b, ra.Endpoint.String(), rb.Endpoint.String(), 23)

	for range 5 {
		ok, err := cb.Ready()
		require.NoError(t, err)
		require.False(t, ok)
	}
	n, err := a.CheckMailboxes()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = a.CheckMailboxes()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, dataplane.Negotiate(testContext(t), []*dataplane.Transport{a, b}, ca, cb))
}

func TestTransportDescriptorNegotiation(t *testing.T) {
	a, b, ra, rb := peers(t)
	ea, eb := ra.Endpoint.String(), rb.Endpoint.String()

	cb := consumerHalf(t, b, eb, 9)
	ipB := cb.Port(1)
	consumer := dataplane.Descriptors{Role: dataplane.ActiveFlowControl}
	require.NoError(t, ipB.PortDescriptor(&consumer, nil))
	assert.Equal(t, dataplane.ConsumerDescT, consumer.Type)
	wire, err := consumer.MarshalBinary()
	require.NoError(t, err)
	var desc dataplane.Descriptors
	require.NoError(t, desc.UnmarshalBinary(wire))

	ca, err := a.CreateCircuit(9, newOutputOnly(t, ea))
	require.NoError(t, err)
	ipA, err := ca.AddInputPort(&desc, ea)
	require.NoError(t, err)
	assert.True(t, ipA.IsShadow())
	assert.Equal(t, 2, ca.MaxPortOrd())

	opA := ca.OutputPortSet().Port(0)
	mine := dataplane.Descriptors{Role: dataplane.ActiveMessage}
	var flow dataplane.Descriptors
	result, done, err := opA.Finalize(&desc, &mine, &flow)
	require.NoError(t, err)
	require.True(t, done)
	require.NotNil(t, result)
	assert.Equal(t, dataplane.ConsumerFlowControlDescT, result.Type)
	assert.Equal(t, dataplane.ProducerDescT, mine.Type)
	assert.NotZero(t, mine.Desc.OOB.Cookie)
	assert.Equal(t, mine.Desc.OOB.Cookie, result.Desc.OOB.Cookie)
	assert.Equal(t, ca.UserPortFlowControlDescriptor(0).Desc.EmptyFlagBaseAddr, result.Desc.EmptyFlagBaseAddr)

	wire, err = result.MarshalBinary()
	require.NoError(t, err)
	var fc dataplane.Descriptors
	require.NoError(t, fc.UnmarshalBinary(wire))
	_, done, err = ipB.Finalize(&fc, &dataplane.Descriptors{Role: dataplane.ActiveFlowControl}, nil)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, dataplane.DefinitionComplete, ipB.ExternalState())
	assert.False(t, cb.IsCircuitOpen())

	for i := range 4 {
		msg := fmt.Sprintf("descriptor %d", i)
		send(t, opA, msg)
		assert.Equal(t, msg, recv(t, ipB))
	}
}

func TestTransportPassiveProducer(t *testing.T) {
	a, b, ra, rb := peers(t)
	ea, eb := ra.Endpoint.String(), rb.Endpoint.String()

	ca, err := a.CreateCircuit(11, newOutputOnly(t, ea))
	require.NoError(t, err)
	opA := ca.OutputPortSet().Port(0)
	prod := dataplane.Descriptors{Role: dataplane.Passive}
	require.NoError(t, opA.PortDescriptor(&prod, nil))
	require.Equal(t, dataplane.ProducerDescT, prod.Type)

	cb := consumerHalf(t, b, eb, 11)
	ipB := cb.Port(1)
	_, done, err := ipB.Finalize(&prod, &dataplane.Descriptors{Role: dataplane.ActiveFlowControl}, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.NotNil(t, ipB.PullDriver())
	assert.Equal(t, ea, ipB.PullDriver().Endpoint().String())

	ok, _ := ipB.HasFullInputBuffer()
	assert.False(t, ok)

	for i := range 3 {
		ob := opA.Buffer(i % opA.BufferCount())
		require.True(t, ob.IsEmpty())
		msg := fmt.Sprintf("pulled %d", i)
		copy(ob.Data(), msg)
		ob.SetMetaData(dataplane.MetaData{Length: uint32(len(msg)), OpCode: 3})
		ob.MarkBufferFull()

		got := ipB.NextFullInputBuffer()
		require.NotNil(t, got)
		assert.Equal(t, msg, string(got.Data()[:got.Length()]))
		assert.Equal(t, uint32(3), got.MetaData().OpCode)
		assert.True(t, ob.IsEmpty())
		require.NoError(t, ipB.InputAvailable(got))
	}
}

func TestPullDriverChecksDescriptorType(t *testing.T) {
	a, b, ra, rb := peers(t)
	ca, err := a.CreateCircuit(12, newOutputOnly(t, ra.Endpoint.String()))
	require.NoError(t, err)
	var prod dataplane.Descriptors
	require.NoError(t, ca.OutputPortSet().Port(0).PortDescriptor(&prod, nil))
	pd, err := ca.CreatePullDriver(&prod)
	require.NoError(t, err)
	_, err = pd.Empty()
	assert.ErrorIs(t, err, dataplane.ErrBadDescriptor)
	_, ok, err := pd.Pull(make([]byte, 8))
	require.NoError(t, err)
	assert.False(t, ok)

	cb := consumerHalf(t, b, rb.Endpoint.String(), 12)
	var cons dataplane.Descriptors
	require.NoError(t, cb.Port(1).PortDescriptor(&cons, nil))
	pd, err = cb.CreatePullDriver(&cons)
	require.NoError(t, err)
	_, _, err = pd.Pull(make([]byte, 8))
	assert.ErrorIs(t, err, dataplane.ErrBadDescriptor)

	_, err = cb.CreatePullDriver(&dataplane.Descriptors{})
	assert.ErrorIs(t, err, dataplane.ErrBadDescriptor)
}

func TestNegotiateMissingPeerCircuit(t *testing.T) {
	a, b, ra, rb := peers(t)
	ca, err := a.CreateCircuit(30, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ra.Endpoint.String(), ra.Endpoint.String())),
		inputSet(dataplane.Parallel, dataplane.Indivisible,
			dataplane.NewPortMetaData(1, false, rb.Endpoint.String(), ra.Endpoint.String()))))
	require.NoError(t, err)

	err = dataplane.Negotiate(testContext(t), []*dataplane.Transport{a, b}, ca)
	assert.ErrorIs(t, err, dataplane.ErrCircuitNotFound)
}

func TestNegotiateHonoursContext(t *testing.T) {
	a, _, ra, rb := peers(t)
	ca, err := a.CreateCircuit(31, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ra.Endpoint.String(), ra.Endpoint.String())),
		inputSet(dataplane.Parallel, dataplane.Indivisible,
			dataplane.NewPortMetaData(1, false, rb.Endpoint.String(), ra.Endpoint.String()))))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = dataplane.Negotiate(ctx, []*dataplane.Transport{a}, ca)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ca.IsCircuitOpen())
	ok, err := ca.Ready()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransportConcurrentPeers(t *testing.T) {
	skipRace(t)
	a, b, ra, rb := peers(t)
	ca, cb := remoteHalves(t, a, b, ra.Endpoint.String(), rb.Endpoint.String(), 40)
	ctx := testContext(t)

	const n = 200
	var wg sync.WaitGroup
	var got []string
	var consumerErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if consumerErr = dataplane.Negotiate(ctx, []*dataplane.Transport{b}, cb); consumerErr != nil {
			return
		}
		ip := cb.Port(1)
		for len(got) < n && ctx.Err() == nil {
			if _, consumerErr = b.Poll(); consumerErr != nil {
				return
			}
			buf := ip.NextFullInputBuffer()
			if buf == nil {
				continue
			}
			got = append(got, string(buf.Data()[:buf.Length()]))
			if consumerErr = ip.InputAvailable(buf); consumerErr != nil {
				return
			}
		}
	}()

	require.NoError(t, dataplane.Negotiate(ctx, []*dataplane.Transport{a}, ca))
	op := ca.OutputPortSet().Port(0)
	var want []string
	for i := range n {
		msg := fmt.Sprintf("m%03d", i)
		want = append(want, msg)
		var buf *dataplane.Buffer
		for buf == nil && ctx.Err() == nil {
			_, err := a.Poll()
			require.NoError(t, err)
			if ca.QueuedTransfers() > 0 {
				continue
			}
			buf, err = op.NextEmptyOutputBuffer()
			require.NoError(t, err)
		}
		require.NotNil(t, buf)
		copy(buf.Data(), msg)
		require.NoError(t, op.SendOutputBuffer(buf, uint32(len(msg)), 0, false))
	}
	require.NoError(t, dataplane.Drain(ctx, a))
	wg.Wait()
	require.NoError(t, consumerErr)
	assert.Equal(t, want, got)
}

func TestTransportCloseDeletesCircuits(t *testing.T) {
	tr, c := colocated(t, dataplane.Parallel, dataplane.Indivisible, 1)
	require.Len(t, tr.Circuits(), 1)
	require.NoError(t, tr.Close())
	assert.Empty(t, tr.Circuits())
	assert.Nil(t, tr.Circuit(c.ID()))
}
