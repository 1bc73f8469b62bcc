// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/dataplane"
	"code.hybscloud.com/iox"
)

// BenchmarkSendRecv measures one co-located buffer transfer and release.
func BenchmarkSendRecv(b *testing.B) {
	skipRace(b)
	_, c := colocated(b, dataplane.Parallel, dataplane.Indivisible, 1)
	op, ip := c.OutputPortSet().Port(0), c.Port(1)
	b.ReportAllocs()
	for b.Loop() {
		send(b, op, "benchmark payload")
		recv(b, ip)
	}
}

// BenchmarkBroadcast measures one transfer fanned out to four input sets.
func BenchmarkBroadcast(b *testing.B) {
	skipRace(b)
	_, c := colocated(b, dataplane.Sequential, dataplane.Indivisible, 1, 1, 1, 1)
	op := c.OutputPortSet().Port(0)
	b.ReportAllocs()
	for b.Loop() {
		buf, err := op.NextEmptyOutputBuffer()
		if err != nil || buf == nil {
			b.Fatalf("no output buffer: %v", err)
		}
		m := buf.MetaData()
		m.BroadCast = true
		buf.SetMetaData(m)
		if err := op.SendOutputBuffer(buf, 8, 0, false); err != nil {
			b.Fatal(err)
		}
		for id := 1; id <= 4; id++ {
			recv(b, c.Port(id))
		}
	}
}

// BenchmarkMailboxRoundTrip measures one request served by a peer
// transport and its reply.
func BenchmarkMailboxRoundTrip(b *testing.B) {
	skipRace(b)
	reg := dataplane.NewRegistry()
	srv := newTransport(reg)
	ea, err := newTransport(reg).NewLocalEndpoint(dataplane.ProtocolSMB, testSegmentSize, 0, 2)
	if err != nil {
		b.Fatal(err)
	}
	eb, err := srv.NewLocalEndpoint(dataplane.ProtocolSMB, testSegmentSize, 1, 2)
	if err != nil {
		b.Fatal(err)
	}
	ep := eb.Endpoint.String()
	if _, err := srv.CreateCircuit(1, dataplane.NewConnectionMetaData(dataplane.Parallel,
		outputSet(dataplane.NewPortMetaData(0, true, ep, ep)),
		inputSet(dataplane.Parallel, dataplane.Indivisible, dataplane.NewPortMetaData(1, false, ep, ep)))); err != nil {
		b.Fatal(err)
	}
	ret, err := ea.Alloc.Alloc(1024, 7)
	if err != nil {
		b.Fatal(err)
	}
	r := dataplane.Request{
		Kind:         dataplane.ReqInputOffsets,
		CircuitID:    1,
		PortID:       1,
		URL:          ea.Endpoint.String(),
		ReturnOffset: ret,
		ReturnSize:   1024,
	}
	ctx := dataplane.NewMailboxContext(ea.Mailbox(), eb)
	b.ReportAllocs()
	for b.Loop() {
		_, susp := dataplane.Step(dataplane.ExprRoundTrip(r))
		for susp != nil {
			_, susp, err = dataplane.Advance(ctx, susp)
			if errors.Is(err, iox.ErrWouldBlock) {
				_, err = srv.CheckMailboxes()
			}
			if err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkFreeListAllocFree measures an aligned allocation and its release.
func BenchmarkFreeListAllocFree(b *testing.B) {
	fl := dataplane.NewFreeList(64, 1<<20)
	b.ReportAllocs()
	for b.Loop() {
		off, err := fl.Alloc(256, 63)
		if err != nil {
			b.Fatal(err)
		}
		if err := fl.Free(off, 256); err != nil {
			b.Fatal(err)
		}
	}
}
