// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package dataplane moves fixed-size buffers between ports through shared
// memory segments, negotiating buffer locations over a mailbox control plane.
//
// A [Circuit] connects one output [PortSet] to one or more input port sets.
// Each port owns a ring of [Buffer] values whose payload, metadata and state
// flag live in an endpoint segment. A port whose buffers live in another
// transport's segment is a shadow port: it learns the remote offsets from
// the owning transport before any data moves.
//
// # Architecture
//
//   - Resources: a [Registry] maps endpoint strings to segments, each with a
//     [ResourceManager] and a mailbox table at its head. Transports sharing a
//     Registry share memory the way processes share SMBs.
//   - Control plane: mailbox requests are stepped exchanges built from the
//     [Post] and [Await] effects on [code.hybscloud.com/kont]. Dispatch is
//     non-blocking and returns [code.hybscloud.com/iox.ErrWouldBlock] while a
//     mailbox is busy or the reply has not landed.
//   - Data plane: a [TransferController] chosen from a [Dispatch] table runs
//     precomputed [TransferTemplate] steps (copies and flag writes).
//
// # Integration
//
//   - Polling: [Transport.Poll] serves mailboxes and advances circuits; it
//     never blocks.
//   - Blocking: [Negotiate] and [Drain] wait past not-ready boundaries using
//     adaptive backoff on the calling goroutine.
//
// # Example
//
//	reg := dataplane.NewRegistry()
//	t := dataplane.NewTransport(reg)
//	res, _ := t.NewLocalEndpoint(dataplane.ProtocolSMB, 1<<20, 0, 2)
//	ep := res.Endpoint.String()
//	out := dataplane.NewPortSetMetaData(true, dataplane.Parallel, dataplane.Indivisible, 2, 1024)
//	out.AddPort(dataplane.NewPortMetaData(0, true, ep, ep))
//	in := dataplane.NewPortSetMetaData(false, dataplane.Parallel, dataplane.Indivisible, 2, 1024)
//	in.AddPort(dataplane.NewPortMetaData(1, false, ep, ep))
//	c, _ := t.CreateCircuit(0, dataplane.NewConnectionMetaData(dataplane.Parallel, out, in))
//	_ = dataplane.Negotiate(ctx, []*dataplane.Transport{t}, c)
package dataplane
