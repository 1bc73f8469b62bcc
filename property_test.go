// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"testing"

	"code.hybscloud.com/dataplane"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPropertyPortFIFO sends an arbitrary payload sequence through a
// co-located circuit with sends, receives and queue checks interleaved at
// random. Every payload arrives exactly once and in order.
func TestPropertyPortFIFO(t *testing.T) {
	skipRace(t)
	rapid.Check(t, func(t *rapid.T) {
		_, c := colocated(t, dataplane.Parallel, dataplane.Indivisible, 1)
		op, ip := c.OutputPortSet().Port(0), c.Port(1)
		payloads := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{0,64}`), 0, 32).Draw(t, "payloads")

		var want []string
		next := 0
		take := func() {
			got := recv(t, ip)
			require.NotEmpty(t, want, "unexpected %q", got)
			require.Equal(t, want[0], got)
			want = want[1:]
		}
		for next < len(payloads) {
			switch rapid.IntRange(0, 2).Draw(t, "action") {
			case 0:
				if op.HasEmptyOutputBuffer() {
					send(t, op, payloads[next])
					want = append(want, payloads[next])
					next++
					break
				}
				require.NoError(t, c.CheckQueuedTransfers())
				if ok, _ := ip.HasFullInputBuffer(); ok {
					take()
				}
			case 1:
				if ok, _ := ip.HasFullInputBuffer(); ok {
					take()
				}
			default:
				require.NoError(t, c.CheckQueuedTransfers())
			}
		}
		for len(want) > 0 {
			require.NoError(t, c.CheckQueuedTransfers())
			take()
		}
		require.Zero(t, c.QueuedTransfers())
		ok, _ := ip.HasFullInputBuffer()
		require.False(t, ok)
	})
}

// TestPropertyDescriptorRoundTrip checks that any valid descriptor survives
// the wire layout unchanged.
func TestPropertyDescriptorRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := dataplane.Descriptors{
			Type:    dataplane.DescType(rapid.Uint32Range(0, 2).Draw(t, "type")),
			Role:    dataplane.Role(rapid.Uint32Range(0, uint32(dataplane.MaxRole)-1).Draw(t, "role")),
			Options: rapid.Uint32().Draw(t, "options"),
			Desc: dataplane.Desc{
				NBuffers:           rapid.Uint32().Draw(t, "nbuffers"),
				DataBufferBaseAddr: rapid.Uint64().Draw(t, "data"),
				DataBufferPitch:    rapid.Uint32().Draw(t, "dpitch"),
				DataBufferSize:     rapid.Uint32().Draw(t, "dsize"),
				MetaDataBaseAddr:   rapid.Uint64().Draw(t, "meta"),
				MetaDataPitch:      rapid.Uint32().Draw(t, "mpitch"),
				FullFlagBaseAddr:   rapid.Uint64().Draw(t, "full"),
				FullFlagSize:       rapid.Uint32().Draw(t, "fsize"),
				FullFlagPitch:      rapid.Uint32().Draw(t, "fpitch"),
				FullFlagValue:      rapid.Uint64().Draw(t, "fvalue"),
				EmptyFlagBaseAddr:  rapid.Uint64().Draw(t, "empty"),
				EmptyFlagSize:      rapid.Uint32().Draw(t, "esize"),
				EmptyFlagPitch:     rapid.Uint32().Draw(t, "epitch"),
				EmptyFlagValue:     rapid.Uint64().Draw(t, "evalue"),
				OOB: dataplane.OOB{
					Endpoint: rapid.StringMatching(`[a-z0-9:;.\-]{0,127}`).Draw(t, "oep"),
					PortID:   rapid.Uint64().Draw(t, "port"),
					Cookie:   rapid.Uint64().Draw(t, "cookie"),
				},
			},
		}
		b, err := d.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, b, dataplane.DescriptorSize)
		var got dataplane.Descriptors
		require.NoError(t, got.UnmarshalBinary(b))
		require.Equal(t, d, got)
	})
}
