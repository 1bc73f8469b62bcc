// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane_test

import (
	"encoding/binary"
	"strings"
	"testing"

	"code.hybscloud.com/dataplane"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorWireLayout(t *testing.T) {
	d := dataplane.Descriptors{
		Type:    dataplane.ConsumerDescT,
		Role:    dataplane.ActiveFlowControl,
		Options: dataplane.MandatedRole,
		Desc: dataplane.Desc{
			NBuffers:           4,
			DataBufferBaseAddr: 0x1000,
			DataBufferPitch:    256,
			DataBufferSize:     256,
			FullFlagValue:      1,
			OOB:                dataplane.OOB{Endpoint: "ocpi-smb-pio:pioA;65536.0.2", PortID: 3, Cookie: 0xfeed},
		},
	}
	b, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, dataplane.DescriptorSize)

	le := binary.LittleEndian
	assert.Equal(t, uint32(dataplane.ConsumerDescT), le.Uint32(b[0:]))
	assert.Equal(t, uint32(dataplane.ActiveFlowControl), le.Uint32(b[4:]))
	assert.Equal(t, dataplane.MandatedRole, le.Uint32(b[8:]))
	assert.Equal(t, uint32(4), le.Uint32(b[12:]))
	assert.Equal(t, uint64(0x1000), le.Uint64(b[16:]))
	assert.Equal(t, uint64(3), le.Uint64(b[96:]))
	assert.Equal(t, uint64(0xfeed), le.Uint64(b[104:]))
	assert.True(t, strings.HasPrefix(string(b[112:]), "ocpi-smb-pio:pioA;65536.0.2\x00"))

	var back dataplane.Descriptors
	require.NoError(t, back.UnmarshalBinary(b))
	assert.Equal(t, d, back)
}

func TestDescriptorRejects(t *testing.T) {
	var d dataplane.Descriptors
	assert.ErrorIs(t, d.UnmarshalBinary(make([]byte, 10)), dataplane.ErrBadDescriptor)

	b := make([]byte, dataplane.DescriptorSize)
	binary.LittleEndian.PutUint32(b[4:], uint32(dataplane.MaxRole))
	assert.ErrorIs(t, d.UnmarshalBinary(b), dataplane.ErrBadDescriptor)

	long := dataplane.Descriptors{Desc: dataplane.Desc{OOB: dataplane.OOB{Endpoint: strings.Repeat("e", 128)}}}
	_, err := long.MarshalBinary()
	assert.ErrorIs(t, err, dataplane.ErrBadDescriptor)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "active-message", dataplane.ActiveMessage.String())
	assert.Equal(t, "active-flow-control", dataplane.ActiveFlowControl.String())
	assert.Equal(t, "active-only", dataplane.Passive.String())
	assert.Equal(t, "no-role", dataplane.NoRole.String())
	assert.Equal(t, "invalid-role", dataplane.MaxRole.String())
}
