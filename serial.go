// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dataplane

import "code.hybscloud.com/atomix"

// CircuitID identifies a circuit. Peers agree on the id of a circuit they
// share; CreateCircuit assigns the next serial when none is given.
type CircuitID uint32

// circuitCounter is the global monotonic counter for circuit ids.
var circuitCounter atomix.Uint32

// nextCircuitID returns the next monotonically increasing circuit id.
func nextCircuitID() CircuitID {
	return CircuitID(circuitCounter.Add(1))
}

// cookieCounter numbers XferServices connections.
var cookieCounter atomix.Uint32

func nextCookie() uint64 {
	return uint64(cookieCounter.Add(1)) | 0xc0de<<48
}
