// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !unix

package dataplane

// openFileSegment falls back to a heap segment where mmap is unavailable.
func openFileSegment(_, _ string, size uint64) (Segment, error) {
	return newHeapSegment(size), nil
}
