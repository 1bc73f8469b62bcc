// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix

package dataplane

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// mmapSegment is the ocpi-shm-pio segment: a file mapped MAP_SHARED.
type mmapSegment struct {
	file *os.File
	path string
	mem  []byte
}

func openFileSegment(dir, name string, size uint64) (Segment, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "dataplane_"+name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, wrapError(NoMoreSMB, err, "open %s", path)
	}
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}
	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, wrapError(NoMoreSMB, err, "truncate %s", path)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, wrapError(NoMoreSMB, err, "mmap %s", path)
	}
	return &mmapSegment{file: file, path: path, mem: mem}, nil
}

func (s *mmapSegment) Map(offset, size uint64) ([]byte, error) {
	return mapRange(s.mem, offset, size)
}

func (s *mmapSegment) Size() uint64 { return uint64(len(s.mem)) }

func (s *mmapSegment) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	os.Remove(s.path)
	return err
}
