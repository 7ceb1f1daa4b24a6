// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package physmem simulates the machine's physical memory.
//
// Physical memory is a contiguous run of page frames backed by an anonymous
// private mapping. Frame 0 starts at physical address 0. Kernel tables that
// must live at a physical address (page directories, the identity page
// table) are carved out of the low frames at boot with Reserve; every other
// frame is handed out by an external frame allocator.
package physmem

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/log"
)

// Memory is simulated physical memory.
//
// Memory does no locking of its own. Concurrent accesses to distinct bytes
// are safe; accesses to the same bytes must be serialized by the caller, as
// on real hardware.
type Memory struct {
	data   []byte
	frames uint32

	// reserved is the number of low frames handed out by Reserve.
	reserved uint32
}

// New maps frames page frames of zeroed physical memory.
func New(frames uint32) (*Memory, error) {
	if frames == 0 {
		return nil, fmt.Errorf("physical memory must have at least one frame")
	}
	if uint64(frames)<<hostarch.PageShift > 1<<32 {
		return nil, fmt.Errorf("%d frames exceed the 32-bit physical address space", frames)
	}
	size := int(frames) << hostarch.PageShift
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}
	log.Debugf("physmem: mapped %d frames (%d bytes)", frames, size)
	return &Memory{data: data, frames: frames}, nil
}

// Close releases the backing mapping. m must not be used afterwards.
func (m *Memory) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Frames returns the number of frames in m.
func (m *Memory) Frames() uint32 {
	return m.frames
}

// Reserve hands out n contiguous, zeroed frames from the low end of memory
// and returns the first frame number. It is meant for boot-time kernel
// tables only.
func (m *Memory) Reserve(n uint32) (uint32, error) {
	if n > m.frames-m.reserved {
		return 0, fmt.Errorf("reserving %d frames: only %d of %d frames left", n, m.frames-m.reserved, m.frames)
	}
	first := m.reserved
	m.reserved += n
	for f := first; f < m.reserved; f++ {
		m.Zero(f)
	}
	return first, nil
}

// FirstFree returns the first frame not handed out by Reserve.
func (m *Memory) FirstFree() uint32 {
	return m.reserved
}

// Contains returns true if [addr, addr+length) is backed by m.
func (m *Memory) Contains(addr hostarch.Addr, length uint32) bool {
	end, ok := addr.AddLength(length)
	return ok && uint64(end) <= uint64(len(m.data))
}

// Load32 reads the little-endian 32-bit word at addr.
//
// Precondition: addr is 4-byte aligned and inside m. Violations panic.
func (m *Memory) Load32(addr hostarch.Addr) uint32 {
	return binary.LittleEndian.Uint32(m.data[addr : addr+4])
}

// Store32 writes the little-endian 32-bit word v at addr.
//
// Precondition: addr is 4-byte aligned and inside m. Violations panic.
func (m *Memory) Store32(addr hostarch.Addr, v uint32) {
	binary.LittleEndian.PutUint32(m.data[addr:addr+4], v)
}

// ReadAt copies len(dst) bytes starting at physical address addr into dst.
func (m *Memory) ReadAt(dst []byte, addr hostarch.Addr) (int, error) {
	if !m.Contains(addr, uint32(len(dst))) {
		return 0, fmt.Errorf("read of %d bytes at %v: %w", len(dst), addr, kernerr.EFAULT)
	}
	return copy(dst, m.data[addr:]), nil
}

// WriteAt copies src into physical memory starting at addr.
func (m *Memory) WriteAt(src []byte, addr hostarch.Addr) (int, error) {
	if !m.Contains(addr, uint32(len(src))) {
		return 0, fmt.Errorf("write of %d bytes at %v: %w", len(src), addr, kernerr.EFAULT)
	}
	return copy(m.data[addr:], src), nil
}

// Zero clears the given frame.
//
// Precondition: frame < m.Frames().
func (m *Memory) Zero(frame uint32) {
	clear(m.data[hostarch.FrameAddr(frame):][:hostarch.PageSize])
}
