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

// Package machine wires simulated physical memory, page tables and the copy
// primitive into a bootable whole.
package machine

import (
	"fmt"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/physmem"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/uaccess"
	"gvisor.dev/mkern/pkg/kernel/vmm"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/sync"
)

// Machine is a booted memory system.
type Machine struct {
	Mem    *physmem.Memory
	MMU    *vmm.RecordingMMU
	MM     *vmm.Manager
	Copier *uaccess.Copier

	// mu protects next.
	mu sync.Mutex

	// next is the next frame AllocFrame hands out. Frames are never
	// returned; this stands in for the real frame allocator.
	next uint32
}

// New allocates frames of physical memory, reserves the kernel tables for
// limit processes and installs the kernel identity map.
func New(frames uint32, limit proc.Limit) (*Machine, error) {
	mem, err := physmem.New(frames)
	if err != nil {
		return nil, err
	}
	mmu := &vmm.RecordingMMU{}
	mm, err := vmm.New(mem, mmu, limit)
	if err != nil {
		mem.Close()
		return nil, err
	}
	mm.InitKernel()
	return &Machine{
		Mem:    mem,
		MMU:    mmu,
		MM:     mm,
		Copier: uaccess.NewCopier(mm, mem),
		next:   mem.FirstFree(),
	}, nil
}

// Close releases physical memory.
func (m *Machine) Close() error {
	return m.Mem.Close()
}

// AllocFrame returns a zeroed frame.
func (m *Machine) AllocFrame() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= m.Mem.Frames() {
		return 0, fmt.Errorf("out of physical memory: all %d frames in use", m.Mem.Frames())
	}
	f := m.next
	m.next++
	m.Mem.Zero(f)
	return f, nil
}

// FreeFrames returns the number of frames AllocFrame can still hand out.
func (m *Machine) FreeFrames() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Mem.Frames() - m.next
}

// MapUser backs [va, va+length) of pid's user region with fresh, zeroed,
// user-writable pages. Pages that are already mapped are left alone.
//
// Callers must serialize MapUser with other mutations of pid's tables.
func (m *Machine) MapUser(pid proc.ID, va hostarch.Addr, length uint32) error {
	if !hostarch.InUserRange(va, length) {
		return fmt.Errorf("mapping %v+%#x for pid %d: outside the user region", va, length, pid)
	}
	if length == 0 {
		return nil
	}
	end := (va + hostarch.Addr(length-1)).RoundDown()
	for page := va.RoundDown(); ; page += hostarch.PageSize {
		dir, table := page.DirIndex(), page.TableIndex()
		if !m.MM.DirEntry(pid, dir).Valid() {
			f, err := m.AllocFrame()
			if err != nil {
				return err
			}
			m.MM.MapDir(pid, dir, f)
		}
		if !m.MM.TableEntry(pid, dir, table).Valid() {
			f, err := m.AllocFrame()
			if err != nil {
				return err
			}
			m.MM.MapTable(pid, dir, table, f, vmm.PermPTU)
		}
		if page == end {
			break
		}
	}
	log.Debugf("machine: pid %d: mapped %v+%#x", pid, va, length)
	return nil
}
