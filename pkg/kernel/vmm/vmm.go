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

// Package vmm manages per-process two-level page tables.
//
// Every process id owns one page directory of 1024 entries. A directory entry
// is either unmapped, points at a private page table (user region), or points
// at one of the 1024 sub-tables of the identity page table shared by every
// process (kernel region). Identity sub-table d maps virtual page
// d*1024+t to physical frame d*1024+t.
//
// Directories and the identity table are kept in simulated physical memory,
// so entries hold real physical addresses and a table is found exactly as
// the MMU finds it: mask the flag bits off the directory entry and index the
// page it names.
//
// The Manager does no locking. Mutations of one process's tables must be
// serialized by the caller, normally by only touching them from that
// process's own kernel context. The identity table is written at boot and
// read concurrently afterwards.
package vmm

import (
	"fmt"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/physmem"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/log"
)

// entrySize is the size in bytes of a PTE.
const entrySize = 4

// IdentityFrames is the number of frames occupied by the identity table.
const IdentityFrames = hostarch.EntriesPerTable

// MMU is the hardware side of address translation.
type MMU interface {
	// SetRoot installs the page directory at the given physical address
	// as the active translation root.
	SetRoot(root hostarch.Addr)
}

// Manager owns the page directories of every process id and the shared
// identity table.
type Manager struct {
	mem    *physmem.Memory
	mmu    MMU
	limit  proc.Limit
	idBase uint32

	// dirBase is the frame of process 0's directory. The directory of
	// process p is at frame dirBase+p.
	dirBase uint32
}

// New reserves the identity table and one directory per process id in mem
// and returns a Manager for them. All entries start unmapped.
func New(mem *physmem.Memory, mmu MMU, limit proc.Limit) (*Manager, error) {
	idBase, err := mem.Reserve(IdentityFrames)
	if err != nil {
		return nil, fmt.Errorf("reserving identity table: %w", err)
	}
	dirBase, err := mem.Reserve(uint32(limit))
	if err != nil {
		return nil, fmt.Errorf("reserving %d page directories: %w", limit, err)
	}
	log.Infof("vmm: identity table at %v, %d directories at %v", hostarch.FrameAddr(idBase), limit, hostarch.FrameAddr(dirBase))
	return &Manager{
		mem:     mem,
		mmu:     mmu,
		limit:   limit,
		idBase:  idBase,
		dirBase: dirBase,
	}, nil
}

// Limit returns the number of process ids m manages.
func (m *Manager) Limit() proc.Limit {
	return m.limit
}

// mustIndex panics if pid or a table index is out of range. Out-of-range
// arguments are caller bugs.
func (m *Manager) mustIndex(pid proc.ID, indices ...uint32) {
	if !m.limit.Valid(pid) {
		panic(fmt.Sprintf("vmm: process id %d out of range [0, %d)", pid, m.limit))
	}
	mustTableIndex(indices...)
}

func mustTableIndex(indices ...uint32) {
	for _, i := range indices {
		if i >= hostarch.EntriesPerTable {
			panic(fmt.Sprintf("vmm: table index %d out of range [0, %d)", i, hostarch.EntriesPerTable))
		}
	}
}

// DirAddr returns the physical address of pid's page directory.
func (m *Manager) DirAddr(pid proc.ID) hostarch.Addr {
	m.mustIndex(pid)
	return hostarch.FrameAddr(m.dirBase + uint32(pid))
}

// IdentityTableAddr returns the physical address of the identity sub-table
// for directory index dir.
func (m *Manager) IdentityTableAddr(dir uint32) hostarch.Addr {
	return hostarch.FrameAddr(m.idBase + dir)
}

func (m *Manager) dirEntryAddr(pid proc.ID, dir uint32) hostarch.Addr {
	m.mustIndex(pid, dir)
	return m.DirAddr(pid) + hostarch.Addr(dir*entrySize)
}

// Activate installs pid's directory as the active translation root.
func (m *Manager) Activate(pid proc.ID) {
	root := m.DirAddr(pid)
	log.Debugf("vmm: activating pid %d, root %v", pid, root)
	m.mmu.SetRoot(root)
}

// DirEntry returns the directory entry dir of pid. It can be used to test
// whether the entry is mapped.
func (m *Manager) DirEntry(pid proc.ID, dir uint32) PTE {
	return PTE(m.mem.Load32(m.dirEntryAddr(pid, dir)))
}

// MapDir points directory entry dir of pid at the page table in frame,
// with PermPTU. Any previous entry is replaced.
func (m *Manager) MapDir(pid proc.ID, dir, frame uint32) {
	m.mem.Store32(m.dirEntryAddr(pid, dir), uint32(MakePTE(frame, PermPTU)))
}

// MapDirIdentity points directory entry dir of pid at identity sub-table
// dir, with PermPTU. This is the only way kernel mappings enter a
// directory. The sub-table is shared: changes made to it through
// MapIdentityTable are visible to every process.
func (m *Manager) MapDirIdentity(pid proc.ID, dir uint32) {
	e := Entry{Base: m.IdentityTableAddr(dir), Flags: PermPTU}
	m.mem.Store32(m.dirEntryAddr(pid, dir), uint32(e.Pack()))
}

// ClearDir zeroes directory entry dir of pid. The table it referenced is
// neither freed nor cleared.
func (m *Manager) ClearDir(pid proc.ID, dir uint32) {
	m.mem.Store32(m.dirEntryAddr(pid, dir), 0)
}

// resolve returns the physical address of entry table of the page table that
// directory entry dir of pid points at.
//
// Precondition: the directory entry is present. Resolving through an
// unmapped entry panics.
func (m *Manager) resolve(pid proc.ID, dir, table uint32) hostarch.Addr {
	m.mustIndex(pid, dir, table)
	pde := m.DirEntry(pid, dir)
	if !pde.Valid() {
		panic(fmt.Sprintf("vmm: pid %d: table access through unmapped directory entry %d", pid, dir))
	}
	return pde.Address() + hostarch.Addr(table*entrySize)
}

// TableEntry returns entry table of the page table behind directory entry
// dir of pid.
//
// Precondition: DirEntry(pid, dir) is present.
func (m *Manager) TableEntry(pid proc.ID, dir, table uint32) PTE {
	return PTE(m.mem.Load32(m.resolve(pid, dir, table)))
}

// MapTable points entry table of the page table behind directory entry dir
// of pid at frame with the given permissions, replacing any prior value.
//
// Precondition: DirEntry(pid, dir) is present.
func (m *Manager) MapTable(pid proc.ID, dir, table, frame uint32, perm Flags) {
	m.mem.Store32(m.resolve(pid, dir, table), uint32(MakePTE(frame, perm)))
}

// MapIdentityTable sets entry table of identity sub-table dir to map frame
// dir*1024+table with the given permissions.
func (m *Manager) MapIdentityTable(dir, table uint32, perm Flags) {
	mustTableIndex(dir, table)
	frame := dir<<hostarch.TableShift + table
	m.mem.Store32(m.IdentityTableAddr(dir)+hostarch.Addr(table*entrySize), uint32(MakePTE(frame, perm)))
}

// ClearTable zeroes entry table of the page table behind directory entry dir
// of pid.
//
// Precondition: DirEntry(pid, dir) is present.
func (m *Manager) ClearTable(pid proc.ID, dir, table uint32) {
	m.mem.Store32(m.resolve(pid, dir, table), 0)
}
