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

package vmm

import (
	"errors"
	"fmt"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/log"
)

// ErrNotMapped is returned by Translate when a level of the walk is not
// present.
var ErrNotMapped = errors.New("virtual address not mapped")

// IsKernelDir returns true if directory index dir covers kernel memory, that
// is memory outside [VMUserLo, VMUserHi).
func IsKernelDir(dir uint32) bool {
	return dir < hostarch.VMUserLo.DirIndex() || dir >= hostarch.VMUserHi.DirIndex()
}

// InitKernel fills the identity table and links the kernel region of every
// directory to it. Kernel-region sub-tables are mapped Present|Writable|Global,
// the rest Present|Writable. It must be called once at boot, before any
// process runs.
func (m *Manager) InitKernel() {
	for dir := uint32(0); dir < hostarch.EntriesPerTable; dir++ {
		perm := Present | Writable
		if IsKernelDir(dir) {
			perm |= Global
		}
		for table := uint32(0); table < hostarch.EntriesPerTable; table++ {
			m.MapIdentityTable(dir, table, perm)
		}
	}
	for pid := proc.ID(0); m.limit.Valid(pid); pid++ {
		m.InitDirectory(pid)
	}
	log.Infof("vmm: kernel identity map installed for %d directories", m.limit)
}

// InitDirectory resets pid's directory for a newly assigned process: user
// entries are cleared and kernel entries point at the identity table.
func (m *Manager) InitDirectory(pid proc.ID) {
	for dir := uint32(0); dir < hostarch.EntriesPerTable; dir++ {
		if IsKernelDir(dir) {
			m.MapDirIdentity(pid, dir)
		} else {
			m.ClearDir(pid, dir)
		}
	}
}

// Translate walks pid's tables for vaddr and returns the physical address it
// maps to and the effective permissions. Writable and User are effective
// only when set at both levels. Unlike the table accessors, Translate checks
// presence at each level and fails with ErrNotMapped.
func (m *Manager) Translate(pid proc.ID, vaddr hostarch.Addr) (hostarch.Addr, Flags, error) {
	if err := m.limit.Check(pid); err != nil {
		return 0, 0, err
	}
	dir, table := vaddr.DirIndex(), vaddr.TableIndex()
	pde := m.DirEntry(pid, dir)
	if !pde.Valid() {
		return 0, 0, fmt.Errorf("pid %d: %v: directory entry %d: %w", pid, vaddr, dir, ErrNotMapped)
	}
	pte := m.TableEntry(pid, dir, table)
	if !pte.Valid() {
		return 0, 0, fmt.Errorf("pid %d: %v: table entry %d/%d: %w", pid, vaddr, dir, table, ErrNotMapped)
	}
	perm := pde.Flags() & pte.Flags() & (Present | Writable | User)
	return pte.Address() + hostarch.Addr(vaddr.PageOffset()), perm, nil
}
