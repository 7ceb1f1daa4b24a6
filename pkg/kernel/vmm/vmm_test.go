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
	"testing"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/physmem"
	"gvisor.dev/mkern/pkg/kernel/proc"
)

const testLimit proc.Limit = 8

// newManager returns a Manager over fresh memory and the first frame tests
// may use for private page tables and pages.
func newManager(t *testing.T) (*Manager, *RecordingMMU, *physmem.Memory) {
	t.Helper()
	mem, err := physmem.New(IdentityFrames + uint32(testLimit) + 64)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	mmu := &RecordingMMU{}
	m, err := New(mem, mmu, testLimit)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, mmu, mem
}

func TestNewReservesTables(t *testing.T) {
	_, _, mem := newManager(t)
	if got, want := mem.FirstFree(), IdentityFrames+uint32(testLimit); got != want {
		t.Errorf("FirstFree() = %d, want %d", got, want)
	}
}

func TestNewFailsOnSmallMemory(t *testing.T) {
	mem, err := physmem.New(IdentityFrames)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer mem.Close()
	if _, err := New(mem, &RecordingMMU{}, testLimit); err == nil {
		t.Errorf("New succeeded without room for directories")
	}
}

func TestActivate(t *testing.T) {
	m, mmu, _ := newManager(t)
	m.Activate(3)
	if got, want := mmu.Root(), m.DirAddr(3); got != want {
		t.Errorf("root = %v, want %v", got, want)
	}
	if !mmu.Root().IsPageAligned() {
		t.Errorf("root %v not page aligned", mmu.Root())
	}
	m.Activate(4)
	if mmu.Switches() != 2 || mmu.Root() != m.DirAddr(4) {
		t.Errorf("second activation not recorded")
	}
}

func TestMapDirRoundTrip(t *testing.T) {
	m, _, mem := newManager(t)
	frame := mem.FirstFree()
	for _, dir := range []uint32{0, 300, 1023} {
		m.MapDir(2, dir, frame)
		e := m.DirEntry(2, dir)
		if e.Frame() != frame || e.Flags() != PermPTU {
			t.Errorf("dir %d: got frame %#x flags %v, want %#x %v", dir, e.Frame(), e.Flags(), frame, PermPTU)
		}
	}
	// Other processes are untouched.
	if e := m.DirEntry(1, 300); e != 0 {
		t.Errorf("pid 1 dir 300 = %v, want unmapped", e)
	}
}

func TestClearDir(t *testing.T) {
	m, _, mem := newManager(t)
	frame := mem.FirstFree()
	m.MapDir(1, 400, frame)
	m.MapTable(1, 400, 5, frame+1, Present|User)
	m.ClearDir(1, 400)
	if e := m.DirEntry(1, 400); e != 0 {
		t.Fatalf("DirEntry after ClearDir = %v, want 0", e)
	}
	// The table itself is detached, not cleared.
	m.MapDir(1, 400, frame)
	if e := m.TableEntry(1, 400, 5); e.Frame() != frame+1 {
		t.Errorf("table contents lost on ClearDir: %v", e)
	}
}

func TestMapTableReplacesAndClears(t *testing.T) {
	m, _, mem := newManager(t)
	table := mem.FirstFree()
	m.MapDir(0, 256, table)
	m.MapTable(0, 256, 7, 0x500, PermPTU)
	m.MapTable(0, 256, 7, 0x600, Present)
	if e := m.TableEntry(0, 256, 7); e != MakePTE(0x600, Present) {
		t.Errorf("TableEntry = %v, want frame 0x600 P", e)
	}
	// The entry lives in the table frame, where the MMU would find it.
	if raw := mem.Load32(hostarch.FrameAddr(table) + 7*4); PTE(raw) != MakePTE(0x600, Present) {
		t.Errorf("raw table word = %#x", raw)
	}
	m.ClearTable(0, 256, 7)
	if e := m.TableEntry(0, 256, 7); e != 0 {
		t.Errorf("TableEntry after ClearTable = %v", e)
	}
}

func TestIdentityProperty(t *testing.T) {
	m, _, _ := newManager(t)
	perms := []Flags{Present, Present | Writable, PermPTU, Present | Writable | Global}
	i := 0
	for dir := uint32(0); dir < hostarch.EntriesPerTable; dir += 97 {
		for table := uint32(0); table < hostarch.EntriesPerTable; table += 131 {
			perm := perms[i%len(perms)]
			i++
			pid := proc.ID(i % int(testLimit))
			m.MapIdentityTable(dir, table, perm)
			m.MapDirIdentity(pid, dir)
			e := m.TableEntry(pid, dir, table)
			if want := dir*1024 + table; e.Frame() != want || e.Flags() != perm {
				t.Errorf("pid %d (%d, %d): got frame %d flags %v, want %d %v", pid, dir, table, e.Frame(), e.Flags(), want, perm)
			}
		}
	}
}

func TestScenarioC(t *testing.T) {
	m, _, _ := newManager(t)
	const pid = 5
	m.MapDirIdentity(pid, 512)
	m.MapIdentityTable(512, 3, Present|Writable)
	e := m.TableEntry(pid, 512, 3)
	if e.Frame() != 512*1024+3 || e.Flags() != Present|Writable {
		t.Errorf("TableEntry(%d, 512, 3) = %v, want frame %d P|W", pid, e, 512*1024+3)
	}
	if d := m.DirEntry(pid, 512); d.Address() != m.IdentityTableAddr(512) || d.Flags() != PermPTU {
		t.Errorf("DirEntry = %v, want identity sub-table 512", d)
	}
}

func TestIdentityTableShared(t *testing.T) {
	m, _, _ := newManager(t)
	m.MapDirIdentity(1, 10)
	m.MapDirIdentity(2, 10)
	m.MapIdentityTable(10, 20, Present)
	for _, pid := range []proc.ID{1, 2} {
		if e := m.TableEntry(pid, 10, 20); e.Frame() != 10*1024+20 {
			t.Errorf("pid %d does not see the shared write: %v", pid, e)
		}
	}
}

func TestTableAccessThroughUnmappedDirPanics(t *testing.T) {
	m, _, _ := newManager(t)
	defer func() {
		if recover() == nil {
			t.Errorf("TableEntry through an unmapped directory entry did not panic")
		}
	}()
	m.TableEntry(0, 700, 1)
}

func TestOutOfRangePanics(t *testing.T) {
	m, _, _ := newManager(t)
	for name, f := range map[string]func(){
		"pid":   func() { m.DirEntry(proc.ID(testLimit), 0) },
		"dir":   func() { m.ClearDir(0, 1024) },
		"table": func() { m.MapIdentityTable(0, 1024, Present) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s out of range did not panic", name)
				}
			}()
			f()
		}()
	}
}

func TestInitKernelAndTranslate(t *testing.T) {
	m, _, mem := newManager(t)
	m.InitKernel()

	for pid := proc.ID(0); testLimit.Valid(pid); pid++ {
		if d := m.DirEntry(pid, 0); d.Address() != m.IdentityTableAddr(0) {
			t.Fatalf("pid %d kernel dir 0 = %v", pid, d)
		}
		if d := m.DirEntry(pid, 300); d.Valid() {
			t.Fatalf("pid %d user dir 300 = %v, want unmapped", pid, d)
		}
	}

	// Kernel memory is identity mapped but not user accessible.
	pa, perm, err := m.Translate(1, 0x00123456)
	if err != nil {
		t.Fatalf("Translate kernel address: %v", err)
	}
	if pa != 0x00123456 || perm != Present|Writable {
		t.Errorf("Translate(0x00123456) = %v %v", pa, perm)
	}

	// User memory is unmapped until a table and page are installed.
	va := hostarch.VMUserLo + 0x2345
	if _, _, err := m.Translate(1, va); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("Translate unmapped user address: got %v, want ErrNotMapped", err)
	}
	table, page := mem.FirstFree(), mem.FirstFree()+1
	m.MapDir(1, va.DirIndex(), table)
	if _, _, err := m.Translate(1, va); !errors.Is(err, ErrNotMapped) {
		t.Fatalf("Translate with empty table: got %v, want ErrNotMapped", err)
	}
	m.MapTable(1, va.DirIndex(), va.TableIndex(), page, PermPTU)
	pa, perm, err = m.Translate(1, va)
	if err != nil {
		t.Fatalf("Translate mapped user address: %v", err)
	}
	if pa != hostarch.FrameAddr(page)+0x345 || perm != PermPTU {
		t.Errorf("Translate(%v) = %v %v", va, pa, perm)
	}

	// Re-initialising the directory drops the user mapping again.
	m.InitDirectory(1)
	if _, _, err := m.Translate(1, va); !errors.Is(err, ErrNotMapped) {
		t.Errorf("Translate after InitDirectory: got %v, want ErrNotMapped", err)
	}
	if _, _, err := m.Translate(proc.ID(testLimit), va); err == nil {
		t.Errorf("Translate with invalid pid succeeded")
	}
}

func TestIsKernelDir(t *testing.T) {
	for dir, want := range map[uint32]bool{0: true, 255: true, 256: false, 959: false, 960: true, 1023: true} {
		if got := IsKernelDir(dir); got != want {
			t.Errorf("IsKernelDir(%d) = %t, want %t", dir, got, want)
		}
	}
}
