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

// Package uaccess copies bytes in and out of process address spaces by
// walking their page tables.
package uaccess

import (
	"errors"
	"fmt"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/physmem"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/vmm"
)

// ErrAccess is returned when a page is mapped without the permissions the
// copy needs.
var ErrAccess = errors.New("page not accessible from user mode")

// Copier moves bytes between address spaces. It implements the copy
// primitive used by IPC receives.
type Copier struct {
	mm  *vmm.Manager
	mem *physmem.Memory
}

// NewCopier returns a Copier over the given tables and memory.
func NewCopier(mm *vmm.Manager, mem *physmem.Memory) *Copier {
	return &Copier{mm: mm, mem: mem}
}

// translate resolves one user page of pid and checks its permissions.
func (c *Copier) translate(pid proc.ID, va hostarch.Addr, write bool) (hostarch.Addr, error) {
	pa, perm, err := c.mm.Translate(pid, va)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", kernerr.EMEM, err)
	}
	want := vmm.Present | vmm.User
	if write {
		want |= vmm.Writable
	}
	if perm&want != want {
		return 0, fmt.Errorf("pid %d: %v has %v, need %v: %w: %w", pid, va, perm, want, kernerr.EMEM, ErrAccess)
	}
	return pa, nil
}

// chunk returns how many of the remaining n bytes at va lie in va's page.
func chunk(va hostarch.Addr, n uint32) uint32 {
	return min(n, hostarch.PageSize-va.PageOffset())
}

// CopyIn copies len(dst) bytes from pid's address space at src into dst.
// It returns the number of bytes copied before any failure.
func (c *Copier) CopyIn(pid proc.ID, src hostarch.Addr, dst []byte) (int, error) {
	done := 0
	for done < len(dst) {
		va := src + hostarch.Addr(done)
		pa, err := c.translate(pid, va, false)
		if err != nil {
			return done, err
		}
		n := chunk(va, uint32(len(dst)-done))
		if _, err := c.mem.ReadAt(dst[done:done+int(n)], pa); err != nil {
			return done, err
		}
		done += int(n)
	}
	return done, nil
}

// CopyOut copies src into pid's address space at dst. It returns the number
// of bytes copied before any failure.
func (c *Copier) CopyOut(pid proc.ID, dst hostarch.Addr, src []byte) (int, error) {
	done := 0
	for done < len(src) {
		va := dst + hostarch.Addr(done)
		pa, err := c.translate(pid, va, true)
		if err != nil {
			return done, err
		}
		n := chunk(va, uint32(len(src)-done))
		if _, err := c.mem.WriteAt(src[done:done+int(n)], pa); err != nil {
			return done, err
		}
		done += int(n)
	}
	return done, nil
}

// Copy copies n bytes from srcPID's address space at src to dstPID's address
// space at dst, one page-bounded piece at a time. It returns the number of
// bytes copied before any failure.
func (c *Copier) Copy(dstPID proc.ID, dst hostarch.Addr, srcPID proc.ID, src hostarch.Addr, n uint32) (uint32, error) {
	var buf [hostarch.PageSize]byte
	var done uint32
	for done < n {
		s, d := src+hostarch.Addr(done), dst+hostarch.Addr(done)
		step := min(chunk(s, n-done), chunk(d, n-done))
		if _, err := c.CopyIn(srcPID, s, buf[:step]); err != nil {
			return done, fmt.Errorf("reading pid %d: %w", srcPID, err)
		}
		if _, err := c.CopyOut(dstPID, d, buf[:step]); err != nil {
			return done, fmt.Errorf("writing pid %d: %w", dstPID, err)
		}
		done += step
	}
	return done, nil
}
