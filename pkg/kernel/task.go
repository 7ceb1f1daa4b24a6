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

package kernel

import (
	"fmt"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/syscall"
)

// Task is a running process as seen by its Program. A Task must only be used
// from the goroutine running its Program.
type Task struct {
	k  *Kernel
	id proc.ID

	// brk is the start of the unallocated part of the user region.
	brk hostarch.Addr

	// printBuf and printLen describe the buffer Printf formats into.
	printBuf hostarch.Addr
	printLen uint32
}

// ID returns the process id.
func (t *Task) ID() proc.ID {
	return t.id
}

// Kernel returns the kernel the task runs on.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Syscall traps into the kernel. It returns the first return register and
// the status as an error.
func (t *Task) Syscall(nr syscall.Nr, args ...uint32) (uint32, error) {
	f := syscall.NewFrame(nr, args...)
	// The kernel runs on the caller's address space.
	t.k.Machine.MM.Activate(t.id)
	t.k.Syscalls.Dispatch(t.id, f)
	if err := kernerr.FromStatus(f.Errno); err != nil {
		return f.Ret(0), fmt.Errorf("%v: %w", nr, err)
	}
	return f.Ret(0), nil
}

// Alloc maps length bytes of fresh memory into the task's address space,
// charged to its container, and returns its address.
func (t *Task) Alloc(length uint32) (hostarch.Addr, error) {
	if length == 0 {
		length = 1
	}
	end, ok := t.brk.AddLength(length)
	if !ok {
		return 0, fmt.Errorf("allocating %#x bytes at %v: %w", length, t.brk, kernerr.EINVALADDR)
	}
	end, ok = end.RoundUp()
	if !ok || end > hostarch.VMUserHi {
		return 0, fmt.Errorf("allocating %#x bytes at %v: %w", length, t.brk, kernerr.EINVALADDR)
	}
	pages := uint32(end-t.brk) / hostarch.PageSize
	if err := t.k.Containers.Consume(t.id, pages); err != nil {
		return 0, err
	}
	if err := t.k.Machine.MapUser(t.id, t.brk, uint32(end-t.brk)); err != nil {
		t.k.Containers.Release(t.id, pages)
		return 0, fmt.Errorf("%w: %w", kernerr.EMEM, err)
	}
	addr := t.brk
	t.brk = end
	return addr, nil
}

// CopyOut writes b into the task's address space at addr.
func (t *Task) CopyOut(addr hostarch.Addr, b []byte) error {
	_, err := t.k.Machine.Copier.CopyOut(t.id, addr, b)
	return err
}

// CopyIn reads len(b) bytes at addr from the task's address space.
func (t *Task) CopyIn(addr hostarch.Addr, b []byte) error {
	_, err := t.k.Machine.Copier.CopyIn(t.id, addr, b)
	return err
}

// Puts writes the string at [addr, addr+length) to the console.
func (t *Task) Puts(addr hostarch.Addr, length uint32) error {
	_, err := t.Syscall(syscall.SysPuts, uint32(addr), length)
	return err
}

// ReservePrint allocates the Printf buffer now, so that later messages of at
// most n bytes are printed without allocating.
func (t *Task) ReservePrint(n uint32) error {
	if n <= t.printLen {
		return nil
	}
	addr, err := t.Alloc(n)
	if err != nil {
		return err
	}
	t.printBuf, t.printLen = addr, uint32(t.brk-addr)
	return nil
}

// Printf formats a message into the task's memory and puts it. The buffer
// is allocated on first use unless ReservePrint made one large enough.
func (t *Task) Printf(format string, v ...any) error {
	msg := []byte(fmt.Sprintf(format, v...))
	if len(msg) == 0 {
		return nil
	}
	if err := t.ReservePrint(uint32(len(msg))); err != nil {
		return err
	}
	if err := t.CopyOut(t.printBuf, msg); err != nil {
		return err
	}
	return t.Puts(t.printBuf, uint32(len(msg)))
}

// Send sends length bytes at addr to target and blocks until target has
// received them.
func (t *Task) Send(target proc.ID, addr hostarch.Addr, length uint32) error {
	_, err := t.Syscall(syscall.SysSyncSend, uint32(target), uint32(addr), length)
	return err
}

// Recv receives at most length bytes from source into addr, blocking until
// source sends, and returns the number of bytes received.
func (t *Task) Recv(source proc.ID, addr hostarch.Addr, length uint32) (uint32, error) {
	return t.Syscall(syscall.SysSyncRecv, uint32(source), uint32(addr), length)
}

// Spawn starts img as a child with quota pages.
func (t *Task) Spawn(img syscall.Image, quota uint32) (proc.ID, error) {
	id, err := t.Syscall(syscall.SysSpawn, uint32(img), quota)
	return proc.ID(id), err
}

// Yield gives up the processor.
func (t *Task) Yield() error {
	_, err := t.Syscall(syscall.SysYield)
	return err
}
