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

// Package syscall is the interface from user processes to the kernel's IPC,
// console and process-creation services.
//
// Each syscall reads its arguments from a Frame and reports a status, and
// possibly one return value, back through it. Handlers return Go errors;
// Dispatch converts them to status codes with kernerr.StatusOf.
package syscall

import (
	"fmt"
	"io"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/ipc"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/metric"
)

// Nr is a syscall number.
type Nr uint32

// Syscall numbers, in the order user libraries expect them.
const (
	SysPuts Nr = iota
	SysSpawn
	SysYield
	SysSyncSend
	SysSyncRecv
	SysProduce
	SysConsume
)

func (nr Nr) String() string {
	if s, ok := table[nr]; ok {
		return s.Name
	}
	return fmt.Sprintf("syscall(%d)", uint32(nr))
}

var callsMetric = metric.MustCreateNewUint64Metric("/syscall/calls", "Number of syscalls dispatched, by outcome.",
	metric.NewField("result", "success", "error", "invalid"))

// SyscallFn is the handler of one syscall. It returns the value for the
// first return register.
type SyscallFn func(h *Handler, pid proc.ID, args Arguments) (uint32, error)

// Syscall describes a syscall implementation.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

var table = map[Nr]Syscall{
	SysPuts:     {Name: "puts", Fn: (*Handler).Puts},
	SysSpawn:    {Name: "spawn", Fn: (*Handler).Spawn},
	SysYield:    {Name: "yield", Fn: (*Handler).Yield},
	SysSyncSend: {Name: "sync_send", Fn: (*Handler).SyncSend},
	SysSyncRecv: {Name: "sync_recv", Fn: (*Handler).SyncRecv},
	SysProduce:  {Name: "produce", Fn: (*Handler).Produce},
	SysConsume:  {Name: "consume", Fn: (*Handler).Consume},
}

// UserMemory reads from process address spaces. uaccess.Copier implements
// it.
type UserMemory interface {
	CopyIn(pid proc.ID, src hostarch.Addr, dst []byte) (int, error)
}

// Container answers quota and child-count questions about a process.
type Container interface {
	// CanConsume returns whether id may take quota more pages.
	CanConsume(id proc.ID, quota uint32) bool

	// NumChildren returns the number of children id has spawned.
	NumChildren(id proc.ID) uint32
}

// ProcessCreator starts new processes.
type ProcessCreator interface {
	// Create starts img as a child of parent with quota pages. It returns
	// the child's id, or the "no process" sentinel on failure.
	Create(parent proc.ID, img Image, quota uint32) proc.ID
}

// Yielder gives up the processor.
type Yielder interface {
	Yield(pid proc.ID)
}

// Handler implements the syscalls. All fields must be set before the first
// Dispatch.
type Handler struct {
	// Limit is the number of process ids.
	Limit proc.Limit

	// MaxChildren is the number of children each process may spawn.
	MaxChildren uint32

	IPC       *ipc.Engine
	Mem       UserMemory
	Console   io.Writer
	Container Container
	Creator   ProcessCreator
	Yielder   Yielder
}

// Dispatch executes the syscall described by f on behalf of pid and writes
// the outcome back into f.
func (h *Handler) Dispatch(pid proc.ID, f *Frame) {
	s, ok := table[f.Nr]
	if !ok {
		callsMetric.Increment("invalid")
		log.Warningf("pid %d: unknown syscall %d", pid, uint32(f.Nr))
		f.SetErrno(kernerr.INVALCALLNR)
		return
	}

	ret, err := s.Fn(h, pid, f.Args)
	f.SetRet(0, ret)
	f.SetErrno(kernerr.StatusOf(err))
	if err != nil {
		callsMetric.Increment("error")
	} else {
		callsMetric.Increment("success")
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("pid %d: %s(%v, %v, %v) = %d, %s (%v)", pid, s.Name, f.Args[0], f.Args[1], f.Args[2], ret, kernerr.Name(f.Errno), err)
	}
}

// checkUserRange returns EINVALADDR unless [addr, addr+length) lies in the
// user region.
func checkUserRange(addr hostarch.Addr, length uint32) error {
	if !hostarch.InUserRange(addr, length) {
		return fmt.Errorf("%v+%#x: %w", addr, length, kernerr.EINVALADDR)
	}
	return nil
}
