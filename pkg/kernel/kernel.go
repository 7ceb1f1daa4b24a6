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

// Package kernel boots the memory system, the IPC engine and the syscall
// layer, and runs processes on top of them.
//
// A process is a goroutine executing a Program. Programs talk to the kernel
// only through syscalls on their Task, and keep their data in their own
// address space, so every message really is copied between page tables.
package kernel

import (
	"fmt"
	"io"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/container"
	"gvisor.dev/mkern/pkg/kernel/ipc"
	"gvisor.dev/mkern/pkg/kernel/machine"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/syscall"
	"gvisor.dev/mkern/pkg/kernel/vmm"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/sync"
)

// Program is the code a process runs.
type Program func(t *Task) error

// InitKernelArgs holds arguments to New.
type InitKernelArgs struct {
	// Limit is the number of process ids.
	Limit proc.Limit

	// MaxChildren is the number of children each process may spawn.
	MaxChildren uint32

	// PhysFrames is the number of frames of physical memory. It must
	// cover the identity table and one directory per process id.
	PhysFrames uint32

	// Console receives the output of puts. Writes are serialized.
	Console io.Writer

	// Programs are the images spawn can start.
	Programs map[syscall.Image]Program

	// WaitLogRate limits how often blocked IPC calls are reported. Zero
	// keeps the engine's default.
	WaitLogRate time.Duration
}

// Kernel is a booted kernel.
type Kernel struct {
	Machine    *machine.Machine
	IPC        *ipc.Engine
	Containers *container.Tree
	Syscalls   *syscall.Handler

	programs map[syscall.Image]Program

	// tasks runs one goroutine per process.
	tasks errgroup.Group

	// mu protects names.
	mu    sync.Mutex
	names map[proc.ID]string
}

// New boots a kernel. The root container gets every frame left after boot.
func New(args InitKernelArgs) (*Kernel, error) {
	if args.MaxChildren == 0 {
		return nil, fmt.Errorf("MaxChildren must be positive")
	}
	if need := vmm.IdentityFrames + uint32(args.Limit); args.PhysFrames <= need {
		return nil, fmt.Errorf("%d frames of physical memory, need more than %d", args.PhysFrames, need)
	}
	m, err := machine.New(args.PhysFrames, args.Limit)
	if err != nil {
		return nil, fmt.Errorf("booting memory: %w", err)
	}
	k := &Kernel{
		Machine:    m,
		IPC:        ipc.New(args.Limit, m.Copier, nil),
		Containers: container.New(args.Limit, args.MaxChildren, m.FreeFrames()),
		programs:   args.Programs,
		names:      make(map[proc.ID]string),
	}
	if args.WaitLogRate > 0 {
		k.IPC.SetWaitLog(log.BasicRateLimitedLogger(args.WaitLogRate))
	}
	k.Syscalls = &syscall.Handler{
		Limit:       args.Limit,
		MaxChildren: args.MaxChildren,
		IPC:         k.IPC,
		Mem:         m.Copier,
		Console:     &lockedWriter{w: args.Console},
		Container:   k.Containers,
		Creator:     k,
		Yielder:     k,
	}
	log.Infof("kernel: booted with %d process ids, %d frames (%d free)", args.Limit, args.PhysFrames, m.FreeFrames())
	return k, nil
}

// Close releases physical memory. All processes must have exited.
func (k *Kernel) Close() error {
	return k.Machine.Close()
}

// Start runs init as the root process.
func (k *Kernel) Start(init Program) {
	k.run(container.Root, "init", init)
}

// Wait blocks until every process has exited and returns the first error a
// program returned.
func (k *Kernel) Wait() error {
	return k.tasks.Wait()
}

// Name returns the name of the program pid runs.
func (k *Kernel) Name(pid proc.ID) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.names[pid]
}

func (k *Kernel) run(pid proc.ID, name string, p Program) {
	k.mu.Lock()
	k.names[pid] = name
	k.mu.Unlock()

	t := &Task{k: k, id: pid, brk: hostarch.VMUserLo}
	k.tasks.Go(func() error {
		log.Debugf("pid %d (%s): started", pid, name)
		if err := p(t); err != nil {
			log.Warningf("pid %d (%s): %v", pid, name, err)
			return fmt.Errorf("pid %d (%s): %w", pid, name, err)
		}
		log.Debugf("pid %d (%s): exited", pid, name)
		return nil
	})
}

// Create implements syscall.ProcessCreator.Create.
func (k *Kernel) Create(parent proc.ID, img syscall.Image, quota uint32) proc.ID {
	none := k.IPC.Limit().None()
	p, ok := k.programs[img]
	if !ok {
		log.Warningf("pid %d: no program for image %v", parent, img)
		return none
	}
	child, err := k.Containers.Split(parent, quota)
	if err != nil {
		log.Warningf("pid %d: %v", parent, err)
		return none
	}
	if err := k.IPC.Reset(child); err != nil {
		log.Warningf("pid %d: %v", parent, err)
		return none
	}
	k.Machine.MM.InitDirectory(child)
	k.run(child, img.String(), p)
	return child
}

// Yield implements syscall.Yielder.Yield.
func (*Kernel) Yield(proc.ID) {
	runtime.Gosched()
}

// lockedWriter serializes writes to the console.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(b)
}
