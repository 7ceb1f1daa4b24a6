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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/syscall"
	"gvisor.dev/mkern/pkg/kernel/vmm"
)

func newKernel(t *testing.T, programs map[syscall.Image]Program) (*Kernel, *bytes.Buffer) {
	t.Helper()
	var console bytes.Buffer
	k, err := New(InitKernelArgs{
		Limit:       64,
		MaxChildren: 8,
		PhysFrames:  vmm.IdentityFrames + 64 + 256,
		Console:     &console,
		Programs:    programs,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { k.Close() })
	return k, &console
}

func TestPingPong(t *testing.T) {
	const rounds = 5
	k, console := newKernel(t, Programs(rounds))
	k.Start(SpawnAll(20, syscall.ImagePing, syscall.ImagePong, syscall.ImageDing))
	if err := k.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	out := console.String()
	for i := 0; i < rounds; i++ {
		for _, want := range []string{
			fmt.Sprintf("pid 2: pong got \"ping %d\"\n", i),
			fmt.Sprintf("pid 1: ping got \"pong %d\"\n", i),
		} {
			if !strings.Contains(out, want) {
				t.Errorf("console missing %q", want)
			}
		}
	}
	for _, want := range []string{
		"pid 0: spawned ping as pid 1\n",
		"pid 0: spawned pong as pid 2\n",
		"pid 0: spawned ding as pid 3\n",
		"pid 3: ding done after 5 rounds\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console missing %q", want)
		}
	}
	if t.Failed() {
		t.Logf("console:\n%s", out)
	}

	if n := k.IPC.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d after all processes exited", n)
	}
	for pid, want := range map[proc.ID]string{0: "init", 1: "ping", 2: "pong", 3: "ding"} {
		if got := k.Name(pid); got != want {
			t.Errorf("Name(%d) = %q, want %q", pid, got, want)
		}
	}
	// Every syscall runs on its caller's directory.
	if got, want := k.Machine.MMU.Switches(), 4*rounds; got < want {
		t.Errorf("MMU switches = %d, want at least %d", got, want)
	}
	// Ping and pong allocate their buffers up front.
	for _, pid := range []proc.ID{1, 2} {
		if got := k.Containers.Usage(pid); got != MinQuota {
			t.Errorf("pid %d usage = %d, want %d", pid, got, MinQuota)
		}
	}
	// Three children of 20 pages plus init's print buffer.
	if got := k.Containers.Usage(0); got != 61 {
		t.Errorf("root usage = %d, want 61", got)
	}
}

func TestPingPongQuotaTooSmall(t *testing.T) {
	k, _ := newKernel(t, Programs(3))
	k.Start(SpawnAll(MinQuota-1, syscall.ImagePing, syscall.ImagePong))
	done := make(chan error, 1)
	go func() { done <- k.Wait() }()
	select {
	case err := <-done:
		if !errors.Is(err, kernerr.EEXCEEDSQUOTA) {
			t.Errorf("Wait = %v, want EEXCEEDSQUOTA", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("ping and pong still running with quota %d", MinQuota-1)
	}
	if n := k.IPC.PendingCount(); n != 0 {
		t.Errorf("PendingCount = %d, want 0", n)
	}
}

func TestSyscallActivatesCaller(t *testing.T) {
	k, _ := newKernel(t, nil)
	var before, after int
	var root hostarch.Addr
	k.Start(func(t *Task) error {
		before = t.Kernel().Machine.MMU.Switches()
		if err := t.Yield(); err != nil {
			return err
		}
		after = t.Kernel().Machine.MMU.Switches()
		root = t.Kernel().Machine.MMU.Root()
		return nil
	})
	if err := k.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if after != before+1 {
		t.Errorf("switches went from %d to %d, want one per syscall", before, after)
	}
	if want := k.Machine.MM.DirAddr(0); root != want {
		t.Errorf("root = %v, want pid 0's directory %v", root, want)
	}
}

func TestSpawnUnknownImage(t *testing.T) {
	k, _ := newKernel(t, Programs(1))
	k.Start(SpawnAll(1, syscall.ImageFSTest))
	err := k.Wait()
	if !errors.Is(err, kernerr.EINVALPID) {
		t.Fatalf("Wait = %v, want EINVALPID", err)
	}
	if k.Containers.NumChildren(0) != 0 {
		t.Errorf("failed spawn created a container")
	}
}

func TestAllocCharged(t *testing.T) {
	var allocErr error
	var first, second hostarch.Addr
	k, _ := newKernel(t, map[syscall.Image]Program{
		syscall.ImagePing: func(t *Task) error {
			var err error
			if first, err = t.Alloc(hostarch.PageSize + 1); err != nil {
				return err
			}
			if second, err = t.Alloc(1); err != nil {
				return err
			}
			_, allocErr = t.Alloc(1)
			return nil
		},
	})
	k.Start(SpawnAll(3, syscall.ImagePing))
	if err := k.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if first != hostarch.VMUserLo || second != hostarch.VMUserLo+2*hostarch.PageSize {
		t.Errorf("allocations at %v and %v", first, second)
	}
	if !errors.Is(allocErr, kernerr.EEXCEEDSQUOTA) {
		t.Errorf("allocation past quota = %v, want EEXCEEDSQUOTA", allocErr)
	}
	if got := k.Containers.Usage(1); got != 3 {
		t.Errorf("usage = %d, want 3", got)
	}
}

func TestSyscallStatus(t *testing.T) {
	k, _ := newKernel(t, nil)
	var got error
	k.Start(func(t *Task) error {
		_, got = t.Syscall(syscall.Nr(42))
		return nil
	})
	if err := k.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !errors.Is(got, kernerr.EINVALCALLNR) {
		t.Errorf("unknown syscall = %v, want EINVALCALLNR", got)
	}
}

func TestNewValidation(t *testing.T) {
	for _, args := range []InitKernelArgs{
		{Limit: 64, MaxChildren: 0, PhysFrames: vmm.IdentityFrames + 128},
		{Limit: 64, MaxChildren: 8, PhysFrames: vmm.IdentityFrames + 64},
	} {
		if k, err := New(args); err == nil {
			k.Close()
			t.Errorf("New(%+v) succeeded", args)
		}
	}
}
