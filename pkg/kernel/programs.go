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
	"fmt"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/syscall"
)

// MessageSize is the size of the buffers ping and pong exchange.
const MessageSize = 64

// MinQuota is the page quota ping and pong need: a send buffer, a receive
// buffer and a print buffer, one page each.
const MinQuota = 3

// exchange holds the buffers of one side of a ping-pong exchange.
type exchange struct {
	out, in hostarch.Addr
}

// setupExchange allocates every buffer ping or pong uses before either talks
// to its peer. Both sides need the same amount of memory, so a quota that is
// too small fails on both sides and neither is left waiting for a peer that
// already exited.
func setupExchange(t *Task) (exchange, error) {
	var x exchange
	var err error
	if x.out, err = t.Alloc(MessageSize); err != nil {
		return x, err
	}
	if x.in, err = t.Alloc(MessageSize); err != nil {
		return x, err
	}
	return x, t.ReservePrint(hostarch.PageSize)
}

// Ping returns the ping program. Ping and pong are spawned back to back by
// the same parent, so ping's peer is the next id and pong's the previous.
//
// Each round ping sends "ping <n>" and waits for pong's reply.
func Ping(rounds int) Program {
	return func(t *Task) error {
		peer := t.ID() + 1
		x, err := setupExchange(t)
		if err != nil {
			return err
		}
		for i := 0; i < rounds; i++ {
			msg := fmt.Appendf(nil, "ping %d", i)
			if err := t.CopyOut(x.out, msg); err != nil {
				return err
			}
			if err := t.Send(peer, x.out, uint32(len(msg))); err != nil {
				return err
			}
			n, err := t.Recv(peer, x.in, MessageSize)
			if err != nil {
				return err
			}
			reply, err := t.read(x.in, n)
			if err != nil {
				return err
			}
			if want := fmt.Appendf(nil, "pong %d", i); !bytes.Equal(reply, want) {
				return fmt.Errorf("round %d: got %q from pid %d, want %q", i, reply, peer, want)
			}
			if err := t.Printf("pid %d: ping got %q\n", t.ID(), reply); err != nil {
				return err
			}
		}
		return nil
	}
}

// Pong returns the pong program, which answers every "ping <n>" from the
// previous id with "pong <n>".
func Pong(rounds int) Program {
	return func(t *Task) error {
		peer := t.ID() - 1
		x, err := setupExchange(t)
		if err != nil {
			return err
		}
		for i := 0; i < rounds; i++ {
			n, err := t.Recv(peer, x.in, MessageSize)
			if err != nil {
				return err
			}
			msg, err := t.read(x.in, n)
			if err != nil {
				return err
			}
			if err := t.Printf("pid %d: pong got %q\n", t.ID(), msg); err != nil {
				return err
			}
			reply := bytes.Replace(msg, []byte("ping"), []byte("pong"), 1)
			if err := t.CopyOut(x.out, reply); err != nil {
				return err
			}
			if err := t.Send(peer, x.out, uint32(len(reply))); err != nil {
				return err
			}
		}
		return nil
	}
}

// Ding returns a program that traces producer and consumer activity and
// yields between rounds, without talking to anybody.
func Ding(rounds int) Program {
	return func(t *Task) error {
		for i := 0; i < rounds; i++ {
			if _, err := t.Syscall(syscall.SysProduce); err != nil {
				return err
			}
			if _, err := t.Syscall(syscall.SysConsume); err != nil {
				return err
			}
			if err := t.Yield(); err != nil {
				return err
			}
		}
		return t.Printf("pid %d: ding done after %d rounds\n", t.ID(), rounds)
	}
}

// SpawnAll returns an init program that spawns each image with quota pages
// and reports the ids it got.
func SpawnAll(quota uint32, images ...syscall.Image) Program {
	return func(t *Task) error {
		for _, img := range images {
			id, err := t.Spawn(img, quota)
			if err != nil {
				return fmt.Errorf("spawning %v: %w", img, err)
			}
			if err := t.Printf("pid %d: spawned %v as pid %d\n", t.ID(), img, id); err != nil {
				return err
			}
		}
		return nil
	}
}

// read copies n bytes at addr out of the task's address space.
func (t *Task) read(addr hostarch.Addr, n uint32) ([]byte, error) {
	b := make([]byte, n)
	if err := t.CopyIn(addr, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Programs returns the standard images, each running rounds rounds.
func Programs(rounds int) map[syscall.Image]Program {
	return map[syscall.Image]Program{
		syscall.ImagePing: Ping(rounds),
		syscall.ImagePong: Pong(rounds),
		syscall.ImageDing: Ding(rounds),
	}
}
