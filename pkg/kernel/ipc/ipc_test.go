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

package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/machine"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/kernel/vmm"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/sync"
	"gvisor.dev/mkern/pkg/test/testutil"
	"gvisor.dev/mkern/pkg/waiter"
)

const (
	testLimit   = 8
	pollTimeout = 10 * time.Second
)

type copyCall struct {
	DstPID proc.ID
	Dst    hostarch.Addr
	SrcPID proc.ID
	Src    hostarch.Addr
	N      uint32
}

// fakeCopier records copies without touching memory.
type fakeCopier struct {
	mu    sync.Mutex
	calls []copyCall
	err   error
}

func (c *fakeCopier) Copy(dstPID proc.ID, dst hostarch.Addr, srcPID proc.ID, src hostarch.Addr, n uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, copyCall{dstPID, dst, srcPID, src, n})
	if c.err != nil {
		return n / 2, c.err
	}
	return n, nil
}

func (c *fakeCopier) recorded() []copyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]copyCall(nil), c.calls...)
}

// waitPending polls until id has a message queued.
func waitPending(t *testing.T, e *Engine, id proc.ID) {
	t.Helper()
	if err := testutil.Poll(func() error {
		if !e.Pending(id) {
			return fmt.Errorf("pid %d has nothing pending", id)
		}
		return nil
	}, pollTimeout); err != nil {
		t.Fatalf("waiting for send: %v", err)
	}
}

// waitReceiver polls until a receiver sleeps on source's send channel.
func waitReceiver(t *testing.T, e *Engine, source proc.ID) {
	t.Helper()
	if err := testutil.Poll(func() error {
		if e.blocks[source].senderWait.IsEmpty() {
			return fmt.Errorf("nobody waiting on pid %d", source)
		}
		return nil
	}, pollTimeout); err != nil {
		t.Fatalf("waiting for receiver: %v", err)
	}
}

// sendAsync starts a send and returns a channel that yields its result.
func sendAsync(e *Engine, sender, target proc.ID, addr hostarch.Addr, length uint32) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- e.Send(sender, target, addr, length) }()
	return ch
}

type recvResult struct {
	n   uint32
	err error
}

func receiveAsync(e *Engine, receiver, source proc.ID, addr hostarch.Addr, length uint32) <-chan recvResult {
	ch := make(chan recvResult, 1)
	go func() {
		n, err := e.Receive(receiver, source, addr, length)
		ch <- recvResult{n, err}
	}()
	return ch
}

func newMachine(t *testing.T) *machine.Machine {
	t.Helper()
	m, err := machine.New(vmm.IdentityFrames+testLimit+64, testLimit)
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestRendezvousTransfersPayload(t *testing.T) {
	for _, tc := range []struct {
		name     string
		sender   proc.ID
		receiver proc.ID
		sendLen  uint32
		recvLen  uint32
		want     uint32
		result   string
	}{
		{
			// Process 3 sends 10 bytes, process 7 has room for 20.
			name:     "short message",
			sender:   3,
			receiver: 7,
			sendLen:  10,
			recvLen:  20,
			want:     10,
			result:   "full",
		},
		{
			// Process 5 sends 50 bytes, process 2 has room for 5.
			name:     "truncated",
			sender:   5,
			receiver: 2,
			sendLen:  50,
			recvLen:  5,
			want:     5,
			result:   "truncated",
		},
		{
			name:     "across pages",
			sender:   1,
			receiver: 6,
			sendLen:  3*hostarch.PageSize + 17,
			recvLen:  3*hostarch.PageSize + 17,
			want:     3*hostarch.PageSize + 17,
			result:   "full",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newMachine(t)
			e := New(testLimit, m.Copier, nil)

			x := hostarch.VMUserLo + 0x0ffc
			y := hostarch.VMUserLo + 0x8000
			if err := m.MapUser(tc.sender, x, tc.sendLen); err != nil {
				t.Fatalf("MapUser sender: %v", err)
			}
			if err := m.MapUser(tc.receiver, y, tc.recvLen); err != nil {
				t.Fatalf("MapUser receiver: %v", err)
			}
			payload := testutil.Pattern(0x41, int(tc.sendLen))
			if _, err := m.Copier.CopyOut(tc.sender, x, payload); err != nil {
				t.Fatalf("CopyOut: %v", err)
			}

			before := receiveMetric.Value(tc.result)
			var g errgroup.Group
			g.Go(func() error { return e.Send(tc.sender, tc.receiver, x, tc.sendLen) })
			n, err := e.Receive(tc.receiver, tc.sender, y, tc.recvLen)
			if err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("Send: %v", err)
			}
			if n != tc.want {
				t.Errorf("Receive = %d, want %d", n, tc.want)
			}

			got := make([]byte, tc.recvLen)
			if _, err := m.Copier.CopyIn(tc.receiver, y, got); err != nil {
				t.Fatalf("CopyIn: %v", err)
			}
			want := make([]byte, tc.recvLen)
			copy(want, payload[:tc.want])
			if !bytes.Equal(got, want) {
				t.Errorf("receiver buffer mismatch:\n got %x\nwant %x", got, want)
			}
			if e.Pending(tc.sender) {
				t.Errorf("pid %d still pending after receive", tc.sender)
			}
			if delta := receiveMetric.Value(tc.result) - before; delta != 1 {
				t.Errorf("receives{result=%s} grew by %d, want 1", tc.result, delta)
			}
		})
	}
}

func TestSendBlocksUntilReceived(t *testing.T) {
	c := &fakeCopier{}
	e := New(testLimit, c, nil)

	sent := sendAsync(e, 3, 7, 0x40000000, 10)
	waitPending(t, e, 3)
	select {
	case err := <-sent:
		t.Fatalf("Send returned before any receive: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if n, err := e.Receive(7, 3, 0x40001000, 20); err != nil || n != 10 {
		t.Fatalf("Receive = %d, %v, want 10, nil", n, err)
	}
	if err := <-sent; err != nil {
		t.Errorf("Send: %v", err)
	}
	want := []copyCall{{DstPID: 7, Dst: 0x40001000, SrcPID: 3, Src: 0x40000000, N: 10}}
	if diff := cmp.Diff(want, c.recorded()); diff != "" {
		t.Errorf("copies mismatch (-want +got):\n%s", diff)
	}
}

func TestReceiveBlocksUntilSent(t *testing.T) {
	c := &fakeCopier{}
	e := New(testLimit, c, nil)

	got := receiveAsync(e, 7, 3, 0x40001000, 20)
	waitReceiver(t, e, 3)
	select {
	case r := <-got:
		t.Fatalf("Receive returned with no sender: %+v", r)
	default:
	}

	if err := e.Send(3, 7, 0x40000000, 10); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if r := <-got; r.err != nil || r.n != 10 {
		t.Errorf("Receive = %d, %v, want 10, nil", r.n, r.err)
	}
	if len(c.recorded()) != 1 {
		t.Errorf("copier called %d times, want 1", len(c.recorded()))
	}
}

func TestReceiveMatchesSourceAndTarget(t *testing.T) {
	c := &fakeCopier{}
	e := New(testLimit, c, nil)

	// pid 3 waits for a message from pid 1.
	third := receiveAsync(e, 3, 1, 0x40003000, 8)
	waitReceiver(t, e, 1)

	// pid 4 offers pid 3 a message: wrong source.
	fromFour := sendAsync(e, 4, 3, 0x40004000, 8)
	waitPending(t, e, 4)

	// pid 1 offers pid 2 a message: right source, wrong target.
	toTwo := sendAsync(e, 1, 2, 0x40000000, 4)
	waitPending(t, e, 1)

	select {
	case r := <-third:
		t.Fatalf("pid 3 received a message not meant for it: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if n, err := e.Receive(2, 1, 0x40002000, 8); err != nil || n != 4 {
		t.Fatalf("pid 2 Receive = %d, %v, want 4, nil", n, err)
	}
	if err := <-toTwo; err != nil {
		t.Fatalf("pid 1 Send to 2: %v", err)
	}

	// Now pid 1 offers pid 3 the message it is waiting for.
	toThree := sendAsync(e, 1, 3, 0x40000100, 6)
	if r := <-third; r.err != nil || r.n != 6 {
		t.Errorf("pid 3 Receive = %d, %v, want 6, nil", r.n, r.err)
	}
	if err := <-toThree; err != nil {
		t.Errorf("pid 1 Send to 3: %v", err)
	}

	// pid 4's message is still waiting for pid 3.
	if !e.Pending(4) {
		t.Errorf("pid 4 no longer pending")
	}
	if n, err := e.Receive(3, 4, 0x40003000, 8); err != nil || n != 8 {
		t.Errorf("pid 3 Receive from 4 = %d, %v, want 8, nil", n, err)
	}
	if err := <-fromFour; err != nil {
		t.Errorf("pid 4 Send: %v", err)
	}
	if got := e.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0", got)
	}
}

func TestResendRejected(t *testing.T) {
	e := New(testLimit, &fakeCopier{}, nil)

	first := sendAsync(e, 3, 7, 0x40000000, 10)
	waitPending(t, e, 3)

	err := e.Send(3, 6, 0x40005000, 1)
	if !errors.Is(err, kernerr.EBUSY) {
		t.Fatalf("second Send = %v, want EBUSY", err)
	}
	if got := kernerr.StatusOf(err); got != kernerr.BUSY {
		t.Errorf("StatusOf = %v, want %v", got, kernerr.BUSY)
	}

	// The original message is untouched.
	if n, err := e.Receive(7, 3, 0x40001000, 20); err != nil || n != 10 {
		t.Fatalf("Receive = %d, %v, want 10, nil", n, err)
	}
	if err := <-first; err != nil {
		t.Errorf("first Send: %v", err)
	}
}

func TestInvalidIDs(t *testing.T) {
	e := New(testLimit, &fakeCopier{}, nil)
	for _, tc := range []struct {
		name string
		op   func() error
	}{
		{"send sender", func() error { return e.Send(testLimit, 1, 0, 1) }},
		{"send target", func() error { return e.Send(1, testLimit+3, 0, 1) }},
		{"receive receiver", func() error {
			_, err := e.Receive(testLimit, 1, 0, 1)
			return err
		}},
		{"receive source", func() error {
			_, err := e.Receive(1, ^proc.ID(0), 0, 1)
			return err
		}},
		{"reset", func() error { return e.Reset(testLimit) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(); !errors.Is(err, kernerr.EINVALPID) {
				t.Errorf("got %v, want EINVALPID", err)
			}
		})
	}
	if e.PendingCount() != 0 {
		t.Errorf("invalid calls left messages pending")
	}
}

func TestCopyFaultConsumesMessage(t *testing.T) {
	fault := errors.New("bad page")
	c := &fakeCopier{err: fault}
	e := New(testLimit, c, nil)

	sent := sendAsync(e, 2, 5, 0x40000000, 64)
	waitPending(t, e, 2)

	n, err := e.Receive(5, 2, 0x40001000, 64)
	if !errors.Is(err, fault) {
		t.Fatalf("Receive error = %v, want %v", err, fault)
	}
	if n != 32 {
		t.Errorf("Receive = %d, want the 32 bytes copied before the fault", n)
	}
	if err := <-sent; err != nil {
		t.Errorf("Send: %v", err)
	}
	if e.Pending(2) {
		t.Errorf("faulted message still pending")
	}
	if len(c.recorded()) != 1 {
		t.Errorf("copier called %d times, want 1", len(c.recorded()))
	}
}

func TestReset(t *testing.T) {
	e := New(testLimit, &fakeCopier{}, nil)
	sent := sendAsync(e, 1, 2, 0x40000000, 4)
	waitPending(t, e, 1)

	if err := e.Reset(1); !errors.Is(err, kernerr.EBUSY) {
		t.Errorf("Reset of pending pid = %v, want EBUSY", err)
	}
	if _, err := e.Receive(2, 1, 0x40000000, 4); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := e.Reset(1); err != nil {
		t.Errorf("Reset of idle pid: %v", err)
	}
	if b := &e.blocks[1]; b.target != 0 || b.addr != 0 || b.length != 0 {
		t.Errorf("Reset left %+v", b)
	}
}

func TestPendingOrder(t *testing.T) {
	e := New(testLimit, &fakeCopier{}, nil)
	var results []<-chan error
	for _, id := range []proc.ID{6, 2, 4} {
		results = append(results, sendAsync(e, id, 0, 0x40000000, 1))
		waitPending(t, e, id)
	}

	if diff := cmp.Diff([]proc.ID{6, 2, 4}, e.PendingSenders()); diff != "" {
		t.Errorf("PendingSenders mismatch (-want +got):\n%s", diff)
	}
	e.mu.Lock()
	pos := []uint32{e.find(6), e.find(2), e.find(4), e.find(1)}
	e.mu.Unlock()
	if diff := cmp.Diff([]uint32{0, 1, 2, testLimit}, pos); diff != "" {
		t.Errorf("find mismatch (-want +got):\n%s", diff)
	}

	// Taking the middle message leaves the others in order.
	if _, err := e.Receive(0, 2, 0x40000000, 1); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if diff := cmp.Diff([]proc.ID{6, 4}, e.PendingSenders()); diff != "" {
		t.Errorf("PendingSenders mismatch (-want +got):\n%s", diff)
	}
	for _, id := range []proc.ID{6, 4} {
		if _, err := e.Receive(0, id, 0x40000000, 1); err != nil {
			t.Fatalf("Receive from %d: %v", id, err)
		}
	}
	for _, r := range results {
		if err := <-r; err != nil {
			t.Errorf("Send: %v", err)
		}
	}
}

// countingScheduler counts calls into the wrapped scheduler.
type countingScheduler struct {
	WaitScheduler
	mu      sync.Mutex
	sleeps  int
	wakeups int
}

func (s *countingScheduler) Sleep(q *waiter.Queue, l sync.Locker) {
	s.mu.Lock()
	s.sleeps++
	s.mu.Unlock()
	s.WaitScheduler.Sleep(q, l)
}

func (s *countingScheduler) Wakeup(q *waiter.Queue) {
	s.mu.Lock()
	s.wakeups++
	s.mu.Unlock()
	s.WaitScheduler.Wakeup(q)
}

func TestSchedulerHooks(t *testing.T) {
	s := &countingScheduler{}
	e := New(testLimit, &fakeCopier{}, s)
	e.SetWaitLog(&log.BasicLogger{Level: log.Debug, Emitter: &log.TestEmitter{TestLogger: t}})

	sent := sendAsync(e, 1, 2, 0x40000000, 4)
	waitPending(t, e, 1)
	if _, err := e.Receive(2, 1, 0x40000000, 4); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if err := <-sent; err != nil {
		t.Fatalf("Send: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// One wakeup when enqueued, one when dequeued. The sender slept at
	// least once; the receiver found the message without sleeping.
	if s.wakeups != 2 {
		t.Errorf("wakeups = %d, want 2", s.wakeups)
	}
	if s.sleeps < 1 {
		t.Errorf("sleeps = %d, want at least 1", s.sleeps)
	}
}

func TestConcurrentPingPong(t *testing.T) {
	const rounds = 200
	c := &fakeCopier{}
	e := New(testLimit, c, nil)

	var g errgroup.Group
	for pair := proc.ID(0); pair < testLimit; pair += 2 {
		ping, pong := pair, pair+1
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				if err := e.Send(ping, pong, 0x40000000, 8); err != nil {
					return err
				}
				if _, err := e.Receive(ping, pong, 0x40001000, 8); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				if _, err := e.Receive(pong, ping, 0x40001000, 8); err != nil {
					return err
				}
				if err := e.Send(pong, ping, 0x40000000, 8); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("ping-pong: %v", err)
	}
	if got, want := len(c.recorded()), rounds*testLimit; got != want {
		t.Errorf("copies = %d, want %d", got, want)
	}
	if got := e.PendingCount(); got != 0 {
		t.Errorf("PendingCount = %d, want 0", got)
	}
}
