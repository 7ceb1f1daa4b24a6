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

// Package ipc implements synchronous, unbuffered message passing between
// processes.
//
// A send blocks until the named receiver takes the message, and a receive
// blocks until the named sender offers one addressed to the receiver. Each
// process has at most one message outstanding; the payload is copied exactly
// once, directly from the sender's address space into the receiver's, and is
// truncated to the smaller of the two declared lengths.
//
// Neither operation has a timeout. A send whose receiver never arrives, or a
// receive whose sender never arrives, blocks forever.
package ipc

import (
	"fmt"
	"time"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/log"
	"gvisor.dev/mkern/pkg/metric"
	"gvisor.dev/mkern/pkg/sync"
	"gvisor.dev/mkern/pkg/waiter"
)

var (
	sendsMetric   = metric.MustCreateNewUint64Metric("/ipc/sends", "Number of messages enqueued by senders.")
	receiveMetric = metric.MustCreateNewUint64Metric("/ipc/receives", "Number of completed receives, by whether the message was truncated.",
		metric.NewField("result", "full", "truncated", "fault"))
	bytesMetric = metric.MustCreateNewUint64Metric("/ipc/bytes_copied", "Number of payload bytes copied between address spaces.")
)

// Copier copies bytes between address spaces. uaccess.Copier implements it.
type Copier interface {
	// Copy copies n bytes from srcPID's address space at src to dstPID's
	// address space at dst and returns the number of bytes copied.
	Copy(dstPID proc.ID, dst hostarch.Addr, srcPID proc.ID, src hostarch.Addr, n uint32) (uint32, error)
}

// Scheduler provides the blocking primitives the engine sleeps with.
type Scheduler interface {
	// Sleep releases l, blocks until q is notified and reacquires l.
	Sleep(q *waiter.Queue, l sync.Locker)

	// Wakeup wakes everything sleeping on q.
	Wakeup(q *waiter.Queue)
}

// WaitScheduler is the Scheduler that blocks goroutines on the queue itself.
type WaitScheduler struct{}

// Sleep implements Scheduler.Sleep.
func (WaitScheduler) Sleep(q *waiter.Queue, l sync.Locker) {
	q.Wait(l)
}

// Wakeup implements Scheduler.Wakeup.
func (WaitScheduler) Wakeup(q *waiter.Queue) {
	q.Notify()
}

// Engine is the rendezvous point for all processes.
type Engine struct {
	limit  proc.Limit
	copier Copier
	sched  Scheduler

	// mu protects every MsgBlock and the pending queue.
	mu sync.Mutex

	// blocks has one descriptor per process id.
	blocks []MsgBlock

	// pending holds the blocks of blocked senders in send order.
	pending msgList

	// waitLog reports receivers and senders that keep sleeping.
	waitLog log.Logger
}

// New returns an Engine for processes [0, limit). A nil sched selects
// WaitScheduler.
func New(limit proc.Limit, copier Copier, sched Scheduler) *Engine {
	if sched == nil {
		sched = WaitScheduler{}
	}
	e := &Engine{
		limit:   limit,
		copier:  copier,
		sched:   sched,
		blocks:  make([]MsgBlock, limit),
		waitLog: log.BasicRateLimitedLogger(time.Second),
	}
	for i := range e.blocks {
		e.blocks[i].id = proc.ID(i)
	}
	return e
}

// SetWaitLog replaces the logger that reports calls still blocked after a
// wakeup. It must be called before the first Send or Receive.
func (e *Engine) SetWaitLog(l log.Logger) {
	e.waitLog = l
}

// Limit returns the number of process ids the engine serves.
func (e *Engine) Limit() proc.Limit {
	return e.limit
}

func (e *Engine) checkIDs(ids ...proc.ID) error {
	for _, id := range ids {
		if err := e.limit.Check(id); err != nil {
			return fmt.Errorf("%w: %w", kernerr.EINVALPID, err)
		}
	}
	return nil
}

// Send offers length bytes at addr in sender's address space to target and
// blocks until target has received them.
//
// Send fails without blocking if either id is invalid or if sender already
// has a message outstanding.
func (e *Engine) Send(sender, target proc.ID, addr hostarch.Addr, length uint32) error {
	if err := e.checkIDs(sender, target); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := &e.blocks[sender]
	if b.pending {
		return fmt.Errorf("pid %d: %v still outstanding: %w", sender, b, kernerr.EBUSY)
	}
	b.target = target
	b.addr = addr
	b.length = length
	b.pending = true
	e.pending.PushBack(b)
	sendsMetric.Increment()
	log.Debugf("ipc: %v enqueued", b)
	e.sched.Wakeup(&b.senderWait)

	for b.pending {
		e.sched.Sleep(&b.receiverWait, &e.mu)
		if b.pending {
			e.waitLog.Debugf("ipc: pid %d still waiting for pid %d to receive", sender, target)
		}
	}
	return nil
}

// Receive blocks until source has a message outstanding for receiver, copies
// it into receiver's address space at addr and releases source. At most
// length bytes are copied; the rest of a longer message is discarded.
//
// Receive returns the number of bytes delivered. If the copy faults, the
// message is still consumed and the sender released, and the error is
// returned along with the bytes copied before the fault.
func (e *Engine) Receive(receiver, source proc.ID, addr hostarch.Addr, length uint32) (uint32, error) {
	if err := e.checkIDs(receiver, source); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	b := &e.blocks[source]
	for !b.matches(receiver) {
		e.sched.Sleep(&b.senderWait, &e.mu)
		if !b.matches(receiver) {
			e.waitLog.Debugf("ipc: pid %d still waiting for pid %d to send", receiver, source)
		}
	}

	n := min(b.length, length)
	copied, err := e.copier.Copy(receiver, addr, source, b.addr, n)
	bytesMetric.IncrementBy(uint64(copied))

	e.remove(b)
	e.sched.Wakeup(&b.receiverWait)

	switch {
	case err != nil:
		receiveMetric.Increment("fault")
		log.Warningf("ipc: pid %d receiving %v: copy failed after %d bytes: %v", receiver, b, copied, err)
		return copied, fmt.Errorf("receiving from pid %d: %w", source, err)
	case n < b.length:
		receiveMetric.Increment("truncated")
	default:
		receiveMetric.Increment("full")
	}
	log.Debugf("ipc: pid %d received %d of %d bytes from pid %d", receiver, n, b.length, source)
	return n, nil
}

// remove takes b off the pending queue.
//
// Precondition: e.mu must be held and b must be pending.
func (e *Engine) remove(b *MsgBlock) {
	e.pending.Remove(b)
	b.pending = false
}

// find returns the position of id's block in the pending queue, or
// e.limit if id has nothing pending.
//
// Precondition: e.mu must be held.
func (e *Engine) find(id proc.ID) uint32 {
	if !e.limit.Valid(id) || !e.blocks[id].pending {
		return uint32(e.limit)
	}
	return uint32(e.pending.Index(&e.blocks[id]))
}

// Reset returns id's descriptor to its boot state, for use when id is
// assigned to a new process. It fails with EBUSY if id has a message
// outstanding.
func (e *Engine) Reset(id proc.ID) error {
	if err := e.checkIDs(id); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	b := &e.blocks[id]
	if b.pending {
		return fmt.Errorf("resetting pid %d: %v: %w", id, b, kernerr.EBUSY)
	}
	b.target = 0
	b.addr = 0
	b.length = 0
	return nil
}

// Pending returns whether id has a message outstanding.
func (e *Engine) Pending(id proc.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.find(id) != uint32(e.limit)
}

// PendingCount returns the number of outstanding messages.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending.Len()
}

// PendingSenders returns the ids of blocked senders, oldest first.
func (e *Engine) PendingSenders() []proc.ID {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []proc.ID
	for b := e.pending.Front(); b != nil; b = b.Next() {
		ids = append(ids, b.id)
	}
	return ids
}
