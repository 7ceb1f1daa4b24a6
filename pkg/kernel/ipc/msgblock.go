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
	"fmt"

	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/ilist"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/waiter"
)

// MsgBlock describes the one message a process may have in flight. There is
// exactly one MsgBlock per process id and it is reused for every send.
type MsgBlock struct {
	ilist.Entry[*MsgBlock]

	// id is the sender owning this block. Immutable.
	id proc.ID

	// The fields below are protected by Engine.mu.

	// target is the receiver the message is addressed to.
	target proc.ID

	// addr and length describe the message in the sender's address space.
	addr   hostarch.Addr
	length uint32

	// pending is true while the block is on Engine.pending.
	pending bool

	// senderWait is notified when the block is enqueued. Receivers waiting
	// for a message from id sleep here.
	senderWait waiter.Queue

	// receiverWait is notified when the block is dequeued. The sender
	// sleeps here until its message has been taken.
	receiverWait waiter.Queue
}

// matches returns whether b is a pending message for receiver.
//
// Precondition: Engine.mu must be held.
func (b *MsgBlock) matches(receiver proc.ID) bool {
	return b.pending && b.target == receiver
}

func (b *MsgBlock) String() string {
	if !b.pending {
		return fmt.Sprintf("msg{%d idle}", b.id)
	}
	return fmt.Sprintf("msg{%d->%d %v+%#x}", b.id, b.target, b.addr, b.length)
}

// msgList is the queue of pending messages, oldest first.
type msgList = ilist.List[*MsgBlock]
