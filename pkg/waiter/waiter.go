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

// Package waiter provides the wait channels kernel code sleeps on.
//
// A Queue is a broadcast channel in the sense of classic Unix sleep/wakeup:
// Notify wakes every goroutine sleeping on the queue, and each of them must
// re-check the condition it was waiting for. The usual pattern is:
//
//	mu.Lock()
//	for !condition() {
//		q.Wait(&mu)
//	}
//	// condition holds and mu is held.
//	mu.Unlock()
//
// and on the other side:
//
//	mu.Lock()
//	makeConditionTrue()
//	q.Notify()
//	mu.Unlock()
//
// Wait registers with the queue before it releases the caller's lock, so a
// Notify issued by anyone who acquires that lock afterwards cannot be lost.
package waiter

import (
	"gvisor.dev/mkern/pkg/sync"
)

// Queue is a wait channel. The zero value is ready to use.
type Queue struct {
	// mu protects the fields below.
	mu sync.Mutex

	// ch is closed to wake the current generation of sleepers. It is
	// created lazily by the first sleeper.
	ch chan struct{}

	// waiters is the number of goroutines sleeping on ch.
	waiters int
}

// register adds the caller to the current generation and returns the channel
// that will be closed by the next Notify.
func (q *Queue) register() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch == nil {
		q.ch = make(chan struct{})
	}
	q.waiters++
	return q.ch
}

// Wait releases l, sleeps until the next Notify, and reacquires l before
// returning. l must be held by the caller.
func (q *Queue) Wait(l sync.Locker) {
	ch := q.register()
	l.Unlock()
	<-ch
	l.Lock()
}

// Notify wakes all goroutines currently sleeping on q.
func (q *Queue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ch != nil {
		close(q.ch)
		q.ch = nil
	}
	q.waiters = 0
}

// Waiters returns the number of goroutines sleeping on q.
func (q *Queue) Waiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters
}

// IsEmpty returns whether nobody is sleeping on q.
func (q *Queue) IsEmpty() bool {
	return q.Waiters() == 0
}
