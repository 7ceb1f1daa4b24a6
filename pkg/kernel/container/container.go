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

// Package container tracks the page quota of every process.
//
// Processes form a tree rooted at process 0. Every process owns a container
// with a quota of pages; spawning a child moves part of the parent's quota
// into the child's container. Child ids are allocated densely: the children
// of process p are p*maxChildren+1, p*maxChildren+2 and so on.
package container

import (
	"fmt"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/sync"
)

// Root is the id of the root container.
const Root proc.ID = 0

type node struct {
	used     bool
	parent   proc.ID
	children uint32
	quota    uint32
	usage    uint32
}

// Tree is the set of containers.
type Tree struct {
	limit       proc.Limit
	maxChildren uint32

	// mu protects nodes.
	mu    sync.Mutex
	nodes []node
}

// New returns a tree whose root container holds rootQuota pages.
func New(limit proc.Limit, maxChildren, rootQuota uint32) *Tree {
	t := &Tree{
		limit:       limit,
		maxChildren: maxChildren,
		nodes:       make([]node, limit),
	}
	t.nodes[Root] = node{used: true, quota: rootQuota}
	return t
}

// get returns id's container, or nil if id is not in use.
//
// Precondition: t.mu must be held.
func (t *Tree) get(id proc.ID) *node {
	if !t.limit.Valid(id) || !t.nodes[id].used {
		return nil
	}
	return &t.nodes[id]
}

// Used returns whether id has a container.
func (t *Tree) Used(id proc.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(id) != nil
}

// Parent returns id's parent. The root is its own parent.
func (t *Tree) Parent(id proc.ID) proc.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.get(id); n != nil {
		return n.parent
	}
	return t.limit.None()
}

// NumChildren returns the number of children id has spawned.
func (t *Tree) NumChildren(id proc.ID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.get(id); n != nil {
		return n.children
	}
	return 0
}

// Quota returns id's quota in pages.
func (t *Tree) Quota(id proc.ID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.get(id); n != nil {
		return n.quota
	}
	return 0
}

// Usage returns the number of pages id has consumed, including the quota
// handed to its children.
func (t *Tree) Usage(id proc.ID) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := t.get(id); n != nil {
		return n.usage
	}
	return 0
}

// CanConsume returns whether id has pages more pages left.
func (t *Tree) CanConsume(id proc.ID, pages uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(id)
	return n != nil && uint64(n.usage)+uint64(pages) <= uint64(n.quota)
}

// Split creates the next child container of id with quota pages taken from
// id's remaining quota, and returns the child's id.
func (t *Tree) Split(id proc.ID, quota uint32) (proc.ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(id)
	if n == nil {
		return t.limit.None(), fmt.Errorf("container %d not in use: %w", id, kernerr.EINVALPID)
	}
	if uint64(n.usage)+uint64(quota) > uint64(n.quota) {
		return t.limit.None(), fmt.Errorf("container %d: %d of %d pages used, %d requested: %w", id, n.usage, n.quota, quota, kernerr.EEXCEEDSQUOTA)
	}
	if n.children == t.maxChildren {
		return t.limit.None(), fmt.Errorf("container %d has %d children: %w", id, n.children, kernerr.EINVALCHILDID)
	}
	child := uint64(id)*uint64(t.maxChildren) + 1 + uint64(n.children)
	if child >= uint64(t.limit) {
		return t.limit.None(), fmt.Errorf("container %d: child id %d out of range: %w", id, child, kernerr.EMAXCHILDREN)
	}

	t.nodes[child] = node{used: true, parent: id, quota: quota}
	n.usage += quota
	n.children++
	return proc.ID(child), nil
}

// Consume charges pages to id.
func (t *Tree) Consume(id proc.ID, pages uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(id)
	if n == nil {
		return fmt.Errorf("container %d not in use: %w", id, kernerr.EINVALPID)
	}
	if uint64(n.usage)+uint64(pages) > uint64(n.quota) {
		return fmt.Errorf("container %d: %d of %d pages used, %d requested: %w", id, n.usage, n.quota, pages, kernerr.EEXCEEDSQUOTA)
	}
	n.usage += pages
	return nil
}

// Release returns pages previously charged to id.
func (t *Tree) Release(id proc.ID, pages uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(id)
	if n == nil || n.usage < pages {
		panic(fmt.Sprintf("container %d: releasing %d pages it does not hold", id, pages))
	}
	n.usage -= pages
}
