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

package syscall

import (
	"fmt"

	"gvisor.dev/mkern/pkg/errors/kernerr"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
	"gvisor.dev/mkern/pkg/log"
)

// Image identifies one of the program images built into the kernel.
type Image uint32

// Built-in images. Zero is not an image.
const (
	ImagePing Image = iota + 1
	ImagePong
	ImageDing
	ImageFSTest
)

var imageNames = map[Image]string{
	ImagePing:   "ping",
	ImagePong:   "pong",
	ImageDing:   "ding",
	ImageFSTest: "fstest",
}

// Valid returns whether img names a built-in image.
func (img Image) Valid() bool {
	_, ok := imageNames[img]
	return ok
}

func (img Image) String() string {
	if n, ok := imageNames[img]; ok {
		return n
	}
	return fmt.Sprintf("image(%d)", uint32(img))
}

// putsChunk is the largest piece of a string Puts writes at once.
const putsChunk = hostarch.PageSize - 1

// Puts implements syscall puts(addr, length): it copies the string at addr
// out of pid's address space and writes it to the console.
func (h *Handler) Puts(pid proc.ID, args Arguments) (uint32, error) {
	addr := args[0].Pointer()
	length := args[1].Uint()
	if err := checkUserRange(addr, length); err != nil {
		return 0, err
	}

	buf := make([]byte, min(length, putsChunk))
	for remain := length; remain > 0; {
		n := min(remain, putsChunk)
		if _, err := h.Mem.CopyIn(pid, addr, buf[:n]); err != nil {
			return 0, fmt.Errorf("puts from pid %d at %v: %w: %w", pid, addr, kernerr.EMEM, err)
		}
		if _, err := h.Console.Write(buf[:n]); err != nil {
			log.Warningf("pid %d: console write failed: %v", pid, err)
		}
		remain -= n
		addr += hostarch.Addr(n)
	}
	return 0, nil
}

// Spawn implements syscall spawn(image, quota). It returns the child's id,
// or the "no process" sentinel when the child could not be created.
func (h *Handler) Spawn(pid proc.ID, args Arguments) (uint32, error) {
	img := Image(args[0].Uint())
	quota := args[1].Uint()
	none := uint32(h.Limit.None())

	if !h.Container.CanConsume(pid, quota) {
		return none, fmt.Errorf("pid %d spawning with quota %d: %w", pid, quota, kernerr.EEXCEEDSQUOTA)
	}
	// Children of pid are numbered pid*MaxChildren+1 onwards; the whole
	// block must fit below the limit.
	if uint64(h.Limit) < uint64(pid)*uint64(h.MaxChildren)+1+uint64(h.MaxChildren) {
		return none, fmt.Errorf("pid %d: child ids past %d: %w", pid, h.Limit, kernerr.EMAXCHILDREN)
	}
	if h.Container.NumChildren(pid) == h.MaxChildren {
		return none, fmt.Errorf("pid %d already has %d children: %w", pid, h.MaxChildren, kernerr.EINVALCHILDID)
	}
	if !img.Valid() {
		return none, fmt.Errorf("pid %d spawning %v: %w", pid, img, kernerr.EINVALPID)
	}

	child := h.Creator.Create(pid, img, quota)
	if !h.Limit.Valid(child) {
		return none, fmt.Errorf("pid %d: creating %v failed: %w", pid, img, kernerr.EINVALPID)
	}
	log.Infof("pid %d spawned %v as pid %d with quota %d", pid, img, child, quota)
	return uint32(child), nil
}

// Yield implements syscall yield.
func (h *Handler) Yield(pid proc.ID, _ Arguments) (uint32, error) {
	h.Yielder.Yield(pid)
	return 0, nil
}

// producerItems is the number of items Produce and Consume log.
const producerItems = 5

// Produce implements syscall produce, a tracing aid that logs the items a
// producer would hand out.
func (h *Handler) Produce(pid proc.ID, _ Arguments) (uint32, error) {
	for i := 0; i < producerItems; i++ {
		log.Debugf("Process %d: Produced %d", pid, i)
	}
	return 0, nil
}

// Consume implements syscall consume, the counterpart of Produce.
func (h *Handler) Consume(pid proc.ID, _ Arguments) (uint32, error) {
	for i := 0; i < producerItems; i++ {
		log.Debugf("Process %d: Consumed %d", pid, i)
	}
	return 0, nil
}
