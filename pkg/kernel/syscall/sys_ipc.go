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
	"gvisor.dev/mkern/pkg/kernel/proc"
)

// SyncSend implements syscall sync_send(target, addr, length). It blocks
// until target has received the message.
func (h *Handler) SyncSend(pid proc.ID, args Arguments) (uint32, error) {
	target := args[0].ID()
	addr := args[1].Pointer()
	length := args[2].Uint()
	if err := checkUserRange(addr, length); err != nil {
		return 0, err
	}
	return 0, h.IPC.Send(pid, target, addr, length)
}

// SyncRecv implements syscall sync_recv(source, addr, length). It blocks
// until source sends a message to pid and returns the number of bytes
// received.
func (h *Handler) SyncRecv(pid proc.ID, args Arguments) (uint32, error) {
	source := args[0].ID()
	addr := args[1].Pointer()
	length := args[2].Uint()
	if err := checkUserRange(addr, length); err != nil {
		return 0, err
	}
	return h.IPC.Receive(pid, source, addr, length)
}
