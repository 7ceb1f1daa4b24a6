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

package vmm

import (
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/sync"
)

// RecordingMMU is an MMU that remembers the installed root. It stands in for
// the CR3 register.
type RecordingMMU struct {
	mu       sync.Mutex
	root     hostarch.Addr
	switches int
}

// SetRoot implements MMU.SetRoot.
func (r *RecordingMMU) SetRoot(root hostarch.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.switches++
}

// Root returns the last installed root.
func (r *RecordingMMU) Root() hostarch.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// Switches returns the number of SetRoot calls.
func (r *RecordingMMU) Switches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switches
}
