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

// Package proc defines process identifiers.
package proc

import (
	"fmt"
)

// ID identifies a process. IDs index every per-process kernel table.
type ID uint32

// Limit is the number of process ids the kernel was booted with. Valid ids
// are [0, Limit); the value Limit itself is the "no process" sentinel that
// failing calls report in place of an id.
type Limit uint32

// DefaultLimit is the number of process ids used when none is configured.
const DefaultLimit Limit = 64

// Valid returns true if id names a process slot.
func (l Limit) Valid(id ID) bool {
	return uint32(id) < uint32(l)
}

// None returns the sentinel id.
func (l Limit) None() ID {
	return ID(l)
}

// Check returns an error if id is out of range.
func (l Limit) Check(id ID) error {
	if !l.Valid(id) {
		return fmt.Errorf("process id %d out of range [0, %d)", id, l)
	}
	return nil
}
