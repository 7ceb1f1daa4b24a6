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

	"gvisor.dev/mkern/pkg/errors"
	"gvisor.dev/mkern/pkg/hostarch"
	"gvisor.dev/mkern/pkg/kernel/proc"
)

// Argument is a single syscall argument register.
type Argument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uint32
}

// Pointer returns the Addr representation of a pointer argument.
func (a Argument) Pointer() hostarch.Addr {
	return hostarch.Addr(a.Value)
}

// Uint returns the uint32 representation of an unsigned integer argument.
func (a Argument) Uint() uint32 {
	return a.Value
}

// ID returns the process id representation of an argument.
func (a Argument) ID() proc.ID {
	return proc.ID(a.Value)
}

func (a Argument) String() string {
	return fmt.Sprintf("%#x", a.Value)
}

// NumArgs is the number of argument registers after the syscall number.
const NumArgs = 5

// Arguments represents the set of arguments passed to a syscall.
type Arguments [NumArgs]Argument

// Frame is the register state a process traps with. The syscall number and
// arguments are read from it, and the status and return values are written
// back into it.
type Frame struct {
	Nr    Nr
	Args  Arguments
	Errno errors.Status
	Rets  [NumArgs]uint32
}

// NewFrame returns a frame for calling nr with args. Missing arguments are
// zero.
func NewFrame(nr Nr, args ...uint32) *Frame {
	if len(args) > NumArgs {
		panic(fmt.Sprintf("syscall %v: %d arguments, at most %d", nr, len(args), NumArgs))
	}
	f := &Frame{Nr: nr}
	for i, v := range args {
		f.Args[i].Value = v
	}
	return f
}

// SetRet sets return value i.
func (f *Frame) SetRet(i int, v uint32) {
	f.Rets[i] = v
}

// Ret returns return value i.
func (f *Frame) Ret(i int) uint32 {
	return f.Rets[i]
}

// SetErrno sets the status reported to the caller.
func (f *Frame) SetErrno(s errors.Status) {
	f.Errno = s
}
