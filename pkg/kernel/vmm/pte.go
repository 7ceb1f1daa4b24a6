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
	"fmt"
	"strings"

	"gvisor.dev/mkern/pkg/hostarch"
)

// Flags are the permission and status bits held in the low 12 bits of a
// directory or table entry. The bit positions are the x86 ones.
type Flags uint32

// Entry flags.
const (
	Present  Flags = 1 << 0
	Writable Flags = 1 << 1
	User     Flags = 1 << 2
	Global   Flags = 1 << 8

	// PermPTU is the permission set written into every directory entry.
	PermPTU = Present | Writable | User

	// flagsMask selects the flag bits of an entry.
	flagsMask = Flags(hostarch.PageMask)

	// addrMask selects the base address bits of an entry.
	addrMask = ^uint32(hostarch.PageMask)
)

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	for _, b := range []struct {
		bit  Flags
		name string
	}{
		{Present, "P"},
		{Writable, "W"},
		{User, "U"},
		{Global, "G"},
	} {
		if f&b.bit != 0 {
			parts = append(parts, b.name)
			f &^= b.bit
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(f)))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "|")
}

// PTE is a raw 32-bit directory or table entry, bit-for-bit what the MMU
// reads: the page-aligned base address in the high 20 bits and Flags in the
// low 12 bits. When Present is clear the other bits carry no meaning.
type PTE uint32

// MakePTE packs a frame number and flags into an entry. Flag bits above the
// low 12 are discarded so they can never spill into the frame field.
func MakePTE(frame uint32, flags Flags) PTE {
	return PTE(frame<<hostarch.PageShift | uint32(flags&flagsMask))
}

// Valid returns true if the entry has Present set.
func (p PTE) Valid() bool {
	return Flags(p)&Present != 0
}

// Address returns the base address held in the entry.
func (p PTE) Address() hostarch.Addr {
	return hostarch.Addr(uint32(p) & addrMask)
}

// Frame returns the frame number held in the entry.
func (p PTE) Frame() uint32 {
	return uint32(p) >> hostarch.PageShift
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() Flags {
	return Flags(p) & flagsMask
}

// Unpack returns the tagged form of the entry.
func (p PTE) Unpack() Entry {
	return Entry{Base: p.Address(), Flags: p.Flags()}
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	if !p.Valid() {
		return "unmapped"
	}
	return fmt.Sprintf("%v[%v]", p.Address(), p.Flags())
}

// Entry is the unpacked form of a PTE.
type Entry struct {
	// Base is the page-aligned address the entry points at.
	Base hostarch.Addr

	// Flags are the entry flags.
	Flags Flags
}

// Pack returns the raw entry. Base must be page aligned; offset bits are
// discarded.
func (e Entry) Pack() PTE {
	return PTE(uint32(e.Base)&addrMask | uint32(e.Flags&flagsMask))
}
