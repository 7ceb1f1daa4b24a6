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

package hostarch

import (
	"fmt"
)

// Addr represents a 32-bit virtual or physical address.
type Addr uint32

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow the range of Addr.
//
// Note: This function is usually used to get the end of an address range
// defined by its start address and length. Since the resulting end is
// exclusive, end == 0 is technically valid, and corresponds to a range that
// extends to the end of the address space, but ok will be false. This isn't
// expected to ever come up in practice.
func (v Addr) AddLength(length uint32) (end Addr, ok bool) {
	end = v + Addr(length)
	// The second half of the following check is needed in case uint32 is
	// wider than Addr on some future platform.
	ok = end >= v && uint64(end-v) == uint64(length)
	return
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v & ^Addr(PageMask)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = Addr(v + PageMask).RoundDown()
	ok = addr >= v
	return
}

// PageOffset returns the offset of v into the current page.
func (v Addr) PageOffset() uint32 {
	return uint32(v & PageMask)
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// Frame returns the page (frame) number containing v.
func (v Addr) Frame() uint32 {
	return uint32(v >> PageShift)
}

// DirIndex returns the page directory index that translates v.
func (v Addr) DirIndex() uint32 {
	return uint32(v >> DirShift)
}

// TableIndex returns the page table index that translates v.
func (v Addr) TableIndex() uint32 {
	return uint32(v>>PageShift) & (EntriesPerTable - 1)
}

// FrameAddr returns the address of the first byte of the given frame.
func FrameAddr(frame uint32) Addr {
	return Addr(frame << PageShift)
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint32) (AddrRange, bool) {
	end, ok := v.AddLength(length)
	return AddrRange{v, end}, ok
}

// String implements fmt.Stringer.String.
func (v Addr) String() string {
	return fmt.Sprintf("%#08x", uint32(v))
}

// AddrRange is a range of Addrs, [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// IsSupersetOf returns true if r is a superset of r2; that is, every address
// in r2 is also in r.
func (r AddrRange) IsSupersetOf(r2 AddrRange) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// UserRange is the user portion of every address space.
var UserRange = AddrRange{VMUserLo, VMUserHi}

// InUserRange returns true if [addr, addr+length) is well formed and lies
// entirely within the user region.
func InUserRange(addr Addr, length uint32) bool {
	ar, ok := addr.ToRange(length)
	return ok && UserRange.IsSupersetOf(ar)
}
