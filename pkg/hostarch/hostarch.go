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

// Package hostarch describes the 32-bit address space the kernel manages:
// page geometry and the bounds of the user region.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the page size in bytes.
	PageSize = 1 << PageShift

	// PageMask selects the offset bits of an address.
	PageMask = PageSize - 1

	// EntriesPerTable is the number of 32-bit entries in a directory or
	// page table. A table fills exactly one page.
	EntriesPerTable = PageSize / 4

	// TableShift is the binary log of EntriesPerTable.
	TableShift = 10

	// DirShift is the shift that extracts the directory index from a
	// virtual address.
	DirShift = PageShift + TableShift
)

// Bounds of the user portion of every address space. Everything outside
// [VMUserLo, VMUserHi) belongs to the kernel and is identity mapped.
const (
	VMUserLo Addr = 0x40000000
	VMUserHi Addr = 0xF0000000
)
