// Package vmm provides access to the active page tables through the direct
// physical memory mapping set up before the kernel starts.
//
// Physical address p is accessible at virtual address p + offset, where
// offset is the value passed to Init. This allows page tables, which store
// physical addresses, to be read and updated without temporary mappings.
package vmm

import (
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/lateinit"
)

var (
	physOffset lateinit.Cell[uintptr]

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	activePDTFn     = cpu.ActivePDT
	flushTLBEntryFn = cpu.FlushTLBEntry

	// ErrInvalidMapping is returned when trying to lookup a virtual memory
	// address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrAlreadyMapped is returned by Map if the page is already mapped.
	ErrAlreadyMapped = &kernel.Error{Module: "vmm", Message: "virtual page is already mapped"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errNonCanonical      = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical"}
)

// Init records the virtual address at which physical memory is mapped.
// Init may only be called once.
func Init(offset uintptr) {
	physOffset.Init(offset)
}

// PhysToVirt returns the virtual address through which physical address
// physAddr can be accessed. PhysToVirt never fails; it panics if called
// before Init.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + physOffset.Get()
}

// ActivePageTable returns the top-level (P4) page table that is currently
// loaded in CR3.
func ActivePageTable() *PageTable {
	return tableAt(activePDTFn() & ptePhysPageMask)
}

func tableAt(physAddr uintptr) *PageTable {
	return (*PageTable)(unsafe.Pointer(PhysToVirt(physAddr)))
}

// isCanonical returns true if bits 48-63 of virtAddr are copies of bit 47.
func isCanonical(virtAddr uintptr) bool {
	upper := virtAddr >> 47
	return upper == 0 || upper == (1<<17)-1
}

// walk performs a page table walk for the given virtual address. It calls
// the walkFn callback for each page table entry in the path, starting at
// the P4 table. The walk stops when walkFn returns false or after the
// last-level entry has been visited.
//
// Once walkFn returns true for a non-final level, the entry must point to a
// present page table.
func walk(virtAddr uintptr, walkFn func(pteLevel uint8, pte *pageTableEntry) bool) {
	table := ActivePageTable()

	for level := uint8(0); level < pageLevels; level++ {
		index := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)
		pte := &table[index]

		if !walkFn(level, pte) || level == pageLevels-1 {
			return
		}

		table = tableAt(pte.frame().Address())
	}
}
