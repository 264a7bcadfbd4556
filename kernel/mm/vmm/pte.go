package vmm

import "github.com/HalogenPowered/os/kernel/mm"

// PageTableEntryFlag is a bit in a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry is a single slot of a page table. Bits 12-51 hold the
// physical address of a frame and the remaining bits hold flags.
type pageTableEntry uintptr

// PageTable is a page table at any paging level.
type PageTable [entriesPerTable]pageTableEntry

func (pte pageTableEntry) has(flags PageTableEntryFlag) bool {
	return PageTableEntryFlag(pte)&flags == flags
}

func (pte pageTableEntry) present() bool { return pte.has(FlagPresent) }

// huge reports whether a present P3 or P2 entry maps a page directly
// instead of pointing to the next table.
func (pte pageTableEntry) huge() bool { return pte.has(FlagPresent | FlagHugePage) }

func (pte pageTableEntry) frame() mm.Frame {
	return mm.Frame((uintptr(pte) & ptePhysPageMask) >> mm.PageShift)
}

// set overwrites the entry so that it points to frame with exactly flags.
func (pte *pageTableEntry) set(frame mm.Frame, flags PageTableEntryFlag) {
	*pte = pageTableEntry(frame.Address()&ptePhysPageMask) | pageTableEntry(flags)
}

func (pte *pageTableEntry) addFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

func (pte *pageTableEntry) clearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// target returns the physical address that virtAddr resolves to when the
// walk stops at this entry on the given level. The second result is false
// if the entry points to another table instead of a page.
func (pte pageTableEntry) target(level uint8, virtAddr uintptr) (uintptr, bool) {
	switch {
	case level == pageLevels-1:
		return pte.frame().Address() + PageOffset(virtAddr), true
	case level == 1 && pte.huge():
		return uintptr(pte)&hugePage1GMask + virtAddr&(1<<30-1), true
	case level == 2 && pte.huge():
		return uintptr(pte)&hugePage2MMask + virtAddr&(1<<21-1), true
	}
	return 0, false
}
