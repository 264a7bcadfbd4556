package vmm

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/mm"
)

// Map establishes a mapping between a virtual page and a physical memory
// frame in the active page tables. Missing intermediate tables are
// allocated with mm.AllocFrame and zeroed through the direct mapping.
//
// Map returns ErrAlreadyMapped if page is already mapped and
// errNoHugePageSupport if the path to page goes through a huge page.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if !isCanonical(page.Address()) {
		return errNonCanonical
	}

	var err *kernel.Error

	// Intermediate tables need to be at least as permissive as the
	// leaf entry.
	tableFlags := FlagPresent | FlagRW | (flags & FlagUserAccessible)

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.present() {
				err = ErrAlreadyMapped
				return false
			}

			pte.set(frame, flags|FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.huge() {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it and clear its contents.
		if !pte.present() {
			var newTableFrame mm.Frame
			newTableFrame, err = mm.AllocFrame()
			if err != nil {
				return false
			}

			kernel.Memset(PhysToVirt(newTableFrame.Address()), 0, mm.PageSize)

			pte.set(newTableFrame, tableFlags)
			return true
		}

		pte.addFlags(tableFlags)
		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map. Page
// tables that become empty are not released.
func Unmap(page mm.Page) *kernel.Error {
	var err *kernel.Error

	walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.present() {
			err = ErrInvalidMapping
			return false
		}

		// If we reached the last level all we need to do is to set the
		// page as non-present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			pte.clearFlags(FlagPresent)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.huge() {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}
