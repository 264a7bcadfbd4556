package vmm

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/mm"
)

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address. Both regular 4 KiB pages and
// huge (2 MiB and 1 GiB) pages are supported.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	if !isCanonical(virtAddr) {
		return 0, errNonCanonical
	}

	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.present() {
			return false
		}

		var ok bool
		if physAddr, ok = pte.target(pteLevel, virtAddr); !ok {
			return true
		}

		err = nil
		return false
	})

	return physAddr, err
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (mm.PageSize - 1)
}
