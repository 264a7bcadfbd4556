// Package heap manages the kernel heap window. Init backs the first Size
// bytes of the window with physical memory; the rest of the window is
// handed out by Reserve and backed on demand by MapRange.
package heap

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/mm"
	"github.com/HalogenPowered/os/kernel/mm/vmm"
)

const (
	// Start is the virtual address of the first heap byte.
	Start = uintptr(0x4444_4444_0000)

	// Size is the number of bytes mapped by Init.
	Size = uintptr(100 * mm.Kb)

	// End is the first address past the heap window.
	End = Start + 1<<40

	pageFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagNoExecute
)

var (
	// ErrAddressSpaceExhausted is returned by Reserve when the request
	// does not fit in the unreserved part of the heap window.
	ErrAddressSpaceExhausted = &kernel.Error{Module: "heap", Message: "heap window exhausted"}

	// nextFree is the lowest address that Reserve may hand out.
	nextFree = Start + Size

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapFn        = vmm.Map
	translateFn  = vmm.Translate
	allocFrameFn = mm.AllocFrame
	memsetFn     = kernel.Memset
)

// Init maps every page in [Start, Start+Size) to a freshly allocated frame.
// The first error is returned as-is; pages mapped before the failure stay
// mapped.
func Init() *kernel.Error {
	return MapRange(Start, Size)
}

// Reserve claims size bytes, rounded up to whole pages, from the heap
// window without mapping them. A non-zero hint asks for the region to
// start at that address; it is honoured only if it is page-aligned and the
// region is still free, otherwise ErrAddressSpaceExhausted is returned so
// that the caller can try another hint. A zero hint places the region
// right after the last reservation.
//
// The window is never released; freed regions are not reused.
func Reserve(hint, size uintptr) (uintptr, *kernel.Error) {
	size = (size + mm.PageSize - 1) &^ (mm.PageSize - 1)

	start := nextFree
	if hint != 0 {
		if hint&(mm.PageSize-1) != 0 || hint < nextFree {
			return 0, ErrAddressSpaceExhausted
		}
		start = hint
	}

	if size > End-start {
		return 0, ErrAddressSpaceExhausted
	}

	nextFree = start + size
	return start, nil
}

// MapRange backs every page overlapping [start, start+size) with a zeroed
// frame. Pages that are already mapped are left untouched, so MapRange may
// be called again for a range that is partially in use.
func MapRange(start, size uintptr) *kernel.Error {
	if size == 0 {
		return nil
	}

	var (
		firstPage = mm.PageFromAddress(start)
		lastPage  = mm.PageFromAddress(start + size - 1)
	)

	for page := firstPage; page <= lastPage; page++ {
		if _, err := translateFn(page.Address()); err == nil {
			continue
		}

		frame, err := allocFrameFn()
		if err != nil {
			return err
		}

		if err = mapFn(page, frame, pageFlags); err != nil {
			return err
		}

		memsetFn(page.Address(), 0, mm.PageSize)
	}

	return nil
}
