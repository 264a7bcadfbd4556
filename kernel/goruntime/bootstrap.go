// Package goruntime brings up the Go memory allocator on top of the kernel
// heap window so that new, make, maps and interface conversions work after
// Init returns.
//
// The runtime's OS memory hooks are redirected to the functions in this
// file by the redirects tool. Linking against the unexported runtime
// initializers requires building with -ldflags=-checklinkname=0.
package goruntime

import (
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/irq"
	"github.com/HalogenPowered/os/kernel/mm/heap"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	reserveFn       = heap.Reserve
	mapRangeFn      = heap.MapRange
	ticksFn         = irq.Ticks
	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit

	// clockCalls keeps nanotime strictly increasing between timer ticks.
	clockCalls int64
)

//go:linkname mallocInit runtime.mallocinit
func mallocInit()

//go:linkname algInit runtime.alginit
func algInit()

//go:linkname modulesInit runtime.modulesinit
func modulesInit()

//go:linkname typeLinksInit runtime.typelinksinit
func typeLinksInit()

//go:linkname itabsInit runtime.itabsinit
func itabsInit()

// sysReserve claims address space from the heap window without backing it
// with memory. The allocator passes a hint for each arena it wants; a hint
// that cannot be honoured yields nil and the allocator moves on to the
// next one.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserve(hint unsafe.Pointer, size uintptr) unsafe.Pointer {
	addr, err := reserveFn(uintptr(hint), size)
	if err != nil {
		return nil
	}

	return unsafe.Pointer(addr)
}

// sysMap backs a region previously returned by sysReserve with zeroed
// frames. The allocator has no way to recover from a failure here.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr) {
	if err := mapRangeFn(uintptr(virtAddr), size); err != nil {
		panic(err)
	}
}

// sysAlloc reserves and maps a region in one step. It is used for the
// allocator's own metadata.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAlloc(size uintptr) unsafe.Pointer {
	addr, err := reserveFn(0, size)
	if err != nil {
		return nil
	}

	if err = mapRangeFn(addr, size); err != nil {
		return nil
	}

	return unsafe.Pointer(addr)
}

// sysHint handles the runtime hooks that only advise the OS about a
// region. Memory is never returned to the frame allocator.
//
//go:redirect-from runtime.sysUnusedOS
//go:redirect-from runtime.sysUsedOS
//go:redirect-from runtime.sysHugePageOS
//go:redirect-from runtime.sysNoHugePageOS
//go:redirect-from runtime.sysHugePageCollapseOS
//go:redirect-from runtime.sysFreeOS
//go:redirect-from runtime.sysFaultOS
//go:nosplit
func sysHint(_ unsafe.Pointer, _ uintptr) {}

// nanotime derives a monotonic clock from the timer tick count.
//
//go:redirect-from runtime.nanotime1
//go:nosplit
func nanotime() int64 {
	clockCalls++
	return int64(ticksFn())*irq.TickPeriodNanos + clockCalls
}

// Init sets up the Go allocator and the runtime tables that depend on it.
// The heap must be initialized before calling Init.
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // hash functions for map keys
	modulesInitFn()   // activeModules
	typeLinksInitFn() // uses maps and activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Keep the redirect targets in the binary.
	sysReserve(nil, 0)
	sysMap(nil, 0)
	sysAlloc(0)
	sysHint(nil, 0)
	nanotime()
}
