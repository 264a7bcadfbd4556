// Command should_panic is a test kernel that checks that a kernel panic is
// reported to the host.
package main

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/ktest"
)

var (
	multibootInfoPtr uintptr
	physOffset       uintptr

	errAssertion = &kernel.Error{Module: "should_panic", Message: "assertion failed: 0 == 1"}
)

func main() {
	Kmain(multibootInfoPtr, physOffset, 0, 0)
}

// Kmain is the entry point invoked by the rt0 code.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	ktest.Boot(multibootInfoPtr, physOffset, kernelStart, kernelEnd)

	ktest.ExpectPanic("should_panic::should_fail", shouldFail)
}

func shouldFail() {
	panic(errAssertion)
}
