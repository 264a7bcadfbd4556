// Command stack_overflow is a test kernel that exhausts the kernel stack
// and expects the resulting double fault to be handled on its dedicated
// stack.
package main

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gate"
	"github.com/HalogenPowered/os/kernel/gdt"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/ktest"
)

var (
	multibootInfoPtr uintptr
	physOffset       uintptr

	errExecutionContinued = &kernel.Error{Module: "stack_overflow", Message: "execution continued after stack overflow"}
)

func main() {
	Kmain(multibootInfoPtr, physOffset, 0, 0)
}

// Kmain is the entry point invoked by the rt0 code.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	ktest.Boot(multibootInfoPtr, physOffset, kernelStart, kernelEnd)

	kfmt.Printf("stack_overflow::stack_overflow...\t")

	gdt.Init()
	table := gate.Build()
	if err := table.HandleDivergingException(gate.DoubleFault, doubleFaultHandler); err != nil {
		ktest.Fail(err)
	}
	table.Load()

	cpu.ExhaustStack()

	panic(errExecutionContinued)
}

func doubleFaultHandler(_ *gate.Registers) gate.Unreachable {
	ktest.Pass()
	return gate.Halt()
}
