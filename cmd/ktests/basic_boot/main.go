// Command basic_boot is a test kernel that checks that console output,
// breakpoint exceptions and the timer interrupt work after bring-up.
package main

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gate"
	"github.com/HalogenPowered/os/kernel/gdt"
	"github.com/HalogenPowered/os/kernel/irq"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/ktest"
)

var (
	multibootInfoPtr uintptr
	physOffset       uintptr

	errNoTicks = &kernel.Error{Module: "basic_boot", Message: "timer interrupt never fired"}
)

func main() {
	Kmain(multibootInfoPtr, physOffset, 0, 0)
}

// Kmain is the entry point invoked by the rt0 code.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	ktest.Boot(multibootInfoPtr, physOffset, kernelStart, kernelEnd)

	gdt.Init()
	table := gate.Build()
	if err := irq.Init(table); err != nil {
		ktest.Fail(err)
	}
	table.Load()
	irq.Enable()
	cpu.EnableInterrupts()

	ktest.Run([]ktest.Test{
		{Name: "basic_boot::test_println", Fn: testPrintln},
		{Name: "basic_boot::breakpoint_resumes", Fn: testBreakpointResumes},
		{Name: "basic_boot::timer_ticks", Fn: testTimerTicks},
	})
}

func testPrintln() {
	kfmt.Printf("test_println output\n")
}

// The default breakpoint handler logs the trap and returns to the next
// instruction.
func testBreakpointResumes() {
	cpu.Breakpoint()
}

func testTimerTicks() {
	start := irq.Ticks()
	for i := 0; i < 100; i++ {
		cpu.Halt()
		if irq.Ticks() > start {
			return
		}
	}

	panic(errNoTicks)
}
