// Package gate builds and installs the interrupt descriptor table (IDT) and
// routes exceptions and hardware interrupts to Go handlers.
//
// Every CPU exception vector is bound to a default handler when the table is
// built. Resumable handlers log the fault and return to the interrupted code.
// The handlers for double faults and machine checks never return; the double
// fault handler runs on the dedicated stack set up by the gdt package so that
// it still works after the kernel stack has been exhausted.
package gate

import (
	"unsafe"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gdt"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/lateinit"
)

// Handler is a function that services an interrupt and returns to the
// interrupted code. Any modifications to the supplied registers are
// propagated back to the interrupted context.
type Handler func(*Registers)

// Unreachable is the result type of a DivergingHandler. Handlers obtain it
// from Halt, which never returns.
type Unreachable struct {
	_ noReturn
}

type noReturn struct{}

// DivergingHandler is a function that services a fatal exception. It never
// returns to the interrupted code; if it does anyway the dispatcher halts
// the CPU.
type DivergingHandler func(*Registers) Unreachable

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	haltFn              = cpu.Halt
	disableInterruptsFn = cpu.DisableInterrupts
	loadIDTFn           = cpu.LoadIDT
	entryPointsFn       = fillEntryPoints
	selectorsFn         = gdt.CurrentSelectors

	errNotHardwareVector = &kernel.Error{Module: "gate", Message: "vector is not available to hardware interrupts"}
	errNotException      = &kernel.Error{Module: "gate", Message: "vector is not a CPU exception"}
	errNotResumable      = &kernel.Error{Module: "gate", Message: "vector requires a diverging handler"}
	errNotDiverging      = &kernel.Error{Module: "gate", Message: "vector requires a resumable handler"}
	errTableLoaded       = &kernel.Error{Module: "gate", Message: "dispatch table already loaded"}

	// The IDT is referenced by the CPU for as long as the kernel runs and
	// must live in static storage.
	staticTable Table
	idt         [numVectors]gateDescriptor
	idtr        gdt.PseudoDescriptor

	active lateinit.Cell[*Table]
)

// gateEntry binds one vector to its handler.
type gateEntry struct {
	handler   Handler
	diverging DivergingHandler

	// ist is the 1-based interrupt stack table slot to switch to before
	// entering the handler; 0 keeps the interrupted stack.
	ist uint8
}

// Table is the dispatch table for CPU exceptions and hardware interrupts,
// indexed by vector number.
type Table struct {
	entries [numVectors]gateEntry
}

// Halt disables interrupts and stops the CPU. It never returns.
func Halt() Unreachable {
	disableInterruptsFn()
	for {
		haltFn()
	}
}

// Build returns a table that binds every CPU exception vector to its default
// handler. The double fault vector switches to the IST stack reserved by the
// gdt package. Hardware vectors are left unbound. Build panics if a table
// has already been loaded.
func Build() *Table {
	if active.IsInitialized() {
		panic(errTableLoaded)
	}

	staticTable = Table{}
	for num := InterruptNumber(0); num < NumExceptions; num++ {
		entry := &staticTable.entries[num]
		if num.IsDiverging() {
			entry.diverging = fatalExceptionHandler
		} else {
			entry.handler = exceptionHandler
		}
	}

	staticTable.entries[PageFaultException].handler = pageFaultHandler
	staticTable.entries[DoubleFault].ist = gdt.DoubleFaultISTIndex + 1

	return &staticTable
}

// HandleInterrupt binds handler to a hardware interrupt vector. Exception
// vectors are rejected.
func (t *Table) HandleInterrupt(num InterruptNumber, handler Handler) *kernel.Error {
	if num < FirstHardwareVector || num > LastHardwareVector {
		return errNotHardwareVector
	}

	return t.bind(num, gateEntry{handler: handler})
}

// HandleException replaces the handler of a resumable exception vector.
func (t *Table) HandleException(num InterruptNumber, handler Handler) *kernel.Error {
	switch {
	case !num.IsException():
		return errNotException
	case num.IsDiverging():
		return errNotResumable
	}

	return t.bind(num, gateEntry{handler: handler, ist: t.entries[num].ist})
}

// HandleDivergingException replaces the handler of an exception vector that
// must never return (double fault, machine check).
func (t *Table) HandleDivergingException(num InterruptNumber, handler DivergingHandler) *kernel.Error {
	if !num.IsDiverging() {
		return errNotDiverging
	}

	return t.bind(num, gateEntry{diverging: handler, ist: t.entries[num].ist})
}

func (t *Table) bind(num InterruptNumber, entry gateEntry) *kernel.Error {
	if active.IsInitialized() && active.Get() == t {
		return errTableLoaded
	}

	t.entries[num] = entry
	return nil
}

// Load encodes the table into the IDT and activates it. Load must be called
// after gdt.Init and before interrupts are enabled. Calling Load a second
// time is a fatal error.
func (t *Table) Load() {
	if active.IsInitialized() {
		// Raises the double-initialization panic.
		active.Init(t)
	}

	var entryPoints [numVectors]uintptr
	entryPointsFn(&entryPoints)

	codeSelector := selectorsFn().Code
	for num := range t.entries {
		idt[num] = encodeGate(entryPoints[num], codeSelector, t.entries[num].ist)
	}

	idtr = gdt.NewPseudoDescriptor(uintptr(unsafe.Pointer(&idt[0])), unsafe.Sizeof(idt))

	// The table must be visible to dispatch before the first interrupt can
	// fire.
	active.Init(t)
	loadIDTFn(uintptr(unsafe.Pointer(&idtr)))

	kfmt.Printf("[gate] loaded IDT with %d vectors\n", numVectors)
}

// dispatch is invoked by the entry stubs with a pointer to the register
// snapshot of the interrupted context.
func dispatch(regs *Registers) {
	num := InterruptNumber(regs.Vector)
	entry := &active.Get().entries[num]

	switch {
	case entry.diverging != nil:
		entry.diverging(regs)
		kfmt.EmergencyPrintf("[gate] handler for %s returned\n", num.String())
		Halt()
	case entry.handler != nil:
		entry.handler(regs)
	default:
		kfmt.EmergencyPrintf("[gate] no handler bound to vector %d\n", regs.Vector)
	}
}

// fillEntryPoints stores the address of the assembly entry stub of each
// vector in table.
func fillEntryPoints(table *[numVectors]uintptr)

// Assembly entry stubs, declared so the toolchain can generate their argument
// stack maps. They are never called from Go.
func interruptCommon()
func isr0()
func isr1()
func isr2()
func isr3()
func isr4()
func isr5()
func isr6()
func isr7()
func isr8()
func isr9()
func isr10()
func isr11()
func isr12()
func isr13()
func isr14()
func isr15()
func isr16()
func isr17()
func isr18()
func isr19()
func isr20()
func isr21()
func isr22()
func isr23()
func isr24()
func isr25()
func isr26()
func isr27()
func isr28()
func isr29()
func isr30()
func isr31()
func isr32()
func isr33()
func isr34()
func isr35()
func isr36()
func isr37()
func isr38()
func isr39()
func isr40()
func isr41()
func isr42()
func isr43()
func isr44()
func isr45()
func isr46()
func isr47()
