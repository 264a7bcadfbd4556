// Package kmain contains the kernel bring-up sequence.
package kmain

import (
	"io"

	"github.com/HalogenPowered/os/device"
	"github.com/HalogenPowered/os/device/serial"
	"github.com/HalogenPowered/os/device/video/fbterm"
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/gate"
	"github.com/HalogenPowered/os/kernel/gdt"
	"github.com/HalogenPowered/os/kernel/goruntime"
	"github.com/HalogenPowered/os/kernel/irq"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/mm/heap"
	"github.com/HalogenPowered/os/kernel/mm/pmm"
	"github.com/HalogenPowered/os/kernel/mm/vmm"
	"github.com/HalogenPowered/os/kernel/sync"
)

// Version is the kernel release reported by the boot banner.
const Version = "0.1.0"

// sink is a driver that kfmt output can be sent to.
type sink interface {
	device.Driver
	io.Writer
}

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	bootInitFn         = boot.Init
	cmdLineOptionFn    = boot.CmdLineOption
	framebufferFn      = boot.Framebuffer
	regionsFn          = boot.Regions
	physMemOffsetFn    = boot.PhysicalMemoryOffset
	gdtInitFn          = gdt.Init
	buildTableFn       = gate.Build
	loadTableFn        = (*gate.Table).Load
	irqInitFn          = irq.Init
	irqEnableFn        = irq.Enable
	enableInterruptsFn = cpu.EnableInterrupts
	pmmInitFn          = pmm.Init
	vmmInitFn          = vmm.Init
	heapInitFn         = heap.Init
	goruntimeInitFn    = goruntime.Init
	cpuVendorFn        = cpu.Vendor
	idleFn             = idle
	serialSinkFn       = func() sink { return serial.NewPort(serial.COM1) }
	framebufferSinkFn  = func(info boot.FramebufferInfo) sink { return fbterm.New(info) }

	// consoles fans kfmt output out to the serial port and the framebuffer
	// terminal.
	consoles kfmt.Tee

	serialLog      = kfmt.PrefixWriter{Prefix: []byte("[serial] ")}
	framebufferLog = kfmt.PrefixWriter{Prefix: []byte("[fbterm] ")}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The rt0 code sets up a minimal g0, maps physical
// memory at physOffset and passes the address of the multiboot2 info block
// together with the physical addresses of the kernel image start and end.
//
// The descriptor tables are loaded before interrupts are unmasked and the
// heap is only mapped once interrupts are live, so that a fault while
// mapping it is reported by the exception handlers. The Go allocator is
// started on top of the heap; the framebuffer terminal allocates its glyph
// cache from it.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	if err := bootInitFn(multibootInfoPtr, physOffset, kernelStart, kernelEnd); err != nil {
		panic(err)
	}

	if !optionDisabled("serial") {
		attachSerial()
	}

	kfmt.Printf("[kmain] Starting Halogen OS version %s.\n", Version)
	vendor := cpuVendorFn()
	kfmt.Printf("[kmain] CPU vendor: %s\n", vendor[:])

	gdtInitFn()

	table := buildTableFn()
	if err := irqInitFn(table); err != nil {
		panic(err)
	}
	loadTableFn(table)

	irqEnableFn()
	enableInterruptsFn()

	pmmInitFn(regionsFn())
	vmmInitFn(physMemOffsetFn())

	heapEnabled := !optionDisabled("heap")
	if heapEnabled {
		if err := heapInitFn(); err != nil {
			panic(err)
		}
		kfmt.Printf("[kmain] heap mapped at 0x%x (%d bytes)\n", heap.Start, heap.Size)

		if err := goruntimeInitFn(); err != nil {
			panic(err)
		}
	}

	if info, ok := framebufferFn(); ok && !optionDisabled("console") {
		if heapEnabled {
			attachFramebuffer(info)
		} else {
			kfmt.Printf("[kmain] framebuffer terminal needs the heap; not attached\n")
		}
	}

	idleFn()

	panic(errKmainReturned)
}

// optionDisabled reports whether the boot command line contains key=off.
func optionDisabled(key string) bool {
	value, ok := cmdLineOptionFn(key)
	return ok && value == "off"
}

func attachSerial() {
	port := serialSinkFn()

	serialLog.Sink = kfmt.Writer()
	if err := port.DriverInit(&serialLog); err != nil {
		kfmt.Printf("[kmain] serial port unavailable: %s\n", err.Message)
		return
	}

	consoles.Attach(port)
	kfmt.SetOutputSink(&consoles)
	logDriver(port)
}

func attachFramebuffer(info boot.FramebufferInfo) {
	term := framebufferSinkFn(info)

	framebufferLog.Sink = kfmt.Writer()
	if err := term.DriverInit(&framebufferLog); err != nil {
		kfmt.Printf("[kmain] framebuffer terminal unavailable: %s\n", err.Message)
		return
	}

	// IRQ handlers may print while the sink table is updated.
	sync.WithoutInterrupts(func() {
		consoles.Attach(term)
	})
	if kfmt.GetOutputSink() == nil {
		kfmt.SetOutputSink(&consoles)
	}
	logDriver(term)
}

func logDriver(drv device.Driver) {
	major, minor, patch := drv.DriverVersion()
	kfmt.Printf("[kmain] %s driver v%d.%d.%d attached\n", drv.DriverName(), major, minor, patch)
}

// idle halts the CPU between interrupts forever.
func idle() {
	for {
		cpu.Halt()
	}
}
