// Package gdt builds and loads the global descriptor table and the task
// state segment. The TSS provides the interrupt stack table (IST) used to
// run the double fault handler on a dedicated stack, so that a kernel stack
// overflow can still be reported.
package gdt

import (
	"unsafe"

	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/lateinit"
)

const (
	// DoubleFaultISTIndex is the IST slot (0-based) that holds the stack
	// used by the double fault handler.
	DoubleFaultISTIndex = 0

	// doubleFaultStackSize is the size of the double fault stack.
	doubleFaultStackSize = 5 * 4096

	// tssSize is the size of a 64-bit task state segment.
	tssSize = 104

	numDescriptors = 5
)

// Descriptor access and flag bits.
const (
	descAccessed   = uint64(1) << 40
	descWritable   = uint64(1) << 41
	descExecutable = uint64(1) << 43
	descUserSeg    = uint64(1) << 44
	descPresent    = uint64(1) << 47
	descLongMode   = uint64(1) << 53
	descDefault32  = uint64(1) << 54
	descGranular   = uint64(1) << 55
	descMaxLimit   = uint64(0xffff) | uint64(0xf)<<48

	descCommon = descUserSeg | descPresent | descWritable | descAccessed | descMaxLimit | descGranular

	// kernelCode64 is a ring 0, 64-bit code segment.
	kernelCode64 = descCommon | descExecutable | descLongMode

	// kernelData is a ring 0 data segment.
	kernelData = descCommon | descDefault32

	// tssAvailable64 is the system descriptor type of an available 64-bit
	// TSS.
	tssAvailable64 = uint64(0x9) << 40
)

// Selectors holds the segment selectors of the loaded table.
type Selectors struct {
	Code uint16
	Data uint16
	TSS  uint16
}

// TaskStateSegment is the 64-bit TSS. Its 64-bit fields are not naturally
// aligned so it is stored as an array of 32-bit words.
type TaskStateSegment [tssSize / 4]uint32

func (tss *TaskStateSegment) setQuad(word int, value uintptr) {
	tss[word] = uint32(value)
	tss[word+1] = uint32(uint64(value) >> 32)
}

func (tss *TaskStateSegment) quad(word int) uintptr {
	return uintptr(uint64(tss[word]) | uint64(tss[word+1])<<32)
}

// SetIST sets the stack pointer loaded when an interrupt gate with IST index
// (0-based) fires.
func (tss *TaskStateSegment) SetIST(index int, stackTop uintptr) {
	tss.setQuad(9+2*index, stackTop)
}

// IST returns the stack pointer stored in IST slot index (0-based).
func (tss *TaskStateSegment) IST(index int) uintptr {
	return tss.quad(9 + 2*index)
}

// SetRSP sets the stack pointer loaded when switching to privilege level
// ring.
func (tss *TaskStateSegment) SetRSP(ring int, stackTop uintptr) {
	tss.setQuad(1+2*ring, stackTop)
}

// setIOMapBase sets the offset of the I/O permission bitmap. An offset at or
// past the segment limit means no bitmap is present.
func (tss *TaskStateSegment) setIOMapBase(offset uint16) {
	tss[25] = uint32(offset) << 16
}

// PseudoDescriptor is the operand of the LGDT and LIDT instructions: a
// 16-bit limit followed by a 64-bit base address.
type PseudoDescriptor [5]uint16

// NewPseudoDescriptor returns the register operand describing a table of
// size bytes located at base.
func NewPseudoDescriptor(base uintptr, size uintptr) PseudoDescriptor {
	return PseudoDescriptor{
		uint16(size - 1),
		uint16(base),
		uint16(base >> 16),
		uint16(base >> 32),
		uint16(base >> 48),
	}
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	loadGDTFn            = cpu.LoadGDT
	reloadCodeSegmentFn  = cpu.ReloadCodeSegment
	reloadDataSegmentsFn = cpu.ReloadDataSegments
	loadTaskRegisterFn   = cpu.LoadTaskRegister

	// The descriptor table, the TSS and the double fault stack are
	// referenced by the CPU for as long as the kernel runs and must live
	// in static storage.
	descriptors      [numDescriptors]uint64
	tss              TaskStateSegment
	gdtr             PseudoDescriptor
	doubleFaultStack [doubleFaultStackSize]byte

	loaded lateinit.Cell[Selectors]
)

// tssDescriptor encodes the two GDT slots that describe a TSS at base.
func tssDescriptor(base uintptr, limit uint32) (low, high uint64) {
	b := uint64(base)
	low = uint64(limit&0xffff) |
		(b&0xffffff)<<16 |
		tssAvailable64 |
		descPresent |
		uint64(limit>>16&0xf)<<48 |
		(b>>24&0xff)<<56
	high = b >> 32
	return low, high
}

// doubleFaultStackTop returns the 16-byte aligned address just past the end
// of the double fault stack. Stacks grow downwards.
func doubleFaultStackTop() uintptr {
	end := uintptr(unsafe.Pointer(&doubleFaultStack[0])) + doubleFaultStackSize
	return end &^ 15
}

// build populates the descriptor table and the TSS.
func build() Selectors {
	tss = TaskStateSegment{}
	tss.SetIST(DoubleFaultISTIndex, doubleFaultStackTop())
	tss.setIOMapBase(tssSize)

	descriptors[0] = 0
	descriptors[1] = kernelCode64
	descriptors[2] = kernelData
	descriptors[3], descriptors[4] = tssDescriptor(uintptr(unsafe.Pointer(&tss)), tssSize-1)

	gdtr = NewPseudoDescriptor(uintptr(unsafe.Pointer(&descriptors[0])), unsafe.Sizeof(descriptors))

	return Selectors{Code: 1 << 3, Data: 2 << 3, TSS: 3 << 3}
}

// Init builds the descriptor table and the TSS, loads them and reloads the
// segment registers. It must run before an interrupt descriptor table that
// references the double fault IST slot is loaded. Init may only be called
// once.
func Init() {
	if loaded.IsInitialized() {
		// Raises the double-initialization panic.
		loaded.Init(Selectors{})
	}

	sel := build()

	loadGDTFn(uintptr(unsafe.Pointer(&gdtr)))
	reloadCodeSegmentFn(sel.Code)
	reloadDataSegmentsFn(sel.Data)
	loadTaskRegisterFn(sel.TSS)

	loaded.Init(sel)

	kfmt.Printf("[gdt] loaded %d descriptors (cs=0x%x, tss=0x%x)\n", numDescriptors, sel.Code, sel.TSS)
	kfmt.Printf("[gdt] double fault stack: 0x%16x - 0x%16x\n",
		uintptr(unsafe.Pointer(&doubleFaultStack[0])), doubleFaultStackTop())
}

// CurrentSelectors returns the selectors of the loaded table. It panics if
// called before Init.
func CurrentSelectors() Selectors {
	return loaded.Get()
}

// DoubleFaultStack returns the bounds [bottom, top) of the double fault
// stack.
func DoubleFaultStack() (uintptr, uintptr) {
	return uintptr(unsafe.Pointer(&doubleFaultStack[0])), doubleFaultStackTop()
}
