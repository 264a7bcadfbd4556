package gate

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// Debug is raised by hardware breakpoints and single-stepping.
	Debug = InterruptNumber(1)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint is raised by the INT3 instruction. Execution resumes at
	// the instruction following it.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// CoprocessorSegmentOverrun is not raised by modern CPUs.
	CoprocessorSegmentOverrun = InterruptNumber(9)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligned memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// VirtualizationException occurs on EPT violations in a guest.
	VirtualizationException = InterruptNumber(20)

	// ControlProtectionException is raised by control-flow enforcement
	// (shadow stacks, indirect branch tracking).
	ControlProtectionException = InterruptNumber(21)

	// HypervisorInjection is injected by a hypervisor into a guest.
	HypervisorInjection = InterruptNumber(28)

	// VMMCommunication is raised by AMD SEV-ES guests.
	VMMCommunication = InterruptNumber(29)

	// SecurityException is raised by AMD SVM on security-sensitive events.
	SecurityException = InterruptNumber(30)
)

const (
	// NumExceptions is the number of CPU exception vectors.
	NumExceptions = 32

	// FirstHardwareVector is the first vector available to hardware
	// interrupt lines.
	FirstHardwareVector = InterruptNumber(NumExceptions)

	// LastHardwareVector is the last vector that can be bound through
	// HandleInterrupt. It covers the 16 lines of a pair of chained 8259
	// PICs.
	LastHardwareVector = InterruptNumber(47)

	numVectors = int(LastHardwareVector) + 1
)

// vectorInfo describes the fixed properties of an exception vector.
type vectorInfo struct {
	name string

	// hasErrorCode is set for vectors where the CPU pushes an error code.
	hasErrorCode bool

	// diverging is set for vectors whose handler must never return.
	diverging bool
}

var vectors = [NumExceptions]vectorInfo{
	DivideByZero:               {name: "divide error"},
	Debug:                      {name: "debug"},
	NMI:                        {name: "non-maskable interrupt"},
	Breakpoint:                 {name: "breakpoint"},
	Overflow:                   {name: "overflow"},
	BoundRangeExceeded:         {name: "bound range exceeded"},
	InvalidOpcode:              {name: "invalid opcode"},
	DeviceNotAvailable:         {name: "device not available"},
	DoubleFault:                {name: "double fault", hasErrorCode: true, diverging: true},
	CoprocessorSegmentOverrun:  {name: "coprocessor segment overrun"},
	InvalidTSS:                 {name: "invalid TSS", hasErrorCode: true},
	SegmentNotPresent:          {name: "segment not present", hasErrorCode: true},
	StackSegmentFault:          {name: "stack segment fault", hasErrorCode: true},
	GPFException:               {name: "general protection fault", hasErrorCode: true},
	PageFaultException:         {name: "page fault", hasErrorCode: true},
	15:                         {name: "reserved"},
	FloatingPointException:     {name: "x87 floating point"},
	AlignmentCheck:             {name: "alignment check", hasErrorCode: true},
	MachineCheck:               {name: "machine check", diverging: true},
	SIMDFloatingPointException: {name: "SIMD floating point"},
	VirtualizationException:    {name: "virtualization"},
	ControlProtectionException: {name: "control protection", hasErrorCode: true},
	22:                         {name: "reserved"},
	23:                         {name: "reserved"},
	24:                         {name: "reserved"},
	25:                         {name: "reserved"},
	26:                         {name: "reserved"},
	27:                         {name: "reserved"},
	HypervisorInjection:        {name: "hypervisor injection"},
	VMMCommunication:           {name: "VMM communication", hasErrorCode: true},
	SecurityException:          {name: "security exception", hasErrorCode: true},
	31:                         {name: "reserved"},
}

// IsException returns true if n is one of the CPU exception vectors.
func (n InterruptNumber) IsException() bool {
	return n < NumExceptions
}

// HasErrorCode returns true if the CPU pushes an error code when n fires.
func (n InterruptNumber) HasErrorCode() bool {
	return n.IsException() && vectors[n].hasErrorCode
}

// IsDiverging returns true if the handler bound to n must never return.
func (n InterruptNumber) IsDiverging() bool {
	return n.IsException() && vectors[n].diverging
}

// String returns the name of an exception vector or "hardware interrupt"
// for all other vectors.
func (n InterruptNumber) String() string {
	if !n.IsException() {
		return "hardware interrupt"
	}
	return vectors[n].name
}
