package cpu

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuidFn         = ID
	portWriteByteFn = PortWriteByte
)

// ioWaitPort is an unused POST diagnostics port. Writing to it takes roughly
// one microsecond which is enough for slow devices such as the 8259 PIC to
// settle between commands.
const ioWaitPort = 0x80

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt flag (IF) in RFLAGS is set.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt arrives. If
// interrupts are disabled, Halt never returns.
func Halt()

// Pause hints to the CPU that the caller is spinning on a lock.
func Pause()

// Breakpoint raises a breakpoint exception (int3).
func Breakpoint()

// ExhaustStack pushes onto the current stack until it runs into the guard
// page below it. It never returns.
func ExhaustStack()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// LoadGDT loads the descriptor table register pointed to by gdtrAddr into
// GDTR.
func LoadGDT(gdtrAddr uintptr)

// LoadIDT loads the descriptor table register pointed to by idtrAddr into
// IDTR.
func LoadIDT(idtrAddr uintptr)

// LoadTaskRegister loads the task register with the supplied TSS selector.
func LoadTaskRegister(selector uint16)

// ReloadCodeSegment reloads CS with the supplied selector by performing a
// far return to the caller.
func ReloadCodeSegment(selector uint16)

// ReloadDataSegments loads the supplied selector into the DS, ES and SS
// registers. FS and GS are left untouched as the Go runtime uses FS for
// thread-local storage.
func ReloadDataSegments(selector uint16)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (eax, ebx, ecx, edx uint32)

// Vendor returns the 12-byte vendor identification string reported by CPUID
// leaf 0, for example "GenuineIntel" or "AuthenticAMD".
func Vendor() [12]byte {
	var (
		vendor           [12]byte
		_, ebx, ecx, edx = cpuidFn(0)
	)

	for i, reg := range [3]uint32{ebx, edx, ecx} {
		vendor[i*4] = byte(reg)
		vendor[i*4+1] = byte(reg >> 8)
		vendor[i*4+2] = byte(reg >> 16)
		vendor[i*4+3] = byte(reg >> 24)
	}

	return vendor
}

// IOWait introduces a short delay by writing to an unused I/O port.
func IOWait() {
	portWriteByteFn(ioWaitPort, 0)
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16)

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(port uint16) uint32
