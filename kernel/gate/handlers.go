package gate

import (
	"io"

	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/kfmt"
)

// MaxPageFaultRetries is the number of consecutive page faults raised by the
// same instruction for the same address after which the page fault handler
// stops resuming and halts the CPU. The default handler does not fix the
// faulting mapping, so without this limit such a fault repeats forever.
const MaxPageFaultRetries = 8

// Page fault error code bits.
const (
	pfProtection       = 1 << 0
	pfWrite            = 1 << 1
	pfUser             = 1 << 2
	pfReservedBit      = 1 << 3
	pfInstructionFetch = 1 << 4
	pfProtectionKey    = 1 << 5
	pfShadowStack      = 1 << 6
	pfSGX              = 1 << 15
)

var (
	// readCR2Fn is mocked by tests and is automatically inlined by the
	// compiler.
	readCR2Fn = cpu.ReadCR2

	// logWriter tags multi-line diagnostics without blocking on the sink
	// lock.
	logWriter = kfmt.PrefixWriter{Sink: kfmt.EmergencyWriter(), Prefix: []byte("[gate] ")}

	pageFaultFlags = [...]struct {
		bit  uint64
		desc string
	}{
		{pfReservedBit, "reserved bit set"},
		{pfInstructionFetch, "instruction fetch"},
		{pfProtectionKey, "protection key"},
		{pfShadowStack, "shadow stack"},
		{pfSGX, "SGX"},
	}

	// State of the refault guard. Page faults are serviced with interrupts
	// disabled on a single CPU so no locking is required.
	lastFaultRIP  uint64
	lastFaultAddr uint64
	faultRepeats  int
)

// logException prints the name of the exception, its error code (when the
// CPU pushes one) and the interrupted frame.
func logException(regs *Registers) {
	num := InterruptNumber(regs.Vector)
	kfmt.EmergencyPrintf("[gate] %s (vector %d)\n", num.String(), regs.Vector)
	if num.HasErrorCode() {
		kfmt.EmergencyPrintf("[gate] error code: 0x%x\n", regs.ErrorCode)
	}
	regs.dumpFrameTo(&logWriter)
}

// exceptionHandler is the default handler for resumable exceptions.
func exceptionHandler(regs *Registers) {
	logException(regs)
}

// fatalExceptionHandler is the default handler for double faults and machine
// checks.
func fatalExceptionHandler(regs *Registers) Unreachable {
	logException(regs)
	kfmt.EmergencyPrintf("[gate] unrecoverable exception; system halted\n")
	return Halt()
}

// pageFaultHandler logs the faulting address and the decoded error code and
// resumes, unless the same instruction keeps faulting on the same address.
func pageFaultHandler(regs *Registers) {
	faultAddr := readCR2Fn()

	kfmt.EmergencyPrintf("[gate] page fault while accessing address: 0x%16x\n", faultAddr)
	kfmt.EmergencyPrintf("[gate] reason: ")
	describePageFault(kfmt.EmergencyWriter(), regs.ErrorCode)
	kfmt.EmergencyPrintf("\n")
	logException(regs)

	if regs.RIP == lastFaultRIP && faultAddr == lastFaultAddr {
		faultRepeats++
	} else {
		lastFaultRIP, lastFaultAddr, faultRepeats = regs.RIP, faultAddr, 1
	}

	if faultRepeats >= MaxPageFaultRetries {
		kfmt.EmergencyPrintf("[gate] page fault repeated %d times at RIP 0x%16x; system halted\n", faultRepeats, regs.RIP)
		Halt()
	}
}

// describePageFault writes a comma-separated description of a page fault
// error code to w.
func describePageFault(w io.Writer, code uint64) {
	if code&pfProtection != 0 {
		kfmt.Fprintf(w, "protection violation")
	} else {
		kfmt.Fprintf(w, "page not present")
	}

	if code&pfWrite != 0 {
		kfmt.Fprintf(w, ", write")
	} else {
		kfmt.Fprintf(w, ", read")
	}

	if code&pfUser != 0 {
		kfmt.Fprintf(w, ", user mode")
	} else {
		kfmt.Fprintf(w, ", kernel mode")
	}

	for _, flag := range pageFaultFlags {
		if code&flag.bit != 0 {
			kfmt.Fprintf(w, ", %s", flag.desc)
		}
	}
}
