// Package qemu talks to the isa-debug-exit device that the test runner
// attaches to the emulator.
package qemu

import "github.com/HalogenPowered/os/kernel/cpu"

// ExitPort is the I/O port the isa-debug-exit device listens on.
const ExitPort = uint16(0xf4)

// ExitCode is the value written to ExitPort. QEMU terminates with status
// (code << 1) | 1.
type ExitCode uint32

const (
	// Success reports that every test in the image passed.
	Success ExitCode = 0x10

	// Failed reports a test failure.
	Failed ExitCode = 0x11
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteDwordFn = cpu.PortWriteDword
	haltFn           = cpu.Halt
)

// HostStatus returns the process exit status QEMU reports to the host
// after the guest writes code to ExitPort.
func HostStatus(code ExitCode) int {
	return int(code)<<1 | 1
}

// Exit asks QEMU to terminate with code. If no isa-debug-exit device is
// attached the write is ignored and Exit idles forever.
func Exit(code ExitCode) {
	portWriteDwordFn(ExitPort, uint32(code))

	for {
		haltFn()
	}
}
