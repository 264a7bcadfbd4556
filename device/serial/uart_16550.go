// Package serial drives 16550-compatible UARTs. The kernel uses the first
// serial port as its headless diagnostic sink.
package serial

import (
	"io"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
	"github.com/HalogenPowered/os/kernel/kfmt"
)

// COM1 is the I/O base of the first serial port.
const COM1 = uint16(0x3f8)

// Register offsets from the port base.
const (
	regData        = 0
	regIntEnable   = 1
	regFIFOControl = 2
	regLineControl = 3
	regModemCtrl   = 4
	regLineStatus  = 5

	// With DLAB set, offsets 0 and 1 hold the baud rate divisor.
	regDivisorLow  = 0
	regDivisorHigh = 1
)

const (
	lineStatusDataReady     = 1 << 0
	lineStatusTransmitEmpty = 1 << 5

	lineControlDLAB = 1 << 7
	lineControl8N1  = 0x03

	// Enable and clear both FIFOs with a 14-byte receive threshold.
	fifoControlEnable = 0xc7

	// DTR, RTS and OUT2 set.
	modemCtrlNormal   = 0x0b
	modemCtrlLoopback = 0x1e
	modemCtrlActive   = 0x0f

	// A divisor of 3 selects 38400 baud.
	baudDivisor = 3

	loopbackTestByte = 0xae
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte
	pauseFn         = cpu.Pause

	errLoopbackFailed = &kernel.Error{Module: "serial", Message: "loopback self-test failed"}
)

// Port is a 16550 UART. It implements device.Driver and io.Writer.
type Port struct {
	base uint16
}

// NewPort returns a driver for the UART at the supplied I/O base.
func NewPort(base uint16) *Port {
	return &Port{base: base}
}

// DriverName returns the name of this driver.
func (p *Port) DriverName() string {
	return "serial_16550"
}

// DriverVersion returns the version of this driver.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit programs the UART for 38400 baud, 8 data bits, no parity and
// one stop bit, and verifies it with a loopback self-test.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	p.write(regIntEnable, 0)
	p.write(regLineControl, lineControlDLAB)
	p.write(regDivisorLow, baudDivisor&0xff)
	p.write(regDivisorHigh, baudDivisor>>8)
	p.write(regLineControl, lineControl8N1)
	p.write(regFIFOControl, fifoControlEnable)
	p.write(regModemCtrl, modemCtrlNormal)

	p.write(regModemCtrl, modemCtrlLoopback)
	p.write(regData, loopbackTestByte)
	if p.read(regData) != loopbackTestByte {
		return errLoopbackFailed
	}
	p.write(regModemCtrl, modemCtrlActive)

	kfmt.Fprintf(w, "initialized UART at 0x%x (38400 8N1)\n", p.base)
	return nil
}

func (p *Port) write(reg uint16, val uint8) {
	portWriteByteFn(p.base+reg, val)
}

func (p *Port) read(reg uint16) uint8 {
	return portReadByteFn(p.base + reg)
}

// WriteByte blocks until the transmit holding register is empty and then
// sends b.
func (p *Port) WriteByte(b byte) error {
	for p.read(regLineStatus)&lineStatusTransmitEmpty == 0 {
		pauseFn()
	}

	p.write(regData, b)
	return nil
}

// Write implements io.Writer.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		p.WriteByte(b)
	}

	return len(data), nil
}

// TryReadByte returns the next received byte, if any.
func (p *Port) TryReadByte() (byte, bool) {
	if p.read(regLineStatus)&lineStatusDataReady == 0 {
		return 0, false
	}

	return p.read(regData), true
}
