package ktest

import (
	"io"

	"github.com/HalogenPowered/os/device"
	"github.com/HalogenPowered/os/device/serial"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/qemu"
)

type serialPort interface {
	device.Driver
	io.Writer
}

var (
	bootInitFn   = boot.Init
	serialPortFn = func() serialPort { return serial.NewPort(serial.COM1) }
)

// Boot prepares a test image: it routes kfmt output to the first serial
// port, which the runner connects to its stdout, installs Fail as the panic
// hook and parses the boot information. Descriptor tables and interrupts
// are left to the individual test image.
func Boot(multibootInfoPtr, physOffset, kernelStart, kernelEnd uintptr) {
	setPanicHookFn(Fail)

	port := serialPortFn()
	if err := port.DriverInit(kfmt.Writer()); err != nil {
		// Nothing can be reported without a serial port.
		exitFn(qemu.Failed)
		return
	}
	kfmt.SetOutputSink(port)

	if err := bootInitFn(multibootInfoPtr, physOffset, kernelStart, kernelEnd); err != nil {
		Fail(err)
	}
}
