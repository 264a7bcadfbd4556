// Package ktest runs integration tests inside a kernel image booted by QEMU.
// Progress is reported through kfmt and the outcome is signalled to the host
// through the isa-debug-exit device.
package ktest

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/qemu"
)

// Test is a single in-kernel test case. A test fails by panicking.
type Test struct {
	Name string
	Fn   func()
}

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	exitFn         = qemu.Exit
	setPanicHookFn = kfmt.SetPanicHook
)

// Run executes tests in order and exits QEMU with qemu.Success once all of
// them return. A panicking test is reported by Fail.
func Run(tests []Test) {
	setPanicHookFn(Fail)

	kfmt.Printf("Running %d tests\n", len(tests))
	for _, test := range tests {
		kfmt.Printf("%s...\t", test.Name)
		test.Fn()
		kfmt.Printf("[ok]\n")
	}

	exitFn(qemu.Success)
}

// Fail reports the current test as failed and exits QEMU with qemu.Failed.
// It is installed as the kfmt panic hook by Run.
func Fail(err *kernel.Error) {
	kfmt.EmergencyPrintf("[failed]\n")
	if err != nil {
		kfmt.EmergencyPrintf("Error: [%s] %s\n", err.Module, err.Message)
	}

	exitFn(qemu.Failed)
}

// Pass reports the current test as passed and exits QEMU with
// qemu.Success. It is meant for tests whose success path never returns,
// such as a fault handler that the test deliberately triggers.
func Pass() {
	kfmt.EmergencyPrintf("[ok]\n")
	exitFn(qemu.Success)
}

// ExpectPanic runs fn as a test that passes only if fn panics.
func ExpectPanic(name string, fn func()) {
	setPanicHookFn(func(*kernel.Error) { Pass() })

	kfmt.Printf("%s...\t", name)
	fn()

	kfmt.Printf("[test did not panic]\n")
	exitFn(qemu.Failed)
}
