package kfmt

import (
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/cpu"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn           = cpu.Halt
	disableInterruptsFn = cpu.DisableInterrupts

	// panicHookFn, if set, runs after the panic banner is printed and
	// before the CPU halts. Test kernels use it to report the outcome to
	// the host.
	panicHookFn func(*kernel.Error)

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicHook registers a function that is invoked by Panic with the error
// that caused it. Passing nil removes the hook.
func SetPanicHook(hook func(*kernel.Error)) {
	panicHookFn = hook
}

// Panic outputs the supplied error (if not nil) to the active sinks and halts
// the CPU with interrupts disabled. Calls to Panic never return. Panic also
// works as a redirection target for calls to panic() (resolved via
// runtime.gopanic).
//
// Panic never waits for the sink lock; if the panic was raised while a sink
// was being written to, the banner is written regardless.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	disableInterruptsFn()

	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	EmergencyPrintf("\n-----------------------------------\n")
	if err != nil {
		EmergencyPrintf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	EmergencyPrintf("*** kernel panic: system halted ***")
	EmergencyPrintf("\n-----------------------------------\n")

	if panicHookFn != nil {
		panicHookFn(err)
	}

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
