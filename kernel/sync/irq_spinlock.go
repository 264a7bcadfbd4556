package sync

import "github.com/HalogenPowered/os/kernel/cpu"

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	interruptsEnabledFn = cpu.InterruptsEnabled
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
)

// IRQSpinlock is a Spinlock that can be shared between regular kernel code
// and interrupt handlers. Interrupts stay disabled on the local CPU for as
// long as the lock is held so a handler can never spin on a lock owned by
// the code it interrupted. Release restores the interrupt flag to the state
// it had before Acquire.
type IRQSpinlock struct {
	lock Spinlock

	// restoreIF is only accessed by the lock holder.
	restoreIF bool
}

// Acquire disables interrupts and blocks until the lock is acquired.
func (l *IRQSpinlock) Acquire() {
	enabled := interruptsEnabledFn()
	disableInterruptsFn()
	l.lock.Acquire()
	l.restoreIF = enabled
}

// TryToAcquire attempts to acquire the lock without spinning. If the lock
// cannot be obtained the interrupt flag is left untouched.
func (l *IRQSpinlock) TryToAcquire() bool {
	enabled := interruptsEnabledFn()
	disableInterruptsFn()
	if !l.lock.TryToAcquire() {
		if enabled {
			enableInterruptsFn()
		}
		return false
	}

	l.restoreIF = enabled
	return true
}

// Release relinquishes the lock and re-enables interrupts if they were
// enabled when the lock was acquired.
func (l *IRQSpinlock) Release() {
	restore := l.restoreIF
	l.restoreIF = false
	l.lock.Release()

	if restore {
		enableInterruptsFn()
	}
}

// WithoutInterrupts runs fn with interrupts disabled and restores the prior
// interrupt state on every exit path, including a panic raised by fn.
func WithoutInterrupts(fn func()) {
	if !interruptsEnabledFn() {
		fn()
		return
	}

	disableInterruptsFn()
	defer enableInterruptsFn()
	fn()
}
