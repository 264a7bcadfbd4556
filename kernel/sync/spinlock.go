// Package sync provides synchronization primitive implementations for
// spinlocks, including a variant that keeps interrupts disabled while held.
package sync

import (
	"sync/atomic"

	"github.com/HalogenPowered/os/kernel/cpu"
)

// attemptsBeforeYielding is the number of failed acquisition attempts
// after which a spinning task invokes yieldFn.
const attemptsBeforeYielding = 1024

var (
	// yieldFn is nil while the kernel runs a single task; tests replace it
	// with runtime.Gosched.
	yieldFn func()

	// pauseFn is mocked by tests and is automatically inlined by the
	// compiler.
	pauseFn = cpu.Pause
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; !atomic.CompareAndSwapUint32(&l.state, 0, 1); spins++ {
		if spins == attemptsBeforeYielding {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}

		pauseFn()
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
