package sync

// SetInterruptControl replaces the functions used by IRQSpinlock and
// WithoutInterrupts to query and toggle the interrupt flag, returning a
// function that restores the previous ones. Toggling the flag faults outside
// ring 0, so host-side tests of packages that log through the kernel sinks
// install no-op implementations.
func SetInterruptControl(enabled func() bool, disable, enable func()) (restore func()) {
	origEnabled, origDisable, origEnable := interruptsEnabledFn, disableInterruptsFn, enableInterruptsFn
	interruptsEnabledFn, disableInterruptsFn, enableInterruptsFn = enabled, disable, enable

	return func() {
		interruptsEnabledFn, disableInterruptsFn, enableInterruptsFn = origEnabled, origDisable, origEnable
	}
}
