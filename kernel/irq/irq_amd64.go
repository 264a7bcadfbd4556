// Package irq routes the legacy hardware interrupt lines through the chained
// 8259 controllers to the timer and keyboard handlers.
//
// Handlers run with interrupts disabled. State they share with normal code
// (the controllers, the keyboard decoder and the log sink) is guarded by
// IRQ spinlocks, so normal code never holds one of these locks while an
// interrupt can arrive.
package irq

import (
	"sync/atomic"

	"github.com/HalogenPowered/os/device/keyboard"
	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/gate"
	"github.com/HalogenPowered/os/kernel/kfmt"
	"github.com/HalogenPowered/os/kernel/sync"
)

const (
	// PrimaryOffset is the vector of line 0. It is the first vector past
	// the CPU exceptions.
	PrimaryOffset = uint8(gate.FirstHardwareVector)

	// SecondaryOffset is the vector of line 8.
	SecondaryOffset = PrimaryOffset + linesPerPIC

	// TimerVector is raised by the programmable interval timer (line 0).
	TimerVector = gate.InterruptNumber(PrimaryOffset)

	// KeyboardVector is raised by the PS/2 keyboard controller (line 1).
	KeyboardVector = TimerVector + 1

	primarySpuriousVector   = gate.InterruptNumber(PrimaryOffset + linesPerPIC - 1)
	secondarySpuriousVector = gate.InterruptNumber(SecondaryOffset + linesPerPIC - 1)

	// enabledLines unmasks the timer and the keyboard.
	enabledLines = uint16(1<<0 | 1<<1)

	keyboardDataPort = 0x60

	// TickPeriodNanos is the time between two timer interrupts when the
	// PIT runs with its power-on divisor of 65536 (about 18.2 Hz).
	TickPeriodNanos = 54925401
)

// HandlerRegistry binds handlers to hardware interrupt vectors. It is
// implemented by *gate.Table.
type HandlerRegistry interface {
	HandleInterrupt(gate.InterruptNumber, gate.Handler) *kernel.Error
}

var (
	pics    = NewChainedPICs(PrimaryOffset, SecondaryOffset)
	picLock sync.IRQSpinlock

	// decoder keeps partial scan code sequences between interrupts.
	decoder     = keyboard.NewDecoder(keyboard.US104)
	decoderLock sync.IRQSpinlock

	ticks          uint64
	spuriousEvents uint64
)

// Init binds the timer, keyboard and spurious interrupt handlers. The
// controllers stay untouched until Enable is called.
func Init(table HandlerRegistry) *kernel.Error {
	bindings := [...]struct {
		vector  gate.InterruptNumber
		handler gate.Handler
	}{
		{TimerVector, timerHandler},
		{KeyboardVector, keyboardHandler},
		{primarySpuriousVector, spuriousHandler},
		{secondarySpuriousVector, spuriousHandler},
	}

	for _, b := range bindings {
		if err := table.HandleInterrupt(b.vector, b.handler); err != nil {
			return err
		}
	}

	return nil
}

// Enable remaps the controllers above the CPU exception vectors and unmasks
// the timer and keyboard lines. All other lines stay masked. Interrupts must
// still be enabled on the CPU afterwards.
func Enable() {
	picLock.Acquire()
	pics.Initialize(^enabledLines)
	picLock.Release()

	kfmt.Printf("[irq] lines 0-15 mapped to vectors %d-%d; timer and keyboard unmasked\n",
		PrimaryOffset, SecondaryOffset+linesPerPIC-1)
}

// Ticks returns the number of timer interrupts serviced so far.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// SpuriousInterrupts returns the number of spurious interrupts raised by the
// controllers.
func SpuriousInterrupts() uint64 {
	return atomic.LoadUint64(&spuriousEvents)
}

func endOfInterrupt(vector gate.InterruptNumber) {
	picLock.Acquire()
	pics.NotifyEndOfInterrupt(uint8(vector))
	picLock.Release()
}

func timerHandler(_ *gate.Registers) {
	atomic.AddUint64(&ticks, 1)
	endOfInterrupt(TimerVector)
}

// keyboardHandler consumes the pending scan code byte and prints the key it
// completes, if any.
func keyboardHandler(_ *gate.Registers) {
	scanCode := portReadByteFn(keyboardDataPort)

	decoderLock.Acquire()
	key, ok := decodeByte(scanCode)
	decoderLock.Release()

	if ok {
		switch key.Kind {
		case keyboard.KindRune:
			kfmt.Printf("%c", key.Rune)
		default:
			kfmt.Printf("%s", key.RawKey.String())
		}
	}

	endOfInterrupt(KeyboardVector)
}

func decodeByte(b byte) (keyboard.DecodedKey, bool) {
	ev, ok := decoder.AddByte(b)
	if !ok {
		return keyboard.DecodedKey{}, false
	}

	return decoder.ProcessKeyEvent(ev)
}

// spuriousHandler acknowledges the lowest-priority line of a controller only
// if it was really raised. A spurious interrupt from the secondary still
// went through the cascade line of the primary, which expects an
// acknowledgment.
func spuriousHandler(regs *gate.Registers) {
	vector := uint8(regs.Vector)

	picLock.Acquire()
	switch {
	case !pics.IsSpurious(vector):
		pics.NotifyEndOfInterrupt(vector)
	case pics.pics[1].handlesInterrupt(vector):
		pics.pics[0].endOfInterrupt()
		atomic.AddUint64(&spuriousEvents, 1)
	default:
		atomic.AddUint64(&spuriousEvents, 1)
	}
	picLock.Release()
}
