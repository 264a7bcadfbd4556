// Package kfmt implements the kernel's allocation-free formatted output. It
// is safe to use before the Go allocator is available and from interrupt
// handlers.
package kfmt

import (
	"io"
	"unsafe"

	"github.com/HalogenPowered/os/kernel/sync"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numFmtBuf = []byte("012345678901234567890123456789012")

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// runeBuf holds the UTF-8 encoding of a %c argument.
	runeBuf = []byte("    ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before
	// the serial port or the framebuffer terminal are initialized.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	// sinkLock serializes access to outputSink and to the shared formatting
	// buffers above. Interrupts are disabled while it is held so an IRQ
	// handler that prints can never spin on a lock owned by the code it
	// interrupted.
	sinkLock sync.IRQSpinlock
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	sinkLock.Acquire()
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
	sinkLock.Release()
}

// GetOutputSink returns the currently active output sink. A nil value
// indicates that output is captured by the early ring buffer.
func GetOutputSink() io.Writer {
	return outputSink
}

// lockedSinkWriter forwards writes to the active output sink while holding
// the sink lock.
type lockedSinkWriter struct{}

func (lockedSinkWriter) Write(p []byte) (int, error) {
	sinkLock.Acquire()
	doWrite(outputSink, p)
	sinkLock.Release()
	return len(p), nil
}

// Writer returns an io.Writer that forwards to the active output sink (or
// the early ring buffer) while holding the sink lock. It is typically used
// as the Sink of a PrefixWriter.
func Writer() io.Writer {
	return lockedSinkWriter{}
}

// emergencySinkWriter forwards writes to the active output sink, taking the
// sink lock only if it is free.
type emergencySinkWriter struct{}

func (emergencySinkWriter) Write(p []byte) (int, error) {
	locked := sinkLock.TryToAcquire()
	doWrite(outputSink, p)
	if locked {
		sinkLock.Release()
	}
	return len(p), nil
}

// EmergencyWriter returns an io.Writer with the locking semantics of
// EmergencyPrintf.
func EmergencyWriter() io.Writer {
	return emergencySinkWriter{}
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. This implementation
// does not allocate any memory.
//
// Similar to fmt.Printf, this version of printf supports the following subset
// of formatting verbs:
//
// Strings:
//
//	%s the uninterpreted bytes of the string or byte slice
//	%c the character represented by a rune or byte
//
// Integers:
//
//	%o base 8
//	%d base 10
//	%x base 16, with lower-case letters for a-f
//
// Booleans:
//
//	%t "true" or "false"
//
// Width is specified by an optional decimal number immediately preceding the verb.
// If absent, the width is whatever is necessary to represent the value.
//
// String values with length less than the specified width will be left-padded with
// spaces. Integer values formatted as base-10 will also be left-padded with spaces.
// Finally, integer values formatted as base-16 will be left-padded with zeroes.
//
// Pointers (%p) are not supported as printing them requires the reflect
// package, which makes the compiler emit allocating conversions for the
// argument slice.
//
// The output of Printf is written to the active output sink while holding
// the sink lock. Code that may run while the lock is already held by the
// interrupted context (exception handlers, panics) must use EmergencyPrintf.
func Printf(format string, args ...interface{}) {
	sinkLock.Acquire()
	Fprintf(outputSink, format, args...)
	sinkLock.Release()
}

// EmergencyPrintf behaves like Printf but never blocks on the sink lock. If
// the lock is held, for instance because a fault was raised while a sink was
// being written to, the output is written without it.
func EmergencyPrintf(format string, args ...interface{}) {
	locked := sinkLock.TryToAcquire()
	Fprintf(outputSink, format, args...)
	if locked {
		sinkLock.Release()
	}
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. Fprintf does not synchronize access to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		if blockStart < blockEnd {
			writeStringBytes(w, format[blockStart:blockEnd])
		}

		// Scan til we hit the format character
		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				singleByte[0] = '%'
				doWrite(w, singleByte)
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't' || nextCh == 'c':
				if nextArgIndex >= len(args) {
					doWrite(w, errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				case 'c':
					fmtRune(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			}

			// reached end of formatting string without finding a verb
			doWrite(w, errNoVerb)
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	if blockStart < fmtLen {
		writeStringBytes(w, format[blockStart:])
	}

	// Check for unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

// writeStringBytes writes s one byte at a time; converting s to a byte slice
// would trigger a memory allocation.
func writeStringBytes(w io.Writer, s string) {
	for i := 0; i < len(s); i++ {
		singleByte[0] = s[i]
		doWrite(w, singleByte)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		writeStringBytes(w, castedVal)
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRune prints the UTF-8 encoding of a rune or byte value v. Invalid code
// points are printed as U+FFFD.
func fmtRune(w io.Writer, v interface{}) {
	var r rune
	switch castedVal := v.(type) {
	case rune:
		r = castedVal
	case byte:
		r = rune(castedVal)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if r < 0 || r > 0x10ffff || (r >= 0xd800 && r <= 0xdfff) {
		r = 0xfffd
	}

	var n int
	switch {
	case r < 0x80:
		runeBuf[0] = byte(r)
		n = 1
	case r < 0x800:
		runeBuf[0] = 0xc0 | byte(r>>6)
		runeBuf[1] = 0x80 | byte(r)&0x3f
		n = 2
	case r < 0x10000:
		runeBuf[0] = 0xe0 | byte(r>>12)
		runeBuf[1] = 0x80 | byte(r>>6)&0x3f
		runeBuf[2] = 0x80 | byte(r)&0x3f
		n = 3
	default:
		runeBuf[0] = 0xf0 | byte(r>>18)
		runeBuf[1] = 0x80 | byte(r>>12)&0x3f
		runeBuf[2] = 0x80 | byte(r>>6)&0x3f
		runeBuf[3] = 0x80 | byte(r)&0x3f
		n = 4
	}

	doWrite(w, runeBuf[:n])
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	singleByte[0] = ch
	for i := 0; i < count; i++ {
		doWrite(w, singleByte)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. This function supports all built-in signed
// and unsigned integer types and base 8, 10 and 16 output.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		remainder        uint64
		padCh            byte
		left, right, end int
	)

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	divider = uint64(base)
	padCh = '0'
	if base == 10 {
		padCh = ' '
	}

	switch castedVal := v.(type) {
	case uint8:
		uval = uint64(castedVal)
	case uint16:
		uval = uint64(castedVal)
	case uint32:
		uval = uint64(castedVal)
	case uint64:
		uval = castedVal
	case uint:
		uval = uint64(castedVal)
	case uintptr:
		uval = uint64(castedVal)
	case int8:
		sval = int64(castedVal)
	case int16:
		sval = int64(castedVal)
	case int32:
		sval = int64(castedVal)
	case int64:
		sval = castedVal
	case int:
		sval = int64(castedVal)
	default:
		doWrite(w, errWrongArgType)
		return
	}

	// Handle signs
	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for right < maxBufSize {
		remainder = uval % divider
		if remainder < 10 {
			numFmtBuf[right] = byte(remainder) + '0'
		} else {
			// map values from 10 to 15 -> a-f
			numFmtBuf[right] = byte(remainder-10) + 'a'
		}

		right++

		uval /= divider
		if uval == 0 {
			break
		}
	}

	// Apply padding if required
	for ; right-left < padLen; right++ {
		numFmtBuf[right] = padCh
	}

	// Apply negative sign to the rightmost blank character (if using enough padding);
	// otherwise append the sign as a new char
	if sval < 0 {
		for end = right - 1; numFmtBuf[end] == ' '; end-- {
		}

		if end == right-1 {
			right++
		}

		numFmtBuf[end+1] = '-'
	}

	// Reverse in place
	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		numFmtBuf[left], numFmtBuf[right] = numFmtBuf[right], numFmtBuf[left]
	}

	doWrite(w, numFmtBuf[0:end])
}

// doWrite hides p from the compiler's escape analysis. Without it the
// compiler flags p as escaping (the sink is an unknown io.Writer) and every
// Printf call would allocate, crashing the kernel if the Go allocator is not
// yet initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
