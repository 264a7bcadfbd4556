package keyboard

const (
	// extendedPrefix precedes the make and break codes of the keys added
	// by the 101/104-key layouts.
	extendedPrefix = 0xe0

	// releaseBit is set in the break code of a key.
	releaseBit = 0x80
)

// set1 maps single-byte scan code set 1 make codes to keys.
var set1 = [0x80]KeyCode{
	0x01: KeyEscape,
	0x02: Key1,
	0x03: Key2,
	0x04: Key3,
	0x05: Key4,
	0x06: Key5,
	0x07: Key6,
	0x08: Key7,
	0x09: Key8,
	0x0a: Key9,
	0x0b: Key0,
	0x0c: KeyMinus,
	0x0d: KeyEquals,
	0x0e: KeyBackspace,
	0x0f: KeyTab,
	0x10: KeyQ,
	0x11: KeyW,
	0x12: KeyE,
	0x13: KeyR,
	0x14: KeyT,
	0x15: KeyY,
	0x16: KeyU,
	0x17: KeyI,
	0x18: KeyO,
	0x19: KeyP,
	0x1a: KeyBracketOpen,
	0x1b: KeyBracketClose,
	0x1c: KeyEnter,
	0x1d: KeyLControl,
	0x1e: KeyA,
	0x1f: KeyS,
	0x20: KeyD,
	0x21: KeyF,
	0x22: KeyG,
	0x23: KeyH,
	0x24: KeyJ,
	0x25: KeyK,
	0x26: KeyL,
	0x27: KeySemicolon,
	0x28: KeyQuote,
	0x29: KeyBacktick,
	0x2a: KeyLShift,
	0x2b: KeyBackslash,
	0x2c: KeyZ,
	0x2d: KeyX,
	0x2e: KeyC,
	0x2f: KeyV,
	0x30: KeyB,
	0x31: KeyN,
	0x32: KeyM,
	0x33: KeyComma,
	0x34: KeyPeriod,
	0x35: KeySlash,
	0x36: KeyRShift,
	0x37: KeyNumpadStar,
	0x38: KeyLAlt,
	0x39: KeySpace,
	0x3a: KeyCapsLock,
	0x3b: KeyF1,
	0x3c: KeyF2,
	0x3d: KeyF3,
	0x3e: KeyF4,
	0x3f: KeyF5,
	0x40: KeyF6,
	0x41: KeyF7,
	0x42: KeyF8,
	0x43: KeyF9,
	0x44: KeyF10,
	0x45: KeyNumLock,
	0x46: KeyScrollLock,
	0x47: KeyNumpad7,
	0x48: KeyNumpad8,
	0x49: KeyNumpad9,
	0x4a: KeyNumpadMinus,
	0x4b: KeyNumpad4,
	0x4c: KeyNumpad5,
	0x4d: KeyNumpad6,
	0x4e: KeyNumpadPlus,
	0x4f: KeyNumpad1,
	0x50: KeyNumpad2,
	0x51: KeyNumpad3,
	0x52: KeyNumpad0,
	0x53: KeyNumpadPeriod,
	0x57: KeyF11,
	0x58: KeyF12,
}

// set1Extended maps the make codes that follow an extendedPrefix byte.
var set1Extended = [0x80]KeyCode{
	0x1c: KeyNumpadEnter,
	0x1d: KeyRControl,
	0x35: KeyNumpadSlash,
	0x37: KeyPrintScreen,
	0x38: KeyRAltGr,
	0x47: KeyHome,
	0x48: KeyArrowUp,
	0x49: KeyPageUp,
	0x4b: KeyArrowLeft,
	0x4d: KeyArrowRight,
	0x4f: KeyEnd,
	0x50: KeyArrowDown,
	0x51: KeyPageDown,
	0x52: KeyInsert,
	0x53: KeyDelete,
	0x5b: KeyLWin,
	0x5c: KeyRWin,
	0x5d: KeyApps,
}

// KeyState describes whether a key was pressed or released.
type KeyState uint8

const (
	// KeyDown is reported when a key is pressed or auto-repeats.
	KeyDown KeyState = iota

	// KeyUp is reported when a key is released.
	KeyUp
)

// KeyEvent is a single press or release of a key.
type KeyEvent struct {
	Code  KeyCode
	State KeyState
}

// AddByte feeds one byte received from the keyboard controller to the
// decoder. It returns a key event once a complete scan code sequence has
// been received. Partial sequences are kept until the next call.
func (d *Decoder) AddByte(b byte) (KeyEvent, bool) {
	if b == extendedPrefix {
		d.extended = true
		return KeyEvent{}, false
	}

	table := &set1
	if d.extended {
		table = &set1Extended
		d.extended = false
	}

	code := table[b&^releaseBit]
	if code == KeyUnknown {
		return KeyEvent{}, false
	}

	ev := KeyEvent{Code: code, State: KeyDown}
	if b&releaseBit != 0 {
		ev.State = KeyUp
	}

	return ev, true
}
