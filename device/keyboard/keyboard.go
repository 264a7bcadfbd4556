// Package keyboard decodes the byte stream of a PS/2 keyboard in scan code
// set 1 into key events and characters.
package keyboard

// DecodedKind selects which field of a DecodedKey is valid.
type DecodedKind uint8

const (
	// KindRune marks a key that produces a character.
	KindRune DecodedKind = iota

	// KindRawKey marks a key without a character, such as an arrow key.
	KindRawKey
)

// DecodedKey is the result of applying the active layout and modifiers to a
// key press.
type DecodedKey struct {
	Kind   DecodedKind
	Rune   rune
	RawKey KeyCode
}

// Modifiers tracks the state of the modifier and lock keys.
type Modifiers struct {
	LShift   bool
	RShift   bool
	LControl bool
	RControl bool
	AltGr    bool
	CapsLock bool
	NumLock  bool
}

// IsShifted returns true if either shift key is held.
func (m Modifiers) IsShifted() bool {
	return m.LShift || m.RShift
}

// IsCaps returns true if letters should be upper case.
func (m Modifiers) IsCaps() bool {
	return m.IsShifted() != m.CapsLock
}

// Layout maps physical keys to characters.
type Layout interface {
	MapKeyCode(KeyCode, Modifiers) DecodedKey
}

// Decoder turns scan code bytes into decoded keys. A single decoder must be
// used for the whole byte stream as multi-byte sequences and modifier state
// carry over between calls.
type Decoder struct {
	layout    Layout
	modifiers Modifiers
	extended  bool
}

// NewDecoder returns a decoder that uses the supplied layout. Num lock is
// initially on.
func NewDecoder(layout Layout) Decoder {
	return Decoder{
		layout:    layout,
		modifiers: Modifiers{NumLock: true},
	}
}

// Modifiers returns the current modifier state.
func (d *Decoder) Modifiers() Modifiers {
	return d.modifiers
}

// ProcessKeyEvent updates the modifier state and returns the key produced by
// a key press. Releases and modifier keys do not produce a key. The control
// keys are tracked but do not alter the produced characters.
func (d *Decoder) ProcessKeyEvent(ev KeyEvent) (DecodedKey, bool) {
	down := ev.State == KeyDown

	switch ev.Code {
	case KeyLShift:
		d.modifiers.LShift = down
	case KeyRShift:
		d.modifiers.RShift = down
	case KeyLControl:
		d.modifiers.LControl = down
	case KeyRControl:
		d.modifiers.RControl = down
	case KeyRAltGr:
		d.modifiers.AltGr = down
	case KeyCapsLock:
		if down {
			d.modifiers.CapsLock = !d.modifiers.CapsLock
		}
	case KeyNumLock:
		if down {
			d.modifiers.NumLock = !d.modifiers.NumLock
		}
	default:
		if down {
			return d.layout.MapKeyCode(ev.Code, d.modifiers), true
		}
	}

	return DecodedKey{}, false
}
