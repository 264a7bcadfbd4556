package keyboard

// US104 is the US 104-key layout.
var US104 Layout = us104{}

type us104 struct{}

// us104Runes holds the unshifted and shifted character of each key that
// produces one.
var us104Runes = [numKeyCodes][2]rune{
	KeyEscape:       {0x1b, 0x1b},
	KeyBacktick:     {'`', '~'},
	Key1:            {'1', '!'},
	Key2:            {'2', '@'},
	Key3:            {'3', '#'},
	Key4:            {'4', '$'},
	Key5:            {'5', '%'},
	Key6:            {'6', '^'},
	Key7:            {'7', '&'},
	Key8:            {'8', '*'},
	Key9:            {'9', '('},
	Key0:            {'0', ')'},
	KeyMinus:        {'-', '_'},
	KeyEquals:       {'=', '+'},
	KeyBackspace:    {0x08, 0x08},
	KeyTab:          {'\t', '\t'},
	KeyBracketOpen:  {'[', '{'},
	KeyBracketClose: {']', '}'},
	KeyBackslash:    {'\\', '|'},
	KeySemicolon:    {';', ':'},
	KeyQuote:        {'\'', '"'},
	KeyEnter:        {'\n', '\n'},
	KeyComma:        {',', '<'},
	KeyPeriod:       {'.', '>'},
	KeySlash:        {'/', '?'},
	KeySpace:        {' ', ' '},
	KeyDelete:       {0x7f, 0x7f},
	KeyNumpadSlash:  {'/', '/'},
	KeyNumpadStar:   {'*', '*'},
	KeyNumpadMinus:  {'-', '-'},
	KeyNumpadPlus:   {'+', '+'},
	KeyNumpadEnter:  {'\n', '\n'},
}

// us104Letters holds the lower case letter of each letter key.
var us104Letters = [numKeyCodes]rune{
	KeyA: 'a', KeyB: 'b', KeyC: 'c', KeyD: 'd', KeyE: 'e', KeyF: 'f',
	KeyG: 'g', KeyH: 'h', KeyI: 'i', KeyJ: 'j', KeyK: 'k', KeyL: 'l',
	KeyM: 'm', KeyN: 'n', KeyO: 'o', KeyP: 'p', KeyQ: 'q', KeyR: 'r',
	KeyS: 's', KeyT: 't', KeyU: 'u', KeyV: 'v', KeyW: 'w', KeyX: 'x',
	KeyY: 'y', KeyZ: 'z',
}

// us104Numpad holds the character produced by a numpad key with num lock on
// and the key it acts as with num lock off.
var us104Numpad = [numKeyCodes]struct {
	ch  rune
	alt KeyCode
}{
	KeyNumpad0:      {'0', KeyInsert},
	KeyNumpad1:      {'1', KeyEnd},
	KeyNumpad2:      {'2', KeyArrowDown},
	KeyNumpad3:      {'3', KeyPageDown},
	KeyNumpad4:      {'4', KeyArrowLeft},
	KeyNumpad5:      {'5', KeyNumpad5},
	KeyNumpad6:      {'6', KeyArrowRight},
	KeyNumpad7:      {'7', KeyHome},
	KeyNumpad8:      {'8', KeyArrowUp},
	KeyNumpad9:      {'9', KeyPageUp},
	KeyNumpadPeriod: {'.', KeyDelete},
}

func (us104) MapKeyCode(code KeyCode, m Modifiers) DecodedKey {
	if code >= numKeyCodes {
		return DecodedKey{Kind: KindRawKey, RawKey: code}
	}

	if letter := us104Letters[code]; letter != 0 {
		if m.IsCaps() {
			letter -= 'a' - 'A'
		}
		return DecodedKey{Kind: KindRune, Rune: letter}
	}

	if np := us104Numpad[code]; np.ch != 0 {
		if m.NumLock {
			return DecodedKey{Kind: KindRune, Rune: np.ch}
		}
		return DecodedKey{Kind: KindRawKey, RawKey: np.alt}
	}

	if runes := us104Runes[code]; runes[0] != 0 {
		ch := runes[0]
		if m.IsShifted() {
			ch = runes[1]
		}
		return DecodedKey{Kind: KindRune, Rune: ch}
	}

	return DecodedKey{Kind: KindRawKey, RawKey: code}
}
