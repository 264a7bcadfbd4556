// Package fbterm implements a text terminal on top of a linear framebuffer.
//
// Every glyph of the font is rasterized with gg once, when the terminal is
// created. Writing text only copies the cached glyph coverage into the
// framebuffer, so Write never allocates and is safe to call from interrupt
// handlers.
package fbterm

import (
	"image"
	"io"
	"unicode/utf8"
	"unsafe"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/HalogenPowered/os/kernel"
	"github.com/HalogenPowered/os/kernel/boot"
	"github.com/HalogenPowered/os/kernel/kfmt"
)

const (
	// LineHeight is the vertical distance in pixels between two lines.
	LineHeight = 14

	// glyphAscent is the distance from the top of a cell to the baseline.
	glyphAscent = 11

	// intensityThreshold is the minimum glyph intensity at which a U8
	// pixel is lit.
	intensityThreshold = 200
)

var errUnsupportedFormat = &kernel.Error{Module: "fbterm", Message: "unsupported pixel format"}

// Terminal renders text to a framebuffer. Text wraps at the right edge and
// the screen is cleared once the next line no longer fits. It implements
// device.Driver and io.Writer.
type Terminal struct {
	info boot.FramebufferInfo

	// glyphs holds the coverage of each cached glyph as advance x
	// LineHeight bytes, indexed through ranges.
	glyphs   []byte
	ranges   []basicfont.Range
	fallback int
	advance  int

	// Cursor position in pixels of the top-left corner of the next glyph.
	x, y int

	// pending holds the bytes of an incomplete UTF-8 sequence split across
	// two writes.
	pending    [utf8.UTFMax]byte
	pendingLen int
}

// New returns a terminal that draws to the framebuffer described by info and
// clears it. New allocates the glyph cache and must be called after the Go
// allocator is available.
func New(info boot.FramebufferInfo) *Terminal {
	t := &Terminal{info: info}
	t.loadFont(basicfont.Face7x13)
	t.Clear()

	return t
}

// loadFont rasterizes every glyph of face into the glyph cache.
func (t *Terminal) loadFont(face *basicfont.Face) {
	var count int
	for _, rng := range face.Ranges {
		if end := rng.Offset + int(rng.High-rng.Low); end > count {
			count = end
		}
	}

	t.advance = face.Advance
	t.ranges = face.Ranges
	cellSize := t.advance * LineHeight
	t.glyphs = make([]byte, count*cellSize)

	cell := image.NewRGBA(image.Rect(0, 0, t.advance, LineHeight))
	ctx := gg.NewContextForRGBA(cell)
	ctx.SetFontFace(face)

	for _, rng := range face.Ranges {
		for r := rng.Low; r < rng.High; r++ {
			ctx.SetRGB(0, 0, 0)
			ctx.Clear()
			ctx.SetRGB(1, 1, 1)
			ctx.DrawString(string(r), 0, glyphAscent)

			// White text: any channel carries the coverage.
			coverage := t.glyphs[(rng.Offset+int(r-rng.Low))*cellSize:]
			for cy := 0; cy < LineHeight; cy++ {
				row := cell.Pix[cy*cell.Stride:]
				for cx := 0; cx < t.advance; cx++ {
					coverage[cy*t.advance+cx] = row[cx*4]
				}
			}
		}
	}

	t.fallback = t.glyphIndex(utf8.RuneError)
}

// glyphIndex returns the cache slot of r, the fallback slot if the font has
// no glyph for r, or -1 if the font has no fallback glyph either.
func (t *Terminal) glyphIndex(r rune) int {
	for _, rng := range t.ranges {
		if rng.Low <= r && r < rng.High {
			return rng.Offset + int(r-rng.Low)
		}
	}

	if r == utf8.RuneError {
		return -1
	}
	return t.fallback
}

// DriverName returns the name of this driver.
func (t *Terminal) DriverName() string {
	return "fbterm"
}

// DriverVersion returns the version of this driver.
func (t *Terminal) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit validates the framebuffer format and reports the terminal
// geometry.
func (t *Terminal) DriverInit(w io.Writer) *kernel.Error {
	switch t.info.Format {
	case boot.FormatRGB, boot.FormatBGR, boot.FormatU8:
	default:
		return errUnsupportedFormat
	}

	kfmt.Fprintf(w, "framebuffer: %dx%d, stride %d, %d bytes/pixel, format %s\n",
		t.info.Width, t.info.Height, t.info.Stride, t.info.BytesPerPixel, t.info.Format.String())
	kfmt.Fprintf(w, "text area: %dx%d characters\n",
		int(t.info.Width)/t.advance, int(t.info.Height)/LineHeight)
	return nil
}

// Clear blanks the framebuffer and moves the cursor to the top-left corner.
func (t *Terminal) Clear() {
	t.x, t.y = 0, 0
	if len(t.info.Buffer) != 0 {
		kernel.Memset(uintptr(unsafe.Pointer(&t.info.Buffer[0])), 0, uintptr(len(t.info.Buffer)))
	}
}

// CursorPosition returns the pixel coordinates at which the next glyph will
// be drawn.
func (t *Terminal) CursorPosition() (int, int) {
	return t.x, t.y
}

// Write implements io.Writer. Input is decoded as UTF-8 and sequences split
// across writes are joined; invalid bytes render as the font's fallback
// glyph.
func (t *Terminal) Write(data []byte) (int, error) {
	for _, b := range data {
		t.pending[t.pendingLen] = b
		t.pendingLen++
		t.flushPending()
	}

	return len(data), nil
}

// flushPending draws every complete rune at the start of the pending buffer.
func (t *Terminal) flushPending() {
	for t.pendingLen > 0 && utf8.FullRune(t.pending[:t.pendingLen]) {
		r, size := utf8.DecodeRune(t.pending[:t.pendingLen])
		t.WriteRune(r)
		copy(t.pending[:], t.pending[size:t.pendingLen])
		t.pendingLen -= size
	}
}

// WriteRune draws r at the cursor and advances it. Line feeds move to the
// start of the next line and carriage returns to the start of the current
// one. Every other rune, including control characters, is drawn with the
// font; runes the font lacks are drawn with its U+FFFD glyph.
func (t *Terminal) WriteRune(r rune) {
	switch r {
	case '\n':
		t.newline()
	case '\r':
		t.x = 0
	default:
		if t.x+t.advance > int(t.info.Width) {
			t.newline()
		}
		if t.y+LineHeight > int(t.info.Height) {
			t.Clear()
		}

		t.drawGlyph(r)
		t.x += t.advance
	}
}

func (t *Terminal) newline() {
	t.x = 0
	t.y += LineHeight
}

// drawGlyph copies the cached glyph for r to the cursor position.
func (t *Terminal) drawGlyph(r rune) {
	index := t.glyphIndex(r)
	if index < 0 {
		return
	}

	cellSize := t.advance * LineHeight
	coverage := t.glyphs[index*cellSize : (index+1)*cellSize]
	for cy := 0; cy < LineHeight && t.y+cy < int(t.info.Height); cy++ {
		row := coverage[cy*t.advance:]
		for cx := 0; cx < t.advance && t.x+cx < int(t.info.Width); cx++ {
			t.writePixel(t.x+cx, t.y+cy, row[cx])
		}
	}
}

// writePixel sets the pixel at (x, y) to a color derived from intensity.
func (t *Terminal) writePixel(x, y int, intensity uint8) {
	var color [4]byte
	switch t.info.Format {
	case boot.FormatRGB:
		color = [4]byte{intensity, intensity, intensity / 2, 0}
	case boot.FormatBGR:
		color = [4]byte{intensity / 2, intensity, intensity, 0}
	case boot.FormatU8:
		if intensity > intensityThreshold {
			color[0] = 0xf
		}
	default:
		return
	}

	bpp := int(t.info.BytesPerPixel)
	offset := (y*int(t.info.Stride) + x) * bpp
	if bpp > len(color) {
		bpp = len(color)
	}
	copy(t.info.Buffer[offset:offset+bpp], color[:bpp])
}
