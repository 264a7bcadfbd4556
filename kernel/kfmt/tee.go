package kfmt

import "io"

// maxTeeSinks is the number of writers a Tee can fan out to. The kernel
// logs to at most a serial port and a framebuffer terminal.
const maxTeeSinks = 4

// Tee is an io.Writer that duplicates each write to all attached sinks. A
// failing sink does not prevent the remaining sinks from receiving data.
// Tee uses a fixed-size sink table so attaching does not allocate.
type Tee struct {
	sinks [maxTeeSinks]io.Writer
	count int
}

// Attach adds w to the set of sinks. It returns false if w is nil or the
// sink table is full.
func (t *Tee) Attach(w io.Writer) bool {
	if w == nil || t.count == maxTeeSinks {
		return false
	}

	t.sinks[t.count] = w
	t.count++
	return true
}

// SinkCount returns the number of attached sinks.
func (t *Tee) SinkCount() int {
	return t.count
}

// Write sends p to every attached sink and reports the first error
// encountered.
func (t *Tee) Write(p []byte) (int, error) {
	var firstErr error
	for i := 0; i < t.count; i++ {
		if _, err := t.sinks[i].Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return len(p), firstErr
}
