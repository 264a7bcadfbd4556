package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		prefix string
		writes []string
		exp    string
	}{
		{"[gdt] ", nil, ""},
		{"[gdt] ", []string{""}, ""},
		{
			"[gdt] ",
			[]string{"loaded 7 descriptors\n"},
			"[gdt] loaded 7 descriptors\n",
		},
		{
			"[gdt] ",
			[]string{"cs=0x8", " ds=0x10", " tss=0x28\n"},
			"[gdt] cs=0x8 ds=0x10 tss=0x28\n",
		},
		{
			"[gate] ",
			[]string{"Breakpoint (vector 3)\nrip=0x100042\n"},
			"[gate] Breakpoint (vector 3)\n[gate] rip=0x100042\n",
		},
		{
			"[gate] ",
			[]string{"Page fault\n", "\n", "cr2=0xdeadbeef"},
			"[gate] Page fault\n[gate] \n[gate] cr2=0xdeadbeef",
		},
		{
			"[gate] ",
			[]string{"Double fault", "\n", "halting\n"},
			"[gate] Double fault\n[gate] halting\n",
		},
	}

	for specIndex, spec := range specs {
		var (
			buf bytes.Buffer
			w   = PrefixWriter{Sink: &buf, Prefix: []byte(spec.prefix)}
		)

		for _, input := range spec.writes {
			wrote, err := w.Write([]byte(input))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}
			if wrote != len(input) {
				t.Errorf("[spec %d] expected Write to report %d bytes excluding the prefix; got %d", specIndex, len(input), wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

func TestPrefixWriterWithFprintf(t *testing.T) {
	var (
		buf bytes.Buffer
		w   = PrefixWriter{Sink: &buf, Prefix: []byte("[gdt] ")}
	)

	Fprintf(&w, "loading %d descriptors", 5)
	Fprintf(&w, "... done\nselectors: cs=0x%x\n", uint16(8))

	exp := "[gdt] loading 5 descriptors... done\n[gdt] selectors: cs=0x8\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}

// limitedSink accepts limit bytes and then fails every write.
type limitedSink struct {
	buf   bytes.Buffer
	limit int
	err   error
}

func (s *limitedSink) Write(p []byte) (int, error) {
	if s.buf.Len()+len(p) > s.limit {
		return 0, s.err
	}
	return s.buf.Write(p)
}

func TestPrefixWriterErrors(t *testing.T) {
	expErr := errors.New("transmit timeout")

	specs := []struct {
		limit      int
		input      string
		expWritten int
		expOut     string
	}{
		// the prefix itself cannot be written
		{0, "General protection fault\n", 0, ""},
		// the first line goes out, the prefix of the second one fails
		{len("[gate] GPF\n") + 2, "GPF\nerror code 0x10\n", len("GPF\n"), "[gate] GPF\n"},
		// the prefix goes out but the line does not
		{len("[gate] "), "GPF\n", 0, "[gate] "},
	}

	for specIndex, spec := range specs {
		var (
			sink = &limitedSink{limit: spec.limit, err: expErr}
			w    = PrefixWriter{Sink: sink, Prefix: []byte("[gate] ")}
		)

		wrote, err := w.Write([]byte(spec.input))
		if err != expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, expErr, err)
		}
		if wrote != spec.expWritten {
			t.Errorf("[spec %d] expected %d bytes to be reported as written; got %d", specIndex, spec.expWritten, wrote)
		}
		if got := sink.buf.String(); got != spec.expOut {
			t.Errorf("[spec %d] expected sink to hold %q; got %q", specIndex, spec.expOut, got)
		}
	}
}
