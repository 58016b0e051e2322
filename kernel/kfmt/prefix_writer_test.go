package kfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixWriter(t *testing.T) {
	specs := []struct {
		input []string
		exp   string
	}{
		{
			[]string{""},
			"",
		},
		{
			[]string{"\n"},
			"[ipc] \n",
		},
		{
			[]string{"no line break"},
			"[ipc] no line break",
		},
		{
			[]string{"\nsend to pid 1\nrespond\n"},
			"[ipc] \n[ipc] send to pid 1\n[ipc] respond\n",
		},
		{
			// a line assembled from several writes gets a single prefix
			[]string{"tid ", "3", " frozen\n", "next"},
			"[ipc] tid 3 frozen\n[ipc] next",
		},
	}

	var (
		buf bytes.Buffer
		w   = PrefixWriter{
			Sink:   &buf,
			Prefix: []byte("[ipc] "),
		}
	)

	for specIndex, spec := range specs {
		buf.Reset()
		w.bytesAfterPrefix = 0

		for _, in := range spec.input {
			wrote, err := w.Write([]byte(in))
			if err != nil {
				t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			}

			if expLen := len(in); expLen != wrote {
				t.Errorf("[spec %d] expected writer to write %d bytes; wrote %d", specIndex, expLen, wrote)
			}
		}

		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected output:\n%q\ngot:\n%q", specIndex, spec.exp, got)
		}
	}
}

type errWriter struct{}

func (errWriter) Write(_ []byte) (int, error) { return 0, errors.New("write failed") }

func TestPrefixWriterErrors(t *testing.T) {
	w := PrefixWriter{Sink: errWriter{}, Prefix: []byte("> ")}

	for _, in := range []string{"line\n", "partial"} {
		w.bytesAfterPrefix = 0
		if _, err := w.Write([]byte(in)); err == nil {
			t.Errorf("expected an error when writing %q", in)
		}
	}
}

func TestPrefixWriterDefaultsToOutput(t *testing.T) {
	defer func() {
		outputSink = nil
	}()

	var buf bytes.Buffer
	outputSink = nil
	earlyPrintBuffer.reset()

	w := &PrefixWriter{Prefix: []byte("[pmm] ")}
	Fprintf(w, "early\n")

	SetOutputSink(&buf)
	Fprintf(w, "late\n")

	if exp, got := "[pmm] early\n[pmm] late\n", buf.String(); got != exp {
		t.Fatalf("expected output:\n%q\ngot:\n%q", exp, got)
	}
}
