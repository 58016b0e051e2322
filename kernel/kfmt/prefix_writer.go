package kfmt

import "io"

// PrefixWriter wraps an io.Writer and injects Prefix at the start of every
// line. Kernel subsystems use it to tag their log output, e.g.
//
//	var logger = &kfmt.PrefixWriter{Prefix: []byte("[vmm] ")}
//	kfmt.Fprintf(logger, "mapped %x\n", addr)
//
// A PrefixWriter without a Sink writes to Output. Package variables in the
// kernel image are never initialized at run time, so loggers declared at
// package scope must leave Sink unset.
type PrefixWriter struct {
	// Sink receives the prefixed output. Output is used while it is nil.
	Sink io.Writer

	// Prefix is injected at the beginning of each line.
	Prefix []byte

	bytesAfterPrefix int
}

// Write writes p to the sink, injecting the prefix after every line feed.
// The returned count excludes the injected prefixes.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var (
		written              int
		startIndex, curIndex int
		sink                 io.Writer = activeSink{}
	)

	if w.Sink != nil {
		sink = w.Sink
	}

	if w.bytesAfterPrefix == 0 && len(p) != 0 {
		sink.Write(w.Prefix)
	}

	for ; curIndex < len(p); curIndex++ {
		if p[curIndex] != '\n' {
			continue
		}

		n, err := sink.Write(p[startIndex : curIndex+1])
		written += n
		if err != nil {
			return written, err
		}

		if curIndex+1 != len(p) {
			sink.Write(w.Prefix)
		}
		w.bytesAfterPrefix = 0
		startIndex = curIndex + 1
	}

	if startIndex < curIndex {
		n, err := sink.Write(p[startIndex:curIndex])
		written += n
		w.bytesAfterPrefix += n
		if err != nil {
			return written, err
		}
	}

	return written, nil
}
