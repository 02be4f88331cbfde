package cmd

import (
	"bytes"
	"fmt"
	"io"
)

// lineWriter forwards child output to w. With a prefix, each complete line is
// labelled and partial lines are held back until their newline (or Flush)
// so concurrent commands never interleave mid-line.
type lineWriter struct {
	w      io.Writer
	prefix string
	buf    bytes.Buffer
}

func newLineWriter(w io.Writer, prefix string) *lineWriter {
	return &lineWriter{w: w, prefix: prefix}
}

func (lw *lineWriter) WriteString(s string) {
	if lw.prefix == "" {
		io.WriteString(lw.w, s)
		return
	}

	lw.buf.WriteString(s)
	for {
		line, err := lw.buf.ReadBytes('\n')
		if err != nil {
			// No newline yet, keep the fragment for the next chunk
			lw.buf.Reset()
			lw.buf.Write(line)
			return
		}
		fmt.Fprintf(lw.w, "%s%s", lw.prefix, line)
	}
}

// Flush writes any buffered partial line with a trailing newline.
func (lw *lineWriter) Flush() {
	if lw.buf.Len() == 0 {
		return
	}
	fmt.Fprintf(lw.w, "%s%s\n", lw.prefix, lw.buf.Bytes())
	lw.buf.Reset()
}
