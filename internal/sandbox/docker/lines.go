package docker

import (
	"bytes"
)

// maxLine caps how much a single unterminated line may buffer.
const maxLine = 1 << 20

// lineWriter splits a byte stream into lines and forwards the ones carrying
// the channel marker. Everything else (plain console output of the program)
// goes to other, if set.
type lineWriter struct {
	marker   []byte
	post     func([]byte)
	other    func([]byte)
	buf      []byte
	overflow bool
}

func newLineWriter(marker string, post, other func([]byte)) *lineWriter {
	return &lineWriter{marker: []byte(marker), post: post, other: other}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.buffer(p)
			break
		}
		w.buffer(p[:i])
		w.emit()
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 || w.overflow {
		w.emit()
	}
}

func (w *lineWriter) buffer(p []byte) {
	if w.overflow {
		return
	}
	if len(w.buf)+len(p) > maxLine {
		w.overflow = true
		w.buf = w.buf[:0]
		return
	}
	w.buf = append(w.buf, p...)
}

func (w *lineWriter) emit() {
	line := w.buf
	dropped := w.overflow
	w.buf = w.buf[:0]
	w.overflow = false

	if dropped {
		return
	}
	line = bytes.TrimSuffix(line, []byte("\r"))
	if rest, ok := bytes.CutPrefix(line, w.marker); ok {
		w.post(bytes.Clone(rest))
		return
	}
	if w.other != nil && len(line) > 0 {
		w.other(bytes.Clone(line))
	}
}
