// Package dump exports reconstructed stacks and task lists as JSON lines,
// optionally Zstandard compressed, so they can be inspected after the target
// has resumed.
package dump

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/willibrandon/coroscope/pkg/coroutine"
)

// Writer appends records to a dump. It is not safe for concurrent use.
type Writer struct {
	file     *os.File
	buf      *bufio.Writer
	w        io.WriteCloser
	enc      *json.Encoder
	redactor *Redactor
	count    int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithRedactor masks sensitive variable values before they are written.
func WithRedactor(r *Redactor) WriterOption {
	return func(w *Writer) { w.redactor = r }
}

// Create creates or truncates path and writes the dump header.
func Create(path string, c Compression, header Header, opts ...WriterOption) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating dump %s: %w", path, err)
	}
	w, err := NewWriter(f, c, header, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.file = f
	return w, nil
}

// NewWriter writes the dump header to out. Closing the Writer does not close
// out.
func NewWriter(out io.Writer, c Compression, header Header, opts ...WriterOption) (*Writer, error) {
	buf := bufio.NewWriter(out)
	cw, err := newCompressedWriter(buf, c)
	if err != nil {
		return nil, err
	}
	w := &Writer{buf: buf, w: cw, enc: json.NewEncoder(cw)}
	for _, opt := range opts {
		opt(w)
	}
	if header.Version == 0 {
		header.Version = FormatVersion
	}
	if header.Created.IsZero() {
		header.Created = time.Now().UTC()
	}
	if err := w.write(Record{Kind: KindHeader, Header: &header}); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("writing %s record: %w", r.Kind, err)
	}
	w.count++
	return nil
}

// redact returns frames with sensitive values masked, leaving the caller's
// frames untouched.
func (w *Writer) redact(frames []Frame) []Frame {
	if w.redactor == nil {
		return frames
	}
	out := make([]Frame, len(frames))
	for i, f := range frames {
		f.Variables = append([]Variable(nil), f.Variables...)
		w.redactor.Apply(f.Variables)
		out[i] = f
	}
	return out
}

// WriteTask appends a task.
func (w *Writer) WriteTask(t Task) error {
	t.Frames = w.redact(t.Frames)
	return w.write(Record{Kind: KindTask, Task: &t})
}

// WriteStack appends a combined stack.
func (w *Writer) WriteStack(s Stack) error {
	s.Frames = w.redact(s.Frames)
	return w.write(Record{Kind: KindStack, Stack: &s})
}

// WriteDiagnostic appends a diagnostic.
func (w *Writer) WriteDiagnostic(d coroutine.Diagnostic) error {
	return w.write(Record{Kind: KindDiagnostic, Diagnostic: &d})
}

// Count returns the number of records written, header included.
func (w *Writer) Count() int { return w.count }

// Close flushes the compressor and buffer and closes the file, if any.
func (w *Writer) Close() error {
	err := w.w.Close()
	err = errors.Join(err, w.buf.Flush())
	if w.file != nil {
		err = errors.Join(err, w.file.Close())
		w.file = nil
	}
	return err
}
