package dump

import (
	"fmt"
	"io"
	"time"

	"github.com/willibrandon/coroscope/pkg/coroutine"
)

// WriteText renders a dump the way a thread dump reads.
func WriteText(w io.Writer, d *Dump) error {
	p := &printer{w: w}
	p.printf("session %s, %s", d.Header.Session, d.Header.Created.Format(time.RFC3339))
	if d.Header.Tool != "" {
		p.printf(", %s", d.Header.Tool)
	}
	p.printf("\n")

	for _, s := range d.Stacks {
		p.printf("\n")
		p.stack(s)
	}
	for _, t := range d.Tasks {
		p.printf("\n")
		p.task(t)
	}
	if len(d.Diagnostics) > 0 {
		p.printf("\n")
	}
	p.diagnostics(d.Diagnostics)
	return p.err
}

// WriteDiagnosticsText renders diagnostics one per line.
func WriteDiagnosticsText(w io.Writer, diags []coroutine.Diagnostic) error {
	p := &printer{w: w}
	p.diagnostics(diags)
	return p.err
}

// WriteStackText renders one thread's stack.
func WriteStackText(w io.Writer, s Stack) error {
	p := &printer{w: w}
	p.stack(s)
	return p.err
}

// WriteTaskText renders one task.
func WriteTaskText(w io.Writer, t Task) error {
	p := &printer{w: w}
	p.task(t)
	return p.err
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) stack(s Stack) {
	p.printf("thread %d:\n", s.Thread)
	p.frames(s.Frames)
	if s.Truncated {
		p.printf("\t... truncated\n")
	}
}

func (p *printer) task(t Task) {
	p.printf("%q id=%s %s:\n", t.Name, t.ID, t.State)
	p.frames(t.Frames)
}

func (p *printer) diagnostics(diags []coroutine.Diagnostic) {
	for _, d := range diags {
		if d.Capability != "" {
			p.printf("%s (%s): %s\n", d.Kind, d.Capability, d.Message)
		} else {
			p.printf("%s: %s\n", d.Kind, d.Message)
		}
	}
}

func (p *printer) frames(frames []Frame) {
	for _, f := range frames {
		marker := ""
		if f.Async {
			marker = " [async]"
		}
		p.printf("\tat %s%s\n", f.Location(), marker)
		for _, v := range f.Variables {
			if v.Value == "" {
				p.printf("\t\t%s\n", v.Name)
			} else {
				p.printf("\t\t%s = %s\n", v.Name, v.Value)
			}
		}
	}
}
