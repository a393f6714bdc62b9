package dump

import (
	"strconv"
	"time"

	"github.com/willibrandon/coroscope/pkg/coroutine"
)

// FormatVersion is the version written to dump headers.
const FormatVersion = 1

// RecordKind tags each line of a dump.
type RecordKind string

const (
	KindHeader     RecordKind = "header"
	KindTask       RecordKind = "task"
	KindStack      RecordKind = "stack"
	KindDiagnostic RecordKind = "diagnostic"
)

// Record is one JSON line of a dump. Exactly one payload is set.
type Record struct {
	Kind       RecordKind            `json:"kind"`
	Header     *Header               `json:"header,omitempty"`
	Task       *Task                 `json:"task,omitempty"`
	Stack      *Stack                `json:"stack,omitempty"`
	Diagnostic *coroutine.Diagnostic `json:"diagnostic,omitempty"`
}

// Header opens every dump.
type Header struct {
	Version int       `json:"version"`
	Session string    `json:"session"`
	Created time.Time `json:"created"`
	Tool    string    `json:"tool,omitempty"`
}

// Variable is a captured variable as written to a dump. Value is empty when
// values were not requested.
type Variable struct {
	Name     string `json:"name"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Redacted bool   `json:"redacted,omitempty"`
}

// Frame is a native or reconstructed frame, detached from the target.
type Frame struct {
	Class     string     `json:"class"`
	Method    string     `json:"method"`
	File      string     `json:"file,omitempty"`
	Line      int        `json:"line"`
	Async     bool       `json:"async,omitempty"`
	Variables []Variable `json:"variables,omitempty"`
}

// Location formats the frame as Class.method(File:line).
func (f Frame) Location() string {
	file := f.File
	if file == "" {
		file = "Unknown Source"
	}
	if f.Line < 0 {
		return f.Class + "." + f.Method + "(" + file + ")"
	}
	return f.Class + "." + f.Method + "(" + file + ":" + strconv.Itoa(f.Line) + ")"
}

// Task is a suspended task found by a directory scan.
type Task struct {
	Name   string  `json:"name"`
	ID     string  `json:"id"`
	State  string  `json:"state"`
	Frames []Frame `json:"frames"`
}

// Stack is the combined stack of one paused thread.
type Stack struct {
	Thread    int64   `json:"thread"`
	Frames    []Frame `json:"frames"`
	Truncated bool    `json:"truncated,omitempty"`
}

func fromSynthetic(f coroutine.SyntheticFrame) Frame {
	out := Frame{
		Class:  f.ClassName,
		Method: f.MethodName,
		File:   f.SourceFile,
		Line:   f.Line,
		Async:  true,
	}
	for _, v := range f.Variables {
		out.Variables = append(out.Variables, Variable{Name: v.Name, Field: v.Field})
	}
	return out
}

// FromTask detaches a task snapshot from its session.
func FromTask(t coroutine.TaskSnapshot) Task {
	out := Task{Name: t.Name, ID: t.ID, State: t.State.String()}
	for _, f := range t.Frames {
		out.Frames = append(out.Frames, fromSynthetic(f))
	}
	return out
}

// FromStack detaches a combined stack from its session.
func FromStack(thread int64, s *coroutine.CombinedStack) Stack {
	out := Stack{Thread: thread, Truncated: s.Truncated}
	for _, e := range s.Entries {
		switch {
		case e.Synthetic != nil:
			out.Frames = append(out.Frames, fromSynthetic(*e.Synthetic))
		case e.Native != nil:
			out.Frames = append(out.Frames, Frame{
				Class:  e.Native.Method.Owner,
				Method: e.Native.Method.Name,
				File:   e.Native.File,
				Line:   e.Native.Line,
			})
		}
	}
	return out
}

// SetValues fills in variable values resolved for this frame.
func (f *Frame) SetValues(values []coroutine.NamedValue) {
	byName := make(map[string]string, len(values))
	for _, v := range values {
		byName[v.Name] = v.Value.String()
	}
	for i := range f.Variables {
		if s, ok := byName[f.Variables[i].Name]; ok {
			f.Variables[i].Value = s
		}
	}
}
