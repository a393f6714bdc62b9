package coroutine

import (
	"context"
	"errors"
	"strconv"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/remote"
)

// UnknownLine is the line number of a frame without a source location.
const UnknownLine = -1

// CapturedVariable pairs a logical variable name with the continuation field
// its value was spilled to. The value is only fetched on request.
type CapturedVariable struct {
	Name  string `json:"name"`
	Field string `json:"field"`
}

// NamedValue is a resolved captured variable.
type NamedValue struct {
	Name  string
	Value remote.Value
}

// SyntheticFrame is a stack frame reconstructed from a continuation node.
type SyntheticFrame struct {
	ClassName  string             `json:"class"`
	MethodName string             `json:"method"`
	SourceFile string             `json:"file,omitempty"`
	Line       int                `json:"line"`
	Variables  []CapturedVariable `json:"variables,omitempty"`
	Node       ContinuationNode   `json:"node"`

	session string
}

// Location formats the frame as Class.method(File:line).
func (f SyntheticFrame) Location() string {
	file := f.SourceFile
	if file == "" {
		file = "Unknown Source"
	}
	if f.Line == UnknownLine {
		return f.ClassName + "." + f.MethodName + "(" + file + ")"
	}
	return f.ClassName + "." + f.MethodName + "(" + file + ":" + strconv.Itoa(f.Line) + ")"
}

type debugMetadata struct {
	stackTraceElement remote.Method
	spilled           *remote.Method

	elementType remote.Type
	className   remote.Method
	methodName  remote.Method
	lineNumber  remote.Method
	fileName    *remote.Method
}

// debugMetadata resolves the metadata accessors. When the target lacks them
// frame extraction is disabled for the whole session and reported once.
func (s *Session) debugMetadata(ctx context.Context) *debugMetadata {
	meta, err := s.meta.get(func() (*debugMetadata, error) {
		p := s.profile
		mt, ok, err := s.findType(ctx, p.DebugMetadata.Type)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.reportCapability(CapabilityDebugMetadata,
				"continuations found but no "+p.DebugMetadata.Type+" type exists in the target")
			return nil, nil
		}
		et, ok, err := s.findType(ctx, p.StackTraceElement.Type)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.reportCapability(CapabilityDebugMetadata, "no "+p.StackTraceElement.Type+" type exists in the target")
			return nil, nil
		}

		meta := &debugMetadata{elementType: et}
		required := []struct {
			t   remote.Type
			ref config.MethodRef
			dst *remote.Method
		}{
			{mt, p.DebugMetadata.StackTraceElement, &meta.stackTraceElement},
			{et, p.StackTraceElement.ClassName, &meta.className},
			{et, p.StackTraceElement.MethodName, &meta.methodName},
			{et, p.StackTraceElement.LineNumber, &meta.lineNumber},
		}
		for _, r := range required {
			m, err := s.client.Method(ctx, r.t, r.ref.Name, r.ref.Signature)
			if errors.Is(err, remote.ErrNotFound) {
				s.reportCapability(CapabilityDebugMetadata, "no accessor "+r.t.Name+"."+r.ref.Name+" in the target")
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			*r.dst = m
		}
		meta.spilled = s.optionalMethod(ctx, mt, p.DebugMetadata.SpilledVariables)
		meta.fileName = s.optionalMethod(ctx, et, p.StackTraceElement.FileName)
		return meta, nil
	})
	if err != nil {
		s.log.Debug("debug metadata lookup failed", "error", err)
		return nil
	}
	return meta
}

func (s *Session) optionalMethod(ctx context.Context, t remote.Type, ref config.MethodRef) *remote.Method {
	if ref.Name == "" {
		return nil
	}
	m, err := s.client.Method(ctx, t, ref.Name, ref.Signature)
	if err != nil {
		s.log.Debug("optional accessor unavailable", "type", t.Name, "method", ref.Name, "error", err)
		return nil
	}
	return &m
}

// Extract builds the synthetic frame of one continuation node. It returns nil
// when the target has no debug metadata, the node has no source location or a
// remote call fails.
func (s *Session) Extract(ctx context.Context, node ContinuationNode) (*SyntheticFrame, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	pins := remote.NewPins(s.client)
	defer s.release(ctx, pins)
	return s.extract(ctx, pins, node), nil
}

func (s *Session) extract(ctx context.Context, pins *remote.Pins, node ContinuationNode) *SyntheticFrame {
	meta := s.debugMetadata(ctx)
	if meta == nil {
		return nil
	}
	nodeValue := remote.Object(node.Handle, node.Type.Name)
	v, err := s.client.InvokeStatic(ctx, meta.stackTraceElement, nodeValue)
	if err != nil {
		s.log.Debug("stack trace element lookup failed", "handle", node.Handle, "error", err)
		return nil
	}
	element, ok := v.AsObject()
	if !ok {
		return nil
	}
	if t, err := s.client.TypeOf(ctx, element); err != nil || t.Name != meta.elementType.Name {
		s.log.Debug("unexpected stack trace element", "handle", element, "type", t.Name, "error", err)
		return nil
	}
	if err := pins.Pin(ctx, element); err != nil {
		s.log.Debug("pin failed", "handle", element, "error", err)
	}

	className, ok := s.invokeString(ctx, element, meta.className)
	if !ok {
		return nil
	}
	methodName, ok := s.invokeString(ctx, element, meta.methodName)
	if !ok {
		return nil
	}
	lv, err := s.client.Invoke(ctx, element, meta.lineNumber)
	if err != nil {
		s.log.Debug("line number lookup failed", "handle", element, "error", err)
		return nil
	}
	line, ok := lv.AsInt()
	if !ok || line < 0 {
		return nil
	}
	var file string
	if meta.fileName != nil {
		file, _ = s.invokeString(ctx, element, *meta.fileName)
	}

	return &SyntheticFrame{
		ClassName:  className,
		MethodName: methodName,
		SourceFile: file,
		Line:       int(line),
		Variables:  s.spilledVariables(ctx, meta, nodeValue),
		Node:       node,
		session:    s.id,
	}
}

func (s *Session) invokeString(ctx context.Context, h remote.Handle, m remote.Method) (string, bool) {
	v, err := s.client.Invoke(ctx, h, m)
	if err != nil {
		s.log.Debug("remote invocation failed", "handle", h, "method", m.String(), "error", err)
		return "", false
	}
	return v.AsString()
}

// spilledVariables reads the field-to-variable mapping of a continuation,
// laid out as [field0, name0, field1, name1, ...]. Any failure yields none.
func (s *Session) spilledVariables(ctx context.Context, meta *debugMetadata, node remote.Value) []CapturedVariable {
	if meta.spilled == nil {
		return nil
	}
	v, err := s.client.InvokeStatic(ctx, *meta.spilled, node)
	if err != nil {
		s.log.Debug("spilled variable lookup failed", "handle", node.Handle, "error", err)
		return nil
	}
	arr, ok := v.AsObject()
	if !ok {
		return nil
	}
	elems, err := s.client.ReadArray(ctx, arr)
	if err != nil {
		s.log.Debug("spilled variable read failed", "handle", arr, "error", err)
		return nil
	}
	vars := make([]CapturedVariable, 0, len(elems)/2)
	for i := 0; i+1 < len(elems); i += 2 {
		field, ok1 := elems[i].AsString()
		name, ok2 := elems[i+1].AsString()
		if !ok1 || !ok2 {
			return nil
		}
		vars = append(vars, CapturedVariable{Name: name, Field: field})
	}
	return vars
}

// CapturedVariables fetches the current values of a frame's captured
// variables. Variables whose field cannot be read are left out.
func (s *Session) CapturedVariables(ctx context.Context, frame SyntheticFrame) ([]NamedValue, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if frame.session != s.id {
		return nil, ErrForeignFrame
	}
	pins := remote.NewPins(s.client)
	defer s.release(ctx, pins)
	if err := pins.Pin(ctx, frame.Node.Handle); err != nil {
		s.log.Debug("pin failed", "handle", frame.Node.Handle, "error", err)
	}

	out := make([]NamedValue, 0, len(frame.Variables))
	for _, cv := range frame.Variables {
		f, err := s.client.Field(ctx, frame.Node.Type, cv.Field)
		if err != nil {
			s.log.Debug("captured variable field missing", "variable", cv.Name, "field", cv.Field, "error", err)
			continue
		}
		v, err := s.client.ReadField(ctx, frame.Node.Handle, f)
		if err != nil {
			s.log.Debug("captured variable read failed", "variable", cv.Name, "error", err)
			continue
		}
		out = append(out, NamedValue{Name: cv.Name, Value: v})
	}
	return out, nil
}
