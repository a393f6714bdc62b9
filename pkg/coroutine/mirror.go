package coroutine

import (
	"context"
	"errors"
	"strconv"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// Members of the mirrored kotlinx.coroutines shapes.
const (
	fieldState          = "_state"
	fieldContext        = "context"
	fieldChild          = "child"
	fieldDecision       = "_decision"
	fieldDelegate       = "delegate"
	fieldResumeMode     = "resumeMode"
	fieldSubmissionTime = "submissionTime"
	fieldKey            = "Key"

	methodGet     = "get"
	sigGet        = "(Lkotlin/coroutines/CoroutineContext$Key;)Lkotlin/coroutines/CoroutineContext$Element;"
	methodGetName = "getName"
	sigGetName    = "()Ljava/lang/String;"
	methodGetID   = "getId"
	sigGetID      = "()J"

	defaultTaskName = "coroutine"
)

// StandaloneCoroutineMirror is a local copy of a launched coroutine.
type StandaloneCoroutineMirror struct {
	Handle  remote.Handle
	State   *ChildContinuationMirror
	Context *ContextMirror
}

// ChildContinuationMirror is a local copy of a child-link wrapper.
type ChildContinuationMirror struct {
	Handle remote.Handle
	Child  *CancellableContinuationMirror
}

// CancellableContinuationMirror is a local copy of a cancellable handle.
type CancellableContinuationMirror struct {
	Handle         remote.Handle
	Decision       int64
	Delegate       remote.Handle
	ResumeMode     int64
	SubmissionTime int64
	Context        *ContextMirror
}

// ContextMirror is a local copy of the elements of a coroutine context.
type ContextMirror struct {
	Handle remote.Handle
	Name   string
	ID     int64
	HasID  bool
	Job    remote.Handle
}

// TaskInfo is the display name, id and state of one task.
type TaskInfo struct {
	Name      string
	ID        string
	State     State
	Coroutine *StandaloneCoroutineMirror
}

type methodSpec struct{ name, signature string }

// shape holds the descriptors of one mirrored type, resolved once per
// session against the paused target.
type shape struct {
	typ     remote.Type
	fields  map[string]remote.Field
	methods map[string]remote.Method
	statics map[string]remote.Value
}

// Mirrors turns well-known remote objects into immutable local snapshots.
// Each mirror function returns nil when its shape is absent from the target
// or the handle is not of that shape; a failing inner mirror only blanks the
// field that holds it.
type Mirrors struct {
	s *Session

	standalone  lazy[*shape]
	child       lazy[*shape]
	cancellable lazy[*shape]
	context     lazy[*shape]
	name        lazy[*shape]
	id          lazy[*shape]
	job         lazy[*shape]
	toString    lazy[*remote.Method]
}

func newMirrors(s *Session) *Mirrors {
	return &Mirrors{s: s}
}

func (m *Mirrors) resolve(ctx context.Context, l *lazy[*shape], typeName string, fields []string, methods []methodSpec, statics []string) *shape {
	if typeName == "" {
		return nil
	}
	sh, err := l.get(func() (*shape, error) {
		c := m.s.client
		t, ok, err := m.s.findType(ctx, typeName)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.s.log.Debug("mirror type not loaded", "type", typeName)
			return nil, nil
		}
		sh := &shape{
			typ:     t,
			fields:  make(map[string]remote.Field),
			methods: make(map[string]remote.Method),
			statics: make(map[string]remote.Value),
		}
		for _, name := range fields {
			f, err := c.Field(ctx, t, name)
			if err != nil {
				return absent(m, typeName, err)
			}
			sh.fields[name] = f
		}
		for _, spec := range methods {
			mm, err := c.Method(ctx, t, spec.name, spec.signature)
			if err != nil {
				return absent(m, typeName, err)
			}
			sh.methods[spec.name] = mm
		}
		for _, name := range statics {
			f, err := c.Field(ctx, t, name)
			if err != nil {
				return absent(m, typeName, err)
			}
			v, err := c.ReadStatic(ctx, f)
			if err != nil {
				return absent(m, typeName, err)
			}
			sh.statics[name] = v
		}
		return sh, nil
	})
	if err != nil {
		m.s.log.Debug("mirror resolution failed", "type", typeName, "error", err)
		return nil
	}
	return sh
}

// absent disables a shape whose members are missing, but lets protocol
// faults through so the next call retries.
func absent(m *Mirrors, typeName string, err error) (*shape, error) {
	if errors.Is(err, remote.ErrNotFound) {
		m.s.log.Debug("mirror shape incomplete", "type", typeName, "error", err)
		return nil, nil
	}
	return nil, err
}

// compatible reports whether h's runtime type is assignable to sh.
func (m *Mirrors) compatible(ctx context.Context, h remote.Handle, sh *shape) bool {
	if h.IsNull() {
		return false
	}
	t, err := m.s.client.TypeOf(ctx, h)
	if err != nil {
		m.s.log.Debug("type lookup failed", "handle", h, "error", err)
		return false
	}
	if !m.s.classifier.IsSubtype(ctx, t, sh.typ.Name) {
		m.s.log.Debug("shape mismatch", "handle", h, "type", t.Name, "expected", sh.typ.Name)
		return false
	}
	return true
}

func (m *Mirrors) object(ctx context.Context, h remote.Handle, f remote.Field) remote.Handle {
	v, err := m.s.client.ReadField(ctx, h, f)
	if err != nil {
		m.s.log.Debug("field read failed", "handle", h, "field", f.Name, "error", err)
		return 0
	}
	obj, _ := v.AsObject()
	return obj
}

func (m *Mirrors) integer(ctx context.Context, h remote.Handle, f remote.Field) int64 {
	v, err := m.s.client.ReadField(ctx, h, f)
	if err != nil {
		m.s.log.Debug("field read failed", "handle", h, "field", f.Name, "error", err)
		return 0
	}
	i, _ := v.AsInt()
	return i
}

func (m *Mirrors) call(ctx context.Context, h remote.Handle, mm remote.Method, args ...remote.Value) (remote.Value, bool) {
	v, err := m.s.client.Invoke(ctx, h, mm, args...)
	if err != nil {
		m.s.log.Debug("remote invocation failed", "handle", h, "method", mm.String(), "error", err)
		return remote.Value{}, false
	}
	return v, true
}

func (m *Mirrors) mirrorStandalone(ctx context.Context, h remote.Handle) *StandaloneCoroutineMirror {
	sh := m.resolve(ctx, &m.standalone, m.s.profile.Mirrors.StandaloneCoroutine,
		[]string{fieldState, fieldContext}, nil, nil)
	if sh == nil || !m.compatible(ctx, h, sh) {
		return nil
	}
	return &StandaloneCoroutineMirror{
		Handle:  h,
		State:   m.mirrorChild(ctx, m.object(ctx, h, sh.fields[fieldState])),
		Context: m.mirrorContext(ctx, m.object(ctx, h, sh.fields[fieldContext])),
	}
}

func (m *Mirrors) mirrorChild(ctx context.Context, h remote.Handle) *ChildContinuationMirror {
	sh := m.resolve(ctx, &m.child, m.s.profile.Mirrors.ChildContinuation,
		[]string{fieldChild}, nil, nil)
	if sh == nil || !m.compatible(ctx, h, sh) {
		return nil
	}
	return &ChildContinuationMirror{
		Handle: h,
		Child:  m.mirrorCancellable(ctx, m.object(ctx, h, sh.fields[fieldChild])),
	}
}

func (m *Mirrors) mirrorCancellable(ctx context.Context, h remote.Handle) *CancellableContinuationMirror {
	sh := m.resolve(ctx, &m.cancellable, m.s.profile.Mirrors.CancellableContinuation,
		[]string{fieldDecision, fieldDelegate, fieldResumeMode, fieldSubmissionTime, fieldContext}, nil, nil)
	if sh == nil || !m.compatible(ctx, h, sh) {
		return nil
	}
	return &CancellableContinuationMirror{
		Handle:         h,
		Decision:       m.integer(ctx, h, sh.fields[fieldDecision]),
		Delegate:       m.object(ctx, h, sh.fields[fieldDelegate]),
		ResumeMode:     m.integer(ctx, h, sh.fields[fieldResumeMode]),
		SubmissionTime: m.integer(ctx, h, sh.fields[fieldSubmissionTime]),
		Context:        m.mirrorContext(ctx, m.object(ctx, h, sh.fields[fieldContext])),
	}
}

// mirrorContext looks up the name, id and job elements by their static keys.
func (m *Mirrors) mirrorContext(ctx context.Context, h remote.Handle) *ContextMirror {
	names := m.s.profile.Mirrors
	sh := m.resolve(ctx, &m.context, names.Context,
		nil, []methodSpec{{methodGet, sigGet}}, nil)
	if sh == nil || !m.compatible(ctx, h, sh) {
		return nil
	}
	out := &ContextMirror{Handle: h}

	if key := m.resolve(ctx, &m.name, names.NameElement,
		nil, []methodSpec{{methodGetName, sigGetName}}, []string{fieldKey}); key != nil {
		if el := m.element(ctx, h, sh, key); !el.IsNull() {
			if v, ok := m.call(ctx, el, key.methods[methodGetName]); ok {
				out.Name, _ = v.AsString()
			}
		}
	}
	if key := m.resolve(ctx, &m.id, names.IDElement,
		nil, []methodSpec{{methodGetID, sigGetID}}, []string{fieldKey}); key != nil {
		if el := m.element(ctx, h, sh, key); !el.IsNull() {
			if v, ok := m.call(ctx, el, key.methods[methodGetID]); ok {
				out.ID, out.HasID = v.AsInt()
			}
		}
	}
	if key := m.resolve(ctx, &m.job, names.JobElement,
		nil, nil, []string{fieldKey}); key != nil {
		out.Job = m.element(ctx, h, sh, key)
	}
	return out
}

// element invokes context.get(key) and returns the element, if any.
func (m *Mirrors) element(ctx context.Context, h remote.Handle, cc, key *shape) remote.Handle {
	v, ok := m.call(ctx, h, cc.methods[methodGet], key.statics[fieldKey])
	if !ok {
		return 0
	}
	el, _ := v.AsObject()
	return el
}

// taskInfo parses the textual representation of h, "Name{State}@hexAddress",
// and prefers the context's name and id when present.
func (m *Mirrors) taskInfo(ctx context.Context, h remote.Handle) *TaskInfo {
	text, ok := m.text(ctx, h)
	if !ok {
		return nil
	}
	state, hex, ok := ParseState(text)
	if !ok {
		m.s.log.Debug("unrecognized task label", "handle", h, "text", text)
		return nil
	}
	info := &TaskInfo{Name: defaultTaskName, ID: hex, State: state}
	if sc := m.mirrorStandalone(ctx, h); sc != nil {
		info.Coroutine = sc
		if sc.Context != nil {
			if sc.Context.Name != "" {
				info.Name = sc.Context.Name
			}
			if sc.Context.HasID {
				info.ID = strconv.FormatInt(sc.Context.ID, 10)
			}
		}
	}
	return info
}

func (m *Mirrors) text(ctx context.Context, h remote.Handle) (string, bool) {
	if h.IsNull() {
		return "", false
	}
	ref := m.s.profile.ToString
	method, err := m.toString.get(func() (*remote.Method, error) {
		t, ok, err := m.s.findType(ctx, ref.Owner)
		if err != nil || !ok {
			return nil, err
		}
		mm, err := m.s.client.Method(ctx, t, ref.Name, ref.Signature)
		if errors.Is(err, remote.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &mm, nil
	})
	if err != nil || method == nil {
		return "", false
	}
	v, ok := m.call(ctx, h, *method)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// enter guards one public mirror call: it refuses a closed session and pins
// h. Objects reached from h are not pinned separately.
func (m *Mirrors) enter(ctx context.Context, h remote.Handle) (*remote.Pins, bool) {
	if err := m.s.check(); err != nil {
		m.s.log.Debug("mirror on closed session", "handle", h)
		return nil, false
	}
	pins := remote.NewPins(m.s.client)
	if err := pins.Pin(ctx, h); err != nil {
		m.s.log.Debug("pin failed", "handle", h, "error", err)
	}
	return pins, true
}

// StandaloneCoroutine mirrors a launched coroutine object.
func (m *Mirrors) StandaloneCoroutine(ctx context.Context, h remote.Handle) *StandaloneCoroutineMirror {
	pins, ok := m.enter(ctx, h)
	if !ok {
		return nil
	}
	defer m.s.release(ctx, pins)
	return m.mirrorStandalone(ctx, h)
}

// ChildContinuation mirrors a child-link wrapper.
func (m *Mirrors) ChildContinuation(ctx context.Context, h remote.Handle) *ChildContinuationMirror {
	pins, ok := m.enter(ctx, h)
	if !ok {
		return nil
	}
	defer m.s.release(ctx, pins)
	return m.mirrorChild(ctx, h)
}

// CancellableContinuation mirrors a cancellable continuation handle.
func (m *Mirrors) CancellableContinuation(ctx context.Context, h remote.Handle) *CancellableContinuationMirror {
	pins, ok := m.enter(ctx, h)
	if !ok {
		return nil
	}
	defer m.s.release(ctx, pins)
	return m.mirrorCancellable(ctx, h)
}

// Context mirrors a coroutine context with its name, id and job elements.
func (m *Mirrors) Context(ctx context.Context, h remote.Handle) *ContextMirror {
	pins, ok := m.enter(ctx, h)
	if !ok {
		return nil
	}
	defer m.s.release(ctx, pins)
	return m.mirrorContext(ctx, h)
}

// TaskInfo derives the display name, id and state of the coroutine object h
// from its textual representation, "Name{State}@hexAddress". It returns nil
// when the text does not have that form or the session is closed.
func (m *Mirrors) TaskInfo(ctx context.Context, h remote.Handle) *TaskInfo {
	pins, ok := m.enter(ctx, h)
	if !ok {
		return nil
	}
	defer m.s.release(ctx, pins)
	return m.taskInfo(ctx, h)
}

func (m *Mirrors) reset() {
	for _, l := range []*lazy[*shape]{&m.standalone, &m.child, &m.cancellable, &m.context, &m.name, &m.id, &m.job} {
		l.reset()
	}
	m.toString.reset()
}
