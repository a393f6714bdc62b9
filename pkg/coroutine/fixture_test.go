package coroutine

import (
	"fmt"
	"testing"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/remote"
	"github.com/willibrandon/coroscope/pkg/remote/remotetest"
)

const (
	typeObject            = "java.lang.Object"
	typeContinuationImpl  = "kotlin.coroutines.jvm.internal.ContinuationImpl"
	typeJobSupport        = "kotlinx.coroutines.JobSupport"
	typeAbstractCoroutine = "kotlinx.coroutines.AbstractCoroutine"
	typeCombinedContext   = "kotlin.coroutines.CombinedContext"
	typeStringArray       = "java.lang.String[]"
)

// fixture is a fake paused JVM with kotlin-stdlib and kotlinx.coroutines
// loaded.
type fixture struct {
	t       *testing.T
	heap    *remotetest.Heap
	profile config.Profile

	defined  map[string]bool
	elements map[remote.Handle]remote.Handle
	spilled  map[remote.Handle]remote.Handle
	contexts map[remote.Handle]map[remote.Handle]remote.Handle

	nameKey remote.Handle
	idKey   remote.Handle
	jobKey  remote.Handle
}

func getter(field string) remotetest.MethodFunc {
	return func(h *remotetest.Heap, this remote.Handle, _ []remote.Value) (remote.Value, error) {
		return h.Get(this, field), nil
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := config.KotlinProfile()
	h := remotetest.New()
	f := &fixture{
		t:        t,
		heap:     h,
		profile:  p,
		defined:  make(map[string]bool),
		elements: make(map[remote.Handle]remote.Handle),
		spilled:  make(map[remote.Handle]remote.Handle),
		contexts: make(map[remote.Handle]map[remote.Handle]remote.Handle),
	}

	f.define(typeObject)
	h.DefineMethod(typeObject, p.ToString.Name, p.ToString.Signature,
		func(h *remotetest.Heap, this remote.Handle, _ []remote.Value) (remote.Value, error) {
			if label, ok := h.Get(this, "label").AsString(); ok {
				return remote.String(label), nil
			}
			return remote.String(h.Ref(this).Type + "@" + this.String()), nil
		})

	f.define(p.BaseContinuation, typeObject)
	h.DefineField(p.BaseContinuation, p.CompletionField)
	f.define(typeContinuationImpl, p.BaseContinuation)
	for _, l := range p.SuspendLambdas {
		f.define(l, typeContinuationImpl)
	}

	ste := p.StackTraceElement
	f.define(ste.Type, typeObject)
	h.DefineField(ste.Type, "declaringClass", "methodName", "fileName", "lineNumber")
	h.DefineMethod(ste.Type, ste.ClassName.Name, ste.ClassName.Signature, getter("declaringClass"))
	h.DefineMethod(ste.Type, ste.MethodName.Name, ste.MethodName.Signature, getter("methodName"))
	h.DefineMethod(ste.Type, ste.FileName.Name, ste.FileName.Signature, getter("fileName"))
	h.DefineMethod(ste.Type, ste.LineNumber.Name, ste.LineNumber.Signature, getter("lineNumber"))

	md := p.DebugMetadata
	f.define(md.Type, typeObject)
	h.DefineStaticMethod(md.Type, md.StackTraceElement.Name, md.StackTraceElement.Signature,
		func(h *remotetest.Heap, _ remote.Handle, args []remote.Value) (remote.Value, error) {
			cont, _ := args[0].AsObject()
			return h.Ref(f.elements[cont]), nil
		})
	h.DefineStaticMethod(md.Type, md.SpilledVariables.Name, md.SpilledVariables.Signature,
		func(h *remotetest.Heap, _ remote.Handle, args []remote.Value) (remote.Value, error) {
			cont, _ := args[0].AsObject()
			return h.Ref(f.spilled[cont]), nil
		})

	f.define(p.TaskWrapper.Type, typeObject)
	h.DefineField(p.TaskWrapper.Type, p.TaskWrapper.ContinuationField)

	m := p.Mirrors
	f.define(m.Context)
	h.DefineMethod(m.Context, methodGet, sigGet,
		func(h *remotetest.Heap, this remote.Handle, args []remote.Value) (remote.Value, error) {
			key, _ := args[0].AsObject()
			return h.Ref(f.contexts[this][key]), nil
		})
	f.define(typeCombinedContext, typeObject, m.Context)

	f.define(m.NameElement, typeObject)
	h.DefineField(m.NameElement, "name")
	h.DefineMethod(m.NameElement, methodGetName, sigGetName, getter("name"))
	f.nameKey = h.NewObject(m.NameElement+"$Key", nil)
	h.SetStatic(m.NameElement, fieldKey, h.Ref(f.nameKey))

	f.define(m.IDElement, typeObject)
	h.DefineField(m.IDElement, "id")
	h.DefineMethod(m.IDElement, methodGetID, sigGetID, getter("id"))
	f.idKey = h.NewObject(m.IDElement+"$Key", nil)
	h.SetStatic(m.IDElement, fieldKey, h.Ref(f.idKey))

	f.define(m.JobElement)
	f.jobKey = h.NewObject(m.JobElement+"$Key", nil)
	h.SetStatic(m.JobElement, fieldKey, h.Ref(f.jobKey))

	f.define(typeJobSupport, typeObject, m.JobElement)
	h.DefineField(typeJobSupport, fieldState)
	f.define(typeAbstractCoroutine, typeJobSupport)
	h.DefineField(typeAbstractCoroutine, fieldContext)
	f.define(m.StandaloneCoroutine, typeAbstractCoroutine)

	f.define(m.ChildContinuation, typeObject)
	h.DefineField(m.ChildContinuation, fieldChild)
	f.define(m.CancellableContinuation, typeObject)
	h.DefineField(m.CancellableContinuation,
		fieldDecision, fieldDelegate, fieldResumeMode, fieldSubmissionTime, fieldContext)
	return f
}

func (f *fixture) define(name string, supers ...string) {
	if f.defined[name] {
		return
	}
	f.defined[name] = true
	f.heap.DefineType(name, supers...)
}

func (f *fixture) session(opts ...func(*config.Config)) *Session {
	cfg := config.Default()
	for _, opt := range opts {
		opt(cfg)
	}
	s := NewSession(f.heap, cfg)
	f.t.Cleanup(s.Close)
	return s
}

// element allocates a stack trace element.
func (f *fixture) element(class, method, file string, line int) remote.Handle {
	return f.heap.NewObject(f.profile.StackTraceElement.Type, map[string]remote.Value{
		"declaringClass": remote.String(class),
		"methodName":     remote.String(method),
		"fileName":       remote.String(file),
		"lineNumber":     remote.Int(int64(line)),
	})
}

// continuation allocates a compiled suspend function state machine of class
// whose completion is next.
func (f *fixture) continuation(class string, line int, next remote.Handle) remote.Handle {
	f.define(class, typeContinuationImpl)
	c := f.heap.NewObject(class, map[string]remote.Value{
		f.profile.CompletionField: f.heap.Ref(next),
	})
	f.elements[c] = f.element(class, "invokeSuspend", class+".kt", line)
	return c
}

// chain allocates one continuation per class. The first class is the
// innermost suspension; the last completes into terminal. Lines are 10, 20...
func (f *fixture) chain(terminal remote.Handle, classes ...string) []remote.Handle {
	nodes := make([]remote.Handle, len(classes))
	next := terminal
	for i := len(classes) - 1; i >= 0; i-- {
		nodes[i] = f.continuation(classes[i], 10*(i+1), next)
		next = nodes[i]
	}
	return nodes
}

// spill records captured variables as field/name pairs and stores values.
func (f *fixture) spill(cont remote.Handle, pairs ...string) {
	var elems []remote.Value
	for _, s := range pairs {
		elems = append(elems, remote.String(s))
	}
	f.spilled[cont] = f.heap.NewArray(typeStringArray, elems...)
	class := f.heap.Ref(cont).Type
	for i := 0; i+1 < len(pairs); i += 2 {
		f.heap.DefineField(class, pairs[i])
	}
}

// context allocates a coroutine context. An empty name or negative id leaves
// that element out.
func (f *fixture) context(name string, id int64) remote.Handle {
	ctx := f.heap.NewObject(typeCombinedContext, nil)
	elements := make(map[remote.Handle]remote.Handle)
	if name != "" {
		elements[f.nameKey] = f.heap.NewObject(f.profile.Mirrors.NameElement,
			map[string]remote.Value{"name": remote.String(name)})
	}
	if id >= 0 {
		elements[f.idKey] = f.heap.NewObject(f.profile.Mirrors.IDElement,
			map[string]remote.Value{"id": remote.Int(id)})
	}
	f.contexts[ctx] = elements
	return ctx
}

// coroutine allocates a standalone coroutine printing as
// StandaloneCoroutine{state}@addr.
func (f *fixture) coroutine(state, addr string, ctx remote.Handle) remote.Handle {
	co := f.heap.NewObject(f.profile.Mirrors.StandaloneCoroutine, map[string]remote.Value{
		"label":      remote.String(fmt.Sprintf("StandaloneCoroutine{%s}@%s", state, addr)),
		fieldContext: f.heap.Ref(ctx),
	})
	if elements, ok := f.contexts[ctx]; ok {
		elements[f.jobKey] = co
	}
	return co
}

// wrapper allocates a task wrapper holding root.
func (f *fixture) wrapper(root remote.Handle) remote.Handle {
	return f.heap.NewObject(f.profile.TaskWrapper.Type, map[string]remote.Value{
		f.profile.TaskWrapper.ContinuationField: f.heap.Ref(root),
	})
}
