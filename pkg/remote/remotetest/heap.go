// Package remotetest provides an in-memory remote.Client for tests. A Heap
// holds types with single or multiple supertypes, objects with named fields,
// arrays, static fields, Go-implemented methods and per-frame locals.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// MethodFunc implements a remote method. this is null for static methods.
type MethodFunc func(h *Heap, this remote.Handle, args []remote.Value) (remote.Value, error)

type method struct {
	desc remote.Method
	fn   MethodFunc
}

type typeInfo struct {
	name    string
	supers  []string
	fields  map[string]bool
	methods map[string]method
}

// Object is one heap object.
type Object struct {
	Type     string
	Fields   map[string]remote.Value
	Elements []remote.Value
	array    bool
}

type localKey struct {
	thread int64
	index  int
	name   string
}

// Heap is a fake paused target. It is safe for concurrent use and counts
// calls so tests can check pin balance and invocation serialization.
type Heap struct {
	mu      sync.Mutex
	types   map[string]*typeInfo
	objects map[remote.Handle]*Object
	statics map[string]remote.Value
	locals  map[localKey]remote.Value
	next    remote.Handle
	pins    map[remote.Handle]int

	// NoInstances makes the heap behave like a runtime without instance
	// enumeration.
	NoInstances bool

	PinCalls      int
	UnpinCalls    int
	Invocations   int
	InFlight      int
	MaxInFlight   int
	InstanceCalls int
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{
		types:   make(map[string]*typeInfo),
		objects: make(map[remote.Handle]*Object),
		statics: make(map[string]remote.Value),
		locals:  make(map[localKey]remote.Value),
		pins:    make(map[remote.Handle]int),
		next:    0x1000,
	}
}

// DefineType registers name with the given direct supertypes.
func (h *Heap) DefineType(name string, supers ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defineLocked(name, supers...)
}

func (h *Heap) defineLocked(name string, supers ...string) *typeInfo {
	t, ok := h.types[name]
	if !ok {
		t = &typeInfo{name: name, fields: make(map[string]bool), methods: make(map[string]method)}
		h.types[name] = t
	}
	t.supers = append(t.supers, supers...)
	return t
}

// DefineField declares an instance field on typeName.
func (h *Heap) DefineField(typeName string, names ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.defineLocked(typeName)
	for _, n := range names {
		t.fields[n] = true
	}
}

// DefineMethod declares an instance method on typeName.
func (h *Heap) DefineMethod(typeName, name, signature string, fn MethodFunc) {
	h.define(typeName, name, signature, false, fn)
}

// DefineStaticMethod declares a static method on typeName.
func (h *Heap) DefineStaticMethod(typeName, name, signature string, fn MethodFunc) {
	h.define(typeName, name, signature, true, fn)
}

func (h *Heap) define(typeName, name, signature string, static bool, fn MethodFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := h.defineLocked(typeName)
	t.methods[name+signature] = method{
		desc: remote.Method{Owner: typeName, Name: name, Signature: signature, Static: static},
		fn:   fn,
	}
}

// SetStatic stores a static field value.
func (h *Heap) SetStatic(typeName, field string, v remote.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defineLocked(typeName)
	h.statics[typeName+"."+field] = v
}

// NewObject allocates an object of typeName with the given field values.
func (h *Heap) NewObject(typeName string, fields map[string]remote.Value) remote.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defineLocked(typeName)
	obj := &Object{Type: typeName, Fields: make(map[string]remote.Value)}
	for k, v := range fields {
		obj.Fields[k] = v
	}
	return h.allocLocked(obj)
}

// NewArray allocates an array with the given elements.
func (h *Heap) NewArray(typeName string, elems ...remote.Value) remote.Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocLocked(&Object{Type: typeName, Elements: elems, array: true})
}

func (h *Heap) allocLocked(obj *Object) remote.Handle {
	h.next += 0x10
	h.objects[h.next] = obj
	return h.next
}

// Ref returns an object value for handle, with its runtime type filled in.
func (h *Heap) Ref(handle remote.Handle) remote.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[handle]
	if !ok {
		return remote.Null()
	}
	if obj.array {
		return remote.Array(handle, obj.Type)
	}
	return remote.Object(handle, obj.Type)
}

// Set stores a field value on an existing object.
func (h *Heap) Set(handle remote.Handle, field string, v remote.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[handle].Fields[field] = v
}

// Get returns a raw field value without any checks.
func (h *Heap) Get(handle remote.Handle, field string) remote.Value {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[handle]
	if !ok {
		return remote.Null()
	}
	return obj.Fields[field]
}

// SetLocal binds a local variable visible in frame index of thread.
func (h *Heap) SetLocal(thread int64, index int, name string, v remote.Value) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.locals[localKey{thread, index, name}] = v
}

// PinCount returns the current pin count of handle.
func (h *Heap) PinCount(handle remote.Handle) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pins[handle]
}

// Pinned returns the number of handles that are still pinned.
func (h *Heap) Pinned() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.pins {
		if c > 0 {
			n++
		}
	}
	return n
}

func (h *Heap) subtypeLocked(name, target string) bool {
	if name == target {
		return true
	}
	t, ok := h.types[name]
	if !ok {
		return false
	}
	for _, s := range t.supers {
		if h.subtypeLocked(s, target) {
			return true
		}
	}
	return false
}

// lookupLocked walks name and its supertypes depth first.
func (h *Heap) lookupLocked(name string, visit func(t *typeInfo) bool) bool {
	t, ok := h.types[name]
	if !ok {
		return false
	}
	if visit(t) {
		return true
	}
	for _, s := range t.supers {
		if h.lookupLocked(s, visit) {
			return true
		}
	}
	return false
}

func (h *Heap) objectLocked(handle remote.Handle) (*Object, error) {
	if handle.IsNull() {
		return nil, remote.ErrNullHandle
	}
	obj, ok := h.objects[handle]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", handle, remote.ErrNotFound)
	}
	return obj, nil
}

// TypeOf implements remote.Client.
func (h *Heap) TypeOf(_ context.Context, handle remote.Handle) (remote.Type, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.objectLocked(handle)
	if err != nil {
		return remote.Type{}, err
	}
	return remote.Type{Name: obj.Type}, nil
}

// FindType implements remote.Client.
func (h *Heap) FindType(_ context.Context, name string) (remote.Type, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.types[name]; !ok {
		return remote.Type{}, fmt.Errorf("type %s: %w", name, remote.ErrNotFound)
	}
	return remote.Type{Name: name}, nil
}

// IsSubtype implements remote.Client.
func (h *Heap) IsSubtype(_ context.Context, t remote.Type, name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subtypeLocked(t.Name, name), nil
}

// Field implements remote.Client.
func (h *Heap) Field(_ context.Context, t remote.Type, name string) (remote.Field, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var found remote.Field
	ok := h.lookupLocked(t.Name, func(ti *typeInfo) bool {
		if ti.fields[name] {
			found = remote.Field{Owner: ti.name, Name: name}
			return true
		}
		if _, static := h.statics[ti.name+"."+name]; static {
			found = remote.Field{Owner: ti.name, Name: name, Static: true}
			return true
		}
		return false
	})
	if !ok {
		return remote.Field{}, fmt.Errorf("field %s.%s: %w", t.Name, name, remote.ErrNotFound)
	}
	return found, nil
}

// Method implements remote.Client.
func (h *Heap) Method(_ context.Context, t remote.Type, name, signature string) (remote.Method, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var found remote.Method
	ok := h.lookupLocked(t.Name, func(ti *typeInfo) bool {
		if m, ok := ti.methods[name+signature]; ok {
			found = m.desc
			return true
		}
		return false
	})
	if !ok {
		return remote.Method{}, fmt.Errorf("method %s.%s%s: %w", t.Name, name, signature, remote.ErrNotFound)
	}
	return found, nil
}

// ReadField implements remote.Client.
func (h *Heap) ReadField(_ context.Context, handle remote.Handle, f remote.Field) (remote.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.objectLocked(handle)
	if err != nil {
		return remote.Value{}, err
	}
	if !h.subtypeLocked(obj.Type, f.Owner) {
		return remote.Value{}, fmt.Errorf("%s has no field %s.%s", obj.Type, f.Owner, f.Name)
	}
	v, ok := obj.Fields[f.Name]
	if !ok {
		return remote.Null(), nil
	}
	return v, nil
}

// ReadStatic implements remote.Client.
func (h *Heap) ReadStatic(_ context.Context, f remote.Field) (remote.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.statics[f.Owner+"."+f.Name]
	if !ok {
		return remote.Value{}, fmt.Errorf("static %s.%s: %w", f.Owner, f.Name, remote.ErrNotFound)
	}
	return v, nil
}

// ReadArray implements remote.Client.
func (h *Heap) ReadArray(_ context.Context, handle remote.Handle) ([]remote.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.objectLocked(handle)
	if err != nil {
		return nil, err
	}
	if !obj.array {
		return nil, fmt.Errorf("%s is not an array", obj.Type)
	}
	return append([]remote.Value(nil), obj.Elements...), nil
}

// Invoke implements remote.Client with virtual dispatch on the receiver's
// runtime type.
func (h *Heap) Invoke(_ context.Context, handle remote.Handle, m remote.Method, args ...remote.Value) (remote.Value, error) {
	h.mu.Lock()
	obj, err := h.objectLocked(handle)
	if err != nil {
		h.mu.Unlock()
		return remote.Value{}, err
	}
	var impl method
	ok := h.lookupLocked(obj.Type, func(ti *typeInfo) bool {
		if mm, ok := ti.methods[m.Name+m.Signature]; ok && !mm.desc.Static {
			impl = mm
			return true
		}
		return false
	})
	h.mu.Unlock()
	if !ok {
		return remote.Value{}, fmt.Errorf("no method %s on %s: %w", m, obj.Type, remote.ErrNotFound)
	}
	return h.call(impl.fn, handle, args)
}

// InvokeStatic implements remote.Client.
func (h *Heap) InvokeStatic(_ context.Context, m remote.Method, args ...remote.Value) (remote.Value, error) {
	h.mu.Lock()
	t, ok := h.types[m.Owner]
	var impl method
	if ok {
		impl, ok = t.methods[m.Name+m.Signature]
	}
	h.mu.Unlock()
	if !ok || !impl.desc.Static {
		return remote.Value{}, fmt.Errorf("no static method %s: %w", m, remote.ErrNotFound)
	}
	return h.call(impl.fn, 0, args)
}

func (h *Heap) call(fn MethodFunc, this remote.Handle, args []remote.Value) (remote.Value, error) {
	h.mu.Lock()
	h.Invocations++
	h.InFlight++
	if h.InFlight > h.MaxInFlight {
		h.MaxInFlight = h.InFlight
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.InFlight--
		h.mu.Unlock()
	}()
	return fn(h, this, args)
}

// CanEnumerateInstances implements remote.Client.
func (h *Heap) CanEnumerateInstances() bool { return !h.NoInstances }

// Instances implements remote.Client. Results are ordered by handle.
func (h *Heap) Instances(_ context.Context, t remote.Type, max int) ([]remote.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.InstanceCalls++
	if h.NoInstances {
		return nil, remote.ErrUnsupported
	}
	var out []remote.Handle
	for handle, obj := range h.objects {
		if obj.Type == t.Name {
			out = append(out, handle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// LocalVariable implements remote.Client.
func (h *Heap) LocalVariable(_ context.Context, f remote.Frame, name string) (remote.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.locals[localKey{f.Thread, f.Index, name}]
	if !ok {
		return remote.Value{}, fmt.Errorf("local %s in frame %d: %w", name, f.Index, remote.ErrNotFound)
	}
	return v, nil
}

// Pin implements remote.Client.
func (h *Heap) Pin(_ context.Context, handle remote.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.objectLocked(handle); err != nil {
		return err
	}
	h.PinCalls++
	h.pins[handle]++
	return nil
}

// Unpin implements remote.Client. Unpinning a handle that is not pinned is an
// error, which lets tests catch double releases.
func (h *Heap) Unpin(_ context.Context, handle remote.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pins[handle] == 0 {
		return fmt.Errorf("unpin %s: not pinned", handle)
	}
	h.UnpinCalls++
	h.pins[handle]--
	return nil
}

var _ remote.Client = (*Heap)(nil)
