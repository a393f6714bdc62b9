// Package delve implements remote.Client for Go targets paused under a Delve
// headless server.
//
// Handles are object addresses. Delve has no type introspection over RPC, so
// the client learns struct layouts from the values it loads and answers
// subtype questions through struct embedding. Go has no statics; a static
// field of a type is the package-level variable of the same name in the
// type's package. Delve cannot enumerate heap objects.
package delve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-delve/delve/service/api"
	"github.com/go-delve/delve/service/rpc2"

	"github.com/willibrandon/coroscope/pkg/logging"
	"github.com/willibrandon/coroscope/pkg/remote"
)

var loadConfig = api.LoadConfig{
	FollowPointers:     true,
	MaxVariableRecurse: 2,
	MaxStringLen:       512,
	MaxArrayValues:     256,
	MaxStructFields:    -1,
}

type member struct {
	name string
	typ  string
}

func (m member) embedded() bool { return m.name == shortName(m.typ) }

// Client talks to one dlv server. Remote methods run on the selected
// goroutine, which must be stopped at a point where Delve can inject calls.
type Client struct {
	rpc       *rpc2.RPCClient
	cmd       *exec.Cmd
	goroutine int64
	log       *slog.Logger

	mu      sync.Mutex
	objects map[remote.Handle]string
	arrays  map[remote.Handle][]remote.Value
	layouts map[string][]member
	pins    map[remote.Handle]int
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithGoroutine selects the goroutine remote methods run on. By default the
// goroutine the target stopped on is used.
func WithGoroutine(id int64) Option {
	return func(c *Client) { c.goroutine = id }
}

func newClient(opts ...Option) *Client {
	c := &Client{
		log:     logging.Discard(),
		objects: make(map[remote.Handle]string),
		arrays:  make(map[remote.Handle][]remote.Value),
		layouts: make(map[string][]member),
		pins:    make(map[remote.Handle]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect attaches to a running dlv server at addr.
func Connect(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to delve at %s: %w", addr, err)
	}
	c := newClient(opts...)
	if err := c.attach(rpc2.NewClientFromConn(conn)); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) attach(rpc *rpc2.RPCClient) error {
	c.rpc = rpc
	state, err := rpc.GetState()
	if err != nil {
		return fmt.Errorf("reading delve state: %w", err)
	}
	if state.Exited {
		return fmt.Errorf("target exited with status %d", state.ExitStatus)
	}
	if c.goroutine == 0 {
		switch {
		case state.SelectedGoroutine != nil:
			c.goroutine = state.SelectedGoroutine.ID
		case state.CurrentThread != nil:
			c.goroutine = state.CurrentThread.GoroutineID
		}
	}
	c.log.Debug("attached to delve", "goroutine", c.goroutine, "running", state.Running)
	return nil
}

// Goroutine returns the goroutine remote methods run on.
func (c *Client) Goroutine() int64 { return c.goroutine }

// Goroutines lists the target's goroutines.
func (c *Client) Goroutines(ctx context.Context) ([]*api.Goroutine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	goroutines, _, err := c.rpc.ListGoroutines(0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing goroutines: %w", err)
	}
	return goroutines, nil
}

// Threads returns the ids of the target's goroutines.
func (c *Client) Threads(ctx context.Context) ([]int64, error) {
	goroutines, err := c.Goroutines(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(goroutines))
	for i, g := range goroutines {
		ids[i] = g.ID
	}
	return ids, nil
}

// Frames returns up to depth frames of goroutine gid, innermost first.
func (c *Client) Frames(ctx context.Context, gid int64, depth int) ([]remote.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stack, err := c.rpc.Stacktrace(gid, depth, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("stacktrace of goroutine %d: %w", gid, err)
	}
	frames := make([]remote.Frame, len(stack))
	for i, sf := range stack {
		frames[i] = remote.Frame{Thread: gid, Index: i, File: sf.File, Line: sf.Line}
		if sf.Function != nil {
			owner, name := splitFunction(sf.Function.Name())
			frames[i].Method = remote.Method{Owner: owner, Name: name}
		}
	}
	return frames, nil
}

func (c *Client) eval(ctx context.Context, scope api.EvalScope, expr string) (*api.Variable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := c.rpc.EvalVariable(scope, expr, loadConfig)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", expr, err)
	}
	if v.Unreadable != "" {
		return nil, fmt.Errorf("evaluating %s: %s", expr, v.Unreadable)
	}
	return v, nil
}

func (c *Client) scope() api.EvalScope {
	return api.EvalScope{GoroutineID: c.goroutine, Frame: 0}
}

func (c *Client) typeOf(h remote.Handle) (string, error) {
	if h.IsNull() {
		return "", remote.ErrNullHandle
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	typ, ok := c.objects[h]
	if !ok {
		return "", fmt.Errorf("object %s: %w", h, remote.ErrNotFound)
	}
	return typ, nil
}

// TypeOf implements remote.Client.
func (c *Client) TypeOf(_ context.Context, h remote.Handle) (remote.Type, error) {
	typ, err := c.typeOf(h)
	if err != nil {
		return remote.Type{}, err
	}
	return remote.Type{Name: typ}, nil
}

// FindType implements remote.Client.
func (c *Client) FindType(ctx context.Context, name string) (remote.Type, error) {
	if err := ctx.Err(); err != nil {
		return remote.Type{}, err
	}
	types, err := c.rpc.ListTypes("^" + regexp.QuoteMeta(name) + "$")
	if err != nil {
		return remote.Type{}, fmt.Errorf("listing types: %w", err)
	}
	for _, t := range types {
		if t == name {
			return remote.Type{Name: name}, nil
		}
	}
	return remote.Type{}, fmt.Errorf("type %s: %w", name, remote.ErrNotFound)
}

func (c *Client) layout(typ string) ([]member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	members, ok := c.layouts[typ]
	if !ok {
		return nil, fmt.Errorf("layout of %s not loaded yet: %w", typ, remote.ErrUnsupported)
	}
	return members, nil
}

// IsSubtype implements remote.Client. A struct is a subtype of every type it
// embeds, directly or through other embedded structs.
func (c *Client) IsSubtype(_ context.Context, t remote.Type, name string) (bool, error) {
	return c.embeds(t.Name, name, 0)
}

func (c *Client) embeds(typ, target string, depth int) (bool, error) {
	if typ == target {
		return true, nil
	}
	if depth > 16 {
		return false, nil
	}
	members, err := c.layout(typ)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if !m.embedded() {
			continue
		}
		ok, err := c.embeds(strings.TrimPrefix(m.typ, "*"), target, depth+1)
		if err != nil {
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Field implements remote.Client. Promoted fields of embedded structs are
// found on the outer type.
func (c *Client) Field(ctx context.Context, t remote.Type, name string) (remote.Field, error) {
	if owner, ok := c.findMember(t.Name, name, 0); ok {
		return remote.Field{Owner: owner, Name: name}, nil
	}
	pkg, _ := splitQualified(t.Name)
	if pkg == "" {
		return remote.Field{}, fmt.Errorf("field %s.%s: %w", t.Name, name, remote.ErrNotFound)
	}
	if _, err := c.eval(ctx, c.scope(), qualify(pkg+"."+name)); err != nil {
		return remote.Field{}, fmt.Errorf("field %s.%s: %w", t.Name, name, errors.Join(remote.ErrNotFound, err))
	}
	return remote.Field{Owner: t.Name, Name: name, Static: true}, nil
}

func (c *Client) findMember(typ, name string, depth int) (string, bool) {
	members, err := c.layout(typ)
	if err != nil || depth > 16 {
		return "", false
	}
	for _, m := range members {
		if m.name == name {
			return typ, true
		}
	}
	for _, m := range members {
		if m.embedded() {
			if owner, ok := c.findMember(strings.TrimPrefix(m.typ, "*"), name, depth+1); ok {
				return owner, true
			}
		}
	}
	return "", false
}

// Method implements remote.Client. Go has no overloading, so the signature is
// carried through but not matched. A package-level function of the type's
// package resolves as a static method.
func (c *Client) Method(ctx context.Context, t remote.Type, name, signature string) (remote.Method, error) {
	if err := ctx.Err(); err != nil {
		return remote.Method{}, err
	}
	pkg, local := splitQualified(t.Name)
	candidates := []struct {
		symbol string
		static bool
	}{
		{pkg + ".(*" + local + ")." + name, false},
		{pkg + "." + local + "." + name, false},
		{pkg + "." + name, true},
	}
	for _, cand := range candidates {
		fns, err := c.rpc.ListFunctions("^"+regexp.QuoteMeta(cand.symbol)+"$", 0)
		if err != nil {
			return remote.Method{}, fmt.Errorf("listing functions: %w", err)
		}
		if len(fns) > 0 {
			return remote.Method{Owner: t.Name, Name: name, Signature: signature, Static: cand.static}, nil
		}
	}
	return remote.Method{}, fmt.Errorf("method %s.%s: %w", t.Name, name, remote.ErrNotFound)
}

// ReadField implements remote.Client.
func (c *Client) ReadField(ctx context.Context, h remote.Handle, f remote.Field) (remote.Value, error) {
	typ, err := c.typeOf(h)
	if err != nil {
		return remote.Value{}, err
	}
	v, err := c.eval(ctx, c.scope(), objectExpr(typ, h)+"."+f.Name)
	if err != nil {
		return remote.Value{}, err
	}
	return c.convert(v)
}

// ReadStatic implements remote.Client.
func (c *Client) ReadStatic(ctx context.Context, f remote.Field) (remote.Value, error) {
	pkg, _ := splitQualified(f.Owner)
	v, err := c.eval(ctx, c.scope(), qualify(pkg+"."+f.Name))
	if err != nil {
		return remote.Value{}, err
	}
	return c.convert(v)
}

// ReadArray implements remote.Client. Elements are the ones loaded along with
// the slice value.
func (c *Client) ReadArray(_ context.Context, h remote.Handle) ([]remote.Value, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elems, ok := c.arrays[h]
	if !ok {
		return nil, fmt.Errorf("array %s: %w", h, remote.ErrNotFound)
	}
	return append([]remote.Value(nil), elems...), nil
}

// Invoke implements remote.Client by injecting a call on the selected
// goroutine.
func (c *Client) Invoke(ctx context.Context, h remote.Handle, m remote.Method, args ...remote.Value) (remote.Value, error) {
	typ, err := c.typeOf(h)
	if err != nil {
		return remote.Value{}, err
	}
	return c.call(ctx, objectExpr(typ, h)+"."+m.Name, args)
}

// InvokeStatic implements remote.Client.
func (c *Client) InvokeStatic(ctx context.Context, m remote.Method, args ...remote.Value) (remote.Value, error) {
	pkg, _ := splitQualified(m.Owner)
	return c.call(ctx, qualify(pkg+"."+m.Name), args)
}

func (c *Client) call(ctx context.Context, fn string, args []remote.Value) (remote.Value, error) {
	if err := ctx.Err(); err != nil {
		return remote.Value{}, err
	}
	list, err := argsExpr(args)
	if err != nil {
		return remote.Value{}, err
	}
	expr := fn + "(" + list + ")"
	state, err := c.rpc.Call(c.goroutine, expr, false)
	if err != nil {
		return remote.Value{}, fmt.Errorf("calling %s: %w", expr, err)
	}
	if state.Err != nil {
		return remote.Value{}, fmt.Errorf("calling %s: %w", expr, state.Err)
	}
	if state.CurrentThread == nil || len(state.CurrentThread.ReturnValues) == 0 {
		return remote.Null(), nil
	}
	ret := state.CurrentThread.ReturnValues[0]
	if ret.Unreadable != "" {
		return remote.Value{}, fmt.Errorf("calling %s: %s", expr, ret.Unreadable)
	}
	return c.convert(&ret)
}

// CanEnumerateInstances implements remote.Client. Delve cannot walk the heap.
func (c *Client) CanEnumerateInstances() bool { return false }

// Instances implements remote.Client.
func (c *Client) Instances(context.Context, remote.Type, int) ([]remote.Handle, error) {
	return nil, remote.ErrUnsupported
}

// LocalVariable implements remote.Client. f.Thread is a goroutine id.
func (c *Client) LocalVariable(ctx context.Context, f remote.Frame, name string) (remote.Value, error) {
	v, err := c.eval(ctx, api.EvalScope{GoroutineID: f.Thread, Frame: f.Index}, name)
	if err != nil {
		return remote.Value{}, errors.Join(remote.ErrNotFound, err)
	}
	return c.convert(v)
}

// Pin implements remote.Client. The target does not move or collect objects
// while stopped, so pins only track balance.
func (c *Client) Pin(_ context.Context, h remote.Handle) error {
	if _, err := c.typeOf(h); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[h]++
	return nil
}

// Unpin implements remote.Client.
func (c *Client) Unpin(_ context.Context, h remote.Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pins[h] == 0 {
		return fmt.Errorf("unpin %s: not pinned", h)
	}
	c.pins[h]--
	return nil
}

// convert turns a loaded variable into a Value, remembering the type and
// layout of every object it references.
func (c *Client) convert(v *api.Variable) (remote.Value, error) {
	switch v.Kind {
	case reflect.Ptr:
		if len(v.Children) == 0 || v.Children[0].Addr == 0 {
			return remote.Null(), nil
		}
		target := &v.Children[0]
		c.record(remote.Handle(target.Addr), target)
		return remote.Object(remote.Handle(target.Addr), target.Type), nil
	case reflect.Interface:
		if len(v.Children) == 0 || v.Children[0].Kind == reflect.Invalid {
			return remote.Null(), nil
		}
		return c.convert(&v.Children[0])
	case reflect.Struct:
		if v.Addr == 0 {
			return remote.Value{}, fmt.Errorf("%s value has no address: %w", v.Type, remote.ErrUnsupported)
		}
		c.record(remote.Handle(v.Addr), v)
		return remote.Object(remote.Handle(v.Addr), v.Type), nil
	case reflect.Slice, reflect.Array:
		h := remote.Handle(v.Base)
		if v.Kind == reflect.Array {
			h = remote.Handle(v.Addr)
		}
		if h.IsNull() {
			return remote.Null(), nil
		}
		elems := make([]remote.Value, 0, len(v.Children))
		for i := range v.Children {
			e, err := c.convert(&v.Children[i])
			if err != nil {
				return remote.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, e)
		}
		c.mu.Lock()
		c.arrays[h] = elems
		c.mu.Unlock()
		return remote.Array(h, v.Type), nil
	case reflect.String:
		return remote.String(v.Value), nil
	case reflect.Bool:
		return remote.Bool(v.Value == "true"), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return remote.Value{}, fmt.Errorf("parsing %s value %q: %w", v.Type, v.Value, err)
		}
		return remote.Int(i), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u, err := strconv.ParseUint(v.Value, 10, 64)
		if err != nil {
			return remote.Value{}, fmt.Errorf("parsing %s value %q: %w", v.Type, v.Value, err)
		}
		return remote.Int(int64(u)), nil
	default:
		return remote.Value{}, fmt.Errorf("%s of kind %s: %w", v.Type, v.Kind, remote.ErrUnsupported)
	}
}

// record remembers the runtime type of h and the layout of struct values,
// including the layouts of embedded structs.
func (c *Client) record(h remote.Handle, v *api.Variable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[h] = v.Type
	c.recordLayoutLocked(v)
}

func (c *Client) recordLayoutLocked(v *api.Variable) {
	if v.Kind != reflect.Struct || len(v.Children) == 0 {
		return
	}
	members := make([]member, len(v.Children))
	for i := range v.Children {
		child := &v.Children[i]
		members[i] = member{name: child.Name, typ: child.Type}
		if members[i].embedded() {
			if child.Kind == reflect.Ptr && len(child.Children) > 0 {
				c.recordLayoutLocked(&child.Children[0])
			} else {
				c.recordLayoutLocked(child)
			}
		}
	}
	c.layouts[v.Type] = members
}

var _ remote.Client = (*Client)(nil)
