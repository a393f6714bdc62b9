// Package remote defines the primitive object protocol the async stack
// reconstruction runs on top of: type lookup, field reads, method invocation,
// heap enumeration and reference pinning inside an already paused target.
//
// Nothing in this package talks to a process. Implementations live in
// subpackages (delve) or in tests (remotetest).
package remote

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a type, field, method or local is absent.
	ErrNotFound = errors.New("remote: not found")
	// ErrUnsupported is returned when the target lacks a capability.
	ErrUnsupported = errors.New("remote: capability not supported")
	// ErrNullHandle is returned when an operation needs an object but got null.
	ErrNullHandle = errors.New("remote: null handle")
)

// Handle identifies one object living in the paused target. The zero value is
// the null reference. A Handle is only meaningful for the pause it came from.
type Handle uint64

// IsNull reports whether h is the null reference.
func (h Handle) IsNull() bool { return h == 0 }

// String formats h the way object addresses are printed by most runtimes.
func (h Handle) String() string { return fmt.Sprintf("%x", uint64(h)) }

// Type describes a remote type by its qualified name.
type Type struct {
	Name string `json:"name"`
}

// Field describes a field declared on Owner. Static fields live on the type,
// not on an instance.
type Field struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Static bool   `json:"static,omitempty"`
}

// Method describes a method declared on Owner. Signature is the runtime's
// descriptor string and may be empty for runtimes without one.
type Method struct {
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
	Static    bool   `json:"static,omitempty"`
}

// String returns Owner.Name followed by the signature, if any.
func (m Method) String() string {
	return m.Owner + "." + m.Name + m.Signature
}

// Frame is one native frame of a paused thread. Index 0 is the innermost
// (most recently called) frame.
type Frame struct {
	Thread int64  `json:"thread"`
	Index  int    `json:"index"`
	Method Method `json:"method"`
	File   string `json:"file,omitempty"`
	Line   int    `json:"line"`
}

// Client is the primitive protocol. All calls are blocking; callers must not
// issue them concurrently on the same pause.
type Client interface {
	// TypeOf returns the runtime type of the object h refers to.
	TypeOf(ctx context.Context, h Handle) (Type, error)
	// FindType resolves a loaded type by qualified name. ErrNotFound if absent.
	FindType(ctx context.Context, name string) (Type, error)
	// IsSubtype reports whether t is name or inherits from it.
	IsSubtype(ctx context.Context, t Type, name string) (bool, error)

	// Field resolves a field visible on t, including inherited ones.
	Field(ctx context.Context, t Type, name string) (Field, error)
	// Method resolves a method visible on t by name and signature.
	Method(ctx context.Context, t Type, name, signature string) (Method, error)

	ReadField(ctx context.Context, h Handle, f Field) (Value, error)
	ReadStatic(ctx context.Context, f Field) (Value, error)
	// ReadArray returns the elements of the array object h.
	ReadArray(ctx context.Context, h Handle) ([]Value, error)

	// Invoke calls m on h. It may transiently resume the target thread.
	Invoke(ctx context.Context, h Handle, m Method, args ...Value) (Value, error)
	InvokeStatic(ctx context.Context, m Method, args ...Value) (Value, error)

	// CanEnumerateInstances reports whether Instances is supported.
	CanEnumerateInstances() bool
	// Instances lists at most max live instances of exactly t.
	Instances(ctx context.Context, t Type, max int) ([]Handle, error)

	// LocalVariable reads a named local binding visible in frame f.
	LocalVariable(ctx context.Context, f Frame, name string) (Value, error)

	// Pin asks the target's collector to keep h alive until Unpin.
	Pin(ctx context.Context, h Handle) error
	Unpin(ctx context.Context, h Handle) error
}
