package coroutine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// serialClient admits one remote call at a time. Remote invocations may
// resume the target thread, so they must never overlap on one pause. A call
// whose context ends before it is admitted is not issued at all; a call
// already in flight always runs to completion.
type serialClient struct {
	next remote.Client
	sem  *semaphore.Weighted
}

func newSerialClient(next remote.Client) *serialClient {
	return &serialClient{next: next, sem: semaphore.NewWeighted(1)}
}

func (c *serialClient) acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *serialClient) release() { c.sem.Release(1) }

func (c *serialClient) TypeOf(ctx context.Context, h remote.Handle) (remote.Type, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Type{}, err
	}
	defer c.release()
	return c.next.TypeOf(ctx, h)
}

func (c *serialClient) FindType(ctx context.Context, name string) (remote.Type, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Type{}, err
	}
	defer c.release()
	return c.next.FindType(ctx, name)
}

func (c *serialClient) IsSubtype(ctx context.Context, t remote.Type, name string) (bool, error) {
	if err := c.acquire(ctx); err != nil {
		return false, err
	}
	defer c.release()
	return c.next.IsSubtype(ctx, t, name)
}

func (c *serialClient) Field(ctx context.Context, t remote.Type, name string) (remote.Field, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Field{}, err
	}
	defer c.release()
	return c.next.Field(ctx, t, name)
}

func (c *serialClient) Method(ctx context.Context, t remote.Type, name, signature string) (remote.Method, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Method{}, err
	}
	defer c.release()
	return c.next.Method(ctx, t, name, signature)
}

func (c *serialClient) ReadField(ctx context.Context, h remote.Handle, f remote.Field) (remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Value{}, err
	}
	defer c.release()
	return c.next.ReadField(ctx, h, f)
}

func (c *serialClient) ReadStatic(ctx context.Context, f remote.Field) (remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Value{}, err
	}
	defer c.release()
	return c.next.ReadStatic(ctx, f)
}

func (c *serialClient) ReadArray(ctx context.Context, h remote.Handle) ([]remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.next.ReadArray(ctx, h)
}

func (c *serialClient) Invoke(ctx context.Context, h remote.Handle, m remote.Method, args ...remote.Value) (remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Value{}, err
	}
	defer c.release()
	return c.next.Invoke(ctx, h, m, args...)
}

func (c *serialClient) InvokeStatic(ctx context.Context, m remote.Method, args ...remote.Value) (remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Value{}, err
	}
	defer c.release()
	return c.next.InvokeStatic(ctx, m, args...)
}

func (c *serialClient) CanEnumerateInstances() bool { return c.next.CanEnumerateInstances() }

func (c *serialClient) Instances(ctx context.Context, t remote.Type, max int) ([]remote.Handle, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()
	return c.next.Instances(ctx, t, max)
}

func (c *serialClient) LocalVariable(ctx context.Context, f remote.Frame, name string) (remote.Value, error) {
	if err := c.acquire(ctx); err != nil {
		return remote.Value{}, err
	}
	defer c.release()
	return c.next.LocalVariable(ctx, f, name)
}

func (c *serialClient) Pin(ctx context.Context, h remote.Handle) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.next.Pin(ctx, h)
}

func (c *serialClient) Unpin(ctx context.Context, h remote.Handle) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.next.Unpin(ctx, h)
}
