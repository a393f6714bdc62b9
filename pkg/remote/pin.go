package remote

import (
	"context"
	"errors"
	"fmt"
)

// Pins tracks the handles pinned during one multi-step remote interaction.
// Each handle is pinned at most once per scope and Release unpins every one of
// them exactly once. Typical use:
//
//	pins := remote.NewPins(client)
//	defer pins.Release(ctx)
type Pins struct {
	client Client
	held   []Handle
	seen   map[Handle]struct{}
}

// NewPins returns an empty pin scope over client.
func NewPins(client Client) *Pins {
	return &Pins{client: client, seen: make(map[Handle]struct{})}
}

// Pin pins h unless it is null or already held by this scope.
func (p *Pins) Pin(ctx context.Context, h Handle) error {
	if h.IsNull() {
		return nil
	}
	if _, ok := p.seen[h]; ok {
		return nil
	}
	if err := p.client.Pin(ctx, h); err != nil {
		return fmt.Errorf("pin %s: %w", h, err)
	}
	p.seen[h] = struct{}{}
	p.held = append(p.held, h)
	return nil
}

// Len returns the number of handles currently held.
func (p *Pins) Len() int { return len(p.held) }

// Release unpins every held handle, most recent first. It keeps going after a
// failed unpin and reports all failures together. Calling it twice is a no-op.
func (p *Pins) Release(ctx context.Context) error {
	// Release runs on every exit path, including cancelled ones.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(p.held) - 1; i >= 0; i-- {
		h := p.held[i]
		if err := p.client.Unpin(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("unpin %s: %w", h, err))
		}
	}
	p.held = nil
	p.seen = make(map[Handle]struct{})
	return errors.Join(errs...)
}
