package coroutine

import (
	"context"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// StackEntry is one frame of a CombinedStack: exactly one of Native and
// Synthetic is set.
type StackEntry struct {
	Native    *remote.Frame   `json:"native,omitempty"`
	Synthetic *SyntheticFrame `json:"synthetic,omitempty"`
}

// CombinedStack is a thread's native frames with the reconstructed async
// frames spliced in after the entry frame, innermost first.
type CombinedStack struct {
	Entries  []StackEntry  `json:"entries"`
	Boundary Boundary      `json:"boundary"`
	Root     remote.Handle `json:"root"`
	// Truncated is set when the chain walk hit the depth limit.
	Truncated bool `json:"truncated,omitempty"`
}

// Synthetic returns the reconstructed frames of the stack in order.
func (c *CombinedStack) Synthetic() []SyntheticFrame {
	var out []SyntheticFrame
	for _, e := range c.Entries {
		if e.Synthetic != nil {
			out = append(out, *e.Synthetic)
		}
	}
	return out
}

// ReconstructStack splices the logical async stack into a paused thread's
// native frames, given innermost first. It returns nil when the frames have
// no async boundary or the chain root cannot be read.
func (s *Session) ReconstructStack(ctx context.Context, frames []remote.Frame) (*CombinedStack, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	b, ok := s.FindBoundary(ctx, frames)
	if !ok {
		return nil, nil
	}

	pins := remote.NewPins(s.client)
	defer s.release(ctx, pins)

	v, err := s.client.LocalVariable(ctx, frames[b.Resume], s.profile.CompletionLocal)
	if err != nil {
		s.log.Debug("completion local unavailable", "frame", b.Resume, "error", err)
		return nil, nil
	}
	root, ok := v.AsObject()
	if !ok {
		return nil, nil
	}
	if err := pins.Pin(ctx, root); err != nil {
		s.log.Debug("pin failed", "handle", root, "error", err)
	}
	chain := s.walk(ctx, pins, root)

	stack := &CombinedStack{
		Entries:   make([]StackEntry, 0, len(frames)+len(chain.Frames)),
		Boundary:  b,
		Root:      root,
		Truncated: chain.Truncated,
	}
	for i := 0; i <= b.Entry; i++ {
		stack.Entries = append(stack.Entries, StackEntry{Native: &frames[i]})
	}
	for i := range chain.Frames {
		stack.Entries = append(stack.Entries, StackEntry{Synthetic: &chain.Frames[i]})
	}
	for i := b.Resume; i < len(frames); i++ {
		stack.Entries = append(stack.Entries, StackEntry{Native: &frames[i]})
	}
	return stack, nil
}
