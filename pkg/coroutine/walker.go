package coroutine

import (
	"context"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// ContinuationNode is one link of a suspended task's chain. It is only valid
// for the pause it was read in.
type ContinuationNode struct {
	Handle remote.Handle `json:"handle"`
	Type   remote.Type   `json:"type"`
}

// Chain is the result of walking continuation links from a root.
type Chain struct {
	// Frames holds one frame per node with a known location, innermost
	// suspension first.
	Frames []SyntheticFrame
	// Nodes holds every chain node visited, in walk order.
	Nodes []ContinuationNode
	// Terminal is the first completion outside the chain family, usually the
	// task's coroutine object. Null if the chain ended on a null link.
	Terminal remote.Handle
	// Truncated is set when the walk hit the configured depth.
	Truncated bool
}

type baseContinuation struct {
	typ        remote.Type
	completion remote.Field
}

// resolveBase finds the base continuation type and its completion field. A
// nil result means the target has no chain nodes at all.
func (s *Session) resolveBase(ctx context.Context) *baseContinuation {
	base, err := s.base.get(func() (*baseContinuation, error) {
		t, ok, err := s.findType(ctx, s.profile.BaseContinuation)
		if err != nil || !ok {
			return nil, err
		}
		f, err := s.client.Field(ctx, t, s.profile.CompletionField)
		if err != nil {
			s.log.Debug("completion field missing", "type", t.Name, "error", err)
			return nil, nil
		}
		return &baseContinuation{typ: t, completion: f}, nil
	})
	if err != nil {
		s.log.Debug("base continuation lookup failed", "error", err)
		return nil
	}
	return base
}

// Walk follows completion links from root and extracts a frame for each
// chain node. Handles pinned during the walk are released before it returns.
func (s *Session) Walk(ctx context.Context, root remote.Handle) (Chain, error) {
	if err := s.check(); err != nil {
		return Chain{}, err
	}
	pins := remote.NewPins(s.client)
	defer s.release(ctx, pins)
	return s.walk(ctx, pins, root), nil
}

func (s *Session) walk(ctx context.Context, pins *remote.Pins, root remote.Handle) Chain {
	var chain Chain
	base := s.resolveBase(ctx)
	if base == nil {
		chain.Terminal = root
		return chain
	}

	current := root
	for !current.IsNull() {
		t, err := s.client.TypeOf(ctx, current)
		if err != nil {
			s.log.Debug("type lookup failed", "handle", current, "error", err)
			break
		}
		if !s.classifier.IsChainNode(ctx, t) {
			chain.Terminal = current
			break
		}
		if len(chain.Nodes) >= s.limits.MaxChainDepth {
			chain.Truncated = true
			s.reportIntegrity("continuation chain exceeds depth limit",
				"root", root, "limit", s.limits.MaxChainDepth, "frames", len(chain.Frames))
			break
		}
		if err := pins.Pin(ctx, current); err != nil {
			s.log.Debug("pin failed", "handle", current, "error", err)
		}

		node := ContinuationNode{Handle: current, Type: t}
		chain.Nodes = append(chain.Nodes, node)
		if frame := s.extract(ctx, pins, node); frame != nil {
			chain.Frames = append(chain.Frames, *frame)
		}

		next, err := s.client.ReadField(ctx, current, base.completion)
		if err != nil {
			s.log.Debug("completion read failed", "handle", current, "error", err)
			break
		}
		current, _ = next.AsObject()
	}
	return chain
}

func (s *Session) release(ctx context.Context, pins *remote.Pins) {
	if err := pins.Release(ctx); err != nil {
		s.log.Warn("releasing pinned handles", "error", err)
	}
}
