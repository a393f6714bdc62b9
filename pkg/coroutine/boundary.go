package coroutine

import (
	"context"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// Boundary locates the async transition in a thread's native frames, which
// are ordered innermost first. Entry is the frame running the resumed
// continuation; Resume is its caller, whose completion local holds the root
// of the rest of the chain.
type Boundary struct {
	Entry  int
	Resume int
}

// FindBoundary finds the first entry frame and checks that its caller is a
// resume frame. A thread parked on the intrinsic suspension marker has no
// usable boundary, whatever else is on its stack. A closed session finds none.
func (s *Session) FindBoundary(ctx context.Context, frames []remote.Frame) (Boundary, bool) {
	if s.check() != nil {
		return Boundary{}, false
	}
	for _, f := range frames {
		if s.classifier.IsIntrinsicMarker(f.Method) {
			s.log.Debug("thread parked on suspension marker", "thread", f.Thread, "frame", f.Index)
			return Boundary{}, false
		}
	}
	entry := -1
	for i, f := range frames {
		if s.classifier.IsSuspendEntryPoint(ctx, f.Method) {
			entry = i
			break
		}
	}
	if entry < 0 || entry+1 >= len(frames) {
		return Boundary{}, false
	}
	resume := entry + 1
	if !s.classifier.IsResumeFrame(ctx, frames[resume].Method) {
		s.log.Debug("entry frame not called from a resume frame",
			"entry", frames[entry].Method.String(), "caller", frames[resume].Method.String())
		return Boundary{}, false
	}
	return Boundary{Entry: entry, Resume: resume}, true
}
