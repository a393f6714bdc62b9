package coroutine

import (
	"context"
	"errors"

	"github.com/willibrandon/coroscope/pkg/remote"
)

// TaskSnapshot describes one suspended task found by a directory scan.
type TaskSnapshot struct {
	Name   string           `json:"name"`
	ID     string           `json:"id"`
	State  State            `json:"state"`
	Frames []SyntheticFrame `json:"frames"`
	// Root is the first continuation of the task's chain.
	Root remote.Handle `json:"root"`
	// Wrapper is the enumerated wrapper object holding Root.
	Wrapper remote.Handle `json:"wrapper"`
	// Coroutine is the object the chain completes into, if any.
	Coroutine remote.Handle `json:"coroutine,omitempty"`
}

// ListSuspendedTasks enumerates live task wrappers across the remote heap
// and reconstructs each one's chain. Order follows the target's enumeration
// order. Without instance enumeration the result is empty and a capability
// diagnostic is reported once.
func (s *Session) ListSuspendedTasks(ctx context.Context) ([]TaskSnapshot, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if !s.client.CanEnumerateInstances() {
		s.reportCapability(CapabilityInstances, "target does not support instance enumeration")
		return nil, nil
	}

	wrapper := s.profile.TaskWrapper
	t, ok, err := s.findType(ctx, wrapper.Type)
	if err != nil {
		s.log.Debug("task wrapper lookup failed", "type", wrapper.Type, "error", err)
		return nil, nil
	}
	if !ok {
		s.log.Debug("task wrapper type not loaded", "type", wrapper.Type)
		return nil, nil
	}
	field, err := s.client.Field(ctx, t, wrapper.ContinuationField)
	if err != nil {
		s.log.Debug("task wrapper has no continuation field", "type", t.Name, "field", wrapper.ContinuationField, "error", err)
		return nil, nil
	}

	handles, err := s.client.Instances(ctx, t, s.limits.MaxTasks)
	if errors.Is(err, remote.ErrUnsupported) {
		s.reportCapability(CapabilityInstances, "target does not support instance enumeration")
		return nil, nil
	}
	if err != nil {
		s.log.Debug("instance enumeration failed", "type", t.Name, "error", err)
		return nil, nil
	}

	tasks := make([]TaskSnapshot, 0, len(handles))
	for _, h := range handles {
		if task := s.snapshot(ctx, h, field); task != nil {
			tasks = append(tasks, *task)
		}
	}
	s.log.Debug("task scan complete", "instances", len(handles), "tasks", len(tasks))
	return tasks, nil
}

// snapshot reconstructs the task held by one wrapper instance. Wrappers with
// no resolvable chain are skipped.
func (s *Session) snapshot(ctx context.Context, wrapper remote.Handle, field remote.Field) *TaskSnapshot {
	pins := remote.NewPins(s.client)
	defer s.release(ctx, pins)
	if err := pins.Pin(ctx, wrapper); err != nil {
		s.log.Debug("pin failed", "handle", wrapper, "error", err)
	}

	v, err := s.client.ReadField(ctx, wrapper, field)
	if err != nil {
		s.log.Debug("continuation read failed", "handle", wrapper, "error", err)
		return nil
	}
	root, ok := v.AsObject()
	if !ok {
		return nil
	}
	chain := s.walk(ctx, pins, root)
	if len(chain.Frames) == 0 {
		return nil
	}

	task := &TaskSnapshot{
		Name:      defaultTaskName,
		ID:        root.String(),
		State:     StateUnknown,
		Frames:    chain.Frames,
		Root:      root,
		Wrapper:   wrapper,
		Coroutine: chain.Terminal,
	}
	if !chain.Terminal.IsNull() {
		if err := pins.Pin(ctx, chain.Terminal); err != nil {
			s.log.Debug("pin failed", "handle", chain.Terminal, "error", err)
		}
		if info := s.mirrors.taskInfo(ctx, chain.Terminal); info != nil {
			task.Name, task.ID, task.State = info.Name, info.ID, info.State
		}
	}
	return task
}
