package coroutine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/remote"
)

func TestStandaloneCoroutineMirror(t *testing.T) {
	f := newFixture(t)
	m := f.profile.Mirrors
	cc := f.context("fetcher", 42)
	co := f.coroutine("Active", "5b2c7b9", cc)
	delegate := f.heap.NewObject(typeObject, nil)
	cancellable := f.heap.NewObject(m.CancellableContinuation, map[string]remote.Value{
		fieldDecision:       remote.Int(1),
		fieldDelegate:       f.heap.Ref(delegate),
		fieldResumeMode:     remote.Int(2),
		fieldSubmissionTime: remote.Int(77),
		fieldContext:        f.heap.Ref(cc),
	})
	child := f.heap.NewObject(m.ChildContinuation, map[string]remote.Value{
		fieldChild: f.heap.Ref(cancellable),
	})
	f.heap.Set(co, fieldState, f.heap.Ref(child))
	s := f.session()

	sc := s.Mirrors().StandaloneCoroutine(context.Background(), co)
	require.NotNil(t, sc)
	assert.Equal(t, co, sc.Handle)

	require.NotNil(t, sc.Context)
	assert.Equal(t, &ContextMirror{Handle: cc, Name: "fetcher", ID: 42, HasID: true, Job: co}, sc.Context)

	require.NotNil(t, sc.State)
	assert.Equal(t, child, sc.State.Handle)
	require.NotNil(t, sc.State.Child)
	assert.Equal(t, &CancellableContinuationMirror{
		Handle:         cancellable,
		Decision:       1,
		Delegate:       delegate,
		ResumeMode:     2,
		SubmissionTime: 77,
		Context:        sc.Context,
	}, sc.State.Child)
}

func TestMirrorRejectsOtherShapes(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	ctx := context.Background()
	obj := f.heap.NewObject(typeObject, nil)

	assert.Nil(t, s.Mirrors().StandaloneCoroutine(ctx, obj))
	assert.Nil(t, s.Mirrors().StandaloneCoroutine(ctx, 0))
	assert.Nil(t, s.Mirrors().ChildContinuation(ctx, obj))
	assert.Nil(t, s.Mirrors().CancellableContinuation(ctx, obj))
	assert.Nil(t, s.Mirrors().Context(ctx, obj))
}

func TestContextMirrorPartial(t *testing.T) {
	f := newFixture(t)
	cc := f.context("", 7)
	// An element without getName fails only the name lookup.
	f.contexts[cc][f.nameKey] = f.heap.NewObject(typeObject, nil)
	s := f.session()

	got := s.Mirrors().Context(context.Background(), cc)
	require.NotNil(t, got)
	assert.Empty(t, got.Name)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, got.HasID)
	assert.True(t, got.Job.IsNull())
}

func TestMirrorMissingShape(t *testing.T) {
	f := newFixture(t)
	co := f.coroutine("Active", "5b2c7b9", f.context("fetcher", 42))
	s := f.session(func(c *config.Config) { c.Profile.Mirrors.StandaloneCoroutine = "kotlinx.coroutines.Missing" })
	ctx := context.Background()

	assert.Nil(t, s.Mirrors().StandaloneCoroutine(ctx, co))

	info := s.Mirrors().TaskInfo(ctx, co)
	require.NotNil(t, info)
	assert.Equal(t, &TaskInfo{Name: "coroutine", ID: "5b2c7b9", State: StateRunning}, info)
}

func TestTaskInfo(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	ctx := context.Background()

	tests := []struct {
		desc   string
		handle remote.Handle
		name   string
		id     string
		state  State
	}{
		{"named with id", f.coroutine("Active", "5b2c7b9", f.context("fetcher", 42)), "fetcher", "42", StateRunning},
		{"anonymous", f.coroutine("Active", "5b2c7b9", f.context("", -1)), "coroutine", "5b2c7b9", StateRunning},
		{"cancelling", f.coroutine("Cancelling", "1a", f.context("worker", -1)), "worker", "1a", StateSuspendedCancelling},
		{"completing", f.coroutine("Completing", "2b", f.context("", 9)), "coroutine", "9", StateSuspendedCompleting},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			info := s.Mirrors().TaskInfo(ctx, tt.handle)
			require.NotNil(t, info)
			assert.Equal(t, tt.name, info.Name)
			assert.Equal(t, tt.id, info.ID)
			assert.Equal(t, tt.state, info.State)
			assert.NotNil(t, info.Coroutine)
		})
	}

	t.Run("unrecognized text", func(t *testing.T) {
		assert.Nil(t, s.Mirrors().TaskInfo(ctx, f.heap.NewObject(typeObject, nil)))
		assert.Nil(t, s.Mirrors().TaskInfo(ctx, 0))
	})
}
