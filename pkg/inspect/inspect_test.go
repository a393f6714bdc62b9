package inspect

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/coroutine"
	"github.com/willibrandon/coroscope/pkg/dump"
	"github.com/willibrandon/coroscope/pkg/remote"
	"github.com/willibrandon/coroscope/pkg/remote/remotetest"
)

const (
	loadClass  = "example.ApiKt$load$1"
	mainClass  = "example.MainKt$main$1"
	fetchClass = "example.ApiKt$fetch$1"
)

// fakeTarget is a paused JVM with one suspended task. Thread 1 is resuming
// it; thread 2 runs plain code.
type fakeTarget struct {
	*remotetest.Heap
	stacks map[int64][]remote.Frame
}

func (t *fakeTarget) Frames(_ context.Context, thread int64, depth int) ([]remote.Frame, error) {
	frames, ok := t.stacks[thread]
	if !ok {
		return nil, fmt.Errorf("no thread %d", thread)
	}
	if len(frames) > depth {
		frames = frames[:depth]
	}
	return frames, nil
}

func (t *fakeTarget) Threads(context.Context) ([]int64, error) {
	var ids []int64
	for id := range t.stacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func getter(field string) remotetest.MethodFunc {
	return func(h *remotetest.Heap, this remote.Handle, _ []remote.Value) (remote.Value, error) {
		return h.Get(this, field), nil
	}
}

func frames(thread int64, methods ...remote.Method) []remote.Frame {
	out := make([]remote.Frame, len(methods))
	for i, m := range methods {
		out[i] = remote.Frame{Thread: thread, Index: i, Method: m, Line: 100 + i}
	}
	return out
}

func newTarget(t *testing.T) *fakeTarget {
	t.Helper()
	p := config.KotlinProfile()
	h := remotetest.New()
	elements := make(map[remote.Handle]remote.Handle)
	spilled := make(map[remote.Handle]remote.Handle)

	h.DefineType(p.BaseContinuation)
	h.DefineField(p.BaseContinuation, p.CompletionField)
	for _, class := range []string{loadClass, mainClass, fetchClass} {
		h.DefineType(class, p.BaseContinuation)
	}
	h.DefineField(loadClass, "L$0", "L$1")

	ste := p.StackTraceElement
	h.DefineType(ste.Type)
	h.DefineMethod(ste.Type, ste.ClassName.Name, ste.ClassName.Signature, getter("class"))
	h.DefineMethod(ste.Type, ste.MethodName.Name, ste.MethodName.Signature, getter("method"))
	h.DefineMethod(ste.Type, ste.FileName.Name, ste.FileName.Signature, getter("file"))
	h.DefineMethod(ste.Type, ste.LineNumber.Name, ste.LineNumber.Signature, getter("line"))

	md := p.DebugMetadata
	h.DefineType(md.Type)
	h.DefineStaticMethod(md.Type, md.StackTraceElement.Name, md.StackTraceElement.Signature,
		func(h *remotetest.Heap, _ remote.Handle, args []remote.Value) (remote.Value, error) {
			cont, _ := args[0].AsObject()
			return h.Ref(elements[cont]), nil
		})
	h.DefineStaticMethod(md.Type, md.SpilledVariables.Name, md.SpilledVariables.Signature,
		func(h *remotetest.Heap, _ remote.Handle, args []remote.Value) (remote.Value, error) {
			cont, _ := args[0].AsObject()
			return h.Ref(spilled[cont]), nil
		})

	h.DefineType(p.TaskWrapper.Type)
	h.DefineField(p.TaskWrapper.Type, p.TaskWrapper.ContinuationField)

	continuation := func(class string, line int, next remote.Handle, fields map[string]remote.Value) remote.Handle {
		if fields == nil {
			fields = make(map[string]remote.Value)
		}
		fields[p.CompletionField] = h.Ref(next)
		c := h.NewObject(class, fields)
		elements[c] = h.NewObject(ste.Type, map[string]remote.Value{
			"class":  remote.String(class),
			"method": remote.String("invokeSuspend"),
			"file":   remote.String("Main.kt"),
			"line":   remote.Int(int64(line)),
		})
		return c
	}
	main := continuation(mainClass, 20, 0, nil)
	load := continuation(loadClass, 10, main, map[string]remote.Value{
		"L$0": remote.String("hunter2"),
		"L$1": remote.String("alice"),
	})
	spilled[load] = h.NewArray("java.lang.String[]",
		remote.String("L$0"), remote.String("password"),
		remote.String("L$1"), remote.String("user"))
	h.NewObject(p.TaskWrapper.Type, map[string]remote.Value{
		p.TaskWrapper.ContinuationField: h.Ref(load),
	})

	compute := remote.Method{Owner: "example.ApiKt", Name: "compute", Signature: "()I"}
	entry := remote.Method{Owner: fetchClass, Name: p.EntryMethod.Name, Signature: p.EntryMethod.Signature}
	resume := remote.Method{Owner: p.BaseContinuation, Name: p.ResumeMethod.Name, Signature: p.ResumeMethod.Signature}
	run := remote.Method{Owner: "java.lang.Thread", Name: "run", Signature: "()V"}
	h.SetLocal(1, 2, p.CompletionLocal, h.Ref(load))

	return &fakeTarget{
		Heap: h,
		stacks: map[int64][]remote.Frame{
			1: frames(1, compute, entry, resume, run),
			2: frames(2, compute, run),
		},
	}
}

func newInspector(t *testing.T, target Target, opts ...Option) *Inspector {
	in := New(target, nil, opts...)
	t.Cleanup(in.Close)
	return in
}

func locations(frames []dump.Frame) []string {
	var out []string
	for _, f := range frames {
		out = append(out, f.Class+"."+f.Method)
	}
	return out
}

func TestStack(t *testing.T) {
	target := newTarget(t)
	in := newInspector(t, target)

	s, err := in.Stack(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Thread)
	assert.Equal(t, []string{
		"example.ApiKt.compute",
		fetchClass + ".invokeSuspend",
		loadClass + ".invokeSuspend",
		mainClass + ".invokeSuspend",
		"kotlin.coroutines.jvm.internal.BaseContinuationImpl.resumeWith",
		"java.lang.Thread.run",
	}, locations(s.Frames))
	assert.True(t, s.Frames[2].Async)
	assert.Equal(t, 10, s.Frames[2].Line)
	require.Len(t, s.Frames[2].Variables, 2)
	assert.Empty(t, s.Frames[2].Variables[0].Value, "values are off by default")
	assert.Zero(t, target.Pinned())
}

func TestStackWithoutBoundary(t *testing.T) {
	in := newInspector(t, newTarget(t))

	s, err := in.Stack(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.ApiKt.compute", "java.lang.Thread.run"}, locations(s.Frames))

	_, err = in.Variables(context.Background(), 0)
	assert.Error(t, err)
}

func TestStackUnknownThread(t *testing.T) {
	in := newInspector(t, newTarget(t))
	_, err := in.Stack(context.Background(), 9)
	assert.ErrorContains(t, err, "thread 9")
}

func TestStackDepth(t *testing.T) {
	in := newInspector(t, newTarget(t), WithDepth(2))

	s, err := in.Stack(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, s.Frames, 2, "the resume frame is cut off, so no boundary")
}

func TestStackWithValues(t *testing.T) {
	in := newInspector(t, newTarget(t), WithValues(true))

	s, err := in.Stack(context.Background(), 1)
	require.NoError(t, err)
	vars := s.Frames[2].Variables
	require.Len(t, vars, 2)
	assert.Equal(t, dump.Variable{Name: "password", Field: "L$0", Value: `"hunter2"`}, vars[0])
	assert.Equal(t, dump.Variable{Name: "user", Field: "L$1", Value: `"alice"`}, vars[1])
}

func TestTasksAndVariables(t *testing.T) {
	target := newTarget(t)
	in := newInspector(t, target)
	ctx := context.Background()

	tasks, err := in.Tasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "coroutine", tasks[0].Name)
	assert.Equal(t, "UNKNOWN", tasks[0].State)
	assert.Equal(t, []string{loadClass + ".invokeSuspend", mainClass + ".invokeSuspend"}, locations(tasks[0].Frames))

	values, err := in.Variables(ctx, 0)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "user", values[1].Name)
	assert.Equal(t, `"alice"`, values[1].Value.String())

	values, err = in.Variables(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, values)

	_, err = in.Variables(ctx, 2)
	assert.Error(t, err)
	assert.Zero(t, target.Pinned())
}

func TestExport(t *testing.T) {
	in := newInspector(t, newTarget(t), WithValues(true))
	path := filepath.Join(t.TempDir(), "stacks.dump")

	n, err := in.Export(context.Background(), path, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	d, err := dump.Open(path)
	require.NoError(t, err)
	assert.Equal(t, in.Session().ID(), d.Header.Session)
	assert.Contains(t, d.Header.Tool, "coroscope")
	require.Len(t, d.Stacks, 2)
	require.Len(t, d.Tasks, 1)
	assert.Empty(t, d.Diagnostics)

	vars := d.Tasks[0].Frames[0].Variables
	require.Len(t, vars, 2)
	assert.True(t, vars[0].Redacted)
	assert.Equal(t, "***REDACTED***", vars[0].Value)
	assert.Equal(t, `"alice"`, vars[1].Value)
}

func TestExportReportsMissingEnumeration(t *testing.T) {
	target := newTarget(t)
	target.NoInstances = true
	in := newInspector(t, target)
	path := filepath.Join(t.TempDir(), "stacks.dump")

	_, err := in.Export(context.Background(), path, []int64{1})
	require.NoError(t, err)

	d, err := dump.Open(path)
	require.NoError(t, err)
	assert.Len(t, d.Stacks, 1)
	assert.Empty(t, d.Tasks)
	require.Len(t, d.Diagnostics, 1)
	assert.Equal(t, coroutine.CapabilityInstances, d.Diagnostics[0].Capability)
}

func TestExportBadThreadRemovesPartialFile(t *testing.T) {
	in := newInspector(t, newTarget(t))
	path := filepath.Join(t.TempDir(), "x.dump")

	_, err := in.Export(context.Background(), path, []int64{1, 7})
	assert.ErrorContains(t, err, "thread 7")
	assert.NoFileExists(t, path)
}

func TestExportSessionID(t *testing.T) {
	in := newInspector(t, newTarget(t), WithSessionID("pause-1"))
	path := filepath.Join(t.TempDir(), "stacks.dump")

	_, err := in.Export(context.Background(), path, nil)
	require.NoError(t, err)

	d, err := dump.Open(path)
	require.NoError(t, err)
	assert.Equal(t, "pause-1", d.Header.Session)
	assert.Equal(t, "pause-1", in.Session().ID())
}
