package dump

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/coroscope/pkg/coroutine"
	"github.com/willibrandon/coroscope/pkg/remote"
)

var created = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleTask() Task {
	return Task{
		Name:  "fetcher",
		ID:    "42",
		State: "RUNNING",
		Frames: []Frame{
			{Class: "example.ApiKt$fetch$1", Method: "invokeSuspend", File: "Api.kt", Line: 10, Async: true,
				Variables: []Variable{{Name: "user", Field: "L$0", Value: `"alice"`}, {Name: "authToken", Field: "L$1", Value: `"s3cr3t"`}}},
			{Class: "example.MainKt$main$1", Method: "invokeSuspend", File: "Main.kt", Line: 5, Async: true},
		},
	}
}

func TestWriteAndRead(t *testing.T) {
	for _, c := range []Compression{NoCompression, ZstdCompression} {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, c, Header{Session: "abc", Created: created, Tool: "coroscope test"})
			require.NoError(t, err)
			require.NoError(t, w.WriteTask(sampleTask()))
			require.NoError(t, w.WriteStack(Stack{Thread: 1, Frames: []Frame{{Class: "java.lang.Thread", Method: "run", Line: 1}}}))
			require.NoError(t, w.WriteDiagnostic(coroutine.Diagnostic{
				Kind: coroutine.CapabilityUnsupported, Capability: coroutine.CapabilityInstances, Message: "no enumeration",
			}))
			assert.Equal(t, 4, w.Count())
			require.NoError(t, w.Close())

			if c == ZstdCompression {
				assert.True(t, bytes.HasPrefix(buf.Bytes(), zstdMagic))
			} else {
				assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(`{"kind":"header"`)))
			}

			d, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, d.Header.Version)
			assert.Equal(t, "abc", d.Header.Session)
			assert.Equal(t, "coroscope test", d.Header.Tool)
			assert.True(t, d.Header.Created.Equal(created))
			require.Len(t, d.Tasks, 1)
			assert.Equal(t, sampleTask(), d.Tasks[0])
			require.Len(t, d.Stacks, 1)
			assert.Equal(t, int64(1), d.Stacks[0].Thread)
			require.Len(t, d.Diagnostics, 1)
			assert.Equal(t, coroutine.CapabilityInstances, d.Diagnostics[0].Capability)
		})
	}
}

func TestCreateAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stack.dump")
	w, err := Create(path, DefaultCompression, Header{Session: "abc"})
	require.NoError(t, err)
	require.NoError(t, w.WriteTask(sampleTask()))
	require.NoError(t, w.Close())

	d, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", d.Header.Session)
	assert.False(t, d.Header.Created.IsZero())
	assert.Len(t, d.Tasks, 1)

	_, err = Open(filepath.Join(t.TempDir(), "missing.dump"))
	assert.Error(t, err)
}

func TestRedaction(t *testing.T) {
	r, err := NewRedactor([]string{"(?i)token", "(?i)password"}, "***")
	require.NoError(t, err)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, NoCompression, Header{Session: "abc"}, WithRedactor(r))
	require.NoError(t, err)
	task := sampleTask()
	require.NoError(t, w.WriteTask(task))
	require.NoError(t, w.Close())

	// The caller's task is left as it was.
	assert.Equal(t, `"s3cr3t"`, task.Frames[0].Variables[1].Value)

	d, err := Read(&buf)
	require.NoError(t, err)
	vars := d.Tasks[0].Frames[0].Variables
	assert.Equal(t, Variable{Name: "user", Field: "L$0", Value: `"alice"`}, vars[0])
	assert.Equal(t, Variable{Name: "authToken", Field: "L$1", Value: "***", Redacted: true}, vars[1])
	assert.NotContains(t, buf.String(), "s3cr3t")

	_, err = NewRedactor([]string{"("}, "***")
	assert.Error(t, err)
}

func TestReadRejectsForeignInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no header", `{"kind":"task","task":{"name":"x"}}` + "\n"},
		{"newer version", `{"kind":"header","header":{"version":99}}` + "\n"},
		{"not json", "hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
	_, err := Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestReadSkipsUnknownRecords(t *testing.T) {
	input := `{"kind":"header","header":{"version":1,"session":"abc"}}` + "\n" +
		`{"kind":"heap","heap":{}}` + "\n" +
		`{"kind":"task","task":{"name":"x","id":"1","state":"NEW"}}` + "\n"
	d, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, d.Tasks, 1)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, ZstdCompression, c)
	c, err = ParseCompression("none")
	require.NoError(t, err)
	assert.Equal(t, NoCompression, c)
	_, err = ParseCompression("lz4")
	assert.Error(t, err)
}

func TestFromStack(t *testing.T) {
	native := []remote.Frame{
		{Method: remote.Method{Owner: "example.ApiKt$fetch$1", Name: "invokeSuspend"}, File: "Api.kt", Line: 12},
		{Method: remote.Method{Owner: "java.lang.Thread", Name: "run"}, File: "Thread.java", Line: 833},
	}
	synthetic := coroutine.SyntheticFrame{
		ClassName: "example.MainKt$main$1", MethodName: "invokeSuspend", SourceFile: "Main.kt", Line: 5,
		Variables: []coroutine.CapturedVariable{{Name: "user", Field: "L$0"}},
	}
	cs := &coroutine.CombinedStack{
		Entries:   []coroutine.StackEntry{{Native: &native[0]}, {Synthetic: &synthetic}, {Native: &native[1]}},
		Truncated: true,
	}

	s := FromStack(7, cs)
	assert.Equal(t, int64(7), s.Thread)
	assert.True(t, s.Truncated)
	require.Len(t, s.Frames, 3)
	assert.Equal(t, Frame{Class: "example.ApiKt$fetch$1", Method: "invokeSuspend", File: "Api.kt", Line: 12}, s.Frames[0])
	assert.True(t, s.Frames[1].Async)
	assert.Equal(t, []Variable{{Name: "user", Field: "L$0"}}, s.Frames[1].Variables)
	assert.Equal(t, "java.lang.Thread.run(Thread.java:833)", s.Frames[2].Location())

	s.Frames[1].SetValues([]coroutine.NamedValue{{Name: "user", Value: remote.String("alice")}})
	assert.Equal(t, `"alice"`, s.Frames[1].Variables[0].Value)
}

func TestFromTask(t *testing.T) {
	task := FromTask(coroutine.TaskSnapshot{
		Name:   "fetcher",
		ID:     "42",
		State:  coroutine.StateSuspendedCancelling,
		Frames: []coroutine.SyntheticFrame{{ClassName: "a.B", MethodName: "c", Line: coroutine.UnknownLine}},
	})
	assert.Equal(t, "SUSPENDED_CANCELLING", task.State)
	require.Len(t, task.Frames, 1)
	assert.Equal(t, "a.B.c(Unknown Source)", task.Frames[0].Location())
}

func TestWriteText(t *testing.T) {
	d := &Dump{
		Header: Header{Session: "abc", Created: created},
		Tasks:  []Task{sampleTask()},
		Stacks: []Stack{{Thread: 1, Frames: []Frame{{Class: "java.lang.Thread", Method: "run", File: "Thread.java", Line: 833}}, Truncated: true}},
		Diagnostics: []coroutine.Diagnostic{
			{Kind: coroutine.DataIntegrity, Message: "chain too deep"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, d))
	out := buf.String()

	assert.Contains(t, out, "session abc, 2026-03-01T12:00:00Z")
	assert.Contains(t, out, "thread 1:\n\tat java.lang.Thread.run(Thread.java:833)\n\t... truncated\n")
	assert.Contains(t, out, "\"fetcher\" id=42 RUNNING:\n")
	assert.Contains(t, out, "\tat example.ApiKt$fetch$1.invokeSuspend(Api.kt:10) [async]\n\t\tuser = \"alice\"\n")
	assert.Contains(t, out, "data-integrity: chain too deep\n")
}
