// Package inspect ties a paused target to a reconstruction session and
// renders what it finds as dump records.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/coroutine"
	"github.com/willibrandon/coroscope/pkg/dump"
	"github.com/willibrandon/coroscope/pkg/logging"
	"github.com/willibrandon/coroscope/pkg/remote"
	"github.com/willibrandon/coroscope/pkg/version"
)

// DefaultDepth is the number of native frames read per thread.
const DefaultDepth = 64

// Target is a paused process: the object protocol plus thread stacks.
type Target interface {
	remote.Client
	// Frames returns up to depth frames of a thread, innermost first.
	Frames(ctx context.Context, thread int64, depth int) ([]remote.Frame, error)
	// Threads lists the ids of the target's threads.
	Threads(ctx context.Context) ([]int64, error)
}

// Inspector answers stack and task queries for one pause of a target.
type Inspector struct {
	target  Target
	cfg     *config.Config
	log     *slog.Logger
	session *coroutine.Session
	depth   int
	values  bool
	opts    []coroutine.Option

	// frames holds the async frames of the last listing, by display index.
	frames []coroutine.SyntheticFrame
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(in *Inspector) { in.log = log }
}

// WithDepth sets the number of native frames read per thread.
func WithDepth(depth int) Option {
	return func(in *Inspector) {
		if depth > 0 {
			in.depth = depth
		}
	}
}

// WithValues resolves captured variable values for every listed frame.
func WithValues(on bool) Option {
	return func(in *Inspector) { in.values = on }
}

// WithSessionID fixes the session id written to logs and dump headers.
func WithSessionID(id string) Option {
	return func(in *Inspector) { in.opts = append(in.opts, coroutine.WithID(id)) }
}

// New starts a session over target. A nil cfg uses config.Default.
func New(target Target, cfg *config.Config, opts ...Option) *Inspector {
	if cfg == nil {
		cfg = config.Default()
	}
	in := &Inspector{target: target, cfg: cfg, log: logging.Discard(), depth: DefaultDepth}
	for _, opt := range opts {
		opt(in)
	}
	in.session = coroutine.NewSession(target, cfg, append([]coroutine.Option{coroutine.WithLogger(in.log)}, in.opts...)...)
	return in
}

// Session returns the underlying session.
func (in *Inspector) Session() *coroutine.Session { return in.session }

// Close ends the session.
func (in *Inspector) Close() { in.session.Close() }

// Stack returns the combined stack of a thread. Threads without an async
// boundary get their native frames only.
func (in *Inspector) Stack(ctx context.Context, thread int64) (dump.Stack, error) {
	frames, err := in.target.Frames(ctx, thread, in.depth)
	if err != nil {
		return dump.Stack{}, fmt.Errorf("reading frames of thread %d: %w", thread, err)
	}
	cs, err := in.session.ReconstructStack(ctx, frames)
	if err != nil {
		return dump.Stack{}, err
	}
	if cs == nil {
		in.log.Debug("no async boundary", "thread", thread, "frames", len(frames))
		cs = &coroutine.CombinedStack{}
		for i := range frames {
			cs.Entries = append(cs.Entries, coroutine.StackEntry{Native: &frames[i]})
		}
	}
	in.frames = cs.Synthetic()
	out := dump.FromStack(thread, cs)
	if err := in.fill(ctx, out.Frames, in.frames); err != nil {
		return dump.Stack{}, err
	}
	return out, nil
}

// Tasks lists the target's suspended tasks.
func (in *Inspector) Tasks(ctx context.Context) ([]dump.Task, error) {
	snapshots, err := in.session.ListSuspendedTasks(ctx)
	if err != nil {
		return nil, err
	}
	in.frames = nil
	tasks := make([]dump.Task, 0, len(snapshots))
	for _, s := range snapshots {
		in.frames = append(in.frames, s.Frames...)
		t := dump.FromTask(s)
		if err := in.fill(ctx, t.Frames, s.Frames); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// fill resolves variable values of the async frames among out, in order.
func (in *Inspector) fill(ctx context.Context, out []dump.Frame, async []coroutine.SyntheticFrame) error {
	if !in.values {
		return nil
	}
	next := 0
	for i := range out {
		if !out[i].Async || next >= len(async) {
			continue
		}
		values, err := in.session.CapturedVariables(ctx, async[next])
		next++
		if err != nil {
			return err
		}
		out[i].SetValues(values)
	}
	return nil
}

// Variables resolves the captured variables of async frame n of the last
// stack or task listing.
func (in *Inspector) Variables(ctx context.Context, n int) ([]coroutine.NamedValue, error) {
	if n < 0 || n >= len(in.frames) {
		return nil, fmt.Errorf("no async frame %d; the last listing had %d", n, len(in.frames))
	}
	return in.session.CapturedVariables(ctx, in.frames[n])
}

// Export writes the stacks of the given threads, every suspended task and
// the session's diagnostics to a dump file.
func (in *Inspector) Export(ctx context.Context, path string, threads []int64) (int, error) {
	compression, err := dump.ParseCompression(in.cfg.Dump.Compression)
	if err != nil {
		return 0, err
	}
	redactor, err := dump.NewRedactor(in.cfg.Dump.Redact, in.cfg.Dump.Replacement)
	if err != nil {
		return 0, err
	}
	w, err := dump.Create(path, compression, dump.Header{
		Session: in.session.ID(),
		Tool:    version.GetVersionInfo(),
	}, dump.WithRedactor(redactor))
	if err != nil {
		return 0, err
	}

	if err := in.export(ctx, w, threads); err != nil {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing dump %s: %w", path, cerr))
		}
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			in.log.Warn("removing partial dump", "path", path, "error", rerr)
			err = errors.Join(err, fmt.Errorf("removing partial dump %s: %w", path, rerr))
		}
		return 0, err
	}
	n := w.Count()
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("closing dump %s: %w", path, err)
	}
	in.log.Info("dump written", "path", path, "records", n, "compression", compression.String())
	return n, nil
}

func (in *Inspector) export(ctx context.Context, w *dump.Writer, threads []int64) error {
	for _, thread := range threads {
		s, err := in.Stack(ctx, thread)
		if err != nil {
			return err
		}
		if err := w.WriteStack(s); err != nil {
			return err
		}
	}
	tasks, err := in.Tasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := w.WriteTask(t); err != nil {
			return err
		}
	}
	for _, d := range in.session.Diagnostics() {
		if err := w.WriteDiagnostic(d); err != nil {
			return err
		}
	}
	return nil
}
