// Package coroutine reconstructs logical async call stacks of suspended
// coroutines inside a paused target, using only the primitive object
// protocol in package remote.
//
// A Session lives exactly as long as one pause. Every handle, type and
// descriptor it resolves is discarded with it; resuming the target and then
// using a Session, or a frame produced by it, is a programming error.
package coroutine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/logging"
	"github.com/willibrandon/coroscope/pkg/remote"
)

var (
	// ErrSessionClosed is returned when a Session is used after Close.
	ErrSessionClosed = errors.New("coroutine: session closed")
	// ErrForeignFrame is returned for frames produced by another session.
	ErrForeignFrame = errors.New("coroutine: frame belongs to another session")
)

// DiagnosticKind classifies a Diagnostic.
type DiagnosticKind int

const (
	// CapabilityUnsupported means the target lacks something the
	// reconstruction needs; results degrade to empty or partial.
	CapabilityUnsupported DiagnosticKind = iota
	// DataIntegrity means the remote heap looked corrupted, for example a
	// chain longer than the configured depth.
	DataIntegrity
)

// String returns the name of the kind.
func (k DiagnosticKind) String() string {
	switch k {
	case CapabilityUnsupported:
		return "capability-unsupported"
	case DataIntegrity:
		return "data-integrity"
	default:
		return "unknown"
	}
}

// Capability names used in diagnostics.
const (
	CapabilityInstances     = "instance-enumeration"
	CapabilityDebugMetadata = "debug-metadata"
)

// Diagnostic is a non-fatal condition surfaced to the caller.
type Diagnostic struct {
	Kind       DiagnosticKind `json:"kind"`
	Capability string         `json:"capability,omitempty"`
	Message    string         `json:"message"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) { s.log = log }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Session holds everything resolved during one pause of the target: the
// serialized client, memoized type predicates, mirror descriptors and the
// diagnostics reported so far.
type Session struct {
	id      string
	client  remote.Client
	limits  config.Limits
	profile config.Profile
	log     *slog.Logger

	classifier *Classifier
	base       lazy[*baseContinuation]
	meta       lazy[*debugMetadata]
	mirrors    *Mirrors

	mu       sync.Mutex
	closed   bool
	reported map[string]bool
	diags    []Diagnostic
}

// NewSession starts a session over client, which must stay paused until
// Close. A nil cfg uses config.Default.
func NewSession(client remote.Client, cfg *config.Config, opts ...Option) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Session{
		id:       uuid.NewString(),
		limits:   cfg.Limits,
		profile:  cfg.Profile,
		log:      logging.Discard(),
		reported: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("session", s.id)
	s.client = newSerialClient(client)
	s.classifier = newClassifier(s.client, &s.profile, s.limits.TypeCacheSize, s.log)
	s.mirrors = newMirrors(s)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Classifier returns the session's type classifier.
func (s *Session) Classifier() *Classifier { return s.classifier }

// Mirrors returns the session's structural mirrors.
func (s *Session) Mirrors() *Mirrors { return s.mirrors }

// Close ends the session. Caches are dropped and later calls fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	n := len(s.diags)
	s.mu.Unlock()

	// Resolvers report diagnostics while holding a cache lock, so the caches
	// are reset outside s.mu.
	s.classifier.purge()
	s.base.reset()
	s.meta.reset()
	s.mirrors.reset()
	s.log.Debug("session closed", "diagnostics", n)
}

// Diagnostics returns the diagnostics reported so far.
func (s *Session) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Diagnostic(nil), s.diags...)
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// reportCapability records a missing capability once per session.
func (s *Session) reportCapability(capability, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported[capability] {
		return
	}
	s.reported[capability] = true
	s.diags = append(s.diags, Diagnostic{Kind: CapabilityUnsupported, Capability: capability, Message: msg})
	s.log.Warn(msg, "capability", capability)
}

func (s *Session) reportIntegrity(msg string, args ...any) {
	s.mu.Lock()
	s.diags = append(s.diags, Diagnostic{Kind: DataIntegrity, Message: msg})
	s.mu.Unlock()
	s.log.Warn(msg, args...)
}

// lazy resolves a value once. Failed resolutions are not cached, so a
// transient protocol fault does not disable a feature for the whole session.
type lazy[T any] struct {
	mu   sync.Mutex
	done bool
	v    T
}

func (l *lazy[T]) get(resolve func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.v, nil
	}
	v, err := resolve()
	if err != nil {
		var zero T
		return zero, err
	}
	l.v, l.done = v, true
	return v, nil
}

func (l *lazy[T]) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.v, l.done = zero, false
}

// findType resolves name, reporting absence as (zero, false, nil).
func (s *Session) findType(ctx context.Context, name string) (remote.Type, bool, error) {
	t, err := s.client.FindType(ctx, name)
	if errors.Is(err, remote.ErrNotFound) {
		return remote.Type{}, false, nil
	}
	if err != nil {
		return remote.Type{}, false, err
	}
	return t, true, nil
}
