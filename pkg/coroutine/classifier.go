package coroutine

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/remote"
)

// Classifier answers the type questions the reconstruction asks. It is the
// only place that compares remote types against well-known names. Answers are
// memoized: type relationships cannot change while the target is paused.
type Classifier struct {
	client  remote.Client
	profile *config.Profile
	cache   *lru.Cache
	log     *slog.Logger
}

func newClassifier(client remote.Client, profile *config.Profile, size int, log *slog.Logger) *Classifier {
	if size <= 0 {
		size = config.DefaultTypeCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Classifier{client: client, profile: profile, cache: cache, log: log}
}

func (c *Classifier) purge() { c.cache.Purge() }

// IsSubtype reports whether t is name or one of its subtypes. Protocol
// faults answer false and are not memoized.
func (c *Classifier) IsSubtype(ctx context.Context, t remote.Type, name string) bool {
	if t.Name == "" || name == "" {
		return false
	}
	if t.Name == name {
		return true
	}
	key := t.Name + "\x00" + name
	if v, ok := c.cache.Get(key); ok {
		return v.(bool)
	}
	ok, err := c.client.IsSubtype(ctx, t, name)
	if err != nil {
		c.log.Debug("subtype query failed", "type", t.Name, "super", name, "error", err)
		return false
	}
	c.cache.Add(key, ok)
	return ok
}

// IsChainNode reports whether t is the base continuation implementation or
// a subtype of it.
func (c *Classifier) IsChainNode(ctx context.Context, t remote.Type) bool {
	return c.IsSubtype(ctx, t, c.profile.BaseContinuation)
}

// IsSuspendLambda reports whether t derives from any suspend lambda base.
func (c *Classifier) IsSuspendLambda(ctx context.Context, t remote.Type) bool {
	for _, name := range c.profile.SuspendLambdas {
		if c.IsSubtype(ctx, t, name) {
			return true
		}
	}
	return false
}

// IsSuspendEntryPoint reports whether m is the resume-computation method of
// a chain node or suspend lambda.
func (c *Classifier) IsSuspendEntryPoint(ctx context.Context, m remote.Method) bool {
	return c.isOwnedByChain(ctx, m, c.profile.EntryMethod)
}

// IsResumeFrame reports whether m is the method that resumes a chain root.
func (c *Classifier) IsResumeFrame(ctx context.Context, m remote.Method) bool {
	return c.isOwnedByChain(ctx, m, c.profile.ResumeMethod)
}

// IsIntrinsicMarker reports whether m is the marker a thread runs while
// parked on a suspended task. It is matched by name only, no remote calls.
func (c *Classifier) IsIntrinsicMarker(m remote.Method) bool {
	ref := c.profile.IntrinsicMarker
	if ref.Name == "" {
		return false
	}
	return matches(m, ref) && (ref.Owner == "" || m.Owner == ref.Owner)
}

func (c *Classifier) isOwnedByChain(ctx context.Context, m remote.Method, ref config.MethodRef) bool {
	if !matches(m, ref) {
		return false
	}
	owner := remote.Type{Name: m.Owner}
	return c.IsChainNode(ctx, owner) || c.IsSuspendLambda(ctx, owner)
}

func matches(m remote.Method, ref config.MethodRef) bool {
	return m.Name == ref.Name && m.Signature == ref.Signature
}
