// Package gvcontext carries the process-scoped, dynamically scoped values
// every core operation runs under: the working directory, environment,
// injectable clock and configuration (spec §4.2). It is implemented as a
// value chained through Go's own context.Context rather than a mutable
// global, so independent tests (and independent daemon ticks) never
// interfere with one another.
package gvcontext

import (
	"context"
	"os"
	"time"

	"github.com/gitvan/gitvan/internal/config"
)

type contextKey struct{}

// Context is the ambient value available to any code running under a
// WithContext region: cwd, env, now and config, plus free-form Extra fields
// a caller layers on (job/git/payload for the runner, see jobrunner).
type Context struct {
	Cwd    string
	Env    map[string]string
	Now    func() time.Time
	Config *config.Config
	Extra  map[string]any
}

// New builds a Context rooted at cwd with cfg, honoring GITVAN_NOW (spec
// §6: "GITVAN_NOW forces now()") when runtime.deterministic is set.
func New(cwd string, cfg *config.Config) *Context {
	now := func() time.Time { return time.Now().UTC() }
	if cfg == nil || cfg.Runtime.Deterministic {
		if v := os.Getenv("GITVAN_NOW"); v != "" {
			if parsed, err := time.Parse(time.RFC3339, v); err == nil {
				fixed := parsed.UTC()
				now = func() time.Time { return fixed }
			}
		}
	}
	return &Context{
		Cwd:    cwd,
		Env:    envMap(os.Environ()),
		Now:    now,
		Config: cfg,
		Extra:  map[string]any{},
	}
}

func envMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

// With returns a shallow copy of c with Extra fields merged in, leaving c
// itself untouched — this is how the job runner layers {job, git, payload,
// nowISO} onto the ambient context without mutating the daemon's context.
func (c *Context) With(extra map[string]any) *Context {
	merged := make(map[string]any, len(c.Extra)+len(extra))
	for k, v := range c.Extra {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return &Context{
		Cwd:    c.Cwd,
		Env:    c.Env,
		Now:    c.Now,
		Config: c.Config,
		Extra:  merged,
	}
}

// WithContext attaches gv to parent, returning a derived context.Context.
// Because derivation never mutates parent, leaving the scope (simply
// discarding the derived context) restores the prior value on every exit
// path, including panics and early returns, with no defer/recover needed.
func WithContext(parent context.Context, gv *Context) context.Context {
	return context.WithValue(parent, contextKey{}, gv)
}

// From retrieves the Context carried by ctx, if any.
func From(ctx context.Context) (*Context, bool) {
	gv, ok := ctx.Value(contextKey{}).(*Context)
	return gv, ok
}

// Run is the withContext(ctx, fn) combinator from spec §4.2: it runs fn
// under a context.Context carrying gv and returns fn's error untouched.
func Run(parent context.Context, gv *Context, fn func(ctx context.Context) error) error {
	return fn(WithContext(parent, gv))
}
