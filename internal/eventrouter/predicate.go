// Package eventrouter matches commit deltas against event definitions to
// produce a queue of job invocations (spec §4.6). It generalizes the
// teacher's single linear "watches" chain (internal/engine's processConcern
// head/lastSeen/commit-walk loop) to the full Predicate tagged-sum
// dispatch named in spec §9's design notes.
package eventrouter

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gobwas/glob"

	"github.com/gitvan/gitvan/internal/gvtypes"
)

// patternCache compiles branch/tag/path globs and message/author regexes
// once per distinct pattern string and reuses the compiled matcher for
// every commit and event its Router evaluates, rather than recompiling on
// every commit. The daemon builds a new Router per worktree each tick.
type patternCache struct {
	mu    sync.Mutex
	globs map[string]glob.Glob
	regex map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{globs: map[string]glob.Glob{}, regex: map[string]*regexp.Regexp{}}
}

func (c *patternCache) glob(pattern string) (glob.Glob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.globs[pattern]; ok {
		return g, nil
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	c.globs[pattern] = g
	return g, nil
}

func (c *patternCache) regexp(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.regex[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compiling regex %q: %w", pattern, err)
	}
	c.regex[pattern] = re
	return re, nil
}

// evaluate dispatches on pred.Kind per spec §4.6 step 3b. cron predicates
// never match here; the daemon's scheduler handles cron dispatch (§4.8).
func (c *patternCache) evaluate(pred gvtypes.Predicate, commit gvtypes.CommitMeta, worktree gvtypes.Worktree) (bool, error) {
	switch pred.Kind {
	case gvtypes.PredicateCron:
		return false, nil
	case gvtypes.PredicateBranch:
		g, err := c.glob(pred.Pattern)
		if err != nil {
			return false, err
		}
		return g.Match(worktree.Branch), nil
	case gvtypes.PredicatePath:
		g, err := c.glob(pred.Pattern)
		if err != nil {
			return false, err
		}
		for _, p := range commit.ChangedPaths {
			if g.Match(p) {
				return true, nil
			}
		}
		return false, nil
	case gvtypes.PredicateTag:
		g, err := c.glob(pred.Pattern)
		if err != nil {
			return false, err
		}
		for _, t := range commit.Tags {
			if g.Match(t) {
				return true, nil
			}
		}
		return false, nil
	case gvtypes.PredicateMessage:
		re, err := c.regexp(pred.Regex)
		if err != nil {
			return false, err
		}
		return re.MatchString(commit.Message), nil
	case gvtypes.PredicateAuthor:
		re, err := c.regexp(pred.Regex)
		if err != nil {
			return false, err
		}
		return re.MatchString(commit.Author), nil
	case gvtypes.PredicateMerge:
		return commit.IsMerge(), nil
	case gvtypes.PredicateAny:
		return true, nil
	default:
		return false, fmt.Errorf("unknown predicate kind %q", pred.Kind)
	}
}
