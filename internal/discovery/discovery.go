// Package discovery scans a working tree's jobs/**, events/** and
// schedules/* trees for definition files (spec §4.3). Scanning itself is
// restartable and side-effect-free; loading (parsing a file into a
// gvtypes.JobDef/EventDef) is cached per (path, contentHash) so an
// unchanged file is never re-parsed by the same Scanner. The daemon builds
// a new Scanner for each worktree on every tick, so there the cache lasts
// one tick.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gitvan/gitvan/internal/canonical"
	"github.com/gitvan/gitvan/internal/gvtypes"
)

// defExt is the recognized job/event/schedule definition file suffix.
var defExt = map[string]bool{".yaml": true, ".yml": true}

type jobCacheEntry struct {
	hash string
	def  gvtypes.JobDef
}

type eventCacheEntry struct {
	hash string
	def  gvtypes.EventDef
}

// Scanner enumerates and loads job/event/schedule definitions rooted at a
// working tree. It is safe to reuse across daemon ticks; Load* re-walks the
// filesystem each call but reuses a cached parse when a file's content is
// unchanged.
type Scanner struct {
	Root      string
	JobsDir   string
	EventsDir string
	LogDir    string

	// Native is the host application's registry of in-process invocables,
	// looked up by key for job/event `run: {native: <key>}` definitions.
	Native map[string]gvtypes.Invocable

	jobCache   map[string]jobCacheEntry
	eventCache map[string]eventCacheEntry
}

// NewScanner builds a Scanner rooted at root, with jobsDir/eventsDir
// relative subdirectories (spec §6: jobs.dir/events.directory config keys)
// and logDir the directory exec-style job runs write their output logs to.
func NewScanner(root, jobsDir, eventsDir, logDir string, native map[string]gvtypes.Invocable) *Scanner {
	return &Scanner{
		Root:       root,
		JobsDir:    jobsDir,
		EventsDir:  eventsDir,
		LogDir:     logDir,
		Native:     native,
		jobCache:   map[string]jobCacheEntry{},
		eventCache: map[string]eventCacheEntry{},
	}
}

// Jobs scans and loads every job definition under JobsDir, sorted by id for
// deterministic discovery order (spec §4.6: "within one commit's matches,
// event definitions are processed in discovery order").
func (s *Scanner) Jobs() ([]gvtypes.JobDef, []error) {
	root := filepath.Join(s.Root, s.JobsDir)
	paths, err := walkDefinitions(root)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", root, err)}
	}

	var defs []gvtypes.JobDef
	var errs []error
	for _, path := range paths {
		rel, _ := filepath.Rel(root, path)
		id := idFromPath(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		hash := canonical.FingerprintBytes(data)

		if cached, ok := s.jobCache[path]; ok && cached.hash == hash {
			defs = append(defs, cached.def)
			continue
		}

		def, err := s.loadJob(id, path, data, hash)
		if err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		s.jobCache[path] = jobCacheEntry{hash: hash, def: def}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, errs
}

// Events scans and loads every event definition under EventsDir, sorted by
// id for deterministic discovery order.
func (s *Scanner) Events() ([]gvtypes.EventDef, []error) {
	root := filepath.Join(s.Root, s.EventsDir)
	paths, err := walkDefinitions(root)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", root, err)}
	}

	var defs []gvtypes.EventDef
	var errs []error
	for _, path := range paths {
		rel, _ := filepath.Rel(root, path)
		id := idFromPath(rel)

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		hash := canonical.FingerprintBytes(data)

		if cached, ok := s.eventCache[path]; ok && cached.hash == hash {
			defs = append(defs, cached.def)
			continue
		}

		def, err := s.loadEvent(id, path, data, hash)
		if err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		s.eventCache[path] = eventCacheEntry{hash: hash, def: def}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, errs
}

// Schedules loads schedules/*.yaml, the optional static schedule records
// from spec §6. Unlike jobs/events, schedule files are flat (not nested)
// and uncached: every call re-reads them (the daemon calls it on each tick).
func (s *Scanner) Schedules(schedulesDir string) ([]gvtypes.ScheduleDef, []error) {
	root := filepath.Join(s.Root, schedulesDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("scanning %s: %w", root, err)}
	}

	var defs []gvtypes.ScheduleDef
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !defExt[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		path := filepath.Join(root, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		var raw struct {
			ID       string `yaml:"id"`
			Cron     string `yaml:"cron"`
			JobID    string `yaml:"jobId"`
			Enabled  *bool  `yaml:"enabled"`
			Timezone string `yaml:"timezone"`
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			errs = append(errs, &DefinitionError{Path: path, Err: err})
			continue
		}
		enabled := true
		if raw.Enabled != nil {
			enabled = *raw.Enabled
		}
		tz := raw.Timezone
		if tz == "" {
			tz = "UTC"
		}
		id := raw.ID
		if id == "" {
			id = idFromPath(entry.Name())
		}
		defs = append(defs, gvtypes.ScheduleDef{
			ID:       id,
			Cron:     raw.Cron,
			JobID:    raw.JobID,
			Enabled:  enabled,
			Timezone: tz,
		})
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, errs
}

// walkDefinitions returns every recognized definition file under root,
// sorted lexically for stable traversal. A missing root is not an error:
// an empty jobs/ or events/ directory is a valid, empty repository state.
func walkDefinitions(root string) ([]string, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if defExt[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
