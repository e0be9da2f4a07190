package discovery

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gitvan/gitvan/internal/gvtypes"
)

type eventFileYAML struct {
	Name            string            `yaml:"name"`
	Description     string            `yaml:"description"`
	Type            string            `yaml:"type"`
	Pattern         string            `yaml:"pattern"`
	Expr            string            `yaml:"expr"`
	TZ              string            `yaml:"tz"`
	Regex           string            `yaml:"regex"`
	Job             string            `yaml:"job"`
	PayloadTemplate map[string]string `yaml:"payloadTemplate"`
	Run             runSpec           `yaml:"run"`
}

var kindByType = map[string]gvtypes.PredicateKind{
	"cron":    gvtypes.PredicateCron,
	"branch":  gvtypes.PredicateBranch,
	"path":    gvtypes.PredicatePath,
	"tag":     gvtypes.PredicateTag,
	"message": gvtypes.PredicateMessage,
	"author":  gvtypes.PredicateAuthor,
	"merge":   gvtypes.PredicateMerge,
	"any":     gvtypes.PredicateAny,
}

// loadEvent parses one event definition file. When the YAML body omits
// type/pattern/expr/regex, they are inferred from the id by the unrouting
// grammar (spec §4.3): a file at events/path/src__star__.yaml with no body
// fields is a path("src*") predicate purely from its location.
func (s *Scanner) loadEvent(id, path string, data []byte, hash string) (gvtypes.EventDef, error) {
	var raw eventFileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return gvtypes.EventDef{}, fmt.Errorf("parsing YAML: %w", err)
	}

	inferred, hasInferred := inferPredicateFromID(id)

	kind := kindByType[raw.Type]
	if kind == "" && hasInferred {
		kind = kindByType[inferred.kind]
	}
	if kind == "" {
		return gvtypes.EventDef{}, fmt.Errorf("cannot determine predicate kind (no type field, no recognized path prefix)")
	}

	pred := gvtypes.Predicate{Kind: kind}
	switch kind {
	case gvtypes.PredicateCron:
		pred.Expr = raw.Expr
		if pred.Expr == "" && hasInferred {
			pred.Expr = inferred.pattern
		}
		pred.TZ = raw.TZ
		if pred.TZ == "" {
			pred.TZ = "UTC"
		}
		if pred.Expr == "" {
			return gvtypes.EventDef{}, fmt.Errorf("cron predicate requires expr")
		}
	case gvtypes.PredicateBranch, gvtypes.PredicateTag, gvtypes.PredicatePath:
		pred.Pattern = raw.Pattern
		if pred.Pattern == "" && hasInferred {
			pred.Pattern = inferred.pattern
		}
		if pred.Pattern == "" {
			return gvtypes.EventDef{}, fmt.Errorf("%s predicate requires pattern", kind)
		}
	case gvtypes.PredicateMessage, gvtypes.PredicateAuthor:
		pred.Regex = raw.Regex
		if pred.Regex == "" && hasInferred {
			pred.Regex = inferred.pattern
		}
		if pred.Regex == "" {
			return gvtypes.EventDef{}, fmt.Errorf("%s predicate requires regex", kind)
		}
	case gvtypes.PredicateMerge, gvtypes.PredicateAny:
		// No additional fields.
	}

	target, err := s.loadTarget(raw, path)
	if err != nil {
		return gvtypes.EventDef{}, err
	}

	return gvtypes.EventDef{
		ID:          id,
		Name:        raw.Name,
		Description: raw.Description,
		Predicate:   pred,
		Target:      target,
		SourcePath:  path,
		ContentHash: hash,
	}, nil
}

// loadTarget resolves an event's dispatch target: a named job, or an inline
// invocable declared the same way a job's run is (spec §3: "target is
// either {job: id, payloadTemplate?} or an inline invocable").
func (s *Scanner) loadTarget(raw eventFileYAML, path string) (gvtypes.Target, error) {
	switch {
	case raw.Job != "":
		return gvtypes.Target{JobID: raw.Job, PayloadTemplate: raw.PayloadTemplate}, nil
	case !raw.Run.empty():
		inline, err := s.resolve(raw.Run, filepath.Dir(path))
		if err != nil {
			return gvtypes.Target{}, err
		}
		return gvtypes.Target{Inline: inline}, nil
	default:
		return gvtypes.Target{}, fmt.Errorf("event must declare either job or run")
	}
}
