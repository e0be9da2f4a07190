package discovery

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/gitvan/gitvan/internal/execjob"
	"github.com/gitvan/gitvan/internal/gvtypes"
)

// runSpec is the YAML shape of a job or event target's `run` field: either a
// native registry key (a Go closure the host application registered) or an
// exec argv (run as a subprocess via execjob, spec §9's "capability, not
// concrete function type" design note).
type runSpec struct {
	Native string   `yaml:"native"`
	Exec   []string `yaml:"exec"`
}

func (s runSpec) empty() bool {
	return s.Native == "" && len(s.Exec) == 0
}

// resolve turns a runSpec into an Invocable, looking up native by key in the
// scanner's registry or adapting exec into a subprocess invocation.
func (s *Scanner) resolve(spec runSpec, workdir string) (gvtypes.Invocable, error) {
	switch {
	case spec.Native != "":
		fn, ok := s.Native[spec.Native]
		if !ok {
			return nil, fmt.Errorf("native run %q is not registered", spec.Native)
		}
		return fn, nil
	case len(spec.Exec) > 0:
		return execjob.New(spec.Exec, workdir, s.LogDir), nil
	default:
		return nil, fmt.Errorf("run must declare either native or exec")
	}
}

type jobFileYAML struct {
	Meta struct {
		Name string   `yaml:"name"`
		Desc string   `yaml:"desc"`
		Tags []string `yaml:"tags"`
	} `yaml:"meta"`
	Cron string  `yaml:"cron"`
	Run  runSpec `yaml:"run"`
}

// loadJob parses one job definition file. A job missing a run declaration
// is a DefinitionError (spec §7: "job file missing a run").
func (s *Scanner) loadJob(id, path string, data []byte, hash string) (gvtypes.JobDef, error) {
	var raw jobFileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return gvtypes.JobDef{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if raw.Run.empty() {
		return gvtypes.JobDef{}, fmt.Errorf("missing run")
	}

	run, err := s.resolve(raw.Run, filepath.Dir(path))
	if err != nil {
		return gvtypes.JobDef{}, err
	}

	return gvtypes.JobDef{
		ID: id,
		Meta: gvtypes.JobMeta{
			Name: raw.Meta.Name,
			Desc: raw.Meta.Desc,
			Tags: raw.Meta.Tags,
		},
		Cron:        raw.Cron,
		Run:         run,
		SourcePath:  path,
		ContentHash: hash,
	}, nil
}
