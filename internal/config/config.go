// Package config loads gitvan.config.yaml, the ambient configuration record
// consumed by the execution core (spec §6). Parsing arbitrary config file
// formats (and any templating of them) is an external collaborator's job;
// this package only knows the recognized keys and their defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "1500ms" or plain integers meaning milliseconds (spec §6: daemon.pollMs
// defaults to 1500).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
	default:
		return fmt.Errorf("duration must be a string or integer milliseconds, got %T", raw)
	}
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Config is the recognized option set from spec §6's table.
type Config struct {
	RootDir string `yaml:"rootDir"`

	Jobs struct {
		Dir string `yaml:"dir"`
	} `yaml:"jobs"`

	Events struct {
		Directory string `yaml:"directory"`
	} `yaml:"events"`

	Receipts struct {
		Ref string `yaml:"ref"`
	} `yaml:"receipts"`

	Locks struct {
		Ref     string   `yaml:"ref"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"locks"`

	Daemon struct {
		PollMs     Duration `yaml:"pollMs"`
		Lookback   Duration `yaml:"lookback"`
		MaxPerTick int      `yaml:"maxPerTick"`
	} `yaml:"daemon"`

	Runtime struct {
		Timezone      string `yaml:"timezone"`
		Deterministic bool   `yaml:"deterministic"`
	} `yaml:"runtime"`
}

// Load reads and parses a gitvan.config.yaml file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns a Config pre-populated with spec §6's default values, used
// when no gitvan.config.yaml is present at all.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RootDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.RootDir = wd
		}
	}
	if cfg.Jobs.Dir == "" {
		cfg.Jobs.Dir = "jobs"
	}
	if cfg.Events.Directory == "" {
		cfg.Events.Directory = "events"
	}
	if cfg.Receipts.Ref == "" {
		cfg.Receipts.Ref = "refs/notes/gitvan/results"
	}
	if cfg.Locks.Ref == "" {
		cfg.Locks.Ref = "refs/gitvan/locks"
	}
	if cfg.Locks.Timeout == 0 {
		cfg.Locks.Timeout = Duration(30 * time.Second)
	}
	if cfg.Daemon.PollMs == 0 {
		cfg.Daemon.PollMs = Duration(1500 * time.Millisecond)
	}
	if cfg.Daemon.Lookback == 0 {
		cfg.Daemon.Lookback = Duration(600 * time.Second)
	}
	if cfg.Daemon.MaxPerTick == 0 {
		cfg.Daemon.MaxPerTick = 50
	}
	if cfg.Runtime.Timezone == "" {
		cfg.Runtime.Timezone = "UTC"
	}
	// runtime.deterministic defaults to true regardless of what YAML decoded
	// (the zero value would otherwise read as false). TZ=UTC/LANG=C are
	// forced by the git driver unconditionally either way; this flag only
	// gates whether the daemon honors GITVAN_NOW for job-visible time.
	cfg.Runtime.Deterministic = true
}

// Validate returns one error per structural problem rather than failing
// fast, matching the teacher's Validate/ValidateGates accumulation style.
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.RootDir == "" {
		errs = append(errs, fmt.Errorf("rootDir is required"))
	}
	if cfg.Jobs.Dir == "" {
		errs = append(errs, fmt.Errorf("jobs.dir is required"))
	}
	if cfg.Events.Directory == "" {
		errs = append(errs, fmt.Errorf("events.directory is required"))
	}
	if cfg.Receipts.Ref == "" {
		errs = append(errs, fmt.Errorf("receipts.ref is required"))
	}
	if cfg.Locks.Ref == "" {
		errs = append(errs, fmt.Errorf("locks.ref is required"))
	}
	if cfg.Locks.Timeout.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("locks.timeout must be positive"))
	}
	if cfg.Daemon.PollMs.Duration() <= 0 {
		errs = append(errs, fmt.Errorf("daemon.pollMs must be positive"))
	}
	if cfg.Daemon.MaxPerTick <= 0 {
		errs = append(errs, fmt.Errorf("daemon.maxPerTick must be positive"))
	}

	return errs
}
