// Package config loads runtime settings from an optional YAML file and the
// SYMCC_* environment variables.
package config

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default settings.
const (
	DefaultOutputDir      = "/tmp/output"
	DefaultGCThreshold    = 5000000
	DefaultCountersFile   = "corpus_counters.stats"
	DefaultLogLevel       = "info"
	DefaultMaxContextHits = 16
)

// Config represents the runtime configuration.
type Config struct {
	// Directory that receives generated test cases. Must exist.
	OutputDir string `yaml:"output-dir"`

	// File holding the symbolic input. Standard input is captured if empty.
	InputFile string `yaml:"input-file"`

	// Disables all symbolic tracking.
	FullyConcrete bool `yaml:"fully-concrete"`

	// Selects the pruning expression builder.
	Pruning bool `yaml:"pruning"`

	// Number of registered expressions below which collection is skipped.
	GCThreshold int `yaml:"gc-threshold"`

	// AFL bitmap of already covered edges.
	AFLCoverageMap string `yaml:"afl-coverage-map"`

	// Persistent coverage counters file.
	CountersFile string `yaml:"counters-file"`

	// Persist every branch constraint regardless of coverage novelty.
	ForceSave bool `yaml:"force-save"`

	LogLevel string `yaml:"log-level"`

	// Hits after which a call context stops building compound expressions.
	MaxContextHits int `yaml:"max-context-hits"`
}

// NewConfig returns a new instance of Config with defaults.
func NewConfig() Config {
	return Config{
		OutputDir:      DefaultOutputDir,
		GCThreshold:    DefaultGCThreshold,
		CountersFile:   DefaultCountersFile,
		ForceSave:      true,
		LogLevel:       DefaultLogLevel,
		MaxContextHits: DefaultMaxContextHits,
	}
}

// Load returns the configuration from the process environment.
func Load() (Config, error) {
	return LoadEnv(os.LookupEnv)
}

// LoadEnv returns the configuration using lookup to read variables.
// The file named by SYMCC_CONFIG is applied first, then variable overrides.
func LoadEnv(lookup func(string) (string, bool)) (Config, error) {
	c := NewConfig()

	if path, ok := lookup("SYMCC_CONFIG"); ok && path != "" {
		if err := c.ReadFile(path); err != nil {
			return c, err
		}
	}

	if v, ok := lookup("SYMCC_OUTPUT_DIR"); ok {
		c.OutputDir = v
	}
	if v, ok := lookup("SYMCC_INPUT_FILE"); ok {
		c.InputFile = v
	}
	if v, ok := lookup("SYMCC_AFL_COVERAGE_MAP"); ok {
		c.AFLCoverageMap = v
	}
	if v, ok := lookup("SYMCC_COUNTERS_FILE"); ok && v != "" {
		c.CountersFile = v
	}
	if v, ok := lookup("SYMCC_LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}

	for _, fld := range []struct {
		name string
		ptr  *bool
	}{
		{"SYMCC_NO_SYMBOLIC_INPUT", &c.FullyConcrete},
		{"SYMCC_PRUNE", &c.Pruning},
		{"SYMCC_FORCE_SAVE", &c.ForceSave},
	} {
		if v, ok := lookup(fld.name); ok {
			b, err := ParseBool(v)
			if err != nil {
				return c, errors.Wrapf(err, "%s", fld.name)
			}
			*fld.ptr = b
		}
	}

	if v, ok := lookup("SYMCC_GC_THRESHOLD"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return c, errors.Wrap(err, "SYMCC_GC_THRESHOLD")
		} else if n < 0 {
			return c, errors.Errorf("SYMCC_GC_THRESHOLD: must be non-negative: %d", n)
		}
		c.GCThreshold = n
	}

	return c, nil
}

// ReadFile applies settings from a YAML file.
func (c *Config) ReadFile(path string) error {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	} else if err := yaml.Unmarshal(buf, c); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// ParseBool parses a boolean setting. Accepts 1/0, true/false, on/off and yes/no.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	default:
		return false, errors.Errorf("invalid boolean value: %q", s)
	}
}
