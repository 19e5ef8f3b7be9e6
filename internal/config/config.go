package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/cbroglie/mustache"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

// DefaultCommand runs `go test` for one package directory. Template variables
// are documented on runner.Exec.
const DefaultCommand = `go test{{#coverage}} -coverprofile={{{coverageFile}}}{{/coverage}}` +
	`{{#testNamePattern}} -run {{{testNamePattern}}}{{/testNamePattern}} ./{{{rel}}}` +
	`{{#updateSnapshot}} -args -update{{/updateSnapshot}}`

// Root is one watched project root. Per-root globs extend the global ones.
type Root struct {
	Dir            string   `koanf:"dir"`
	Name           string   `koanf:"name"`
	TestMatch      []string `koanf:"test_match"`
	IgnorePatterns []string `koanf:"ignore_patterns"`
}

// DisplayName returns Name, falling back to the base of Dir.
func (r Root) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return filepath.Base(r.Dir)
}

// Config holds all configurable testwatch settings.
type Config struct {
	Roots                 []Root   `koanf:"roots"`
	TestMatch             []string `koanf:"test_match"`
	IgnorePatterns        []string `koanf:"ignore_patterns"` // watch path ignore globs
	Command               string   `koanf:"command"`         // mustache template, one invocation per unit
	CollectCoverage       *bool    `koanf:"collect_coverage"`
	CoverageDirectory     string   `koanf:"coverage_directory"`
	SCM                   *bool    `koanf:"scm"` // enables the run-related command
	SnapshotFailureMarker string   `koanf:"snapshot_failure_marker"`
	DebounceMs            int      `koanf:"debounce_ms"`
	LogLevel              string   `koanf:"log_level"`
	LogFile               string   `koanf:"log_file"`
}

// Coverage reports whether coverage collection was requested.
func (c Config) Coverage() bool {
	return c.CollectCoverage != nil && *c.CollectCoverage
}

// SCMEnabled reports whether source-control integration is on.
func (c Config) SCMEnabled() bool {
	return c.SCM != nil && *c.SCM
}

// Bool returns a pointer to b, for the optional flags above.
func Bool(b bool) *bool { return &b }

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		TestMatch:             []string{"**/*_test.go"},
		IgnorePatterns:        []string{},
		Command:               DefaultCommand,
		CollectCoverage:       Bool(false),
		CoverageDirectory:     "coverage",
		SCM:                   Bool(true),
		SnapshotFailureMarker: "snapshot mismatch",
		DebounceMs:            100,
		LogLevel:              "info",
	}
}

var (
	globalCandidates  = []string{"config.json", "config.yaml", "config.yml", "config.toml"}
	projectCandidates = []string{".testwatch.json", ".testwatch.yaml", ".testwatch.yml", ".testwatch.toml"}
)

// GlobalDir returns the testwatch directory under XDG_CONFIG_HOME.
func GlobalDir() string {
	return filepath.Join(xdg.ConfigHome, "testwatch")
}

// DefaultLogFile returns the log path under XDG_STATE_HOME.
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "testwatch", "testwatch.log")
}

// LoadGlobal reads the first config.{json,yaml,yml,toml} in GlobalDir.
// Returns defaults if no file is present.
func LoadGlobal() (*Config, error) {
	path := discover(GlobalDir(), globalCandidates)
	if path == "" {
		d := Defaults()
		return &d, nil
	}
	return LoadFile(path)
}

// LoadProject reads the first .testwatch.{json,yaml,yml,toml} in dir.
// Returns nil (no error) if no file is present.
func LoadProject(dir string) (*Config, error) {
	path := discover(dir, projectCandidates)
	if path == "" {
		return nil, nil
	}
	return LoadFile(path)
}

// discover returns the first candidate that exists in dir, or "".
func discover(dir string, candidates []string) string {
	for _, c := range candidates {
		p := filepath.Join(dir, c)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// parserFor picks the koanf parser by file extension.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser()
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".toml":
		return toml.Parser()
	}
	return nil
}

// LoadFile reads and parses the config file at path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	parser := parserFor(path)
	if parser == nil {
		return nil, &ParseError{Path: path, Err: fmt.Errorf("unsupported extension %q", filepath.Ext(path))}
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	apply(&result, global)
	apply(&result, project)
	return result
}

func apply(dst *Config, src *Config) {
	if src == nil {
		return
	}
	if len(src.Roots) > 0 {
		dst.Roots = src.Roots
	}
	if len(src.TestMatch) > 0 {
		dst.TestMatch = src.TestMatch
	}
	if len(src.IgnorePatterns) > 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}
	if src.Command != "" {
		dst.Command = src.Command
	}
	if src.CollectCoverage != nil {
		dst.CollectCoverage = src.CollectCoverage
	}
	if src.CoverageDirectory != "" {
		dst.CoverageDirectory = src.CoverageDirectory
	}
	if src.SCM != nil {
		dst.SCM = src.SCM
	}
	if src.SnapshotFailureMarker != "" {
		dst.SnapshotFailureMarker = src.SnapshotFailureMarker
	}
	if src.DebounceMs > 0 {
		dst.DebounceMs = src.DebounceMs
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.LogFile != "" {
		dst.LogFile = src.LogFile
	}
}

// Validate checks globs, the command template and the log level.
func (c Config) Validate() error {
	var errs []error
	globs := append([]string{}, c.TestMatch...)
	globs = append(globs, c.IgnorePatterns...)
	for _, r := range c.Roots {
		if r.Dir == "" {
			errs = append(errs, errors.New("root with empty dir"))
		}
		globs = append(globs, r.TestMatch...)
		globs = append(globs, r.IgnorePatterns...)
	}
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			errs = append(errs, fmt.Errorf("invalid glob %q", g))
		}
	}
	if strings.TrimSpace(c.Command) == "" {
		errs = append(errs, errors.New("command is empty"))
	} else if _, err := mustache.ParseString(c.Command); err != nil {
		errs = append(errs, fmt.Errorf("command template: %w", err))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
