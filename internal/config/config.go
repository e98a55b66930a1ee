// Package config handles the .reflweb directory and its config.yaml. Every
// project that runs reflweb gets a .reflweb/ folder in its root.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// ReflwebDir is the name of the directory created in each project.
	ReflwebDir = ".reflweb"

	defaultServiceURL     = "http://127.0.0.1:8002"
	defaultServiceTimeout = 30 * time.Second
	defaultInstrument     = "ncnr.refl"
	defaultMaxParallel    = 8
	defaultCachePath      = "cache/responses.db"
	defaultCacheMaxAge    = 30 * 24 * time.Hour
	defaultLogLevel       = "info"
)

const defaultProjectConfigYAML = `# reflweb project configuration
version: 1

# Evaluation service used for calc_terminal and get_instrument.
service:
  url: http://127.0.0.1:8002
  timeout: 30s

# Instrument loaded at startup.
instrument: ncnr.refl

# Optional directory of local instrument definitions (*.yaml, *.json, *.go).
# When empty, definitions come from the evaluation service.
# instruments_dir: instruments

calc:
  max_parallel: 8

# Cached responses older than max_age are dropped at startup (0 keeps them).
cache:
  path: cache/responses.db
  max_age: 720h

logging:
  level: info
`

// ServiceConfig locates the evaluation service.
type ServiceConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CalcConfig bounds batch calculation fan-out.
type CalcConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

// CacheConfig configures the response cache. A relative path is resolved
// against the .reflweb directory.
type CacheConfig struct {
	Path     string        `yaml:"path"`
	MaxAge   time.Duration `yaml:"max_age"`
	Disabled bool          `yaml:"disabled,omitempty"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProjectConfig models .reflweb/config.yaml.
type ProjectConfig struct {
	Version        int           `yaml:"version"`
	Service        ServiceConfig `yaml:"service"`
	Instrument     string        `yaml:"instrument"`
	InstrumentsDir string        `yaml:"instruments_dir,omitempty"`
	Calc           CalcConfig    `yaml:"calc"`
	Cache          CacheConfig   `yaml:"cache"`
	Logging        LoggingConfig `yaml:"logging"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory reflweb was started from.
	ProjectDir string
	// ReflwebProjectDir is ProjectDir/.reflweb.
	ReflwebProjectDir string

	Project ProjectConfig
}

// InitDir creates the .reflweb directory structure and a default config
// file when none exists.
//
//	.reflweb/
//	├── config.yaml
//	├── logs/
//	├── cache/
//	└── instruments/
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, ReflwebDir)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "cache"),
		filepath.Join(root, "instruments"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load reads .reflweb/config.yaml (if present) and applies environment
// overrides. A missing file yields defaults.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:        projectDir,
		ReflwebProjectDir: filepath.Join(projectDir, ReflwebDir),
		Project:           defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ReflwebProjectDir, "logs")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ReflwebProjectDir, "config.yaml")
}

// CachePath returns the absolute response cache location, or "" when
// caching is disabled.
func (c *Config) CachePath() string {
	if c.Project.Cache.Disabled {
		return ""
	}
	return resolvePath(c.ReflwebProjectDir, c.Project.Cache.Path)
}

// InstrumentsDir returns the local instrument definition directory, or ""
// when definitions come from the evaluation service.
func (c *Config) InstrumentsDir() string {
	return resolvePath(c.ProjectDir, c.Project.InstrumentsDir)
}

// Instrument returns the configured instrument id.
func (c *Config) Instrument() string {
	return c.Project.Instrument
}

// SetInstrument updates the instrument loaded at startup and persists it.
func (c *Config) SetInstrument(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: instrument id is required")
	}
	c.Project.Instrument = id
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project = parsed
	return nil
}

func (c *Config) saveProjectConfig() error {
	if err := os.MkdirAll(c.ReflwebProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure %s: %w", c.ReflwebProjectDir, err)
	}
	data, err := yaml.Marshal(&c.Project)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", c.ProjectConfigPath(), err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:    1,
		Service:    ServiceConfig{URL: defaultServiceURL, Timeout: defaultServiceTimeout},
		Instrument: defaultInstrument,
		Calc:       CalcConfig{MaxParallel: defaultMaxParallel},
		Cache:      CacheConfig{Path: defaultCachePath, MaxAge: defaultCacheMaxAge},
		Logging:    LoggingConfig{Level: defaultLogLevel},
	}
}

func (pc *ProjectConfig) normalize() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	pc.Service.URL = strings.TrimRight(strings.TrimSpace(pc.Service.URL), "/")
	if pc.Service.URL == "" {
		pc.Service.URL = defaultServiceURL
	}
	if pc.Service.Timeout <= 0 {
		pc.Service.Timeout = defaultServiceTimeout
	}
	pc.Instrument = strings.TrimSpace(pc.Instrument)
	if pc.Instrument == "" {
		pc.Instrument = defaultInstrument
	}
	pc.InstrumentsDir = strings.TrimSpace(pc.InstrumentsDir)
	if pc.Calc.MaxParallel <= 0 {
		pc.Calc.MaxParallel = defaultMaxParallel
	}
	pc.Cache.Path = strings.TrimSpace(pc.Cache.Path)
	if pc.Cache.Path == "" {
		pc.Cache.Path = defaultCachePath
	}
	if pc.Cache.MaxAge < 0 {
		pc.Cache.MaxAge = 0
	}
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
	if pc.Logging.Level == "" {
		pc.Logging.Level = defaultLogLevel
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !strings.HasPrefix(pc.Service.URL, "http://") && !strings.HasPrefix(pc.Service.URL, "https://") {
		return fmt.Errorf("service.url must be an http(s) URL, got %q", pc.Service.URL)
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if id := strings.TrimSpace(os.Getenv("REFLWEB_INSTRUMENT")); id != "" {
		pc.Instrument = id
	}
	if level := strings.ToLower(strings.TrimSpace(os.Getenv("REFLWEB_LOG_LEVEL"))); level != "" {
		pc.Logging.Level = level
	}
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
