package calc

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/reflweb/internal/config"
)

const (
	// DefaultServiceURL is the local evaluation service address.
	DefaultServiceURL = "http://127.0.0.1:8002"
	// DefaultTimeout bounds one HTTP round trip.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxBodyBytes limits service responses to 64 MB.
	DefaultMaxBodyBytes int64 = 64 << 20
)

// Settings captures runtime configuration for the evaluation client.
type Settings struct {
	BaseURL      string
	Timeout      time.Duration
	MaxParallel  int
	MaxBodyBytes int64
}

// SettingsFromConfig builds Settings from the project config and environment
// overrides.
func SettingsFromConfig(cfg *config.Config) Settings {
	settings := Settings{
		BaseURL:      DefaultServiceURL,
		Timeout:      DefaultTimeout,
		MaxParallel:  DefaultMaxParallel,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
	if cfg != nil {
		raw := cfg.Project
		if url := strings.TrimSpace(raw.Service.URL); url != "" {
			settings.BaseURL = url
		}
		if raw.Service.Timeout > 0 {
			settings.Timeout = raw.Service.Timeout
		}
		if raw.Calc.MaxParallel > 0 {
			settings.MaxParallel = raw.Calc.MaxParallel
		}
	}
	settings.applyEnvOverrides()
	settings.normalize()
	return settings
}

func (s *Settings) applyEnvOverrides() {
	if url := strings.TrimSpace(os.Getenv("REFLWEB_SERVICE_URL")); url != "" {
		s.BaseURL = url
	}
	if value := strings.TrimSpace(os.Getenv("REFLWEB_MAX_PARALLEL")); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			s.MaxParallel = n
		}
	}
	if value := strings.TrimSpace(os.Getenv("REFLWEB_SERVICE_TIMEOUT")); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			s.Timeout = d
		}
	}
}

func (s *Settings) normalize() {
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if s.BaseURL == "" {
		s.BaseURL = DefaultServiceURL
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxParallel <= 0 {
		s.MaxParallel = DefaultMaxParallel
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
}
