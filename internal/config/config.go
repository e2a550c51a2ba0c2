package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	// Embedded zone database so Timezone resolves on minimal hosts.
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes an external ICS feed imported into the store.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID namespaces imported events ("ics:<id>") and appears in logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// Language tags imported events ("ru", "en" or empty for both).
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
}

// SourceID returns the identifier used for the feed, falling back to the
// name and then the URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Environment selects log formatting: "development" logs to the console,
	// anything else emits JSON lines.
	Environment string `yaml:"environment" json:"environment"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA zone in which weekdays, times of day and
	// recurrence end dates are interpreted (e.g. "Europe/Moscow").
	Timezone string `yaml:"timezone" json:"timezone"`

	// EventsFile is the YAML document holding editorial events.
	EventsFile string `yaml:"events_file" json:"events_file"`

	// CacheDir stores ICS HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// RefreshCron is a standard 5-field cron spec for ICS imports.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays limits the upcoming listing and the expansion window of
	// imported non-weekly rules.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// PastLimit caps the number of past events listed.
	PastLimit int `yaml:"past_limit" json:"past_limit"`

	// ICS is the list of imported feeds.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultEnvironment = "development"
	defaultLogLevel    = "info"
	defaultTimezone    = "Europe/Moscow"
	defaultEventsFile  = "./var/events.yaml"
	defaultCacheDir    = "./var/ics-cache"
	defaultRefreshCron = "*/15 * * * *"
	defaultHorizonDays = 90
	defaultPastLimit   = 20
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Environment: defaultEnvironment,
		LogLevel:    defaultLogLevel,
		Timezone:    defaultTimezone,
		EventsFile:  defaultEventsFile,
		CacheDir:    defaultCacheDir,
		RefreshCron: defaultRefreshCron,
		HorizonDays: defaultHorizonDays,
		PastLimit:   defaultPastLimit,
		ICS:         []ICSConfig{},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Environment == "" {
		c.Environment = defaultEnvironment
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.EventsFile == "" {
		c.EventsFile = defaultEventsFile
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.PastLimit < 0 {
		c.PastLimit = 0
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports settings that would make the service misbehave at
// runtime rather than silently falling back.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	seen := make(map[string]bool, len(c.ICS))
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is empty", i))
			continue
		}
		id := src.SourceID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("ics[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		switch src.Language {
		case "", "ru", "en":
		default:
			errs = append(errs, fmt.Errorf("ics[%d]: unsupported language %q", i, src.Language))
		}
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Return cfg with the error so the caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".parishcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
