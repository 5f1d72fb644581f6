package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"calnote/internal/apierr"
	"calnote/internal/auth"
	"calnote/internal/kv"
	"calnote/internal/notes"
)

const (
	defaultIntervalMinutes = 15
	defaultNotesFolder     = "Calendar Notes"
)

// GoogleConfig holds the OAuth client registration.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// SyncConfig controls which calendars are synced and how often.
type SyncConfig struct {
	AutoSync bool `yaml:"auto_sync"`
	// IntervalMinutes is the auto-sync period.
	IntervalMinutes   int      `yaml:"interval_minutes"`
	SyncAllCalendars  bool     `yaml:"sync_all_calendars"`
	SelectedCalendars []string `yaml:"selected_calendars"`
}

// NotesConfig controls note generation.
type NotesConfig struct {
	Folder string `yaml:"folder"`
	// Template is the note body with {{placeholders}}. Empty means the
	// built-in template.
	Template string `yaml:"template,omitempty"`
	// DateFormat is a Go time layout used for {{date}}.
	DateFormat string `yaml:"date_format"`
}

// StorageConfig selects where the token is persisted.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// CalDAVConfig configures the optional mirror.
type CalDAVConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Calendar string `yaml:"calendar,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	Google GoogleConfig `yaml:"google"`
	Sync   SyncConfig   `yaml:"sync"`
	Notes  NotesConfig  `yaml:"notes"`
	// Timezone is the IANA display zone. Empty means the local zone.
	Timezone string        `yaml:"timezone"`
	Storage  StorageConfig `yaml:"storage"`
	CalDAV   CalDAVConfig  `yaml:"caldav,omitempty"`
}

// DefaultPath returns $XDG_CONFIG_HOME/calnote/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "calnote", "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Sync: SyncConfig{
			AutoSync:         true,
			SyncAllCalendars: true,
		},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	if c.Google.RedirectURL == "" {
		c.Google.RedirectURL = auth.DefaultRedirectURL
	}
	if c.Sync.IntervalMinutes <= 0 {
		c.Sync.IntervalMinutes = defaultIntervalMinutes
	}
	if c.Sync.SelectedCalendars == nil {
		c.Sync.SelectedCalendars = []string{}
	}
	if c.Notes.Folder == "" {
		c.Notes.Folder = defaultNotesFolder
	}
	if c.Notes.DateFormat == "" {
		c.Notes.DateFormat = notes.DefaultDateFormat
	}
	switch c.Storage.Backend {
	case kv.BackendFile, kv.BackendBadger:
	default:
		c.Storage.Backend = kv.BackendFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = kv.DefaultDir()
	}
}

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
	if v := getenv("CALNOTE_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := getenv("CALDAV_PASSWORD"); v != "" {
		c.CalDAV.Password = v
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return apierr.Validation("timezone", err.Error())
	}
	if c.CalDAV.Calendar != "" && (c.CalDAV.Username == "" || c.CalDAV.Password == "") {
		return apierr.Validation("caldav", "username and password are required when a calendar is set")
	}
	return nil
}

// ValidateOAuth reports missing client credentials.
func (c *Config) ValidateOAuth() error {
	if strings.TrimSpace(c.Google.ClientID) == "" {
		return apierr.Validation("google.client_id", "not configured; set it in the config file or GOOGLE_CLIENT_ID")
	}
	if strings.TrimSpace(c.Google.ClientSecret) == "" {
		return apierr.Validation("google.client_secret", "not configured; set it in the config file or GOOGLE_CLIENT_SECRET")
	}
	return nil
}

// Location resolves Timezone. Empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

// SyncInterval returns the auto-sync period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// Load loads configuration from the given YAML path. On first run a default
// config is written with 0600 permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
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
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".calnote-config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
