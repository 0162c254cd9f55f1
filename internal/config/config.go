package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	BackendEDS = "eds"
	BackendICS = "ics"
)

// ICSConfig describes a single ICS subscription used by the ics backend.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" toml:"url" json:"url"`
	// ID is used as the source uid. Falls back to Name, then URL.
	ID string `yaml:"id" toml:"id" json:"id"`
	// Name is the display name reported in EventRecord.calendar.
	Name string `yaml:"name" toml:"name" json:"name"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the feed should be queried.
func (c ICSConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DBusConfig selects the bus and the evolution-data-server service names.
// EDS bumps the numeric suffix when its D-Bus interfaces change.
type DBusConfig struct {
	// Address is a D-Bus address; empty means the session bus.
	Address         string `yaml:"address" toml:"address" json:"address"`
	SourcesService  string `yaml:"sources_service" toml:"sources_service" json:"sources_service"`
	CalendarService string `yaml:"calendar_service" toml:"calendar_service" json:"calendar_service"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the serve command.
type BasicAuthConfig struct {
	Username string `yaml:"username" toml:"username" json:"username"`
	Password string `yaml:"password" toml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Backend is "eds" (evolution-data-server over D-Bus) or "ics".
	Backend string `yaml:"backend" toml:"backend" json:"backend"`

	LogLevel string `yaml:"log_level" toml:"log_level" json:"log_level"`

	// ConnectTimeout bounds opening one calendar.
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`

	// HorizonDays is the default range length for /api/events.
	HorizonDays int `yaml:"horizon_days" toml:"horizon_days" json:"horizon_days"`

	// ExpandRecurrences turns recurring masters into one record per
	// occurrence inside the query range.
	ExpandRecurrences bool `yaml:"expand_recurrences" toml:"expand_recurrences" json:"expand_recurrences"`

	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" toml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// AllDayUTC maps date-only values to UTC midnight instead of local
	// midnight.
	AllDayUTC bool `yaml:"all_day_utc" toml:"all_day_utc" json:"all_day_utc"`

	// FloatingTimezone is the zone used for times without TZID or "Z".
	// Empty keeps the wall clock as UTC; "Local" uses the system zone.
	FloatingTimezone string `yaml:"floating_timezone" toml:"floating_timezone" json:"floating_timezone"`

	// SkipCalendars lists source uids or display names to ignore.
	SkipCalendars []string `yaml:"skip_calendars" toml:"skip_calendars" json:"skip_calendars"`

	DBus DBusConfig `yaml:"dbus" toml:"dbus" json:"dbus"`

	// ICS is the list of feeds for the ics backend.
	ICS []ICSConfig `yaml:"ics" toml:"ics" json:"ics"`

	// Listen is the HTTP listen address for the serve command.
	Listen string `yaml:"listen" toml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" toml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultConnectTimeout  = 30 * time.Second
	defaultHorizonDays     = 7
	defaultMaxOccurrences  = 5000
	defaultListen          = "127.0.0.1:8470"
	defaultSourcesService  = "org.gnome.evolution.dataserver.Sources5"
	defaultCalendarService = "org.gnome.evolution.dataserver.Calendar8"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Backend:                BackendEDS,
		LogLevel:               "info",
		ConnectTimeout:         defaultConnectTimeout,
		HorizonDays:            defaultHorizonDays,
		ExpandRecurrences:      true,
		MaxOccurrencesPerEvent: defaultMaxOccurrences,
		SkipCalendars:          []string{},
		DBus: DBusConfig{
			SourcesService:  defaultSourcesService,
			CalendarService: defaultCalendarService,
		},
		ICS:    []ICSConfig{},
		Listen: defaultListen,
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/edscal/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "edscal", "config.yaml")
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case BackendICS:
		c.Backend = BackendICS
	default:
		c.Backend = BackendEDS
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccurrences
	}
	if c.SkipCalendars == nil {
		c.SkipCalendars = []string{}
	}
	if c.DBus.SourcesService == "" {
		c.DBus.SourcesService = defaultSourcesService
	}
	if c.DBus.CalendarService == "" {
		c.DBus.CalendarService = defaultCalendarService
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if c.FloatingTimezone != "" && !strings.EqualFold(c.FloatingTimezone, "local") {
		if _, err := time.LoadLocation(c.FloatingTimezone); err != nil {
			return fmt.Errorf("floating_timezone %q: %w", c.FloatingTimezone, err)
		}
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return fmt.Errorf("ics[%d]: url is empty", i)
		}
	}
	return nil
}

// FloatingLocation resolves FloatingTimezone. Validate has already checked
// the name, so lookup failures fall back to UTC.
func (c *Config) FloatingLocation() *time.Location {
	switch {
	case c.FloatingTimezone == "":
		return time.UTC
	case strings.EqualFold(c.FloatingTimezone, "local"):
		return time.Local
	}
	loc, err := time.LoadLocation(c.FloatingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads the configuration at path. Files ending in .toml are decoded as
// TOML, everything else as YAML. A missing file yields DefaultConfig; use
// Save to create one.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if isTOML(path) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg as TOML or YAML depending on the extension.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	data, err := marshal(path, cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".edscal-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

func marshal(path string, cfg *Config) ([]byte, error) {
	if !isTOML(path) {
		return yaml.Marshal(cfg)
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
