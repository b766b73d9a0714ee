package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvListen      = "CLASSAGENDA_LISTEN"
	EnvDatabaseURL = "CLASSAGENDA_DATABASE_URL"
	EnvRemoteURL   = "CLASSAGENDA_REMOTE_URL"
	EnvRemoteToken = "CLASSAGENDA_REMOTE_TOKEN"
	EnvLogLevel    = "CLASSAGENDA_LOG_LEVEL"
)

const (
	BackendRemote   = "remote"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// ICSConfig describes a single ICS subscription.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID prefixes imported item IDs.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// Kind given to imported items, "Evento" if empty.
	Kind string `yaml:"kind,omitempty" json:"kind,omitempty"`
}

// RemoteConfig points at the remote document store.
type RemoteConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	Collection string `yaml:"collection" json:"collection"`
	Token      string `yaml:"token,omitempty" json:"-"`
	CacheDir   string `yaml:"cache_dir" json:"cache_dir"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn,omitempty" json:"-"`
}

// StoreConfig selects and configures the item backend.
type StoreConfig struct {
	// Backend is "remote", "postgres" or "memory". Left empty it is "remote"
	// when remote.base_url is set and "memory" otherwise.
	Backend  string         `yaml:"backend" json:"backend"`
	Remote   RemoteConfig   `yaml:"remote" json:"remote"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone agenda days are computed in (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects the day header format: "pt-BR" (default) or "en".
	Locale string `yaml:"locale" json:"locale"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for background
	// reloads from the store and ICS subscriptions.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// ShowPast starts the agenda in show-all mode.
	ShowPast bool `yaml:"show_past" json:"show_past"`

	// HorizonDays / BackfillDays bound recurring ICS expansion.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// MaxItems caps app-owned items; 0 means unlimited.
	MaxItems int `yaml:"max_items,omitempty" json:"max_items,omitempty"`

	Store StoreConfig `yaml:"store" json:"store"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "America/Sao_Paulo",
		Locale:       "pt-BR",
		RefreshCron:  "*/15 * * * *",
		HorizonDays:  90,
		BackfillDays: 30,
		LogLevel:     "info",
		Store: StoreConfig{
			// Works without any backend setup; switch to remote or postgres
			// once base_url or dsn is known.
			Backend: BackendMemory,
			Remote: RemoteConfig{
				Collection: "calendar",
				CacheDir:   "/var/lib/classagenda/item-cache",
			},
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	if c.MaxItems < 0 {
		c.MaxItems = 0
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendRemote, BackendPostgres, BackendMemory:
		c.Store.Backend = strings.ToLower(c.Store.Backend)
	default:
		if c.Store.Remote.BaseURL != "" {
			c.Store.Backend = BackendRemote
		} else {
			c.Store.Backend = BackendMemory
		}
	}
	if c.Store.Remote.Collection == "" {
		c.Store.Remote.Collection = def.Store.Remote.Collection
	}
	if c.Store.Remote.CacheDir == "" {
		c.Store.Remote.CacheDir = def.Store.Remote.CacheDir
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			if c.ICS[i].Name != "" {
				c.ICS[i].ID = c.ICS[i].Name
			} else {
				c.ICS[i].ID = c.ICS[i].URL
			}
		}
	}
}

// ApplyEnv overlays CLASSAGENDA_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Store.Postgres.DSN = v
	}
	if v := os.Getenv(EnvRemoteURL); v != "" {
		c.Store.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvRemoteToken); v != "" {
		c.Store.Remote.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned
//   - Otherwise the YAML is read and normalized
//
// Environment overrides are applied last in both cases and never written
// back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unsaved default is fatal.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory with 0700 if needed.
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

	tmp, err := os.CreateTemp(dir, ".classagenda-config-*.tmp")
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
