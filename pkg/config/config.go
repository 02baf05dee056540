package config

import (
	"fmt"
	"path/filepath"

	"imgload/pkg/lazyjson"

	"github.com/adrg/xdg"
)

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetCacheDir() string
	GetConfigDir() string
	GetImageDir() string
	GetRawDir() string
	GetMetaFile() string
	GetIndexFile() string
	GetSettingsFile() string
	GetSettings() Settings
	Freeze()
	Checkout() Writable
}

// Writable defines the writable interface for Config.
// Mutable
type Writable interface {
	ReadOnly
	SetCacheDir(string)
	SetConfigDir(string)
	UpdateSettings(func(*Settings))
	LoadSettings() error
}

// Config holds the base directories and tunables for imgload.
// Mutable
type Config struct {
	cacheDir  string
	configDir string

	imageDir     string
	rawDir       string
	metaFile     string
	indexFile    string
	settingsFile string

	settings Settings

	frozen bool
	edited bool
}

var _ ReadOnly = (*Config)(nil)
var _ Writable = (*Config)(nil)

func (c *Config) GetCacheDir() string     { return c.cacheDir }
func (c *Config) GetConfigDir() string    { return c.configDir }
func (c *Config) GetImageDir() string     { return c.imageDir }
func (c *Config) GetRawDir() string       { return c.rawDir }
func (c *Config) GetMetaFile() string     { return c.metaFile }
func (c *Config) GetIndexFile() string    { return c.indexFile }
func (c *Config) GetSettingsFile() string { return c.settingsFile }
func (c *Config) GetSettings() Settings   { return c.settings }

func (c *Config) SetCacheDir(s string) {
	if c.frozen {
		panic("cannot modify frozen config")
	}
	c.cacheDir = s
	c.updateDerived()
}

func (c *Config) SetConfigDir(s string) {
	if c.frozen {
		panic("cannot modify frozen config")
	}
	c.configDir = s
	c.updateDerived()
}

// UpdateSettings applies fn to the tunables, typically command-line overrides.
func (c *Config) UpdateSettings(fn func(*Settings)) {
	if c.frozen {
		panic("cannot modify frozen config")
	}
	fn(&c.settings)
}

// LoadSettings overlays the settings file onto the defaults. A missing file
// leaves the defaults in place; a malformed one is an error.
func (c *Config) LoadSettings() error {
	if c.frozen {
		panic("cannot modify frozen config")
	}
	file := lazyjson.New(c.settingsFile,
		lazyjson.WithDefaultValue(DefaultSettings),
	)
	s, err := file.Get()
	if err != nil {
		return fmt.Errorf("loading %s: %w", c.settingsFile, err)
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%s: %w", c.settingsFile, err)
	}
	c.settings = *s
	return nil
}

func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) Checkout() Writable {
	if c.frozen {
		panic("cannot checkout from frozen config")
	}
	if c.edited {
		panic("config already checked out")
	}
	c.edited = true
	return c
}

func (c *Config) updateDerived() {
	c.imageDir = filepath.Join(c.cacheDir, "images")
	c.rawDir = filepath.Join(c.cacheDir, "raw")
	c.metaFile = filepath.Join(c.rawDir, "meta.json")
	c.indexFile = filepath.Join(c.cacheDir, "index.db")
	c.settingsFile = filepath.Join(c.configDir, "config.json")
}

// Init initializes the configuration using XDG base directories and the
// built-in settings. Call LoadSettings on a checkout to apply config.json.
func Init() (ReadOnly, error) {
	return New(filepath.Join(xdg.CacheHome, "imgload"), filepath.Join(xdg.ConfigHome, "imgload")), nil
}

// New returns a config rooted at the given directories.
func New(cacheDir, configDir string) *Config {
	c := &Config{
		cacheDir:  cacheDir,
		configDir: configDir,
		settings:  *DefaultSettings(),
	}
	c.updateDerived()
	return c
}
