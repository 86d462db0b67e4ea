// Package config loads urlindex configuration from defaults, the user config
// file, an optional explicit file and URLINDEX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	uierrors "github.com/Aman-CERP/urlindex/internal/errors"
	"github.com/Aman-CERP/urlindex/internal/store"
)

// Config represents the complete urlindex configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Indexer IndexerConfig `yaml:"indexer" json:"indexer"`

	// Sources maps a category name to the JSON collection file that
	// backs it, e.g. saved: ~/.urlindex/saved.json
	Sources map[string]string `yaml:"sources" json:"sources"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// StoreConfig selects the index backend and where it lives.
type StoreConfig struct {
	// Backend is one of pebble (default), sqlite, bleve.
	Backend string `yaml:"backend" json:"backend"`

	// DataDir holds the index and the lock file. Default: ~/.urlindex/data
	DataDir string `yaml:"data_dir" json:"data_dir"`

	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// IndexerConfig tunes the write coalescer and query cache.
type IndexerConfig struct {
	// UpsertDebounce and DeleteDebounce are Go durations ("500ms").
	UpsertDebounce string `yaml:"upsert_debounce" json:"upsert_debounce"`
	DeleteDebounce string `yaml:"delete_debounce" json:"delete_debounce"`

	// QueryCacheSize is the number of cached query terms. 0 disables.
	QueryCacheSize int `yaml:"query_cache_size" json:"query_cache_size"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			Backend:       string(store.BackendPebble),
			DataDir:       DefaultDataDir(),
			SQLiteCacheMB: 16,
		},
		Indexer: IndexerConfig{
			UpsertDebounce: "500ms",
			DeleteDebounce: "500ms",
			QueryCacheSize: 256,
		},
		Sources: map[string]string{},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DefaultDataDir returns ~/.urlindex/data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".urlindex", "data")
	}
	return filepath.Join(home, ".urlindex", "data")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory layout:
//   - $XDG_CONFIG_HOME/urlindex/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/urlindex/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "urlindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "urlindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "urlindex", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the effective configuration. Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/urlindex/config.yaml)
//  3. The explicit file, if path is non-empty (must exist)
//  4. Environment variables (URLINDEX_*)
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, uierrors.New(uierrors.ErrCodeConfigNotFound,
				fmt.Sprintf("config file not found: %s", path), nil).
				WithSuggestion("run 'urlindex config init' or check the --config path")
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return uierrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c. Source maps are
// merged key by key.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = expandHome(other.Store.DataDir)
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}

	if other.Indexer.UpsertDebounce != "" {
		c.Indexer.UpsertDebounce = other.Indexer.UpsertDebounce
	}
	if other.Indexer.DeleteDebounce != "" {
		c.Indexer.DeleteDebounce = other.Indexer.DeleteDebounce
	}
	if other.Indexer.QueryCacheSize != 0 {
		c.Indexer.QueryCacheSize = other.Indexer.QueryCacheSize
	}

	for category, path := range other.Sources {
		if c.Sources == nil {
			c.Sources = make(map[string]string)
		}
		c.Sources[category] = expandHome(path)
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies URLINDEX_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("URLINDEX_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("URLINDEX_DATA_DIR"); v != "" {
		c.Store.DataDir = expandHome(v)
	}
	if v := os.Getenv("URLINDEX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("URLINDEX_UPSERT_DEBOUNCE"); v != "" {
		c.Indexer.UpsertDebounce = v
	}
	if v := os.Getenv("URLINDEX_DELETE_DEBOUNCE"); v != "" {
		c.Indexer.DeleteDebounce = v
	}
	if v := os.Getenv("URLINDEX_QUERY_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return uierrors.ConfigError(fmt.Sprintf("URLINDEX_QUERY_CACHE_SIZE must be an integer, got %q", v), err)
		}
		c.Indexer.QueryCacheSize = n
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if _, err := store.ParseBackend(c.Store.Backend); err != nil {
		return err
	}
	if c.Store.SQLiteCacheMB < 0 {
		return uierrors.ConfigError(fmt.Sprintf("store.sqlite_cache_mb must be non-negative, got %d", c.Store.SQLiteCacheMB), nil)
	}

	if _, err := parseDebounce("indexer.upsert_debounce", c.Indexer.UpsertDebounce); err != nil {
		return err
	}
	if _, err := parseDebounce("indexer.delete_debounce", c.Indexer.DeleteDebounce); err != nil {
		return err
	}
	if c.Indexer.QueryCacheSize < 0 {
		return uierrors.ConfigError(fmt.Sprintf("indexer.query_cache_size must be non-negative, got %d", c.Indexer.QueryCacheSize), nil)
	}

	for category, path := range c.Sources {
		if strings.TrimSpace(category) == "" {
			return uierrors.ConfigError("sources: category name must not be empty", nil)
		}
		if strings.TrimSpace(path) == "" {
			return uierrors.ConfigError(fmt.Sprintf("sources.%s: file path must not be empty", category), nil)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return uierrors.ConfigError(fmt.Sprintf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level), nil)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return uierrors.ConfigError("logging.max_size_mb and logging.max_files must be non-negative", nil)
	}

	return nil
}

// UpsertDelay returns the parsed upsert debounce window.
func (c *Config) UpsertDelay() time.Duration {
	d, _ := parseDebounce("", c.Indexer.UpsertDebounce)
	return d
}

// DeleteDelay returns the parsed delete debounce window.
func (c *Config) DeleteDelay() time.Duration {
	d, _ := parseDebounce("", c.Indexer.DeleteDebounce)
	return d
}

// OpenConfig returns the store factory configuration.
func (c *Config) OpenConfig() store.Config {
	backend, _ := store.ParseBackend(c.Store.Backend)
	return store.Config{
		Backend:       backend,
		Dir:           c.Store.DataDir,
		SQLiteCacheMB: c.Store.SQLiteCacheMB,
	}
}

// Categories returns the configured source categories in sorted order.
func (c *Config) Categories() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteYAML writes the configuration to a YAML file, creating parent
// directories as needed.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// parseDebounce parses a non-negative duration. Empty means zero.
func parseDebounce(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, uierrors.ConfigError(fmt.Sprintf("%s must be a duration like \"500ms\", got %q", field, s), err)
	}
	if d < 0 {
		return 0, uierrors.ConfigError(fmt.Sprintf("%s must be non-negative, got %s", field, s), nil)
	}
	return d, nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
