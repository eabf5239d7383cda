// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/enablerdao/ChirAI/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ChirAI configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version" yaml:"version"`
	DefaultModel string `toml:"default_model" json:"default_model" yaml:"default_model"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local" yaml:"local"`

	// Conversation behaviour
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Retry policy for failed sends
	Retry RetryConfig `toml:"retry" json:"retry" yaml:"retry"`

	// Response cache
	Cache CacheConfig `toml:"cache" json:"cache" yaml:"cache"`

	// Conversation history storage
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// HTTP API
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// Logging
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// LocalConfig contains settings for the local Ollama server.
type LocalConfig struct {
	OllamaURL       string  `toml:"ollama_url" json:"ollama_url" yaml:"ollama_url"`
	TimeoutSecs     int     `toml:"timeout_secs" json:"timeout_secs" yaml:"timeout_secs"`
	TestTimeoutSecs int     `toml:"test_timeout_secs" json:"test_timeout_secs" yaml:"test_timeout_secs"`
	TestMode        bool    `toml:"test_mode" json:"test_mode" yaml:"test_mode"`
	MockMode        bool    `toml:"mock_mode" json:"mock_mode" yaml:"mock_mode"`
	Endpoint        string  `toml:"endpoint" json:"endpoint" yaml:"endpoint"`       // "chat" or "generate"
	RateLimit       float64 `toml:"rate_limit" json:"rate_limit" yaml:"rate_limit"` // requests per second, 0 = unlimited
	AutoStart       bool    `toml:"auto_start" json:"auto_start" yaml:"auto_start"`
}

// SessionConfig contains per-conversation behaviour.
type SessionConfig struct {
	MaxMessages         int    `toml:"max_messages" json:"max_messages" yaml:"max_messages"`
	WelcomeMessage      bool   `toml:"welcome_message" json:"welcome_message" yaml:"welcome_message"`
	AnnounceModelSwitch bool   `toml:"announce_model_switch" json:"announce_model_switch" yaml:"announce_model_switch"`
	ValidateModels      bool   `toml:"validate_models" json:"validate_models" yaml:"validate_models"`
	Language            string `toml:"language" json:"language" yaml:"language"` // "en" or "ja"
}

// RetryConfig controls retries of retryable failures.
type RetryConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	MaxAttempts int    `toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
	DelayMs     int    `toml:"delay_ms" json:"delay_ms" yaml:"delay_ms"`
	Backoff     string `toml:"backoff" json:"backoff" yaml:"backoff"` // "fixed" or "linear"
}

// CacheConfig contains response cache settings.
type CacheConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Backend       string `toml:"backend" json:"backend" yaml:"backend"` // "memory" or "redis"
	MaxBytes      int64  `toml:"max_bytes" json:"max_bytes" yaml:"max_bytes"`
	RedisAddr     string `toml:"redis_addr" json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `toml:"redis_password" json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `toml:"redis_db" json:"redis_db" yaml:"redis_db"`
	TTLSecs       int    `toml:"ttl_secs" json:"ttl_secs" yaml:"ttl_secs"`
}

// StorageConfig contains conversation history settings.
type StorageConfig struct {
	Backend  string `toml:"backend" json:"backend" yaml:"backend"` // "json" or "sqlite"
	Dir      string `toml:"dir" json:"dir" yaml:"dir"`
	AutoSave bool   `toml:"auto_save" json:"auto_save" yaml:"auto_save"`
}

// ServerConfig contains HTTP API settings.
type ServerConfig struct {
	Address string `toml:"address" json:"address" yaml:"address"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level       string `toml:"level" json:"level" yaml:"level"`
	Development bool   `toml:"development" json:"development" yaml:"development"`
	File        string `toml:"file" json:"file" yaml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// CurrentVersion is the config file format version written by Save.
	CurrentVersion = "1"

	DefaultModel       = "gemma3:1b"
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultServerAddr  = "127.0.0.1:8787"
	DefaultCacheBytes  = 50 << 20
	DefaultMaxMessages = 1000
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version:      CurrentVersion,
		DefaultModel: DefaultModel,
		Local: LocalConfig{
			OllamaURL:       DefaultOllamaURL,
			TimeoutSecs:     30,
			TestTimeoutSecs: 5,
			Endpoint:        "chat",
		},
		Session: SessionConfig{
			MaxMessages:         DefaultMaxMessages,
			AnnounceModelSwitch: true,
			Language:            "en",
		},
		Retry: RetryConfig{
			Enabled:     false,
			MaxAttempts: 3,
			DelayMs:     1000,
			Backoff:     "fixed",
		},
		Cache: CacheConfig{
			Enabled:  true,
			Backend:  "memory",
			MaxBytes: DefaultCacheBytes,
			TTLSecs:  3600,
		},
		Storage: StorageConfig{
			Backend:  "json",
			AutoSave: true,
		},
		Server: ServerConfig{
			Address: DefaultServerAddr,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Timeout returns the per-request timeout, honouring test mode.
func (c *Config) Timeout() time.Duration {
	if c.Local.TestMode {
		return time.Duration(c.Local.TestTimeoutSecs) * time.Second
	}
	return time.Duration(c.Local.TimeoutSecs) * time.Second
}

// RetryDelay returns the base delay between retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.DelayMs) * time.Millisecond
}

// CacheTTL returns the cache entry lifetime. Zero means no expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ChirAI configuration directory path.
// CHIRAI_HOME overrides the default of ~/.chirai.
func ConfigDir() (string, error) {
	if dir := os.Getenv("CHIRAI_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".chirai"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	return configPath("config.toml")
}

func configPath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions tightens config files to 0600; they may hold a redis password.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the default config directory.
func Load() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		return cfg, err
	}
	return LoadDir(dir)
}

// LoadDir loads configuration from dir, trying config.toml, then config.json,
// then config.yaml, and falling back to defaults. Environment overrides are
// applied last. A file that fails to parse is reported alongside the defaults.
func LoadDir(dir string) (*Config, error) {
	var loadErr error

	for _, name := range []string{"config.toml", "config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		var verrs ValidateErrors
		if errors.As(err, &verrs) {
			return nil, err
		}
		loadErr = err
		break
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	warnPermissions(path)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// LoadYAML decodes a YAML file into cfg.
func LoadYAML(cfg *Config, path string) error {
	warnPermissions(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode YAML file: %w", err)
	}
	return nil
}

func warnPermissions(path string) {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
}

// LoadFromPath loads configuration from a specific file path with full validation.
// The format is chosen by extension; anything unrecognised is read as TOML.
// Values absent from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	case ".yaml", ".yml":
		err = LoadYAML(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finish runs migration, defaults and validation.
func (c *Config) finish() error {
	c.Migrate()
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# ChirAI configuration file")
	fmt.Fprintln(&buf, "# Generated by chirai - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, buf.Bytes())
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

// SaveYAML saves the configuration to a YAML file with 0600 permissions.
func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return writeConfig(path, data)
}

func writeConfig(path string, data []byte) error {
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0755); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the names of the invalid fields.
func (e ValidateErrors) Fields() []string {
	fields := make([]string, 0, len(e))
	for _, err := range e {
		fields = append(fields, err.Field)
	}
	return fields
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		add(field, "invalid value '%s', must be one of: %s", value, strings.Join(allowed, ", "))
	}

	if strings.TrimSpace(c.DefaultModel) == "" {
		add("default_model", "must not be empty")
	}

	// Local
	if u, err := url.Parse(c.Local.OllamaURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("local.ollama_url", "invalid URL '%s', must be an absolute http(s) URL", c.Local.OllamaURL)
	}
	if c.Local.TimeoutSecs <= 0 {
		add("local.timeout_secs", "must be positive, got %d", c.Local.TimeoutSecs)
	}
	if c.Local.TestTimeoutSecs <= 0 {
		add("local.test_timeout_secs", "must be positive, got %d", c.Local.TestTimeoutSecs)
	}
	oneOf("local.endpoint", c.Local.Endpoint, "chat", "generate")
	if c.Local.RateLimit < 0 {
		add("local.rate_limit", "must not be negative, got %g", c.Local.RateLimit)
	}

	// Session
	if c.Session.MaxMessages < 1 {
		add("session.max_messages", "must be at least 1, got %d", c.Session.MaxMessages)
	}
	oneOf("session.language", c.Session.Language, "en", "ja")

	// Retry
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 3 {
		add("retry.max_attempts", "must be between 1 and 3, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.DelayMs < 0 {
		add("retry.delay_ms", "must not be negative, got %d", c.Retry.DelayMs)
	}
	oneOf("retry.backoff", c.Retry.Backoff, "fixed", "linear")

	// Cache
	oneOf("cache.backend", c.Cache.Backend, "memory", "redis")
	if c.Cache.MaxBytes < 0 {
		add("cache.max_bytes", "must not be negative, got %d", c.Cache.MaxBytes)
	}
	if c.Cache.TTLSecs < 0 {
		add("cache.ttl_secs", "must not be negative, got %d", c.Cache.TTLSecs)
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		add("cache.redis_addr", "required when cache.backend is redis")
	}

	// Storage
	oneOf("storage.backend", c.Storage.Backend, "json", "sqlite")

	// Server
	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		add("server.address", "invalid address '%s': %v", c.Server.Address, err)
	}

	// Log
	oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error")

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults sets default values for any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}

	// Local
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = defaults.Local.OllamaURL
	}
	if c.Local.TimeoutSecs == 0 {
		c.Local.TimeoutSecs = defaults.Local.TimeoutSecs
	}
	if c.Local.TestTimeoutSecs == 0 {
		c.Local.TestTimeoutSecs = defaults.Local.TestTimeoutSecs
	}
	if c.Local.Endpoint == "" {
		c.Local.Endpoint = defaults.Local.Endpoint
	}

	// Session
	if c.Session.MaxMessages == 0 {
		c.Session.MaxMessages = defaults.Session.MaxMessages
	}
	if c.Session.Language == "" {
		c.Session.Language = defaults.Session.Language
	}

	// Retry
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if c.Retry.Backoff == "" {
		c.Retry.Backoff = defaults.Retry.Backoff
	}

	// Cache
	if c.Cache.Backend == "" {
		c.Cache.Backend = defaults.Cache.Backend
	}
	if c.Cache.MaxBytes == 0 {
		c.Cache.MaxBytes = defaults.Cache.MaxBytes
	}

	// Storage
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaults.Storage.Backend
	}
	if c.Storage.Dir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Dir = filepath.Join(dir, "history")
		} else {
			c.Storage.Dir = filepath.Join(".chirai", "history")
		}
	}

	// Server
	if c.Server.Address == "" {
		c.Server.Address = defaults.Server.Address
	}

	// Log
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// Migrate normalises older or loosely written values to their canonical form.
func (c *Config) Migrate() {
	c.Local.Endpoint = strings.ToLower(strings.TrimSpace(c.Local.Endpoint))
	switch c.Local.Endpoint {
	case "completions", "chat_completions", "openai":
		c.Local.Endpoint = "chat"
	case "api/generate", "legacy":
		c.Local.Endpoint = "generate"
	}

	c.Session.Language = strings.ToLower(strings.TrimSpace(c.Session.Language))
	switch c.Session.Language {
	case "english", "en-us", "en-gb":
		c.Session.Language = "en"
	case "japanese", "ja-jp", "jp":
		c.Session.Language = "ja"
	}

	c.Retry.Backoff = strings.ToLower(c.Retry.Backoff)
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.Backend == "sqlite3" {
		c.Storage.Backend = "sqlite"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "warning" {
		c.Log.Level = "warn"
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - CHIRAI_OLLAMA_URL (or OLLAMA_URL): overrides local.ollama_url
//   - CHIRAI_MODEL (or DEFAULT_MODEL): overrides default_model
//   - TEST_MODE: "1" or "true" enables test mode (short timeouts)
//   - MOCK_MODE: "1" or "true" serves canned replies without a server
//   - CHIRAI_STORAGE: overrides storage.backend
//   - CHIRAI_LOG_LEVEL: overrides log.level
//   - CHIRAI_LANGUAGE: overrides session.language
func (c *Config) ApplyEnvOverrides() {
	if v := firstEnv("CHIRAI_OLLAMA_URL", "OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := firstEnv("CHIRAI_MODEL", "DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v, ok := envBool("TEST_MODE"); ok {
		c.Local.TestMode = v
	}
	if v, ok := envBool("MOCK_MODE"); ok {
		c.Local.MockMode = v
	}
	if v := os.Getenv("CHIRAI_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("CHIRAI_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CHIRAI_LANGUAGE"); v != "" {
		c.Session.Language = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return strings.EqualFold(v, "yes") || strings.EqualFold(v, "on"), true
	}
	return b, true
}

// =============================================================================
// WATCH
// =============================================================================

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and passes the result to fn.
// A reload that fails to parse or validate is reported through fn with a nil
// config; the previous configuration stays in effect for the caller.
// The parent directory is watched so atomic rename-on-save is seen.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(watchDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if _, err := os.Stat(abs); err != nil {
				continue
			}
			cfg, err := LoadFromPath(abs)
			fn(cfg, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fn(nil, fmt.Errorf("config watcher: %w", err))
		}
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration. Config holds only value fields.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as indented JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Cache.RedisPassword != "" {
		safe.Cache.RedisPassword = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
