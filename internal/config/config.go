// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/rigrun-tasks/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigtask configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Task execution defaults
	Task TaskConfig `toml:"task" json:"task"`

	// Dialog and terminal output
	UI UIConfig `toml:"ui" json:"ui"`

	// Structured logging
	Log LogConfig `toml:"log" json:"log"`

	// Persistent run history
	History HistoryConfig `toml:"history" json:"history"`
}

// TaskConfig contains defaults for running tasks.
type TaskConfig struct {
	// CancelingText is shown while a cancel request is pending
	CancelingText string `toml:"canceling_text" json:"canceling_text"`

	// DefaultSteps is the step count for built-in stepped work
	DefaultSteps int `toml:"default_steps" json:"default_steps"`

	// StepDelay is the pause between steps of built-in stepped work
	StepDelay Duration `toml:"step_delay" json:"step_delay"`

	// CoalesceProgress merges queued progress notifications under load
	CoalesceProgress bool `toml:"coalesce_progress" json:"coalesce_progress"`

	// KillOnCancel terminates shell commands when cancel is requested.
	// When false, shell work is left to finish on its own.
	KillOnCancel bool `toml:"kill_on_cancel" json:"kill_on_cancel"`

	// Shell overrides the shell used for shell work
	Shell string `toml:"shell" json:"shell"`
}

// UIConfig contains display settings.
type UIConfig struct {
	Theme         string `toml:"theme" json:"theme"` // "dark", "light" or "auto"
	ShowSpinner   bool   `toml:"show_spinner" json:"show_spinner"`
	ProgressWidth int    `toml:"progress_width" json:"progress_width"`
	AltScreen     bool   `toml:"alt_screen" json:"alt_screen"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level" json:"level"` // trace, debug, info, warn, error
	File  string `toml:"file" json:"file"`   // empty: stderr in text mode, default file in the TUI
	JSON  bool   `toml:"json" json:"json"`
}

// HistoryConfig contains run history settings.
type HistoryConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled"`
	Path       string `toml:"path" json:"path"` // empty: ~/.rigtask/history.db
	MaxEntries int    `toml:"max_entries" json:"max_entries"`
}

// Duration is a time.Duration written as a string ("50ms", "2s") in config
// files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Task: TaskConfig{
			CancelingText:    "Canceling...",
			DefaultSteps:     100,
			StepDelay:        Duration{50 * time.Millisecond},
			CoalesceProgress: true,
			KillOnCancel:     false,
		},

		UI: UIConfig{
			Theme:         "auto",
			ShowSpinner:   true,
			ProgressWidth: 40,
			AltScreen:     false,
		},

		Log: LogConfig{
			Level: "info",
		},

		History: HistoryConfig{
			Enabled:    true,
			MaxEntries: 500,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigtask configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigtask"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// HistoryPath returns the run history database path, resolving the default.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// DefaultLogFile returns the log file used when the terminal is taken over
// by the dialog and no file is configured.
func DefaultLogFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rigtask.log"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.rigtask/config.toml, falling back to
// defaults when the file does not exist. Environment overrides are applied
// last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full
// validation. Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without applying environment
// overrides or validating. Use it when the result is written back to disk.
func ReadFile(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config from %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config from %s: %w", path, err)
		}
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigtask configuration file\n")
	buf.WriteString("# Generated by rigtask - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// maxSteps mirrors the limit enforced by the built-in stepped work.
const maxSteps = 10000

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Task
	if strings.TrimSpace(c.Task.CancelingText) == "" {
		errs = append(errs, ValidationError{
			Field:   "task.canceling_text",
			Message: "must not be empty",
		})
	}
	if c.Task.DefaultSteps < 1 || c.Task.DefaultSteps > maxSteps {
		errs = append(errs, ValidationError{
			Field:   "task.default_steps",
			Message: fmt.Sprintf("must be between 1 and %d, got %d", maxSteps, c.Task.DefaultSteps),
		})
	}
	if c.Task.StepDelay.Duration < 0 || c.Task.StepDelay.Duration > time.Minute {
		errs = append(errs, ValidationError{
			Field:   "task.step_delay",
			Message: fmt.Sprintf("must be between 0 and 1m, got %s", c.Task.StepDelay),
		})
	}

	// UI
	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}
	if c.UI.ProgressWidth < 10 || c.UI.ProgressWidth > 200 {
		errs = append(errs, ValidationError{
			Field:   "ui.progress_width",
			Message: fmt.Sprintf("must be between 10 and 200, got %d", c.UI.ProgressWidth),
		})
	}

	// Log
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error, disabled", c.Log.Level),
		})
	}

	// History
	if c.History.MaxEntries < 0 {
		errs = append(errs, ValidationError{
			Field:   "history.max_entries",
			Message: "must not be negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGTASK_LOG_LEVEL: overrides log.level
//   - RIGTASK_LOG_FILE: overrides log.file
//   - RIGTASK_LOG_JSON: overrides log.json
//   - RIGTASK_THEME: overrides ui.theme
//   - RIGTASK_CANCELING_TEXT: overrides task.canceling_text
//   - RIGTASK_KILL_ON_CANCEL: overrides task.kill_on_cancel
//   - RIGTASK_SHELL: overrides task.shell
//   - RIGTASK_HISTORY: overrides history.enabled
//   - RIGTASK_HISTORY_PATH: overrides history.path
func (c *Config) ApplyEnvOverrides() {
	if level := os.Getenv("RIGTASK_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if file := os.Getenv("RIGTASK_LOG_FILE"); file != "" {
		c.Log.File = file
	}
	if v := os.Getenv("RIGTASK_LOG_JSON"); v != "" {
		c.Log.JSON = parseBool(v)
	}
	if theme := os.Getenv("RIGTASK_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if text := os.Getenv("RIGTASK_CANCELING_TEXT"); text != "" {
		c.Task.CancelingText = text
	}
	if v := os.Getenv("RIGTASK_KILL_ON_CANCEL"); v != "" {
		c.Task.KillOnCancel = parseBool(v)
	}
	if shell := os.Getenv("RIGTASK_SHELL"); shell != "" {
		c.Task.Shell = shell
	}
	if v := os.Getenv("RIGTASK_HISTORY"); v != "" {
		c.History.Enabled = parseBool(v)
	}
	if path := os.Getenv("RIGTASK_HISTORY_PATH"); path != "" {
		c.History.Path = path
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "task.step_delay").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}

		if i == len(parts)-1 {
			return field, nil
		}

		if field.Kind() != reflect.Struct || field.Type() == reflect.TypeOf(Duration{}) {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}

	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}

		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation, sorted.
func GetAllKeys() []string {
	var keys []string
	collectKeys(reflect.TypeOf(Config{}), "", &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys *[]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.Split(f.Tag.Get("toml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		if f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeOf(Duration{}) {
			collectKeys(f.Type, prefix+name+".", keys)
			continue
		}
		*keys = append(*keys, prefix+name)
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration. Config holds no reference
// types, so a value copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
