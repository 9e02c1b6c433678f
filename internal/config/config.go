// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Provider ProviderConfig `toml:"provider" json:"provider"`
	Cost     CostConfig     `toml:"cost" json:"cost"`
	Storage  StorageConfig  `toml:"storage" json:"storage"`
	Context  ContextConfig  `toml:"context" json:"context"`
	Log      LogConfig      `toml:"log" json:"log"`
}

// ProviderConfig contains the OpenRouter connection settings.
type ProviderConfig struct {
	BaseURL        string `toml:"base_url" json:"base_url"`
	APIKey         string `toml:"api_key" json:"api_key"`
	SelectedModel  string `toml:"selected_model" json:"selected_model"`
	IncludeHistory bool   `toml:"include_history" json:"include_history"`
	Stream         bool   `toml:"stream" json:"stream"`

	// AvailableModels is the built-in catalogue, CustomModels the user's additions.
	AvailableModels []string `toml:"available_models" json:"available_models"`
	CustomModels    []string `toml:"custom_models" json:"custom_models"`

	// RequestTimeoutSecs bounds a whole chat exchange. Zero means no limit.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// CostConfig contains the cost reconciliation retry policy.
type CostConfig struct {
	MaxAttempts      int     `toml:"max_attempts" json:"max_attempts"`
	BaseDelayMs      int     `toml:"base_delay_ms" json:"base_delay_ms"`
	GrowthFactor     float64 `toml:"growth_factor" json:"growth_factor"`
	MaxJitterMs      int     `toml:"max_jitter_ms" json:"max_jitter_ms"`
	LookupsPerSecond float64 `toml:"lookups_per_second" json:"lookups_per_second"`
}

// StorageConfig contains session persistence settings.
type StorageConfig struct {
	// Path is the SQLite database file. Empty means ~/.rigchat/sessions.db.
	Path string `toml:"path" json:"path"`
}

// ContextConfig contains @path reference limits.
type ContextConfig struct {
	MaxFileSizeKB int `toml:"max_file_size_kb" json:"max_file_size_kb"`
	MaxDepth      int `toml:"max_depth" json:"max_depth"`
	MaxFiles      int `toml:"max_files" json:"max_files"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:            cloud.DefaultOpenRouterURL,
			SelectedModel:      model.DefaultModel,
			IncludeHistory:     true,
			Stream:             true,
			AvailableModels:    append([]string(nil), model.DefaultModels...),
			CustomModels:       []string{},
			RequestTimeoutSecs: 300,
		},
		Cost: CostConfig{
			MaxAttempts:      cloud.DefaultCostAttempts,
			BaseDelayMs:      int(cloud.DefaultCostBaseDelay / time.Millisecond),
			GrowthFactor:     cloud.DefaultCostGrowth,
			MaxJitterMs:      int(cloud.DefaultCostMaxJitter / time.Millisecond),
			LookupsPerSecond: cloud.DefaultCostLookupRate,
		},
		Context: ContextConfig{
			MaxFileSizeKB: 100,
			MaxDepth:      5,
			MaxFiles:      100,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultPath returns the config file in use: the TOML file, or the JSON
// file when only that one exists.
func DefaultPath() (string, error) {
	tomlPath, err := ConfigPathTOML()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath, nil
	}
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return jsonPath, nil
		}
	}
	return tomlPath, nil
}

// StoragePath returns the database path, defaulting under ConfigDir.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sessions.db"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
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

// Load loads configuration from the default location.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		return cfg, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a TOML or JSON file. A missing file
// yields the defaults. Environment overrides, defaults and validation are
// applied in that order.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(path, ".json") {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
			}
		} else {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
			}
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// SetDefaults fills in empty strings and lists. Numeric fields are left
// alone: a file decodes over Default, so a zero there was written on purpose
// and is up to Validate. Zero context limits mean the resolver defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = d.Provider.BaseURL
	}
	c.Provider.BaseURL = strings.TrimSuffix(c.Provider.BaseURL, "/")
	if c.Provider.SelectedModel == "" {
		c.Provider.SelectedModel = d.Provider.SelectedModel
	}
	if len(c.Provider.AvailableModels) == 0 {
		c.Provider.AvailableModels = d.Provider.AvailableModels
	}
	if c.Provider.CustomModels == nil {
		c.Provider.CustomModels = []string{}
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default location.
func Save(cfg *Config) error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo saves the configuration as TOML or JSON depending on the extension.
func SaveTo(cfg *Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return SaveJSON(cfg, path)
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigchat configuration file\n")
	buf.WriteString("# Generated by rigchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
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

// Validate validates the configuration and returns any errors.
// A missing API key is not an error; sends report it instead.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Provider.BaseURL); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, ValidationError{
			Field:   "provider.base_url",
			Message: fmt.Sprintf("invalid URL '%s', must be an absolute http(s) URL", c.Provider.BaseURL),
		})
	}
	if strings.TrimSpace(c.Provider.SelectedModel) == "" {
		errs = append(errs, ValidationError{Field: "provider.selected_model", Message: "must not be empty"})
	}
	if c.Provider.RequestTimeoutSecs < 0 {
		errs = append(errs, ValidationError{Field: "provider.request_timeout_secs", Message: "must not be negative"})
	}

	if c.Cost.MaxAttempts < 1 || c.Cost.MaxAttempts > 20 {
		errs = append(errs, ValidationError{
			Field:   "cost.max_attempts",
			Message: fmt.Sprintf("must be between 1 and 20, got %d", c.Cost.MaxAttempts),
		})
	}
	if c.Cost.BaseDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "cost.base_delay_ms", Message: "must not be negative"})
	}
	if c.Cost.GrowthFactor < 1 {
		errs = append(errs, ValidationError{
			Field:   "cost.growth_factor",
			Message: fmt.Sprintf("must be at least 1, got %g", c.Cost.GrowthFactor),
		})
	}
	if c.Cost.MaxJitterMs < 0 {
		errs = append(errs, ValidationError{Field: "cost.max_jitter_ms", Message: "must not be negative"})
	}
	if c.Cost.LookupsPerSecond < 0 {
		errs = append(errs, ValidationError{Field: "cost.lookups_per_second", Message: "must not be negative"})
	}

	if c.Context.MaxFileSizeKB < 0 || c.Context.MaxDepth < 0 || c.Context.MaxFiles < 0 {
		errs = append(errs, ValidationError{Field: "context", Message: "limits must not be negative"})
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
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

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - RIGCHAT_OPENROUTER_KEY: overrides provider.api_key
//   - OPENROUTER_API_KEY: used when provider.api_key is still empty
//   - RIGCHAT_MODEL: overrides provider.selected_model
//   - RIGCHAT_BASE_URL: overrides provider.base_url
//   - RIGCHAT_INCLUDE_HISTORY: overrides provider.include_history
//   - RIGCHAT_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("RIGCHAT_OPENROUTER_KEY"); key != "" {
		c.Provider.APIKey = key
	} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
	}

	if m := os.Getenv("RIGCHAT_MODEL"); m != "" {
		c.Provider.SelectedModel = m
	}

	if u := os.Getenv("RIGCHAT_BASE_URL"); u != "" {
		c.Provider.BaseURL = u
	}

	if h := os.Getenv("RIGCHAT_INCLUDE_HISTORY"); h != "" {
		c.Provider.IncludeHistory = parseBool(h)
	}

	if lvl := os.Getenv("RIGCHAT_LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// Settings returns the provider snapshot consumed by the chat engine.
func (c *Config) Settings() cloud.Settings {
	return cloud.Settings{
		BaseURL:        c.Provider.BaseURL,
		APIKey:         strings.TrimSpace(c.Provider.APIKey),
		SelectedModel:  c.Provider.SelectedModel,
		IncludeHistory: c.Provider.IncludeHistory,
		Stream:         c.Provider.Stream,
	}
}

// Models returns the selectable models: the catalogue followed by custom
// models, without duplicates.
func (c *Config) Models() []string {
	return model.MergeModels(c.Provider.AvailableModels, c.Provider.CustomModels)
}

// RequestTimeout returns the per-exchange timeout, zero when unbounded.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Provider.RequestTimeoutSecs) * time.Second
}

// CostOptions returns reconciler options for the configured retry policy.
func (c *Config) CostOptions() []cloud.CostOption {
	return []cloud.CostOption{
		cloud.WithBackoff(
			time.Duration(c.Cost.BaseDelayMs)*time.Millisecond,
			c.Cost.GrowthFactor,
			time.Duration(c.Cost.MaxJitterMs)*time.Millisecond,
		),
		cloud.WithLookupRate(c.Cost.LookupsPerSecond),
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "provider.selected_model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookupField(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field type; list fields take comma-separated values.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookupField(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookupField(key string) (reflect.Value, error) {
	if key == "" {
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
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
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
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, item := range strings.Split(strVal, ",") {
					if item = strings.TrimSpace(item); item != "" {
						items = append(items, item)
					}
				}
				if items == nil {
					items = []string{}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
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

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"provider.base_url",
		"provider.api_key",
		"provider.selected_model",
		"provider.include_history",
		"provider.stream",
		"provider.available_models",
		"provider.custom_models",
		"provider.request_timeout_secs",
		"cost.max_attempts",
		"cost.base_delay_ms",
		"cost.growth_factor",
		"cost.max_jitter_ms",
		"cost.lookups_per_second",
		"storage.path",
		"context.max_file_size_kb",
		"context.max_depth",
		"context.max_files",
		"log.level",
	}
}

// =============================================================================
// COPY / DISPLAY
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Provider.AvailableModels = append([]string(nil), c.Provider.AvailableModels...)
	clone.Provider.CustomModels = append([]string{}, c.Provider.CustomModels...)
	return &clone
}

// String returns a TOML rendering of the config.
// SECURITY: Redacts the API key.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
