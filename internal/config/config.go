// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/jeranaias/offchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the program configuration.
type Config struct {
	Engine  EngineConfig  `toml:"engine" json:"engine"`
	Speech  SpeechConfig  `toml:"speech" json:"speech"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// EngineConfig configures the Ollama language model engine.
type EngineConfig struct {
	// OllamaURL is the Ollama API base URL.
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`

	// KeepAlive is how long Ollama keeps a model resident, e.g. "30m".
	KeepAlive string `toml:"keep_alive" json:"keep_alive"`

	// StartIfNeeded runs `ollama serve` when the server is not reachable.
	StartIfNeeded bool `toml:"start_if_needed" json:"start_if_needed"`

	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`

	// LoadTimeoutSecs bounds loading a model into memory.
	LoadTimeoutSecs int `toml:"load_timeout_secs" json:"load_timeout_secs"`

	// ModelsDir is where Ollama keeps model blobs; used for the free space
	// check. Empty means $OLLAMA_MODELS or ~/.ollama/models.
	ModelsDir string `toml:"models_dir" json:"models_dir"`
}

// SpeechConfig configures the whisper.cpp speech engine.
type SpeechConfig struct {
	ServerURL    string   `toml:"server_url" json:"server_url"`
	ModelsDir    string   `toml:"models_dir" json:"models_dir"` // empty: <data_dir>/whisper
	ModelBaseURL string   `toml:"model_base_url" json:"model_base_url"`
	Recorder     []string `toml:"recorder" json:"recorder"` // empty: platform default
	Language     string   `toml:"language" json:"language"`
	TimeoutSecs  int      `toml:"timeout_secs" json:"timeout_secs"`
}

// StorageConfig configures local data.
type StorageConfig struct {
	// DataDir holds the history database, usage stats and whisper models.
	// Empty means the configuration directory.
	DataDir string `toml:"data_dir" json:"data_dir"`

	// MinFreeMB is required free space before a model download.
	MinFreeMB uint64 `toml:"min_free_mb" json:"min_free_mb"`

	// ArchiveOnClear keeps cleared conversations in the history database.
	ArchiveOnClear bool `toml:"archive_on_clear" json:"archive_on_clear"`

	// TrackUsage saves per-session usage statistics.
	TrackUsage bool `toml:"track_usage" json:"track_usage"`
}

// ServerConfig configures `offchat serve`.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a zerolog level name.
	Level string `toml:"level" json:"level"`

	// File receives JSON logs. Empty means <config dir>/logs/offchat.log.
	// "-" logs to stderr in console format.
	File string `toml:"file" json:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			OllamaURL:       "http://127.0.0.1:11434",
			KeepAlive:       "30m",
			StartIfNeeded:   true,
			TimeoutSecs:     30,
			LoadTimeoutSecs: 300,
		},
		Speech: SpeechConfig{
			ServerURL:    "http://127.0.0.1:8178",
			ModelBaseURL: "https://huggingface.co/ggerganov/whisper.cpp/resolve/main",
			Language:     "en",
			TimeoutSecs:  120,
		},
		Storage: StorageConfig{
			MinFreeMB:      500,
			ArchiveOnClear: true,
			TrackUsage:     true,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8765",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// fillDefaults fills in zero values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()
	if cfg.Engine.OllamaURL == "" {
		cfg.Engine.OllamaURL = d.Engine.OllamaURL
	}
	if cfg.Engine.KeepAlive == "" {
		cfg.Engine.KeepAlive = d.Engine.KeepAlive
	}
	if cfg.Engine.TimeoutSecs == 0 {
		cfg.Engine.TimeoutSecs = d.Engine.TimeoutSecs
	}
	if cfg.Engine.LoadTimeoutSecs == 0 {
		cfg.Engine.LoadTimeoutSecs = d.Engine.LoadTimeoutSecs
	}
	if cfg.Speech.ServerURL == "" {
		cfg.Speech.ServerURL = d.Speech.ServerURL
	}
	if cfg.Speech.ModelBaseURL == "" {
		cfg.Speech.ModelBaseURL = d.Speech.ModelBaseURL
	}
	if cfg.Speech.Language == "" {
		cfg.Speech.Language = d.Speech.Language
	}
	if cfg.Speech.TimeoutSecs == 0 {
		cfg.Speech.TimeoutSecs = d.Speech.TimeoutSecs
	}
	if cfg.Storage.MinFreeMB == 0 {
		cfg.Storage.MinFreeMB = d.Storage.MinFreeMB
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the configuration directory: $OFFCHAT_HOME or ~/.offchat.
func Dir() (string, error) {
	if home := os.Getenv("OFFCHAT_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".offchat"), nil
}

// Path returns the path to config.toml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// SettingsPath returns the path to settings.toml.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.toml"), nil
}

// DataDir returns the resolved data directory.
func (c *Config) DataDir() (string, error) {
	if c.Storage.DataDir != "" {
		return expandHome(c.Storage.DataDir), nil
	}
	return Dir()
}

// WhisperModelsDir returns the resolved whisper model directory.
func (c *Config) WhisperModelsDir() (string, error) {
	if c.Speech.ModelsDir != "" {
		return expandHome(c.Speech.ModelsDir), nil
	}
	data, err := c.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(data, "whisper"), nil
}

// OllamaModelsDir returns the directory checked for free space before a
// model download.
func (c *Config) OllamaModelsDir() string {
	if c.Engine.ModelsDir != "" {
		return expandHome(c.Engine.ModelsDir)
	}
	if dir := os.Getenv("OLLAMA_MODELS"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".ollama", "models")
}

// LogFile returns the resolved log file path, or "-" for stderr.
func (c *Config) LogFile() string {
	if c.Log.File != "" {
		return expandHome(c.Log.File)
	}
	dir, err := Dir()
	if err != nil {
		return "-"
	}
	return filepath.Join(dir, "logs", "offchat.log")
}

// EngineTimeout returns the request timeout as a duration.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSecs) * time.Second
}

// LoadTimeout returns the model load timeout as a duration.
func (c *Config) LoadTimeout() time.Duration {
	return time.Duration(c.Engine.LoadTimeoutSecs) * time.Second
}

// SpeechTimeout returns the speech request timeout as a duration.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSecs) * time.Second
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads config.toml from the configuration directory. A missing file
// yields the defaults. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration at path over the defaults, so absent
// keys keep their default values. A missing file yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		if err := ensureSecurePermissions(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
		}
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
		}
		fillDefaults(cfg)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default path.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the configuration to path atomically with 0600 permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# offchat configuration file\n")
	buf.WriteString("# Chat settings live in settings.toml next to this file.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// ensureSecurePermissions tightens a config file to 0600.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateHTTPURL(c.Engine.OllamaURL); err != nil {
		add("engine.ollama_url", "%v", err)
	}
	if c.Engine.KeepAlive != "" && c.Engine.KeepAlive != "-1" {
		if _, err := time.ParseDuration(c.Engine.KeepAlive); err != nil {
			add("engine.keep_alive", "invalid duration %q", c.Engine.KeepAlive)
		}
	}
	if c.Engine.TimeoutSecs < 1 {
		add("engine.timeout_secs", "must be positive, got %d", c.Engine.TimeoutSecs)
	}
	if c.Engine.LoadTimeoutSecs < 1 {
		add("engine.load_timeout_secs", "must be positive, got %d", c.Engine.LoadTimeoutSecs)
	}
	if err := validateHTTPURL(c.Speech.ServerURL); err != nil {
		add("speech.server_url", "%v", err)
	}
	if err := validateHTTPURL(c.Speech.ModelBaseURL); err != nil {
		add("speech.model_base_url", "%v", err)
	}
	if c.Speech.TimeoutSecs < 1 {
		add("speech.timeout_secs", "must be positive, got %d", c.Speech.TimeoutSecs)
	}
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "invalid listen address %q", c.Server.Addr)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		add("log.level", "unknown level %q", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - OFFCHAT_OLLAMA_URL: engine.ollama_url
//   - OFFCHAT_WHISPER_URL: speech.server_url
//   - OFFCHAT_DATA_DIR: storage.data_dir
//   - OFFCHAT_SERVER_ADDR: server.addr
//   - OFFCHAT_LOG_LEVEL: log.level
//   - OFFCHAT_LOG_FILE: log.file
//   - OFFCHAT_START_OLLAMA: engine.start_if_needed ("1"/"true"/"0"/"false")
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OFFCHAT_OLLAMA_URL"); v != "" {
		c.Engine.OllamaURL = v
	}
	if v := os.Getenv("OFFCHAT_WHISPER_URL"); v != "" {
		c.Speech.ServerURL = v
	}
	if v := os.Getenv("OFFCHAT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("OFFCHAT_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("OFFCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("OFFCHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("OFFCHAT_START_OLLAMA"); v != "" {
		c.Engine.StartIfNeeded = parseBool(v)
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a value by its TOML key path, e.g. "engine.ollama_url".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a value by its TOML key path. String values are converted to
// the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the config by toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("key '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from an arbitrary value with type conversion.
func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Uint64:
			n, err := strconv.ParseUint(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid unsigned integer value: %v", err)
			}
			field.SetUint(n)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				field.Set(reflect.ValueOf(strings.Fields(strVal)))
				return nil
			}
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

// Keys returns every key in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := strings.Split(section.Tag.Get("toml"), ",")[0]
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+strings.Split(section.Type.Field(j).Tag.Get("toml"), ",")[0])
		}
	}
	return keys
}
