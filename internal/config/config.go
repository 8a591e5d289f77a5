// Package config provides the configuration structure for the melo-gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Engine mode identifiers.
const (
	EngineExec = "exec"
	EngineHTTP = "http"
)

// Speed bounds accepted for synthesis requests.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Environment variables overriding the file configuration.
const (
	envDefaultLanguage  = "MELO_DEFAULT_LANGUAGE"
	envDefaultSpeaker   = "MELO_DEFAULT_SPEAKER"
	envDefaultSpeed     = "MELO_DEFAULT_SPEED"
	envPreloadLanguages = "MELO_PRELOAD_LANGUAGES"
	envDevice           = "MELO_DEVICE"
	envPort             = "PORT"
)

// Defaults applied when neither the file nor the environment provides a value.
const (
	defaultPort            = 8080
	defaultLanguage        = "EN"
	defaultSpeaker         = "EN-US"
	defaultSpeed           = 1.0
	defaultDevice          = "auto"
	defaultEngine          = EngineExec
	defaultBinary          = "melo"
	defaultMaxTextLength   = 2000
	defaultTimeoutSeconds  = 120
	defaultShutdownSeconds = 10
	defaultRateLimitRPS    = 25.0
	defaultRateLimitBurst  = 50
)

// Static validation errors.
var (
	ErrInvalidEngine   = errors.New("engine must be one of: exec, http")
	ErrInvalidDevice   = errors.New("device must be one of: auto, cpu, cuda, mps")
	ErrInvalidSpeed    = errors.New("default speed out of range")
	ErrInvalidPort     = errors.New("port must be between 1 and 65535")
	ErrMissingRuntime  = errors.New("runtime_url is required for the http engine")
	ErrNoMaxTextLength = errors.New("max_text_length must be positive")
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port                     int     `toml:"port"`
	ReadHeaderTimeoutSeconds int     `toml:"read_header_timeout_seconds"`
	WriteTimeoutSeconds      int     `toml:"write_timeout_seconds"`
	IdleTimeoutSeconds       int     `toml:"idle_timeout_seconds"`
	ShutdownGraceSeconds     int     `toml:"shutdown_grace_seconds"`
	RateLimitRPS             float64 `toml:"rate_limit_rps"`
	RateLimitBurst           int     `toml:"rate_limit_burst"`
}

// LanguageConfig declares one language and the speakers its model provides.
// The catalog backs the exec engine; the http engine discovers speakers from
// the runtime instead.
type LanguageConfig struct {
	Code     string   `toml:"code"`
	Speakers []string `toml:"speakers"`
}

// MeloConfig holds the engine and synthesis defaults.
type MeloConfig struct {
	Engine           string           `toml:"engine"`
	BinaryPath       string           `toml:"binary_path"`
	RuntimeURL       string           `toml:"runtime_url"`
	Device           string           `toml:"device"`
	DefaultLanguage  string           `toml:"default_language"`
	DefaultSpeaker   string           `toml:"default_speaker"`
	DefaultSpeed     float64          `toml:"default_speed"`
	PreloadLanguages []string         `toml:"preload_languages"`
	MaxTextLength    int              `toml:"max_text_length"`
	TimeoutSeconds   int              `toml:"timeout_seconds"`
	NormalizeText    bool             `toml:"normalize_text"`
	Languages        []LanguageConfig `toml:"languages"`
}

// NATSConfig holds the configuration for the optional job pipeline. The worker
// is enabled only when URL is non-empty.
type NATSConfig struct {
	URL                      string `toml:"url"`
	SynthesisSubject         string `toml:"synthesis_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// CacheConfig holds the optional Redis synthesis cache settings. The cache is
// disabled when RedisAddr is empty.
type CacheConfig struct {
	RedisAddr  string `toml:"redis_addr"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig `toml:"server"`
	Melo   MeloConfig   `toml:"melo"`
	NATS   NATSConfig   `toml:"nats"`
	Cache  CacheConfig  `toml:"cache"`
	Paths  PathsConfig  `toml:"paths"`
}

// Load loads the configuration for the melo-gateway: the TOML file through the
// central configurator, then environment overrides, defaults, and validation.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyEnvironment()
	cfg.ApplyDefaults()

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyEnvironment applies the deployment environment variables. They take
// precedence over the file configuration.
func (c *Config) ApplyEnvironment() {
	if lang := strings.TrimSpace(os.Getenv(envDefaultLanguage)); lang != "" {
		c.Melo.DefaultLanguage = lang
	}

	if speaker := strings.TrimSpace(os.Getenv(envDefaultSpeaker)); speaker != "" {
		c.Melo.DefaultSpeaker = speaker
	}

	if speed := strings.TrimSpace(os.Getenv(envDefaultSpeed)); speed != "" {
		value, err := strconv.ParseFloat(speed, 64)
		if err == nil {
			c.Melo.DefaultSpeed = value
		}
	}

	if preload := strings.TrimSpace(os.Getenv(envPreloadLanguages)); preload != "" {
		c.Melo.PreloadLanguages = splitLanguageList(preload)
	}

	if device := strings.TrimSpace(os.Getenv(envDevice)); device != "" {
		c.Melo.Device = device
	}

	if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
		value, err := strconv.Atoi(port)
		if err == nil {
			c.Server.Port = value
		}
	}
}

// ApplyDefaults fills any value not provided by the file or the environment.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}

	if c.Server.ShutdownGraceSeconds == 0 {
		c.Server.ShutdownGraceSeconds = defaultShutdownSeconds
	}

	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = defaultRateLimitRPS
	}

	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = defaultRateLimitBurst
	}

	if c.Melo.Engine == "" {
		c.Melo.Engine = defaultEngine
	}

	if c.Melo.BinaryPath == "" {
		c.Melo.BinaryPath = defaultBinary
	}

	if c.Melo.Device == "" {
		c.Melo.Device = defaultDevice
	}

	if c.Melo.DefaultLanguage == "" {
		c.Melo.DefaultLanguage = defaultLanguage
	}

	c.Melo.DefaultLanguage = strings.ToUpper(c.Melo.DefaultLanguage)

	if c.Melo.DefaultSpeaker == "" {
		c.Melo.DefaultSpeaker = defaultSpeaker
	}

	if c.Melo.DefaultSpeed == 0 {
		c.Melo.DefaultSpeed = defaultSpeed
	}

	if len(c.Melo.PreloadLanguages) == 0 {
		c.Melo.PreloadLanguages = []string{c.Melo.DefaultLanguage}
	}

	for i, lang := range c.Melo.PreloadLanguages {
		c.Melo.PreloadLanguages[i] = strings.ToUpper(lang)
	}

	if c.Melo.MaxTextLength == 0 {
		c.Melo.MaxTextLength = defaultMaxTextLength
	}

	if c.Melo.TimeoutSeconds == 0 {
		c.Melo.TimeoutSeconds = defaultTimeoutSeconds
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Validate checks the final configuration for values that would only fail later
// at request time.
func (c *Config) Validate() error {
	if c.Melo.Engine != EngineExec && c.Melo.Engine != EngineHTTP {
		return fmt.Errorf("%w: got %q", ErrInvalidEngine, c.Melo.Engine)
	}

	if c.Melo.Engine == EngineHTTP && c.Melo.RuntimeURL == "" {
		return ErrMissingRuntime
	}

	switch c.Melo.Device {
	case "auto", "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidDevice, c.Melo.Device)
	}

	if c.Melo.DefaultSpeed < MinSpeed || c.Melo.DefaultSpeed > MaxSpeed {
		return fmt.Errorf("%w: %.2f not in [%.1f, %.1f]",
			ErrInvalidSpeed, c.Melo.DefaultSpeed, MinSpeed, MaxSpeed)
	}

	if c.Melo.MaxTextLength <= 0 {
		return ErrNoMaxTextLength
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	return nil
}

// SpeakerCatalog returns the configured language-to-speakers map with
// upper-case language codes.
func (c *Config) SpeakerCatalog() map[string][]string {
	catalog := make(map[string][]string, len(c.Melo.Languages))

	for _, lang := range c.Melo.Languages {
		code := strings.ToUpper(strings.TrimSpace(lang.Code))
		if code == "" {
			continue
		}

		catalog[code] = append([]string(nil), lang.Speakers...)
	}

	return catalog
}

// splitLanguageList splits a comma-separated language list, dropping empty
// entries.
func splitLanguageList(raw string) []string {
	parts := strings.Split(raw, ",")
	languages := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		languages = append(languages, part)
	}

	return languages
}
