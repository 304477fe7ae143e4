// Package config defines runtime defaults, file/env loading and validation
// for the chatdrop server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultAddr              = ":25565"
	DefaultPublicDir         = "./public"
	DefaultHistoryPath       = "./chat.log.gz"
	DefaultMaxMessageSize    = ByteSize(64 << 10)
	DefaultRateLimitBurst    = 5
	DefaultRefillInterval    = time.Second
	DefaultDocumentMaxSize   = ByteSize(200 << 20)
	DefaultDocumentMaxFiles  = 10
	DefaultAudioMaxSize      = ByteSize(25 << 20)
	DefaultUploadIdleTimeout = 30 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
	DefaultServiceName       = "chatdrop"

	// DefaultConfigFile is read from the working directory when present.
	DefaultConfigFile = "chatdrop.toml"
	// DefaultEnvFile is loaded into the environment when present.
	DefaultEnvFile = ".env"
)

// TLSConfig enables HTTPS when both files are set.
type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// Enabled reports whether a certificate pair is configured.
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `toml:"burst"`
	RefillInterval time.Duration `toml:"refill_interval"`
}

// DocumentsConfig bounds the general document store.
type DocumentsConfig struct {
	Dir      string   `toml:"dir"`
	MaxSize  ByteSize `toml:"max_size"`
	MaxFiles int      `toml:"max_files"`
}

// AudioConfig bounds the voice clip store.
type AudioConfig struct {
	Dir     string   `toml:"dir"`
	MaxSize ByteSize `toml:"max_size"`
}

// TracingConfig points the OTLP exporter at a collector. An empty endpoint
// disables tracing.
type TracingConfig struct {
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
}

// Config holds the server configuration.
type Config struct {
	Addr              string          `toml:"addr"`
	TLS               TLSConfig       `toml:"tls"`
	PublicDir         string          `toml:"public_dir"`
	HistoryPath       string          `toml:"history_path"`
	AllowedOrigins    []string        `toml:"allowed_origins"`
	MaxMessageSize    ByteSize        `toml:"max_message_size"`
	RateLimit         RateLimitConfig `toml:"rate_limit"`
	Documents         DocumentsConfig `toml:"documents"`
	Audio             AudioConfig     `toml:"audio"`
	UploadIdleTimeout time.Duration   `toml:"upload_idle_timeout"`
	LogLevel          string          `toml:"log_level"`
	LogFormat         string          `toml:"log_format"`
	Tracing           TracingConfig   `toml:"tracing"`
}

// Default returns a Config populated with default values for all settings.
// Store directories are left empty and derived from PublicDir by Sanitize.
func Default() Config {
	return Config{
		Addr:           DefaultAddr,
		PublicDir:      DefaultPublicDir,
		HistoryPath:    DefaultHistoryPath,
		MaxMessageSize: DefaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateLimitBurst,
			RefillInterval: DefaultRefillInterval,
		},
		Documents: DocumentsConfig{
			MaxSize:  DefaultDocumentMaxSize,
			MaxFiles: DefaultDocumentMaxFiles,
		},
		Audio: AudioConfig{
			MaxSize: DefaultAudioMaxSize,
		},
		UploadIdleTimeout: DefaultUploadIdleTimeout,
		LogLevel:          DefaultLogLevel,
		LogFormat:         DefaultLogFormat,
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

// Options controls Load.
type Options struct {
	// ConfigPath is an explicit TOML file. It must exist when set.
	ConfigPath string
	// EnvFile is a dotenv file; defaults to DefaultEnvFile. Missing is fine.
	EnvFile string
	// Lookup reads environment variables; defaults to os.LookupEnv.
	Lookup func(string) (string, bool)
	// Override runs after file and env, before Sanitize. Command-line flags
	// are applied here.
	Override func(*Config)
}

// Load builds the effective configuration: defaults, then the TOML file,
// then .env and the process environment, then Override, then Sanitize and
// Validate.
func Load(opts Options) (Config, error) {
	cfg := Default()

	if err := loadConfigFile(opts.ConfigPath, &cfg); err != nil {
		return Config{}, err
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	applyEnv(&cfg, lookup)

	if opts.Override != nil {
		opts.Override(&cfg)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config %s is a directory", path)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		logrus.WithField("key", key.String()).Warn("Ignoring unknown config key")
	}
	return nil
}

// Sanitize fills zero or negative values with defaults and derives the store
// directories from PublicDir when unset.
func (c *Config) Sanitize() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PublicDir == "" {
		c.PublicDir = DefaultPublicDir
	}
	if c.HistoryPath == "" {
		c.HistoryPath = DefaultHistoryPath
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateLimitBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = DefaultRefillInterval
	}
	if c.Documents.Dir == "" {
		c.Documents.Dir = filepath.Join(c.PublicDir, "files")
	}
	if c.Documents.MaxSize <= 0 {
		c.Documents.MaxSize = DefaultDocumentMaxSize
	}
	if c.Documents.MaxFiles <= 0 {
		c.Documents.MaxFiles = DefaultDocumentMaxFiles
	}
	if c.Audio.Dir == "" {
		c.Audio.Dir = filepath.Join(c.PublicDir, "audio")
	}
	if c.Audio.MaxSize <= 0 {
		c.Audio.MaxSize = DefaultAudioMaxSize
	}
	if c.UploadIdleTimeout < 0 {
		c.UploadIdleTimeout = DefaultUploadIdleTimeout
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}

	origins := c.AllowedOrigins[:0:0]
	for _, origin := range c.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.AllowedOrigins = origins
}

// Validate rejects combinations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	if filepath.Clean(c.Documents.Dir) == filepath.Clean(c.Audio.Dir) {
		errs = append(errs, errors.New("documents.dir and audio.dir must differ"))
	}
	return errors.Join(errs...)
}
