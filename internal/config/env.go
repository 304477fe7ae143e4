package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Environment variable names.
const (
	EnvAddr              = "CHATDROP_ADDR"
	EnvTLSCert           = "CHATDROP_TLS_CERT"
	EnvTLSKey            = "CHATDROP_TLS_KEY"
	EnvPublicDir         = "CHATDROP_PUBLIC_DIR"
	EnvHistoryPath       = "CHATDROP_HISTORY_PATH"
	EnvAllowedOrigins    = "CHATDROP_ALLOWED_ORIGINS"
	EnvMaxMessageSize    = "CHATDROP_MAX_MESSAGE_SIZE"
	EnvRateLimitBurst    = "CHATDROP_RATE_LIMIT_BURST"
	EnvRefillInterval    = "CHATDROP_RATE_LIMIT_REFILL_INTERVAL"
	EnvDocumentsDir      = "CHATDROP_DOCUMENTS_DIR"
	EnvDocumentsMaxSize  = "CHATDROP_DOCUMENTS_MAX_SIZE"
	EnvDocumentsMaxFiles = "CHATDROP_DOCUMENTS_MAX_FILES"
	EnvAudioDir          = "CHATDROP_AUDIO_DIR"
	EnvAudioMaxSize      = "CHATDROP_AUDIO_MAX_SIZE"
	EnvUploadIdle        = "CHATDROP_UPLOAD_IDLE_TIMEOUT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvLogFormat         = "LOG_FORMAT"
	EnvOTLPEndpoint      = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServiceName       = "CHATDROP_SERVICE_NAME"
)

// applyEnv overrides cfg with any variables that are set. Invalid values are
// logged and the current value is kept.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) (string, bool) {
		value, ok := lookup(key)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	if v, ok := get(EnvAddr); ok {
		cfg.Addr = v
	}
	if v, ok := get(EnvTLSCert); ok {
		cfg.TLS.CertFile = v
	}
	if v, ok := get(EnvTLSKey); ok {
		cfg.TLS.KeyFile = v
	}
	if v, ok := get(EnvPublicDir); ok {
		cfg.PublicDir = v
	}
	if v, ok := get(EnvHistoryPath); ok {
		cfg.HistoryPath = v
	}
	if v, ok := get(EnvAllowedOrigins); ok {
		cfg.AllowedOrigins = parseOrigins(v)
	}
	if v, ok := get(EnvMaxMessageSize); ok {
		cfg.MaxMessageSize = parseSize(EnvMaxMessageSize, v, cfg.MaxMessageSize)
	}
	if v, ok := get(EnvRateLimitBurst); ok {
		cfg.RateLimit.Burst = parseIntValue(EnvRateLimitBurst, v, cfg.RateLimit.Burst)
	}
	if v, ok := get(EnvRefillInterval); ok {
		cfg.RateLimit.RefillInterval = parseInterval(EnvRefillInterval, v, cfg.RateLimit.RefillInterval)
	}
	if v, ok := get(EnvDocumentsDir); ok {
		cfg.Documents.Dir = v
	}
	if v, ok := get(EnvDocumentsMaxSize); ok {
		cfg.Documents.MaxSize = parseSize(EnvDocumentsMaxSize, v, cfg.Documents.MaxSize)
	}
	if v, ok := get(EnvDocumentsMaxFiles); ok {
		cfg.Documents.MaxFiles = parseIntValue(EnvDocumentsMaxFiles, v, cfg.Documents.MaxFiles)
	}
	if v, ok := get(EnvAudioDir); ok {
		cfg.Audio.Dir = v
	}
	if v, ok := get(EnvAudioMaxSize); ok {
		cfg.Audio.MaxSize = parseSize(EnvAudioMaxSize, v, cfg.Audio.MaxSize)
	}
	if v, ok := get(EnvUploadIdle); ok {
		cfg.UploadIdleTimeout = parseInterval(EnvUploadIdle, v, cfg.UploadIdleTimeout)
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.LogLevel = v
	}
	if v, ok := get(EnvLogFormat); ok {
		cfg.LogFormat = v
	}
	if v, ok := get(EnvOTLPEndpoint); ok {
		cfg.Tracing.Endpoint = v
	}
	if v, ok := get(EnvServiceName); ok {
		cfg.Tracing.ServiceName = v
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseSize(key, value string, defaultValue ByteSize) ByteSize {
	size, err := ParseByteSize(value)
	if err != nil || size <= 0 {
		logrus.WithField("key", key).WithField("value", value).Warn("Ignoring invalid size")
		return defaultValue
	}
	return size
}

func parseIntValue(key, value string, defaultValue int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		logrus.WithField("key", key).WithField("value", value).Warn("Ignoring invalid integer")
		return defaultValue
	}
	return parsed
}

// parseInterval accepts a Go duration ("1500ms") or whole seconds ("2").
func parseInterval(key, value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	logrus.WithField("key", key).WithField("value", value).Warn("Ignoring invalid duration")
	return defaultValue
}
