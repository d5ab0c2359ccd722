// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	EnvLogLevel     = "NATIVEMSG_LOG_LEVEL"
	EnvLogFormat    = "NATIVEMSG_LOG_FORMAT"
	EnvLogTimestamp = "NATIVEMSG_LOG_TIMESTAMP"
)

// Config selects level and output format.
type Config struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // "text" or "json"
	Timestamp bool   `toml:"timestamp"`
}

// DefaultConfig logs warnings and above as text to stderr.
func DefaultConfig() Config {
	return Config{Level: "warn", Format: "text", Timestamp: true}
}

// New builds a logger from cfg after applying environment overrides.
func New(cfg Config, out io.Writer) *logrus.Logger {
	applyEnvOverrides(&cfg)
	log := logrus.New()
	log.SetOutput(out)
	Apply(log, cfg)
	return log
}

// Apply sets level and formatter on log without reading the environment.
func Apply(log *logrus.Logger, cfg Config) {
	if lvl, ok := parseLevel(cfg.Level); ok {
		log.SetLevel(lvl)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{DisableTimestamp: !cfg.Timestamp})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: !cfg.Timestamp,
			FullTimestamp:    cfg.Timestamp,
		})
	}
}

// Configure applies cfg to logrus.StandardLogger, writing to stderr.
func Configure(cfg Config) *logrus.Logger {
	applyEnvOverrides(&cfg)
	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)
	Apply(log, cfg)
	return log
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		if _, ok := parseLevel(v); ok {
			cfg.Level = v
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Format = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
}

func parseLevel(raw string) (logrus.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return logrus.WarnLevel, false
	case "trace":
		return logrus.TraceLevel, true
	case "debug":
		return logrus.DebugLevel, true
	case "info":
		return logrus.InfoLevel, true
	case "warn", "warning":
		return logrus.WarnLevel, true
	case "error":
		return logrus.ErrorLevel, true
	case "off", "none", "disabled":
		return logrus.PanicLevel, true
	default:
		return logrus.WarnLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
