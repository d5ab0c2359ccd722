package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nativemsg/internal/correlation"
	"nativemsg/internal/logging"
	"nativemsg/internal/protocol/envelope"
	"nativemsg/internal/transport"
)

// ConfigFile is looked up inside Home when no explicit path is given.
const ConfigFile = "config.toml"

// Config holds runtime wiring options for building the app.
type Config struct {
	Home           string // key store and config directory, e.g. $HOME/.nativemsg
	SocketPath     string // desktop app socket
	InProcess      bool   // talk to an in-process host instead of the socket
	Version        int
	RequestTimeout time.Duration
	Transport      transport.Config
	Log            logging.Config
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Home:           filepath.Join(home, ".nativemsg"),
		SocketPath:     transport.DefaultSocketPath(),
		Version:        envelope.Version,
		RequestTimeout: correlation.DefaultTimeout,
		Transport:      transport.DefaultConfig(),
		Log:            logging.DefaultConfig(),
	}
}

// config.toml key mapping to Config.
type fileConfig struct {
	Home    string `toml:"home"`
	Channel struct {
		Version        int    `toml:"version"`
		RequestTimeout string `toml:"request_timeout"`
	} `toml:"channel"`
	Transport struct {
		Socket          string `toml:"socket"`
		InProcess       bool   `toml:"in_process"`
		ConnectTimeout  string `toml:"connect_timeout"`
		ConnectAttempts int    `toml:"connect_attempts"`
		WriteTimeout    string `toml:"write_timeout"`
		MaxFrameBytes   uint32 `toml:"max_frame_bytes"`
	} `toml:"transport"`
	Log logging.Config `toml:"log"`
}

// LoadConfig overlays the TOML file at path onto base. A missing file is not
// an error.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("home") {
		cfg.Home = strings.TrimSpace(raw.Home)
	}
	if meta.IsDefined("channel", "version") {
		cfg.Version = raw.Channel.Version
	}
	if err := durationField(meta, &cfg.RequestTimeout, raw.Channel.RequestTimeout, "channel", "request_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("transport", "socket") {
		cfg.SocketPath = strings.TrimSpace(raw.Transport.Socket)
	}
	if meta.IsDefined("transport", "in_process") {
		cfg.InProcess = raw.Transport.InProcess
	}
	if err := durationField(meta, &cfg.Transport.ConnectTimeout, raw.Transport.ConnectTimeout, "transport", "connect_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("transport", "connect_attempts") {
		cfg.Transport.ConnectAttempts = raw.Transport.ConnectAttempts
	}
	if err := durationField(meta, &cfg.Transport.WriteTimeout, raw.Transport.WriteTimeout, "transport", "write_timeout"); err != nil {
		return Config{}, err
	}
	if meta.IsDefined("transport", "max_frame_bytes") {
		cfg.Transport.MaxFrameBytes = raw.Transport.MaxFrameBytes
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "format") {
		cfg.Log.Format = raw.Log.Format
	}
	if meta.IsDefined("log", "timestamp") {
		cfg.Log.Timestamp = raw.Log.Timestamp
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func durationField(meta toml.MetaData, dst *time.Duration, raw string, key ...string) error {
	if !meta.IsDefined(key...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("load config: %s: %w", strings.Join(key, "."), err)
	}
	*dst = d
	return nil
}

// Validate rejects settings the channel cannot run with.
func (c Config) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("channel.version must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("channel.request_timeout must be positive")
	}
	if c.Transport.MaxFrameBytes == 0 {
		return fmt.Errorf("transport.max_frame_bytes must be positive")
	}
	if !c.InProcess && c.SocketPath == "" {
		return fmt.Errorf("transport.socket is required")
	}
	return nil
}
